package publisher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jizhuozhi/go-future"
	"github.com/maxpert/tailpub/telemetry"
	"github.com/rs/zerolog/log"
)

const (
	// Default number of dispatch lanes
	DefaultLanes = 4
	// Default queued messages per lane
	DefaultQueueSize = 1024
	// Default messages handed to the sink per call
	DefaultBatchSize = 100
	// Default initial retry delay for failed publish operations
	DefaultRetryInitial = 100 * time.Millisecond
	// Default maximum retry delay (exponential backoff cap)
	DefaultRetryMax = 30 * time.Second
	// Default exponential backoff multiplier
	DefaultRetryMultiplier = 2.0
	// Maximum number of attempts before giving up on a message
	DefaultMaxRetries = 10
)

// DispatcherConfig configures the shared broker dispatcher
type DispatcherConfig struct {
	Sink            Sink          // Destination broker client
	Lanes           int           // Independent ordered lanes
	QueueSize       int           // Queue capacity per lane
	BatchSize       int           // Messages per Sink.Publish call
	RetryInitial    time.Duration // Initial retry delay
	RetryMax        time.Duration // Max retry delay
	RetryMultiplier float64       // Backoff multiplier
	MaxRetries      int           // Maximum attempts per message
}

type pending struct {
	msg      Message
	promise  *future.Promise[Delivery]
	attempts int
}

func (p *pending) resolve(err error) {
	if err != nil {
		telemetry.MessagesPublishedTotal.With("failed").Inc()
		p.promise.Set(Delivery{}, err)
		return
	}
	telemetry.MessagesPublishedTotal.With("ok").Inc()
	p.promise.Set(Delivery{Topic: p.msg.Topic, Attempts: p.attempts}, nil)
}

type lane struct {
	id    int
	queue chan *pending
}

// Dispatcher is the single shared broker worker. Messages from the same source
// always go through the same lane, so they reach the broker in submit order.
type Dispatcher struct {
	config DispatcherConfig
	lanes  []*lane

	// runCtx is cancelled when Close runs out of time, aborting broker calls and backoff sleeps
	runCtx    context.Context
	runCancel context.CancelFunc

	mu     sync.RWMutex // Guards closed against in-flight Submit sends
	closed bool
	wg     sync.WaitGroup

	inflight atomic.Int64
}

// NewDispatcher creates and starts a dispatcher
func NewDispatcher(config DispatcherConfig) (*Dispatcher, error) {
	if config.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}

	if config.Lanes <= 0 {
		config.Lanes = DefaultLanes
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.RetryInitial <= 0 {
		config.RetryInitial = DefaultRetryInitial
	}
	if config.RetryMax <= 0 {
		config.RetryMax = DefaultRetryMax
	}
	if config.RetryMultiplier <= 0 {
		config.RetryMultiplier = DefaultRetryMultiplier
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}

	runCtx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		config:    config,
		lanes:     make([]*lane, config.Lanes),
		runCtx:    runCtx,
		runCancel: cancel,
	}

	for i := range d.lanes {
		l := &lane{id: i, queue: make(chan *pending, config.QueueSize)}
		d.lanes[i] = l
		d.wg.Add(1)
		go d.laneLoop(l)
	}

	log.Info().
		Int("lanes", config.Lanes).
		Int("queue_size", config.QueueSize).
		Int("max_retries", config.MaxRetries).
		Msg("Started publish dispatcher")

	return d, nil
}

// Submit queues msg for delivery. The returned future resolves once the broker
// acknowledged the message or it failed for good; it always resolves.
func (d *Dispatcher) Submit(ctx context.Context, msg Message) *future.Future[Delivery] {
	p := &pending{msg: msg, promise: future.NewPromise[Delivery]()}
	l := d.lanes[xxhash.Sum64String(msg.Source)%uint64(len(d.lanes))]

	delay := d.config.RetryInitial
	for attempt := 1; ; attempt++ {
		queued, err := d.tryEnqueue(l, p)
		if err != nil {
			p.promise.Set(Delivery{}, err)
			return p.promise.Future()
		}
		if queued {
			d.inflight.Add(1)
			telemetry.PublishQueueDepth.Inc()
			return p.promise.Future()
		}

		if attempt >= d.config.MaxRetries {
			telemetry.MessagesPublishedTotal.With("failed").Inc()
			p.promise.Set(Delivery{}, fmt.Errorf("lane %d after %d attempts: %w", l.id, attempt, ErrQueueFull))
			return p.promise.Future()
		}

		log.Warn().
			Int("lane", l.id).
			Str("topic", msg.Topic).
			Int("attempt", attempt).
			Dur("retry_delay", delay).
			Msg("Publish queue full, retrying")

		if !d.sleep(ctx, delay) {
			p.promise.Set(Delivery{}, fmt.Errorf("submit to %s abandoned: %w", msg.Topic, ErrDispatcherClosed))
			return p.promise.Future()
		}
		delay = d.nextDelay(delay)
	}
}

// tryEnqueue performs one non-blocking send
func (d *Dispatcher) tryEnqueue(l *lane, p *pending) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return false, ErrDispatcherClosed
	}

	select {
	case l.queue <- p:
		return true, nil
	default:
		return false, nil
	}
}

// Pending returns the number of submitted messages not yet resolved
func (d *Dispatcher) Pending() int64 {
	return d.inflight.Load()
}

// Close stops accepting messages and delivers everything already queued. If ctx
// expires first, in-flight broker calls are cancelled and remaining messages
// fail with ErrDispatcherClosed. The sink is not closed.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, l := range d.lanes {
		close(l.queue)
	}
	d.mu.Unlock()

	log.Info().Int64("pending", d.inflight.Load()).Msg("Draining publish dispatcher")

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.runCancel()
		log.Info().Msg("Publish dispatcher drained")
		return nil
	case <-ctx.Done():
		d.runCancel()
		<-done
		log.Warn().Msg("Publish dispatcher drain deadline exceeded, remaining messages failed")
		return ctx.Err()
	}
}

// laneLoop drains one lane in order
func (d *Dispatcher) laneLoop(l *lane) {
	defer d.wg.Done()

	batch := make([]*pending, 0, d.config.BatchSize)
	for p := range l.queue {
		batch = append(batch[:0], p)

	fill:
		for len(batch) < d.config.BatchSize {
			select {
			case next, ok := <-l.queue:
				if !ok {
					break fill
				}
				batch = append(batch, next)
			default:
				break fill
			}
		}

		d.deliver(l, batch)
	}
}

// deliver publishes a batch with exponential backoff retry. Permanently failed
// messages and the acknowledged prefix are resolved as results come in; the
// suffix from the first transient failure is retried in its original order,
// so a partial failure may deliver some messages twice.
func (d *Dispatcher) deliver(l *lane, batch []*pending) {
	remaining := append([]*pending(nil), batch...)
	delay := d.config.RetryInitial

	defer func() {
		telemetry.PublishQueueDepth.Sub(float64(len(batch)))
		d.inflight.Add(-int64(len(batch)))
	}()

	for {
		if d.runCtx.Err() != nil {
			for _, p := range remaining {
				p.resolve(fmt.Errorf("publish to %s aborted: %w", p.msg.Topic, ErrDispatcherClosed))
			}
			return
		}

		msgs := make([]Message, len(remaining))
		for i, p := range remaining {
			msgs[i] = p.msg
			p.attempts++
		}

		start := time.Now()
		err := d.config.Sink.Publish(d.runCtx, msgs)
		telemetry.PublishDurationSeconds.Observe(time.Since(start).Seconds())

		errs := outcomes(err, len(remaining))

		// Everything after the first transient failure is resent, acked or not,
		// so the broker still sees each file's lines in order.
		cut := len(remaining)
		for i, e := range errs {
			if e != nil && !IsPermanent(e) {
				cut = i
				break
			}
		}

		retry := remaining[:0:0]
		for i, p := range remaining {
			switch {
			case i < cut && errs[i] == nil:
				p.resolve(nil)
			case IsPermanent(errs[i]):
				log.Error().
					Err(errs[i]).
					Str("topic", p.msg.Topic).
					Str("file", p.msg.Source).
					Int64("offset", p.msg.Offset).
					Msg("Broker rejected message")
				p.resolve(errs[i])
			case p.attempts >= d.config.MaxRetries && errs[i] == nil:
				p.resolve(nil)
			case p.attempts >= d.config.MaxRetries:
				p.resolve(fmt.Errorf("%w (%d) for topic %s: %v", ErrRetriesExhausted, p.attempts, p.msg.Topic, errs[i]))
			default:
				retry = append(retry, p)
			}
		}

		if len(retry) == 0 {
			return
		}
		remaining = retry

		telemetry.PublishRetriesTotal.Add(float64(len(retry)))
		log.Warn().
			Err(err).
			Int("lane", l.id).
			Str("topics", joinTopics(msgs)).
			Int("retrying", len(retry)).
			Int("attempt", retry[0].attempts).
			Dur("retry_delay", delay).
			Msg("Failed to publish messages, retrying")

		if !d.sleep(d.runCtx, delay) {
			continue // runCtx check above fails what is left
		}
		delay = d.nextDelay(delay)
	}
}

func (d *Dispatcher) nextDelay(delay time.Duration) time.Duration {
	delay = time.Duration(float64(delay) * d.config.RetryMultiplier)
	if delay > d.config.RetryMax {
		delay = d.config.RetryMax
	}
	return delay
}

// sleep sleeps for the given duration, returning false if ctx or the
// dispatcher was cancelled first
func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) bool {
	timer := time.NewTimer(dur)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-d.runCtx.Done():
		return false
	case <-timer.C:
		return true
	}
}

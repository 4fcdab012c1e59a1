// Package tailer follows one log file and publishes each appended line.
//
// A Tailer is a small state machine driven by watch events:
//
//	Idle -> Detecting -> Reading -> Committing -> Idle
//
// Detecting stats the file and recognizes truncation or rotation. Reading
// takes the bytes between the read position and the observed size, splits
// them into lines, and submits one message per line. Committing waits for
// every broker outcome in file order and persists the offset just past the
// last line of the acknowledged prefix. Events arriving mid-cycle wait in the
// watcher channel, so one file is never read concurrently.
package tailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/jizhuozhi/go-future"
	"github.com/maxpert/tailpub/deadletter"
	"github.com/maxpert/tailpub/offset"
	"github.com/maxpert/tailpub/publisher"
	"github.com/maxpert/tailpub/record"
	"github.com/maxpert/tailpub/router"
	"github.com/maxpert/tailpub/telemetry"
	"github.com/maxpert/tailpub/watch"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const (
	DefaultMaxReadBytes = 4 << 20
	DefaultMaxLineBytes = 1 << 20
)

// Publisher submits one record and returns its delivery future
type Publisher interface {
	Publish(ctx context.Context, channel string, rec record.Record, offset int64) *future.Future[publisher.Delivery]
}

// DeadLetterWriter durably stores an undeliverable line
type DeadLetterWriter interface {
	Write(e deadletter.Entry) error
}

// Config wires a Tailer to its collaborators
type Config struct {
	Path         string
	Fs           afero.Fs
	Store        offset.Store
	Watcher      watch.Watcher
	Mapper       *record.Mapper
	Template     *router.Template
	Publisher    Publisher
	DeadLetter   DeadLetterWriter // Optional
	MaxReadBytes int64            // Bytes read per step
	MaxLineBytes int              // Partial line size forcing emission
	OnStatus     func(Status)     // Optional, called from the tailer goroutine
}

// Tailer owns the read state of one file. All fields below config are only
// touched by the goroutine running Run.
type Tailer struct {
	config Config
	state  atomic.Int32

	committed int64  // Durable offset
	acked     int64  // Acknowledged watermark, may be ahead of committed after a failed commit
	readPos   int64  // Next byte to read
	partial   []byte // Trailing bytes without a terminator
	last      os.FileInfo
	pinned    bool
	pinnedAt  int64
	rotations int
	lastErr   error
}

type line struct {
	start   int64
	end     int64
	text    []byte
	channel string
	fut     *future.Future[publisher.Delivery]
}

// New validates config and creates a Tailer
func New(config Config) (*Tailer, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("path is required")
	}
	if config.Fs == nil {
		return nil, fmt.Errorf("filesystem is required")
	}
	if config.Store == nil {
		return nil, fmt.Errorf("offset store is required")
	}
	if config.Watcher == nil {
		return nil, fmt.Errorf("watcher is required")
	}
	if config.Mapper == nil || config.Template == nil {
		return nil, fmt.Errorf("mapper and template are required")
	}
	if config.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if config.MaxReadBytes <= 0 {
		config.MaxReadBytes = DefaultMaxReadBytes
	}
	if config.MaxLineBytes <= 0 {
		config.MaxLineBytes = DefaultMaxLineBytes
	}

	return &Tailer{config: config}, nil
}

// Path returns the tailed file
func (t *Tailer) Path() string {
	return t.config.Path
}

// State returns the current state; safe from any goroutine
func (t *Tailer) State() State {
	return State(t.state.Load())
}

// Run resumes from the committed offset and processes events until ctx is
// done. Once ctx is cancelled the step in progress finishes with its
// publishes bounded by the dispatcher shutdown, and no further chunk is read.
func (t *Tailer) Run(ctx context.Context) {
	t.resume()

	log.Info().
		Str("file", t.config.Path).
		Int64("offset", t.committed).
		Msg("Tailing file")

	events := t.config.Watcher.Watch(ctx, t.config.Path)
	work := context.WithoutCancel(ctx)

	t.cycle(ctx, work)

	for {
		select {
		case <-ctx.Done():
			t.setState(Closed)
			return
		case ev, ok := <-events:
			if !ok {
				t.setState(Closed)
				return
			}
			if ctx.Err() != nil {
				continue
			}
			log.Debug().Str("file", t.config.Path).Stringer("event", ev.Kind).Msg("Change detected")
			t.cycle(ctx, work)
		}
	}
}

func (t *Tailer) resume() {
	t.committed = t.config.Store.Load(t.config.Path)
	t.acked = t.committed
	t.readPos = t.committed
	t.partial = nil
}

// cycle runs detect-read-commit steps until the observed size is consumed or
// stop is done. Steps publish under work, which outlives stop.
func (t *Tailer) cycle(stop, work context.Context) {
	start := time.Now()
	defer func() {
		telemetry.CycleDurationSeconds.Observe(time.Since(start).Seconds())
		t.setState(Idle)
	}()

	for stop.Err() == nil && t.step(work) {
	}
}

// step performs one bounded detect-read-commit pass and reports whether more
// bytes are waiting
func (t *Tailer) step(ctx context.Context) bool {
	t.setState(Detecting)

	info, err := t.config.Fs.Stat(t.config.Path)
	if err != nil {
		t.fail("stat", err)
		return false
	}

	if t.last != nil && !watch.SameFile(t.last, info) {
		t.rotate(info, "rotated")
	} else if info.Size() < t.readPos {
		t.rotate(info, "truncated")
	}
	t.last = info

	if info.Size() == t.readPos {
		t.retryCommit()
		return false
	}

	t.setState(Reading)

	end := info.Size()
	if end-t.readPos > t.config.MaxReadBytes {
		end = t.readPos + t.config.MaxReadBytes
	}

	chunk, err := t.read(info, t.readPos, end)
	if err != nil {
		t.fail("read", err)
		return false
	}
	if len(chunk) == 0 {
		return false
	}

	lines := t.split(chunk)
	t.lastErr = nil

	telemetry.BytesReadTotal.With(t.config.Path).Add(float64(len(chunk)))
	telemetry.LinesReadTotal.With(t.config.Path).Add(float64(len(lines)))

	for i := range lines {
		l := &lines[i]
		rec := t.config.Mapper.Map(l.text)
		l.channel = t.config.Template.Render(rec)
		l.fut = t.config.Publisher.Publish(ctx, l.channel, rec, l.end)
	}

	t.setState(Committing)
	t.await(lines)
	t.retryCommit()

	return t.readPos < info.Size()
}

// read returns bytes [from, to) of the file. If the path was replaced
// after the stat, nothing is read and the next step detects the rotation.
func (t *Tailer) read(info os.FileInfo, from, to int64) ([]byte, error) {
	f, err := t.config.Fs.Open(t.config.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	opened, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !watch.SameFile(info, opened) {
		return nil, nil
	}

	buf := make([]byte, to-from)
	n, err := io.ReadFull(io.NewSectionReader(f, from, to-from), buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}

	return buf[:n], nil
}

// split appends chunk to the buffered partial line and cuts complete lines.
// Offsets are absolute; end includes the terminator.
func (t *Tailer) split(chunk []byte) []line {
	base := t.readPos - int64(len(t.partial))
	data := chunk
	if len(t.partial) > 0 {
		data = append(t.partial, chunk...)
	}
	t.readPos += int64(len(chunk))

	var lines []line
	pos := 0
	for {
		idx := bytes.IndexByte(data[pos:], '\n')
		if idx < 0 {
			break
		}
		text := bytes.TrimSuffix(data[pos:pos+idx], []byte{'\r'})
		lines = append(lines, line{
			start: base + int64(pos),
			end:   base + int64(pos+idx+1),
			text:  text,
		})
		pos += idx + 1
	}

	rest := data[pos:]
	if len(rest) > t.config.MaxLineBytes {
		log.Warn().
			Str("file", t.config.Path).
			Int64("start", base+int64(pos)).
			Int("bytes", len(rest)).
			Int("max_line_bytes", t.config.MaxLineBytes).
			Msg("Line exceeds size limit, emitting without terminator")
		telemetry.OversizedLinesTotal.With(t.config.Path).Inc()

		lines = append(lines, line{
			start: base + int64(pos),
			end:   base + int64(len(data)),
			text:  rest,
		})
		rest = nil
	}

	t.partial = append([]byte(nil), rest...)
	return lines
}

// await resolves futures in file order and moves the acknowledged watermark
// across the contiguous prefix of delivered (or dead-lettered) lines
func (t *Tailer) await(lines []line) {
	for _, l := range lines {
		_, err := l.fut.Get()
		if err != nil {
			t.lastErr = err
			log.Error().
				Err(err).
				Str("file", t.config.Path).
				Int64("start", l.start).
				Int64("end", l.end).
				Str("channel", l.channel).
				Msg("Failed to publish line")

			if !deadLetterable(err) || !t.deadLetter(l, err) {
				if !t.pinned {
					t.pinned = true
					t.pinnedAt = l.start
					log.Warn().
						Str("file", t.config.Path).
						Int64("offset", l.start).
						Msg("Committed offset held at failed line")
				}
				continue
			}
		}

		if !t.pinned {
			t.acked = l.end
		}
	}
}

// deadLetterable reports whether a failure is final for the line itself.
// Shutdown, a full queue and cancellation say nothing about the line, so
// those keep the offset pinned and the line is read again after restart.
func deadLetterable(err error) bool {
	var re *publisher.RoutingError
	if errors.As(err, &re) || errors.Is(err, publisher.ErrRetriesExhausted) {
		return true
	}
	if errors.Is(err, publisher.ErrDispatcherClosed) || errors.Is(err, publisher.ErrQueueFull) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return publisher.IsPermanent(err)
}

func (t *Tailer) deadLetter(l line, cause error) bool {
	if t.config.DeadLetter == nil {
		return false
	}

	err := t.config.DeadLetter.Write(deadletter.Entry{
		Time:    time.Now(),
		File:    t.config.Path,
		Start:   l.start,
		End:     l.end,
		Channel: l.channel,
		Line:    string(l.text),
		Raw:     l.text,
		Error:   cause.Error(),
	})
	if err != nil {
		log.Error().Err(err).Str("file", t.config.Path).Int64("start", l.start).Msg("Failed to write dead letter")
		return false
	}
	return true
}

// retryCommit persists the acknowledged watermark when it is ahead of the
// durable offset. A failed write is retried on the next step.
func (t *Tailer) retryCommit() {
	if t.acked <= t.committed {
		return
	}

	if err := t.config.Store.Commit(t.config.Path, t.acked); err != nil {
		t.fail("commit", err)
		return
	}

	t.committed = t.acked
	telemetry.OffsetCommitted.With(t.config.Path).Set(float64(t.committed))
	log.Debug().Str("file", t.config.Path).Int64("offset", t.committed).Msg("Committed offset")
}

// rotate restarts the file from byte 0
func (t *Tailer) rotate(info os.FileInfo, reason string) {
	log.Info().
		Str("file", t.config.Path).
		Str("reason", reason).
		Int64("size", info.Size()).
		Int64("read_pos", t.readPos).
		Int64("committed", t.committed).
		Msg("File truncated or rotated, restarting from offset 0")

	t.committed = 0
	t.acked = 0
	t.readPos = 0
	t.partial = nil
	t.pinned = false
	t.pinnedAt = 0
	t.rotations++
	telemetry.RotationsTotal.With(t.config.Path).Inc()

	if err := t.config.Store.Commit(t.config.Path, 0); err != nil {
		t.fail("commit", err)
	}
}

func (t *Tailer) fail(stage string, err error) {
	telemetry.TailErrorsTotal.With(stage).Inc()

	// Repeated identical failures (a missing file) are logged once
	if t.lastErr == nil || t.lastErr.Error() != err.Error() {
		log.Warn().Err(err).Str("file", t.config.Path).Str("stage", stage).Msg("Tail step failed")
	}
	t.lastErr = err
}

func (t *Tailer) setState(s State) {
	t.state.Store(int32(s))
	if t.config.OnStatus != nil {
		t.config.OnStatus(t.snapshot())
	}
}

func (t *Tailer) snapshot() Status {
	st := Status{
		Path:      t.config.Path,
		State:     t.State().String(),
		Committed: t.committed,
		ReadPos:   t.readPos,
		Pending:   len(t.partial),
		Pinned:    t.pinned,
		PinnedAt:  t.pinnedAt,
		Rotations: t.rotations,
		Updated:   time.Now(),
	}
	if t.last != nil {
		st.Size = t.last.Size()
	}
	if t.lastErr != nil {
		st.LastError = t.lastErr.Error()
	}
	return st
}

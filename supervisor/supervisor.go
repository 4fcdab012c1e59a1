// Package supervisor builds the tailing pipeline from configuration and owns
// its lifecycle: one shared sink and dispatcher, one tailer goroutine per file.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/maxpert/tailpub/cfg"
	"github.com/maxpert/tailpub/deadletter"
	"github.com/maxpert/tailpub/offset"
	"github.com/maxpert/tailpub/publisher"
	"github.com/maxpert/tailpub/record"
	"github.com/maxpert/tailpub/router"
	"github.com/maxpert/tailpub/tailer"
	"github.com/maxpert/tailpub/telemetry"
	"github.com/maxpert/tailpub/watch"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// ErrBrokerUnreachable is returned by Start when the broker did not answer
// within the connect timeout
var ErrBrokerUnreachable = errors.New("broker unreachable")

// Options overrides collaborators, mostly for tests
type Options struct {
	Fs   afero.Fs       // Defaults to the OS filesystem
	Sink publisher.Sink // Defaults to publisher.NewSink(config)
}

// Supervisor runs every configured tailer
type Supervisor struct {
	config *cfg.Configuration
	fs     afero.Fs
	sink   publisher.Sink

	store      offset.Store
	dispatcher *publisher.Dispatcher
	tailers    []*tailer.Tailer
	statuses   *xsync.MapOf[string, tailer.Status]

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// New creates a supervisor; nothing is opened until Start
func New(config *cfg.Configuration, opts Options) *Supervisor {
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Supervisor{
		config:   config,
		fs:       fs,
		sink:     opts.Sink,
		statuses: xsync.NewMapOf[string, tailer.Status](),
	}
}

// Start connects to the broker and launches one tailer per resolved file.
// An unreachable broker is reported as ErrBrokerUnreachable.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.sink == nil {
		snk, err := publisher.NewSink(s.config)
		if err != nil {
			return err
		}
		s.sink = snk
	}

	pingCtx, cancel := context.WithTimeout(ctx, time.Duration(s.config.Broker.ConnectTimeoutMS)*time.Millisecond)
	err := s.sink.Ping(pingCtx)
	cancel()
	if err != nil {
		s.sink.Close()
		return fmt.Errorf("%w: %v", ErrBrokerUnreachable, err)
	}
	log.Info().Str("broker", s.config.Broker.Type).Msg("Connected to broker")

	store, err := offset.Open(s.config.Offsets, s.fs)
	if err != nil {
		s.sink.Close()
		return err
	}
	s.store = store

	var dead tailer.DeadLetterWriter
	if s.config.Tail.DeadLetterDir != "" {
		w, err := deadletter.NewWriter(s.fs, s.config.Tail.DeadLetterDir)
		if err != nil {
			s.closeResources()
			return err
		}
		dead = w
	}

	dispatcher, err := publisher.NewDispatcher(publisher.DispatcherConfig{
		Sink:            s.sink,
		Lanes:           s.config.Publish.Lanes,
		QueueSize:       s.config.Publish.QueueSize,
		BatchSize:       s.config.Broker.BatchSize,
		RetryInitial:    time.Duration(s.config.Publish.RetryInitialMS) * time.Millisecond,
		RetryMax:        time.Duration(s.config.Publish.RetryMaxMS) * time.Millisecond,
		RetryMultiplier: s.config.Publish.RetryMultiplier,
		MaxRetries:      s.config.Publish.MaxRetries,
	})
	if err != nil {
		s.closeResources()
		return err
	}
	s.dispatcher = dispatcher

	seen := make(map[string]struct{})
	for _, spec := range s.config.Files {
		paths, err := Expand(spec)
		if err != nil {
			s.abort()
			return err
		}
		if len(paths) == 0 {
			log.Warn().Str("pattern", spec.Path).Msg("No files match pattern")
		}

		for _, path := range paths {
			if _, dup := seen[path]; dup {
				log.Warn().Str("file", path).Msg("File matched by several specs, using the first")
				continue
			}
			seen[path] = struct{}{}

			tl, err := s.newTailer(spec, path, dead)
			if err != nil {
				s.abort()
				return fmt.Errorf("failed to set up %s: %w", path, err)
			}
			s.tailers = append(s.tailers, tl)
		}
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	s.cancel = runCancel
	for _, tl := range s.tailers {
		s.wg.Add(1)
		go func(tl *tailer.Tailer) {
			defer s.wg.Done()
			tl.Run(runCtx)
		}(tl)
	}

	log.Info().Int("files", len(s.tailers)).Msg("Supervisor started")
	return nil
}

func (s *Supervisor) newTailer(spec cfg.FileSpec, path string, dead tailer.DeadLetterWriter) (*tailer.Tailer, error) {
	tmpl, err := router.Parse(spec.Topic)
	if err != nil {
		return nil, err
	}

	format := spec.Format
	if format == "" {
		format = "json"
	}
	tr, err := publisher.NewTransformer(format)
	if err != nil {
		return nil, err
	}

	validator, _ := s.sink.(publisher.TopicValidator)
	pub, err := publisher.NewPublisher(publisher.PublisherConfig{
		Source:      path,
		Submitter:   s.dispatcher,
		Transformer: tr,
		Validator:   validator,
		HeaderKey:   spec.HeaderKey,
		HeaderIndex: spec.HeaderIndex,
		KeyField:    spec.KeyField,
	})
	if err != nil {
		return nil, err
	}

	s.statuses.Store(path, tailer.Status{Path: path, State: tailer.Idle.String(), Updated: time.Now()})

	return tailer.New(tailer.Config{
		Path:         path,
		Fs:           s.fs,
		Store:        s.store,
		Watcher:      watch.New(s.config.Watch, s.fs),
		Mapper:       record.NewMapper(spec.Delimiter, spec.Fields, spec.TrimSpace()),
		Template:     tmpl,
		Publisher:    pub,
		DeadLetter:   dead,
		MaxReadBytes: s.config.Tail.MaxReadBytes,
		MaxLineBytes: s.config.Tail.MaxLineBytes,
		OnStatus: func(st tailer.Status) {
			s.statuses.Store(st.Path, st)
		},
	})
}

// Stop ends intake, lets in-flight cycles finish within the shutdown grace,
// then fails whatever the dispatcher still holds and releases the broker and
// the offset store. Offsets of unacknowledged lines are not committed.
func (s *Supervisor) Stop(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		err = s.stop(ctx)
	})
	return err
}

func (s *Supervisor) stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}

	log.Info().Msg("Stopping supervisor")
	s.cancel()

	graceCtx, cancel := context.WithTimeout(ctx, time.Duration(s.config.Tail.ShutdownGraceMS)*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-graceCtx.Done():
		log.Warn().Int64("pending", s.dispatcher.Pending()).Msg("Shutdown grace elapsed, failing pending messages")
	}

	var errs []error
	if err := s.dispatcher.Close(graceCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		errs = append(errs, err)
	}
	<-done

	if err := s.sink.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close sink: %w", err))
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close offset store: %w", err))
	}

	log.Info().Msg("Supervisor stopped")
	return errors.Join(errs...)
}

// abort releases everything opened by a failed Start
func (s *Supervisor) abort() {
	if s.dispatcher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		s.dispatcher.Close(ctx)
		cancel()
	}
	s.closeResources()
}

func (s *Supervisor) closeResources() {
	if s.store != nil {
		s.store.Close()
	}
	s.sink.Close()
}

// Statuses returns a snapshot of every tailer, ordered by path
func (s *Supervisor) Statuses() []tailer.Status {
	out := make([]tailer.Status, 0, s.statuses.Size())
	s.statuses.Range(func(_ string, st tailer.Status) bool {
		out = append(out, st)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// FileStats implements telemetry.StatsProvider
func (s *Supervisor) FileStats() []telemetry.FileStat {
	statuses := s.Statuses()
	stats := make([]telemetry.FileStat, len(statuses))
	for i, st := range statuses {
		stats[i] = telemetry.FileStat{Path: st.Path, Size: st.Size, Committed: st.Committed}
	}
	return stats
}

// Pending returns the number of messages submitted but not yet resolved
func (s *Supervisor) Pending() int64 {
	if s.dispatcher == nil {
		return 0
	}
	return s.dispatcher.Pending()
}

// Expand resolves a file spec to concrete paths. A path without glob
// metacharacters is returned as-is even when the file does not exist yet.
func Expand(spec cfg.FileSpec) ([]string, error) {
	filter, err := NewGlobFilter(spec.Exclude)
	if err != nil {
		return nil, err
	}

	pattern := filepath.Clean(spec.Path)
	if !hasMeta(pattern) {
		if filter.Excluded(pattern) {
			return nil, nil
		}
		return []string{pattern}, nil
	}

	matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("invalid path pattern %q: %w", spec.Path, err)
	}

	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if filter.Excluded(m) {
			log.Debug().Str("file", m).Msg("Excluded by pattern")
			continue
		}
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func hasMeta(s string) bool {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', '{':
			return true
		}
	}
	return false
}

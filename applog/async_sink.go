package applog

import (
	"fmt"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"sync"
	"time"
)

type queuedEntry struct {
	core   zapcore.Core
	entry  zapcore.Entry
	fields []zap.Field
}

// asyncSink is a zapcore.Core that hands entries to a single writer goroutine
// through a bounded queue. A full queue drops the entry and reports an error
// rather than stalling the caller.
type asyncSink struct {
	core    zapcore.Core
	queue   chan queuedEntry
	quit    chan struct{}
	stopped *sync.Once
	wg      *sync.WaitGroup
}

func newAsyncSink(core zapcore.Core, bufferSize int) *asyncSink {
	s := &asyncSink{
		core:    core,
		queue:   make(chan queuedEntry, bufferSize),
		quit:    make(chan struct{}),
		stopped: &sync.Once{},
		wg:      &sync.WaitGroup{},
	}

	s.wg.Add(1)
	go s.process()
	return s
}

func (s *asyncSink) process() {
	defer s.wg.Done()
	for {
		select {
		case qe := <-s.queue:
			_ = qe.core.Write(qe.entry, qe.fields)
		case <-s.quit:
			// Drain whatever is still buffered before exiting.
			for {
				select {
				case qe := <-s.queue:
					_ = qe.core.Write(qe.entry, qe.fields)
				default:
					_ = s.core.Sync()
					return
				}
			}
		}
	}
}

func (s *asyncSink) Enabled(lvl zapcore.Level) bool {
	return s.core.Enabled(lvl)
}

func (s *asyncSink) With(fields []zap.Field) zapcore.Core {
	return &asyncSink{
		core:    s.core.With(fields),
		queue:   s.queue,
		quit:    s.quit,
		stopped: s.stopped,
		wg:      s.wg,
	}
}

func (s *asyncSink) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if s.Enabled(entry.Level) {
		return ce.AddCore(entry, s)
	}
	return ce
}

func (s *asyncSink) Write(entry zapcore.Entry, fields []zap.Field) error {
	select {
	case <-s.quit:
		return nil
	default:
	}

	select {
	case s.queue <- queuedEntry{core: s.core, entry: entry, fields: fields}:
		return nil
	default:
		return fmt.Errorf("log queue overflow (capacity: %d)", cap(s.queue))
	}
}

func (s *asyncSink) Sync() error {
	return nil
}

// Shutdown signals the writer goroutine to drain and waits at most timeout for it.
func (s *asyncSink) Shutdown(timeout time.Duration) {
	s.stopped.Do(func() {
		close(s.quit)
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}

// Package run owns the lifecycle of a soak test run: it provisions hosts and
// audiences, holds the run for its duration and tears everything down.
package run

import (
	"context"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"rtc-soak/applog"
	"rtc-soak/display"
	"rtc-soak/observer"
	"rtc-soak/registry"
	"rtc-soak/session"
	"rtc-soak/visibility"
	"sync"
	"time"
)

// Run is the state of one test run. It is created at start and discarded at
// stop; nothing in it is reused by a later run.
type Run struct {
	ID        string
	StartedAt time.Time

	Registry   *registry.Registry
	Grid       *display.Grid
	Controller *visibility.Controller
	Viewport   *observer.Viewport

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	hosts []*host

	stopOnce sync.Once
	stopErr  error
}

type host struct {
	index    int
	sess     session.Session
	identity session.Identity
	track    *session.SynthTrack
}

// SlotStatus is one audience slot as seen in a snapshot.
type SlotStatus struct {
	Slot      int
	Identity  session.Identity
	Join      registry.JoinState
	Subscribe registry.SubscribeState
}

func newRun(ctx context.Context) *Run {
	r := &Run{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Registry:  registry.New(),
		Grid:      display.NewGrid(),
	}
	r.ctx, r.cancel = context.WithCancel(applog.AddContextFields(ctx, zap.String("runId", r.ID)))
	return r
}

func (r *Run) addHost(h *host) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hosts = append(r.hosts, h)
}

func (r *Run) hostList() []*host {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*host(nil), r.hosts...)
}

func (r *Run) Context() context.Context {
	return r.ctx
}

func (r *Run) Snapshot() []SlotStatus {
	var out []SlotStatus
	for rec := range r.Registry.All() {
		st := rec.State()
		out = append(out, SlotStatus{
			Slot:      rec.Slot,
			Identity:  st.Assigned,
			Join:      st.Join,
			Subscribe: st.Sub,
		})
	}
	return out
}

func (r *Run) counts() (joined, subscribed int) {
	for _, s := range r.Snapshot() {
		if s.Join == registry.Joined {
			joined++
		}
		if s.Subscribe == registry.Subscribed {
			subscribed++
		}
	}
	return joined, subscribed
}

// stop cancels in-flight work and drives every participant out of the
// channel. Only the first call does anything.
func (r *Run) stop(ctx context.Context, parallelism int) error {
	r.stopOnce.Do(func() {
		logger := applog.FromContext(r.ctx)
		joined, subscribed := r.counts()
		logger.Info("Stopping run",
			zap.Int("audiences", r.Registry.Len()),
			zap.Int("joined", joined),
			zap.Int("subscribed", subscribed),
			zap.Int("hosts", len(r.hostList())),
		)

		r.cancel()
		r.wg.Wait()

		var errs error
		errs = multierr.Append(errs, r.Controller.LeaveAll(ctx))
		errs = multierr.Append(errs, r.leaveHosts(ctx, parallelism))

		for _, s := range r.Snapshot() {
			logger.Debug("Slot final state",
				zap.Int("slot", s.Slot),
				zap.Stringer("join", s.Join),
				zap.Stringer("subscribe", s.Subscribe),
			)
		}
		r.Grid.ClearAll()
		r.Registry.Clear()
		r.stopErr = errs

		logger.Info("Run stopped",
			zap.Duration("elapsed", time.Since(r.StartedAt)),
			zap.Int("failures", len(multierr.Errors(errs))),
		)
	})
	return r.stopErr
}

func (r *Run) leaveHosts(ctx context.Context, parallelism int) error {
	var (
		mu   sync.Mutex
		errs error
		g    errgroup.Group
	)
	g.SetLimit(parallelism)

	for _, h := range r.hostList() {
		g.Go(func() error {
			if h.track != nil {
				h.track.Close()
			}
			if err := h.sess.Leave(ctx); err != nil {
				applog.FromContext(r.ctx).Warn("Host leave failed",
					zap.Int("host", h.index),
					zap.Stringer("identity", h.identity),
					zap.Error(err),
				)
				mu.Lock()
				errs = multierr.Append(errs, &session.LeaveError{Err: err})
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

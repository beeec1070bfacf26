// Package visibility turns per-slot visibility changes into the join,
// subscribe, unsubscribe and leave calls of that slot's session.
//
// Every slot has its own queue drained by at most one goroutine, so the
// transitions of a slot never overlap while different slots proceed
// independently. A visibility change that arrives while the slot is busy
// replaces any change still waiting in the queue; only the latest level is
// applied once the in-flight transition settles.
package visibility

import (
	"context"
	"errors"
	"fmt"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"rtc-soak/applog"
	"rtc-soak/registry"
	"rtc-soak/session"
	"sync"
)

const defaultTeardownParallelism = 16

var errUnknownLevel = errors.New("unknown visibility level")

// Targets resolves the display target of a slot.
type Targets interface {
	Target(slot int) session.Target
}

type Options struct {
	Channel     string
	Role        session.Role
	RoleOptions session.RoleOptions
	Credentials session.CredentialSource
	Targets     Targets
	// TeardownParallelism bounds the concurrent leave calls of LeaveAll.
	TeardownParallelism int
}

type Controller struct {
	ctx      context.Context
	registry *registry.Registry
	opts     Options

	mu       sync.Mutex
	queues   map[int]*slotQueue
	stopped  bool
	inflight sync.WaitGroup
}

type slotQueue struct {
	mu      sync.Mutex
	pending []Event
	running bool
}

// push must be called with q.mu held.
func (q *slotQueue) push(ev Event) {
	if _, ok := ev.(VisibilityChanged); ok {
		kept := q.pending[:0]
		for _, queued := range q.pending {
			if _, stale := queued.(VisibilityChanged); !stale {
				kept = append(kept, queued)
			}
		}
		q.pending = kept
	}
	q.pending = append(q.pending, ev)
}

func New(ctx context.Context, reg *registry.Registry, opts Options) *Controller {
	if opts.Role == "" {
		opts.Role = session.RoleAudience
	}
	if opts.TeardownParallelism <= 0 {
		opts.TeardownParallelism = defaultTeardownParallelism
	}
	return &Controller{
		ctx:      ctx,
		registry: reg,
		opts:     opts,
		queues:   make(map[int]*slotQueue),
	}
}

func (c *Controller) OnVisibilityChanged(slot int, level Level) {
	c.Dispatch(VisibilityChanged{SlotIndex: slot, Level: level})
}

// Dispatch queues ev for its slot. Events for slots without a record and
// events arriving after LeaveAll are dropped.
func (c *Controller) Dispatch(ev Event) {
	rec, ok := c.registry.Find(ev.Slot())
	if !ok {
		applog.Debug("Ignoring event for unknown slot", zap.Int("slot", ev.Slot()))
		return
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	q, ok := c.queues[rec.Slot]
	if !ok {
		q = &slotQueue{}
		c.queues[rec.Slot] = q
	}

	q.mu.Lock()
	q.push(ev)
	start := !q.running
	if start {
		q.running = true
		c.inflight.Add(1)
	}
	q.mu.Unlock()
	c.mu.Unlock()

	if start {
		go c.drain(rec, q)
	}
}

func (c *Controller) drain(rec *registry.Record, q *slotQueue) {
	defer c.inflight.Done()
	for {
		stopped := c.isStopped()
		q.mu.Lock()
		if len(q.pending) == 0 || stopped {
			q.pending = nil
			q.running = false
			q.mu.Unlock()
			return
		}
		ev := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		c.handle(rec, ev)
	}
}

func (c *Controller) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *Controller) handle(rec *registry.Record, ev Event) {
	ctx := applog.AddContextFields(c.ctx, zap.Int("slot", rec.Slot))
	logger := applog.FromContext(ctx)

	switch ev := ev.(type) {
	case VisibilityChanged:
		if err := c.apply(ctx, rec, ev.Level); err != nil {
			logger.Warn("Visibility transition failed",
				zap.Stringer("level", ev.Level),
				zap.Stringer("state", rec),
				zap.Error(err),
			)
			return
		}
		logger.Debug("Visibility transition applied",
			zap.Stringer("level", ev.Level),
			zap.Stringer("state", rec),
		)

	case RemoteTrackPublished:
		if rec.SubscribeState() != registry.Subscribed {
			logger.Debug("Remote track published while not subscribed",
				zap.Stringer("publisher", ev.Publisher.Identity()),
				zap.Stringer("kind", ev.Kind),
			)
			return
		}
		target := c.opts.Targets.Target(rec.Slot)
		if err := c.subscribeOne(ctx, rec, ev.Publisher, ev.Kind, target); err != nil {
			logger.Warn("Failed to subscribe to new remote track", zap.Error(err))
		}

	case RemoteTrackUnpublished:
		logger.Debug("Remote track unpublished",
			zap.Stringer("publisher", ev.Publisher.Identity()),
			zap.Stringer("kind", ev.Kind),
		)
		if rec.SubscribeState() == registry.Subscribed {
			c.redraw(rec)
		}
	}
}

// apply closes the gap between the record's state and the state level
// requires: full is joined and subscribed, partial is joined and not
// subscribed, none is not joined.
func (c *Controller) apply(ctx context.Context, rec *registry.Record, level Level) error {
	switch level {
	case Full:
		if err := c.ensureJoined(ctx, rec); err != nil {
			return err
		}
		return c.ensureSubscribed(ctx, rec)
	case Partial:
		if err := c.ensureJoined(ctx, rec); err != nil {
			return err
		}
		return c.ensureUnsubscribed(ctx, rec)
	case None:
		return c.ensureLeft(ctx, rec)
	default:
		return fmt.Errorf("%w: %s", errUnknownLevel, level)
	}
}

// redraw renders the slot's target again from the tracks still playing, so
// tracks of publishers that went away disappear from it.
func (c *Controller) redraw(rec *registry.Record) {
	target := c.opts.Targets.Target(rec.Slot)
	target.Clear()
	forEachTrack(rec.Session, func(_ session.Publisher, _ session.MediaKind, track session.Track) {
		if track.IsPlaying() {
			target.Render(track)
		}
	})
}

// Wait blocks until every slot queue is idle.
func (c *Controller) Wait() {
	c.inflight.Wait()
}

// LeaveAll stops accepting events, waits for in-flight transitions and then
// drives every record to disconnected. The returned error combines the
// individual leave failures; the records are disconnected regardless.
func (c *Controller) LeaveAll(ctx context.Context) error {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.inflight.Wait()

	var (
		mu   sync.Mutex
		errs error
		g    errgroup.Group
	)
	g.SetLimit(c.opts.TeardownParallelism)

	for rec := range c.registry.All() {
		g.Go(func() error {
			slotCtx := applog.AddContextFields(ctx, zap.Int("slot", rec.Slot))
			if err := c.ensureLeft(slotCtx, rec); err != nil {
				applog.FromContext(slotCtx).Warn("Leave failed during teardown", zap.Error(err))
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

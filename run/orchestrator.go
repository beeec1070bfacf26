package run

import (
	"context"
	"errors"
	"fmt"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"rtc-soak/applog"
	"rtc-soak/config"
	"rtc-soak/observer"
	"rtc-soak/scenario"
	"rtc-soak/session"
	"rtc-soak/util"
	"rtc-soak/visibility"
	"sync"
	"time"
)

const (
	progressInterval    = 10 * time.Second
	teardownParallelism = 16
)

var ErrAlreadyRunning = errors.New("a test run is already active")

type Orchestrator struct {
	cfg     *config.Config
	factory session.Factory
	creds   session.CredentialSource

	mu     sync.Mutex
	active *Run
}

func NewOrchestrator(cfg *config.Config, factory session.Factory, creds session.CredentialSource) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		factory: factory,
		creds:   creds,
	}
}

// Start provisions a new run: hosts join and publish first, then audiences are
// created one per display slot and handed their initial visibility level. A
// failing host aborts the start and whatever was created is torn down.
func (o *Orchestrator) Start(ctx context.Context) (*Run, error) {
	o.mu.Lock()
	if o.active != nil {
		o.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	r := newRun(ctx)
	r.Controller = visibility.New(r.ctx, r.Registry, visibility.Options{
		Channel:             o.cfg.Channel,
		Role:                session.RoleAudience,
		RoleOptions:         session.RoleOptions{Latency: o.cfg.LatencyTier()},
		Credentials:         o.creds,
		Targets:             r.Grid,
		TeardownParallelism: teardownParallelism,
	})
	r.Viewport = observer.NewViewport(o.cfg.Geometry(), o.cfg.Audiences, r.Controller.OnVisibilityChanged)
	o.active = r
	o.mu.Unlock()

	logger := applog.FromContext(r.ctx)
	logger.Info("Starting run",
		zap.String("channel", o.cfg.Channel),
		zap.Int("hosts", o.cfg.Hosts),
		zap.Int("audiences", o.cfg.Audiences),
		zap.String("audienceType", o.cfg.AudienceType),
	)

	err := o.startHosts(r)
	if err == nil {
		err = o.provisionAudiences(r)
	}
	if err != nil {
		logger.Error("Failed to start run", zap.Error(err))
		o.release(r)
		if stopErr := r.stop(ctx, teardownParallelism); stopErr != nil {
			logger.Warn("Teardown after failed start reported errors", zap.Error(stopErr))
		}
		return nil, err
	}

	logger.Info("Run started", zap.Duration("took", time.Since(r.StartedAt)))
	return r, nil
}

func (o *Orchestrator) startHosts(r *Run) error {
	for i := range o.cfg.Hosts {
		if err := r.ctx.Err(); err != nil {
			return err
		}
		label := fmt.Sprintf("host-%d", i)
		h := &host{index: i, sess: o.factory.NewSession(label)}

		desired := o.cfg.HostIdentity(i)
		creds, err := o.creds.Credentials(r.ctx, o.cfg.Channel, desired, session.RoleHost)
		if err != nil {
			return fmt.Errorf("host %d: fetch credentials: %w", i, err)
		}

		h.identity, err = h.sess.Join(r.ctx, creds, o.cfg.Channel, desired)
		if err != nil {
			return fmt.Errorf("host %d: %w", i, &session.JoinError{Channel: o.cfg.Channel, Err: err})
		}
		r.addHost(h)

		if err = h.sess.SetRole(r.ctx, session.RoleHost, session.RoleOptions{}); err != nil {
			return fmt.Errorf("host %d: set role: %w", i, err)
		}

		h.track, err = session.NewSynthAudioTrack("audio", label)
		if err != nil {
			return fmt.Errorf("host %d: %w", i, err)
		}
		if err = h.sess.Publish(r.ctx, h.track); err != nil {
			return fmt.Errorf("host %d: publish: %w", i, err)
		}
		h.track.Start(r.ctx)

		applog.FromContext(r.ctx).Info("Host publishing",
			zap.Int("host", i),
			zap.Stringer("identity", h.identity),
		)
	}
	return nil
}

func (o *Orchestrator) provisionAudiences(r *Run) error {
	limit := rate.Inf
	if o.cfg.JoinInterval > 0 {
		limit = rate.Every(o.cfg.JoinInterval)
	}
	limiter := rate.NewLimiter(limit, 1)

	for slot := range o.cfg.Audiences {
		if err := limiter.Wait(r.ctx); err != nil {
			return fmt.Errorf("provision audience %d: %w", slot, err)
		}

		sess := o.factory.NewSession(fmt.Sprintf("audience-%d", slot))
		if _, err := r.Registry.Create(slot, o.cfg.AudienceIdentity(slot), sess); err != nil {
			return fmt.Errorf("provision audience %d: %w", slot, err)
		}
		r.Controller.OnVisibilityChanged(slot, r.Viewport.Level(slot))
	}
	return nil
}

// Stop tears the active run down. It is a no-op when no run is active.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	r := o.active
	o.active = nil
	o.mu.Unlock()

	if r == nil {
		return nil
	}
	return r.stop(ctx, teardownParallelism)
}

func (o *Orchestrator) release(r *Run) {
	o.mu.Lock()
	if o.active == r {
		o.active = nil
	}
	o.mu.Unlock()
}

// Run starts a run, drives the configured scenario and stops once the
// configured duration has passed or ctx is done. Teardown is given at most the
// configured teardown timeout, even when ctx is already cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	sc, err := scenario.Builtin(o.cfg.Scenario, scenario.Options{
		ScrollInterval: o.cfg.ScrollInterval,
		ScrollStride:   o.cfg.ScrollStride,
		ChurnSeed:      o.cfg.ChurnSeed,
	})
	if err != nil {
		return err
	}

	r, err := o.Start(ctx)
	if err != nil {
		return err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		err := scenario.RunScenario(&scenario.Context{
			Ctx:      r.ctx,
			Viewport: r.Viewport,
			Sink:     r.Controller.OnVisibilityChanged,
			Slots:    o.cfg.Audiences,
		}, sc)
		if err != nil && !errors.Is(err, context.Canceled) {
			applog.FromContext(r.ctx).Warn("Scenario ended with error", zap.Error(err))
		}
	}()

	o.hold(r)

	job := util.DetachedContextWithJob(r.ctx, o.cfg.TeardownTimeout)
	defer job.Done()
	return o.Stop(job.GetContext())
}

func (o *Orchestrator) hold(r *Run) {
	logger := applog.FromContext(r.ctx)
	deadline := time.NewTimer(o.cfg.Duration)
	defer deadline.Stop()
	progress := time.NewTicker(progressInterval)
	defer progress.Stop()

	for {
		select {
		case <-r.ctx.Done():
			logger.Info("Run interrupted", zap.Error(r.ctx.Err()))
			return
		case <-deadline.C:
			logger.Info("Run duration elapsed", zap.Duration("duration", o.cfg.Duration))
			return
		case <-progress.C:
			joined, subscribed := r.counts()
			remaining := o.cfg.Duration - time.Since(r.StartedAt)
			logger.Info("Run in progress",
				zap.Duration("remaining", remaining.Round(time.Second)),
				zap.Int("joined", joined),
				zap.Int("subscribed", subscribed),
			)
		}
	}
}

// OnVisibilityChanged forwards an externally observed level to the active
// run. It is ignored when no run is active.
func (o *Orchestrator) OnVisibilityChanged(slot int, level visibility.Level) {
	o.mu.Lock()
	r := o.active
	o.mu.Unlock()
	if r == nil {
		return
	}
	r.Controller.OnVisibilityChanged(slot, level)
}

// Snapshot is the per-slot status of the active run, nil when idle.
func (o *Orchestrator) Snapshot() []SlotStatus {
	o.mu.Lock()
	r := o.active
	o.mu.Unlock()
	if r == nil {
		return nil
	}
	return r.Snapshot()
}

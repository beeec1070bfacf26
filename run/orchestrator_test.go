package run

import (
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"rtc-soak/config"
	"rtc-soak/registry"
	"rtc-soak/scenario"
	"rtc-soak/session"
	"rtc-soak/tokens"
	"rtc-soak/visibility"
	"testing"
	"time"
)

const testChannel = "SOAK"

// testConfig lays four audiences out on a two column grid with a window of
// one and a half rows: slots 0 and 1 are fully visible, 2 and 3 partially.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load([]string{
		"--app-id", "app",
		"--channel", testChannel,
		"--hosts", "1",
		"--audiences", "4",
		"--grid-columns", "2",
		"--tile-height", "100",
		"--viewport-height", "150",
		"--duration", "50ms",
		"--teardown-timeout", "5s",
	})
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestOrchestrator(t *testing.T, cfg *config.Config, opts session.HubOptions) (*Orchestrator, *session.Hub) {
	t.Helper()
	hub := session.NewHub(opts)
	return NewOrchestrator(cfg, hub, tokens.Static{AppID: cfg.AppId}), hub
}

func statusOf(t *testing.T, r *Run, slot int) SlotStatus {
	t.Helper()
	for _, s := range r.Snapshot() {
		if s.Slot == slot {
			return s
		}
	}
	t.Fatalf("slot %d not in snapshot", slot)
	return SlotStatus{}
}

func TestStartProvisionsByVisibility(t *testing.T) {
	cfg := testConfig(t)
	o, hub := newTestOrchestrator(t, cfg, session.HubOptions{})

	r, err := o.Start(context.Background())
	require.NoError(t, err)
	r.Controller.Wait()

	assert.NotEmpty(t, r.ID)
	assert.Len(t, hub.Members(testChannel), 5)

	for _, slot := range []int{0, 1} {
		s := statusOf(t, r, slot)
		assert.Equal(t, registry.Joined, s.Join)
		assert.Equal(t, registry.Subscribed, s.Subscribe)
		assert.NotZero(t, s.Identity)

		tile, ok := r.Grid.Tile(slot)
		require.True(t, ok)
		assert.Len(t, tile.Tracks(), 1, "host audio rendered into slot %d", slot)
	}
	for _, slot := range []int{2, 3} {
		s := statusOf(t, r, slot)
		assert.Equal(t, registry.Joined, s.Join)
		assert.Equal(t, registry.Unsubscribed, s.Subscribe)
	}

	require.NoError(t, o.Stop(context.Background()))
	assert.Empty(t, hub.Members(testChannel))
	assert.Zero(t, r.Registry.Len())
	assert.Nil(t, o.Snapshot())

	assert.NoError(t, o.Stop(context.Background()), "stop when idle is a no-op")
}

func TestStartTwice(t *testing.T) {
	cfg := testConfig(t)
	o, _ := newTestOrchestrator(t, cfg, session.HubOptions{})

	_, err := o.Start(context.Background())
	require.NoError(t, err)
	defer func() { _ = o.Stop(context.Background()) }()

	_, err = o.Start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestHostFailureAbortsStart(t *testing.T) {
	cfg := testConfig(t)
	o, hub := newTestOrchestrator(t, cfg, session.HubOptions{
		Faults: func(op session.Op, label string) error {
			if op == session.OpPublish {
				return session.ErrInjectedFailure
			}
			return nil
		},
	})

	_, err := o.Start(context.Background())
	assert.ErrorIs(t, err, session.ErrInjectedFailure)
	assert.Empty(t, hub.Members(testChannel), "joined host is torn down")
	assert.Nil(t, o.Snapshot())

	// The orchestrator is idle again and accepts a new start attempt.
	_, err = o.Start(context.Background())
	assert.NotErrorIs(t, err, ErrAlreadyRunning)
}

func TestVisibilityForwardedToActiveRun(t *testing.T) {
	cfg := testConfig(t)
	o, _ := newTestOrchestrator(t, cfg, session.HubOptions{})

	o.OnVisibilityChanged(2, visibility.Full)

	r, err := o.Start(context.Background())
	require.NoError(t, err)
	defer func() { _ = o.Stop(context.Background()) }()
	r.Controller.Wait()

	o.OnVisibilityChanged(2, visibility.Full)
	o.OnVisibilityChanged(0, visibility.None)
	r.Controller.Wait()

	assert.Equal(t, registry.Subscribed, statusOf(t, r, 2).Subscribe)
	assert.Equal(t, registry.Disconnected, statusOf(t, r, 0).Join)
}

func TestLeaveFailuresDoNotBlockStop(t *testing.T) {
	cfg := testConfig(t)
	o, hub := newTestOrchestrator(t, cfg, session.HubOptions{
		Faults: func(op session.Op, label string) error {
			if op == session.OpLeave {
				return session.ErrInjectedFailure
			}
			return nil
		},
	})

	r, err := o.Start(context.Background())
	require.NoError(t, err)
	r.Controller.Wait()

	err = o.Stop(context.Background())
	var leaveErr *session.LeaveError
	assert.ErrorAs(t, err, &leaveErr)
	assert.Empty(t, hub.Members(testChannel))
	assert.Zero(t, r.Registry.Len())
}

func TestJoinIntervalPacesAudiences(t *testing.T) {
	cfg := testConfig(t)
	cfg.JoinInterval = 20 * time.Millisecond
	o, _ := newTestOrchestrator(t, cfg, session.HubOptions{})

	start := time.Now()
	_, err := o.Start(context.Background())
	require.NoError(t, err)
	defer func() { _ = o.Stop(context.Background()) }()

	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestSequentialIdentities(t *testing.T) {
	cfg := testConfig(t)
	cfg.IdentityPolicy = config.IdentitySequential
	cfg.IdentityBase = 500
	o, hub := newTestOrchestrator(t, cfg, session.HubOptions{})

	r, err := o.Start(context.Background())
	require.NoError(t, err)
	defer func() { _ = o.Stop(context.Background()) }()
	r.Controller.Wait()

	assert.ElementsMatch(t,
		[]session.Identity{500, 501, 502, 503, 504},
		hub.Members(testChannel),
	)
	assert.Equal(t, session.Identity(501), statusOf(t, r, 0).Identity)
}

func TestRunHoldsForDuration(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scenario = scenario.Churn
	cfg.ScrollInterval = 5 * time.Millisecond
	o, hub := newTestOrchestrator(t, cfg, session.HubOptions{})

	start := time.Now()
	require.NoError(t, o.Run(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Empty(t, hub.Members(testChannel))
	assert.Nil(t, o.Snapshot())
}

func TestRunStopsWhenCancelled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Duration = time.Hour
	o, hub := newTestOrchestrator(t, cfg, session.HubOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(hub.Members(testChannel)) == 5
	}, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}
	assert.Empty(t, hub.Members(testChannel))
}

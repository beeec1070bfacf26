package visibility

import (
	"context"
	"errors"
	"fmt"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"rtc-soak/applog"
	"rtc-soak/registry"
	"rtc-soak/session"
)

var errNoTrack = errors.New("subscribed track not available")

// ensureJoined joins the slot's session and assigns its role. A record that is
// already joined or joining is left alone. On failure the record is reverted
// to disconnected.
func (c *Controller) ensureJoined(ctx context.Context, rec *registry.Record) error {
	if !rec.BeginJoin() {
		return nil
	}

	sess := rec.Session
	slot := rec.Slot
	sess.OnRemotePublished(func(pub session.Publisher, kind session.MediaKind) {
		c.Dispatch(RemoteTrackPublished{SlotIndex: slot, Publisher: pub, Kind: kind})
	})
	sess.OnRemoteUnpublished(func(pub session.Publisher, kind session.MediaKind) {
		c.Dispatch(RemoteTrackUnpublished{SlotIndex: slot, Publisher: pub, Kind: kind})
	})

	creds, err := c.opts.Credentials.Credentials(ctx, c.opts.Channel, rec.Desired, c.opts.Role)
	if err != nil {
		rec.AbortJoin()
		return &session.JoinError{Channel: c.opts.Channel, Err: fmt.Errorf("fetch credentials: %w", err)}
	}

	assigned, err := sess.Join(ctx, creds, c.opts.Channel, rec.Desired)
	if err != nil {
		rec.AbortJoin()
		return &session.JoinError{Channel: c.opts.Channel, Err: err}
	}

	if err = sess.SetRole(ctx, c.opts.Role, c.opts.RoleOptions); err != nil {
		if leaveErr := sess.Leave(ctx); leaveErr != nil {
			applog.FromContext(ctx).Debug("Leave after failed role assignment failed", zap.Error(leaveErr))
		}
		rec.AbortJoin()
		return &session.JoinError{Channel: c.opts.Channel, Err: fmt.Errorf("set role %s: %w", c.opts.Role, err)}
	}

	rec.CompleteJoin(assigned)
	applog.FromContext(ctx).Info("Joined channel",
		zap.String("channel", c.opts.Channel),
		zap.Stringer("identity", assigned),
	)
	return nil
}

// ensureLeft leaves the slot's session. The record ends disconnected even
// when the leave call fails; the failure is only returned for logging.
func (c *Controller) ensureLeft(ctx context.Context, rec *registry.Record) error {
	if !rec.BeginLeave() {
		return nil
	}

	if rec.SubscribeState() == registry.Subscribed {
		// Leaving drops the subscriptions, only local playback needs stopping.
		forEachTrack(rec.Session, func(_ session.Publisher, _ session.MediaKind, track session.Track) {
			track.Stop()
		})
		c.opts.Targets.Target(rec.Slot).Clear()
	}

	err := rec.Session.Leave(ctx)
	rec.CompleteLeave()
	if err != nil {
		return &session.LeaveError{Err: err}
	}

	applog.FromContext(ctx).Info("Left channel", zap.String("channel", c.opts.Channel))
	return nil
}

// ensureSubscribed subscribes to every known remote publication and plays it
// into the slot's target. One failed publication does not stop the others and
// the record is marked subscribed once the pass is over.
func (c *Controller) ensureSubscribed(ctx context.Context, rec *registry.Record) error {
	if !rec.BeginSubscribe() {
		return nil
	}

	target := c.opts.Targets.Target(rec.Slot)
	var errs error
	for _, pub := range rec.Session.RemotePublishers() {
		for _, kind := range pub.Kinds() {
			errs = multierr.Append(errs, c.subscribeOne(ctx, rec, pub, kind, target))
		}
	}

	rec.CompleteSubscribe()
	return errs
}

func (c *Controller) subscribeOne(
	ctx context.Context,
	rec *registry.Record,
	pub session.Publisher,
	kind session.MediaKind,
	target session.Target,
) error {
	if pub.Track(kind) == nil {
		if err := rec.Session.Subscribe(ctx, pub, kind); err != nil {
			return &session.SubscribeError{Publisher: pub.Identity(), Kind: kind, Err: err}
		}
	}

	track := pub.Track(kind)
	if track == nil {
		return &session.SubscribeError{Publisher: pub.Identity(), Kind: kind, Err: errNoTrack}
	}
	if track.IsPlaying() {
		return nil
	}
	if err := track.Play(target); err != nil {
		return &session.SubscribeError{Publisher: pub.Identity(), Kind: kind, Err: fmt.Errorf("play: %w", err)}
	}
	return nil
}

// ensureUnsubscribed stops and unsubscribes every active track and clears the
// slot's target. Individual failures do not stop the pass.
func (c *Controller) ensureUnsubscribed(ctx context.Context, rec *registry.Record) error {
	if !rec.BeginUnsubscribe() {
		return nil
	}

	var errs error
	forEachTrack(rec.Session, func(pub session.Publisher, kind session.MediaKind, track session.Track) {
		track.Stop()
		if err := rec.Session.Unsubscribe(ctx, pub, kind); err != nil {
			errs = multierr.Append(errs, &session.UnsubscribeError{Publisher: pub.Identity(), Kind: kind, Err: err})
		}
	})
	c.opts.Targets.Target(rec.Slot).Clear()

	rec.CompleteUnsubscribe()
	return errs
}

func forEachTrack(sess session.Session, fn func(pub session.Publisher, kind session.MediaKind, track session.Track)) {
	for _, pub := range sess.RemotePublishers() {
		for _, kind := range pub.Kinds() {
			if track := pub.Track(kind); track != nil {
				fn(pub, kind, track)
			}
		}
	}
}

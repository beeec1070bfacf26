package session

import (
	"context"
	"fmt"
	"github.com/pion/webrtc/v4"
	"math/rand"
	"sync"
	"time"
)

// Faults lets a caller inject a failure into any loopback operation. A nil
// return lets the operation proceed.
type Faults func(op Op, label string) error

type HubOptions struct {
	// Latency is added to every state-changing call.
	Latency time.Duration
	// FailureRate is the probability in [0, 1] that a call fails with
	// ErrInjectedFailure. Ignored when Faults is set.
	FailureRate float64
	Faults      Faults
}

// Hub is an in-process conferencing backend. Sessions created from the same
// hub share channels, so hosts and audiences of one run see each other without
// any network.
type Hub struct {
	opts HubOptions

	mu       sync.Mutex
	channels map[string]*hubChannel
	nextId   Identity
	rnd      *rand.Rand
}

type hubChannel struct {
	name    string
	members map[Identity]*hubSession
}

func NewHub(opts HubOptions) *Hub {
	return &Hub{
		opts:     opts,
		channels: make(map[string]*hubChannel),
		nextId:   1000,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (h *Hub) NewSession(label string) Session {
	return &hubSession{
		hub:           h,
		label:         label,
		publications:  make(map[MediaKind]webrtc.TrackLocal),
		subscriptions: make(map[Identity]map[MediaKind]*loopbackTrack),
	}
}

// Members returns the identities currently joined to channel.
func (h *Hub) Members(channel string) []Identity {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.channels[channel]
	if !ok {
		return nil
	}
	ids := make([]Identity, 0, len(ch.members))
	for id := range ch.members {
		ids = append(ids, id)
	}
	return ids
}

func (h *Hub) simulate(ctx context.Context, op Op, label string) error {
	if h.opts.Latency > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(h.opts.Latency):
		}
	}

	if h.opts.Faults != nil {
		return h.opts.Faults(op, label)
	}

	if h.opts.FailureRate > 0 {
		h.mu.Lock()
		roll := h.rnd.Float64()
		h.mu.Unlock()
		if roll < h.opts.FailureRate {
			return ErrInjectedFailure
		}
	}
	return nil
}

// allocateIdentity must be called with h.mu held.
func (h *Hub) allocateIdentity(ch *hubChannel, hint Identity) (Identity, error) {
	if hint != 0 {
		if _, taken := ch.members[hint]; taken {
			return 0, ErrIdentityConflict
		}
		return hint, nil
	}
	for {
		h.nextId++
		if _, taken := ch.members[h.nextId]; !taken {
			return h.nextId, nil
		}
	}
}

type publishedHandler = func(pub Publisher, kind MediaKind)

type hubSession struct {
	hub   *Hub
	label string

	// Guarded by hub.mu.
	channel       *hubChannel
	identity      Identity
	role          Role
	roleOptions   RoleOptions
	publications  map[MediaKind]webrtc.TrackLocal
	subscriptions map[Identity]map[MediaKind]*loopbackTrack
	onPublished   publishedHandler
	onUnpublished publishedHandler
}

type notification struct {
	handler publishedHandler
	pub     Publisher
	kind    MediaKind
}

func fire(notifications []notification) {
	for _, n := range notifications {
		if n.handler != nil {
			n.handler(n.pub, n.kind)
		}
	}
}

func (s *hubSession) Join(ctx context.Context, creds Credentials, channel string, hint Identity) (Identity, error) {
	if creds.AppID == "" {
		return 0, ErrInvalidCredentials
	}
	if err := s.hub.simulate(ctx, OpJoin, s.label); err != nil {
		return 0, err
	}

	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if s.channel != nil {
		return 0, ErrAlreadyJoined
	}

	ch, ok := h.channels[channel]
	if !ok {
		ch = &hubChannel{name: channel, members: make(map[Identity]*hubSession)}
		h.channels[channel] = ch
	}

	id, err := h.allocateIdentity(ch, hint)
	if err != nil {
		return 0, err
	}

	s.channel = ch
	s.identity = id
	s.role = RoleAudience
	ch.members[id] = s
	return id, nil
}

func (s *hubSession) Leave(ctx context.Context) error {
	simErr := s.hub.simulate(ctx, OpLeave, s.label)

	h := s.hub
	h.mu.Lock()
	if s.channel == nil {
		h.mu.Unlock()
		if simErr != nil {
			return simErr
		}
		return ErrNotJoined
	}

	// A failed leave still tears the membership down locally; the error only
	// reports that the backend did not acknowledge it.
	var notifications []notification
	for id, kinds := range s.subscriptions {
		for kind, track := range kinds {
			track.Stop()
			delete(kinds, kind)
		}
		delete(s.subscriptions, id)
	}

	ch := s.channel
	delete(ch.members, s.identity)
	for kind := range s.publications {
		for _, member := range ch.members {
			if track := member.dropSubscription(s.identity, kind); track != nil {
				track.Stop()
			}
			notifications = append(notifications, notification{
				handler: member.onUnpublished,
				pub:     &remotePublisher{viewer: member, source: s, id: s.identity},
				kind:    kind,
			})
		}
		delete(s.publications, kind)
	}
	if len(ch.members) == 0 {
		delete(h.channels, ch.name)
	}

	s.channel = nil
	s.identity = 0
	s.role = ""
	h.mu.Unlock()

	fire(notifications)
	return simErr
}

func (s *hubSession) SetRole(ctx context.Context, role Role, opts RoleOptions) error {
	if err := s.hub.simulate(ctx, OpSetRole, s.label); err != nil {
		return err
	}

	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if s.channel == nil {
		return ErrNotJoined
	}
	s.role = role
	s.roleOptions = opts
	return nil
}

func (s *hubSession) Publish(ctx context.Context, tracks ...webrtc.TrackLocal) error {
	if err := s.hub.simulate(ctx, OpPublish, s.label); err != nil {
		return err
	}

	h := s.hub
	h.mu.Lock()
	if s.channel == nil {
		h.mu.Unlock()
		return ErrNotJoined
	}
	if s.role != RoleHost {
		h.mu.Unlock()
		return ErrNotHost
	}

	var notifications []notification
	for _, track := range tracks {
		kind := track.Kind()
		s.publications[kind] = track
		for id, member := range s.channel.members {
			if id == s.identity {
				continue
			}
			notifications = append(notifications, notification{
				handler: member.onPublished,
				pub:     &remotePublisher{viewer: member, source: s, id: s.identity},
				kind:    kind,
			})
		}
	}
	h.mu.Unlock()

	fire(notifications)
	return nil
}

func (s *hubSession) Subscribe(ctx context.Context, pub Publisher, kind MediaKind) error {
	if err := s.hub.simulate(ctx, OpSubscribe, s.label); err != nil {
		return err
	}

	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if s.channel == nil {
		return ErrNotJoined
	}
	source, ok := s.channel.members[pub.Identity()]
	if !ok || source == s {
		return ErrUnknownPublisher
	}
	local, ok := source.publications[kind]
	if !ok {
		return ErrKindNotPublished
	}

	kinds := s.subscriptions[source.identity]
	if kinds == nil {
		kinds = make(map[MediaKind]*loopbackTrack)
		s.subscriptions[source.identity] = kinds
	}
	if _, exists := kinds[kind]; !exists {
		kinds[kind] = &loopbackTrack{
			id:   fmt.Sprintf("%s-%s-%s", s.label, source.identity, local.ID()),
			kind: kind,
		}
	}
	return nil
}

func (s *hubSession) Unsubscribe(ctx context.Context, pub Publisher, kind MediaKind) error {
	if err := s.hub.simulate(ctx, OpUnsubscribe, s.label); err != nil {
		return err
	}

	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if s.channel == nil {
		return ErrNotJoined
	}
	if track := s.dropSubscription(pub.Identity(), kind); track != nil {
		track.Stop()
	}
	return nil
}

func (s *hubSession) RemotePublishers() []Publisher {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if s.channel == nil {
		return nil
	}

	var pubs []Publisher
	for id, member := range s.channel.members {
		if id == s.identity || len(member.publications) == 0 {
			continue
		}
		pubs = append(pubs, &remotePublisher{viewer: s, source: member, id: id})
	}
	return pubs
}

func (s *hubSession) OnRemotePublished(handler func(pub Publisher, kind MediaKind)) {
	s.hub.mu.Lock()
	s.onPublished = handler
	s.hub.mu.Unlock()
}

func (s *hubSession) OnRemoteUnpublished(handler func(pub Publisher, kind MediaKind)) {
	s.hub.mu.Lock()
	s.onUnpublished = handler
	s.hub.mu.Unlock()
}

// dropSubscription must be called with hub.mu held.
func (s *hubSession) dropSubscription(id Identity, kind MediaKind) *loopbackTrack {
	kinds := s.subscriptions[id]
	track, ok := kinds[kind]
	if !ok {
		return nil
	}
	delete(kinds, kind)
	if len(kinds) == 0 {
		delete(s.subscriptions, id)
	}
	return track
}

// remotePublisher is the publisher source as seen from viewer.
type remotePublisher struct {
	viewer *hubSession
	source *hubSession
	id     Identity
}

func (p *remotePublisher) Identity() Identity {
	return p.id
}

func (p *remotePublisher) Kinds() []MediaKind {
	p.viewer.hub.mu.Lock()
	defer p.viewer.hub.mu.Unlock()
	if p.source.identity != p.id {
		return nil
	}
	kinds := make([]MediaKind, 0, len(p.source.publications))
	for _, kind := range []MediaKind{Audio, Video} {
		if _, ok := p.source.publications[kind]; ok {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

func (p *remotePublisher) Track(kind MediaKind) Track {
	p.viewer.hub.mu.Lock()
	defer p.viewer.hub.mu.Unlock()
	track, ok := p.viewer.subscriptions[p.id][kind]
	if !ok {
		return nil
	}
	return track
}

type loopbackTrack struct {
	id   string
	kind MediaKind

	mu      sync.Mutex
	playing bool
}

func (t *loopbackTrack) ID() string      { return t.id }
func (t *loopbackTrack) Kind() MediaKind { return t.kind }

func (t *loopbackTrack) Play(target Target) error {
	if target == nil {
		return fmt.Errorf("track %s: no render target", t.id)
	}
	t.mu.Lock()
	t.playing = true
	t.mu.Unlock()
	target.Render(t)
	return nil
}

func (t *loopbackTrack) Stop() {
	t.mu.Lock()
	t.playing = false
	t.mu.Unlock()
}

func (t *loopbackTrack) IsPlaying() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playing
}

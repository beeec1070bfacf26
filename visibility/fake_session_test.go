package visibility

import (
	"context"
	"fmt"
	"github.com/pion/webrtc/v4"
	"rtc-soak/session"
	"sync"
)

type fakeSession struct {
	mu          sync.Mutex
	calls       map[session.Op]int
	failures    map[session.Op]error
	failPub     map[session.Identity]error
	joinGate    chan struct{}
	joined      bool
	publishers  []*fakePublisher
	onPublished func(session.Publisher, session.MediaKind)
	onUnpublish func(session.Publisher, session.MediaKind)
}

func newFakeSession(publishers ...*fakePublisher) *fakeSession {
	return &fakeSession{
		calls:      make(map[session.Op]int),
		failures:   make(map[session.Op]error),
		failPub:    make(map[session.Identity]error),
		publishers: publishers,
	}
}

func (s *fakeSession) count(op session.Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *fakeSession) snapshot() map[session.Op]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[session.Op]int, len(s.calls))
	for op, n := range s.calls {
		out[op] = n
	}
	return out
}

func (s *fakeSession) fail(op session.Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

func (s *fakeSession) record(op session.Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	return s.failures[op]
}

// publish adds a publisher and notifies the registered handler.
func (s *fakeSession) publish(pub *fakePublisher) {
	s.mu.Lock()
	s.publishers = append(s.publishers, pub)
	handler := s.onPublished
	joined := s.joined
	s.mu.Unlock()

	if handler != nil && joined {
		for _, kind := range pub.Kinds() {
			handler(pub, kind)
		}
	}
}

// unpublish removes a publisher, stops its tracks and notifies the registered
// handler.
func (s *fakeSession) unpublish(pub *fakePublisher) {
	s.mu.Lock()
	for i, p := range s.publishers {
		if p == pub {
			s.publishers = append(s.publishers[:i], s.publishers[i+1:]...)
			break
		}
	}
	handler := s.onUnpublish
	joined := s.joined
	s.mu.Unlock()

	pub.dropAll()
	if handler != nil && joined {
		for _, kind := range pub.Kinds() {
			handler(pub, kind)
		}
	}
}

func (s *fakeSession) Join(ctx context.Context, _ session.Credentials, _ string, hint session.Identity) (session.Identity, error) {
	err := s.record(session.OpJoin)
	s.mu.Lock()
	gate := s.joinGate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.joined {
		return 0, session.ErrAlreadyJoined
	}
	s.joined = true
	if hint == 0 {
		hint = 1001
	}
	return hint, nil
}

func (s *fakeSession) Leave(context.Context) error {
	err := s.record(session.OpLeave)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joined = false
	for _, pub := range s.publishers {
		pub.dropAll()
	}
	return err
}

func (s *fakeSession) SetRole(context.Context, session.Role, session.RoleOptions) error {
	return s.record(session.OpSetRole)
}

func (s *fakeSession) Publish(context.Context, ...webrtc.TrackLocal) error {
	return s.record(session.OpPublish)
}

func (s *fakeSession) Subscribe(_ context.Context, pub session.Publisher, kind session.MediaKind) error {
	if err := s.record(session.OpSubscribe); err != nil {
		return err
	}
	s.mu.Lock()
	err := s.failPub[pub.Identity()]
	s.mu.Unlock()
	if err != nil {
		return err
	}
	pub.(*fakePublisher).attach(kind)
	return nil
}

func (s *fakeSession) Unsubscribe(_ context.Context, pub session.Publisher, kind session.MediaKind) error {
	err := s.record(session.OpUnsubscribe)
	pub.(*fakePublisher).detach(kind)
	return err
}

func (s *fakeSession) RemotePublishers() []session.Publisher {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.joined {
		return nil
	}
	pubs := make([]session.Publisher, 0, len(s.publishers))
	for _, pub := range s.publishers {
		pubs = append(pubs, pub)
	}
	return pubs
}

func (s *fakeSession) OnRemotePublished(handler func(session.Publisher, session.MediaKind)) {
	s.mu.Lock()
	s.onPublished = handler
	s.mu.Unlock()
}

func (s *fakeSession) OnRemoteUnpublished(handler func(session.Publisher, session.MediaKind)) {
	s.mu.Lock()
	s.onUnpublish = handler
	s.mu.Unlock()
}

type fakePublisher struct {
	id    session.Identity
	kinds []session.MediaKind

	mu     sync.Mutex
	tracks map[session.MediaKind]*fakeTrack
}

func newFakePublisher(id session.Identity, kinds ...session.MediaKind) *fakePublisher {
	return &fakePublisher{id: id, kinds: kinds, tracks: make(map[session.MediaKind]*fakeTrack)}
}

func (p *fakePublisher) Identity() session.Identity { return p.id }
func (p *fakePublisher) Kinds() []session.MediaKind { return p.kinds }

func (p *fakePublisher) Track(kind session.MediaKind) session.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	track, ok := p.tracks[kind]
	if !ok {
		return nil
	}
	return track
}

func (p *fakePublisher) attach(kind session.MediaKind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.tracks[kind]; !ok {
		p.tracks[kind] = &fakeTrack{id: fmt.Sprintf("%s-%s", p.id, kind), kind: kind}
	}
}

func (p *fakePublisher) detach(kind session.MediaKind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tracks, kind)
}

func (p *fakePublisher) dropAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for kind, track := range p.tracks {
		track.Stop()
		delete(p.tracks, kind)
	}
}

func (p *fakePublisher) playing() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, track := range p.tracks {
		if track.IsPlaying() {
			n++
		}
	}
	return n
}

type fakeTrack struct {
	id   string
	kind session.MediaKind

	mu      sync.Mutex
	playing bool
}

func (t *fakeTrack) ID() string              { return t.id }
func (t *fakeTrack) Kind() session.MediaKind { return t.kind }

func (t *fakeTrack) Play(target session.Target) error {
	t.mu.Lock()
	t.playing = true
	t.mu.Unlock()
	target.Render(t)
	return nil
}

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	t.playing = false
	t.mu.Unlock()
}

func (t *fakeTrack) IsPlaying() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playing
}

type staticCredentials struct{}

func (staticCredentials) Credentials(context.Context, string, session.Identity, session.Role) (session.Credentials, error) {
	return session.Credentials{AppID: "app"}, nil
}

type failingCredentials struct{ err error }

func (f failingCredentials) Credentials(context.Context, string, session.Identity, session.Role) (session.Credentials, error) {
	return session.Credentials{}, f.err
}

// Package session describes the media-session surface a simulated participant
// drives (join, role, publish, subscribe) and ships an in-process loopback
// implementation of it.
package session

import (
	"context"
	"github.com/pion/webrtc/v4"
	"strconv"
)

// Identity is the numeric participant id granted by a channel. Zero asks the
// channel to assign one.
type Identity uint32

func (i Identity) String() string {
	if i == 0 {
		return "auto"
	}
	return strconv.FormatUint(uint64(i), 10)
}

// MediaKind is the kind of media a publication carries.
type MediaKind = webrtc.RTPCodecType

const (
	Audio = webrtc.RTPCodecTypeAudio
	Video = webrtc.RTPCodecTypeVideo
)

type Role string

const (
	RoleHost     Role = "host"
	RoleAudience Role = "audience"
)

// LatencyTier trades end-to-end delay for interaction capability. Only
// meaningful for the audience role.
type LatencyTier int

const (
	LatencyTierInteractive LatencyTier = 1
	LatencyTierBroadcast   LatencyTier = 2
)

type RoleOptions struct {
	Latency LatencyTier
}

type Credentials struct {
	AppID string
	Token string
}

type Op string

const (
	OpJoin        Op = "join"
	OpLeave       Op = "leave"
	OpSetRole     Op = "setRole"
	OpPublish     Op = "publish"
	OpSubscribe   Op = "subscribe"
	OpUnsubscribe Op = "unsubscribe"
)

// Session is one simulated participant's handle on a conferencing channel.
// Every blocking call honours ctx.
type Session interface {
	Join(ctx context.Context, creds Credentials, channel string, hint Identity) (Identity, error)
	Leave(ctx context.Context) error
	SetRole(ctx context.Context, role Role, opts RoleOptions) error
	Publish(ctx context.Context, tracks ...webrtc.TrackLocal) error
	Subscribe(ctx context.Context, pub Publisher, kind MediaKind) error
	Unsubscribe(ctx context.Context, pub Publisher, kind MediaKind) error
	// RemotePublishers lists the other participants currently publishing in
	// the joined channel, as seen by this session.
	RemotePublishers() []Publisher
	OnRemotePublished(func(pub Publisher, kind MediaKind))
	OnRemoteUnpublished(func(pub Publisher, kind MediaKind))
}

// Publisher is a remote participant as seen by one subscribing session.
type Publisher interface {
	Identity() Identity
	Kinds() []MediaKind
	// Track returns the subscribed track of the given kind, or nil when this
	// session has not subscribed to it.
	Track(kind MediaKind) Track
}

type Track interface {
	ID() string
	Kind() MediaKind
	Play(target Target) error
	Stop()
	IsPlaying() bool
}

// Target is the display surface a track is rendered into.
type Target interface {
	Render(track Track)
	Clear()
}

type Factory interface {
	NewSession(label string) Session
}

// CredentialSource produces the credentials a participant presents on join.
type CredentialSource interface {
	Credentials(ctx context.Context, channel string, identity Identity, role Role) (Credentials, error)
}

package visibility

import (
	"rtc-soak/session"
)

// Event is an inbound notification addressed to one slot.
type Event interface {
	Slot() int
}

// VisibilityChanged is emitted by a visibility observer.
type VisibilityChanged struct {
	SlotIndex int
	Level     Level
}

func (e VisibilityChanged) Slot() int { return e.SlotIndex }

// RemoteTrackPublished is emitted by a slot's session when another
// participant starts publishing.
type RemoteTrackPublished struct {
	SlotIndex int
	Publisher session.Publisher
	Kind      session.MediaKind
}

func (e RemoteTrackPublished) Slot() int { return e.SlotIndex }

type RemoteTrackUnpublished struct {
	SlotIndex int
	Publisher session.Publisher
	Kind      session.MediaKind
}

func (e RemoteTrackUnpublished) Slot() int { return e.SlotIndex }

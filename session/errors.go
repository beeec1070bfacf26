package session

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAlreadyJoined      = errors.New("session already joined")
	ErrNotJoined          = errors.New("session not joined")
	ErrIdentityConflict   = errors.New("identity already in use in channel")
	ErrNotHost            = errors.New("only hosts may publish")
	ErrUnknownPublisher   = errors.New("publisher not in channel")
	ErrKindNotPublished   = errors.New("media kind not published")
	ErrInjectedFailure    = errors.New("injected loopback failure")
)

// JoinError is a failed join or role assignment for one participant.
type JoinError struct {
	Channel string
	Err     error
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("join channel %q: %v", e.Channel, e.Err)
}

func (e *JoinError) Unwrap() error { return e.Err }

type LeaveError struct {
	Err error
}

func (e *LeaveError) Error() string {
	return fmt.Sprintf("leave: %v", e.Err)
}

func (e *LeaveError) Unwrap() error { return e.Err }

type SubscribeError struct {
	Publisher Identity
	Kind      MediaKind
	Err       error
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("subscribe %s/%s: %v", e.Publisher, e.Kind, e.Err)
}

func (e *SubscribeError) Unwrap() error { return e.Err }

type UnsubscribeError struct {
	Publisher Identity
	Kind      MediaKind
	Err       error
}

func (e *UnsubscribeError) Error() string {
	return fmt.Sprintf("unsubscribe %s/%s: %v", e.Publisher, e.Kind, e.Err)
}

func (e *UnsubscribeError) Unwrap() error { return e.Err }

package observer

import (
	"encoding/json"
	"errors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"net/http"
	"rtc-soak/applog"
	"rtc-soak/visibility"
)

const feedReadLimit = 64 * 1024

var (
	errNoSlot  = errors.New("message carries neither slot nor levels")
	errNoLevel = errors.New("slot message carries no level")
)

// FeedMessage is one text frame of the visibility feed. Either Slot and Level
// are set, or Levels lists the level of every slot starting at zero.
type FeedMessage struct {
	Slot   *int               `json:"slot,omitempty"`
	Level  *visibility.Level  `json:"level,omitempty"`
	Levels []visibility.Level `json:"levels,omitempty"`
}

// WSFeed accepts visibility changes from an external viewer over a websocket.
type WSFeed struct {
	sink     Sink
	upgrader websocket.Upgrader
}

func NewWSFeed(sink Sink) *WSFeed {
	return &WSFeed{
		sink: sink,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (f *WSFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		applog.Warn("Failed to upgrade visibility feed connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()
	conn.SetReadLimit(feedReadLimit)

	remote := zap.String("remote", r.RemoteAddr)
	applog.Info("Visibility feed connected", remote)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				applog.Warn("Visibility feed closed unexpectedly", remote, zap.Error(err))
			} else {
				applog.Info("Visibility feed disconnected", remote)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		if err = f.apply(data); err != nil {
			applog.Warn("Skipping malformed visibility message",
				remote,
				zap.ByteString("data", data),
				zap.Error(err),
			)
		}
	}
}

func (f *WSFeed) apply(data []byte) error {
	var msg FeedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}

	if msg.Levels != nil {
		for slot, level := range msg.Levels {
			f.sink(slot, level)
		}
		return nil
	}
	if msg.Slot == nil {
		return errNoSlot
	}
	if msg.Level == nil {
		return errNoLevel
	}
	f.sink(*msg.Slot, *msg.Level)
	return nil
}

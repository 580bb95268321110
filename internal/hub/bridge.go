package hub

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/kinsync/internal/presence/domain"
)

// Bridge mirrors hub emissions onto NATS subjects so other processes can
// observe presence without polling. Nil-safe and best-effort: publish
// failures are logged and dropped, never surfaced to the emitter.
type Bridge struct {
	conn   *nats.Conn
	prefix string
	uid    string
	logger *zap.Logger
}

// NewBridge builds a Bridge for the given user identity. prefix defaults
// to "presence".
func NewBridge(conn *nats.Conn, prefix, uid string, logger *zap.Logger) *Bridge {
	if prefix == "" {
		prefix = "presence"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{conn: conn, prefix: prefix, uid: uid, logger: logger}
}

// Attach registers the bridge on the hub and returns a detach func.
func (b *Bridge) Attach(h *Hub) func() {
	if b == nil || b.conn == nil {
		return func() {}
	}
	offLocation := h.OnLocation(b.publishLocation)
	offSharing := h.OnSharingState(b.publishSharing)
	return func() {
		offLocation()
		offSharing()
	}
}

func (b *Bridge) publishLocation(sample domain.LocationSample) {
	b.publish(fmt.Sprintf("%s.location.%s", b.prefix, b.uid), sample)
}

func (b *Bridge) publishSharing(sharing bool) {
	b.publish(fmt.Sprintf("%s.sharing.%s", b.prefix, b.uid), map[string]bool{"sharing": sharing})
}

func (b *Bridge) publish(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Warn("marshal presence event", zap.Error(err))
		return
	}
	if err := b.conn.PublishMsg(&nats.Msg{Subject: subject, Data: data, Header: map[string][]string{
		"x-user-id": {b.uid},
	}}); err != nil {
		b.logger.Warn("publish presence event", zap.String("subject", subject), zap.Error(err))
	}
}

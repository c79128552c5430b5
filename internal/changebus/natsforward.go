package changebus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSForwarder ships every bus event to a NATS subject, an optional
// hook for an external observer. Connection tuning
// (RetryOnFailedConnect/MaxReconnects/ReconnectWait) follows the same
// pattern as other NATS clients in this codebase; forwarding itself is
// strictly opt-in — the core never requires a NATS server to run.
type NATSForwarder struct {
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
}

// NewNATSForwarder connects to url and returns a Forwarder. Subjects
// are published as "<prefix>.<EventType>".
func NewNATSForwarder(url, prefix string, logger *zap.Logger) (*NATSForwarder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	return &NATSForwarder{nc: nc, prefix: prefix, logger: logger}, nil
}

// Forward publishes event; a publish error is logged, never returned,
// since forwarding is best-effort and must not affect core state.
func (f *NATSForwarder) Forward(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		f.logger.Warn("marshaling change event for nats forward", zap.Error(err))
		return
	}
	subject := fmt.Sprintf("%s.%s", f.prefix, event.Type)
	if err := f.nc.Publish(subject, payload); err != nil {
		f.logger.Warn("forwarding change event to nats", zap.String("subject", subject), zap.Error(err))
	}
}

// Close drains and closes the underlying NATS connection.
func (f *NATSForwarder) Close() {
	f.nc.Close()
}

package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// SubjectPrefix is prepended to the event kind to form the NATS subject.
const SubjectPrefix = "feedwindow.events."

// Publisher is the subset of *nats.Conn used by NATSSink.
type Publisher interface {
	PublishMsg(msg *nats.Msg) error
}

// NATSSink publishes events as JSON on feedwindow.events.<kind>.
type NATSSink struct {
	conn   Publisher
	logger *slog.Logger
}

// NewNATSSink wraps a NATS connection.
func NewNATSSink(conn Publisher, logger *slog.Logger) *NATSSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSSink{conn: conn, logger: logger}
}

// Subject returns the subject an event of kind is published on.
func Subject(kind Kind) string {
	return SubjectPrefix + string(kind)
}

func (s *NATSSink) Emit(ctx context.Context, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.ErrorContext(ctx, "marshal event", "kind", ev.Kind, "error", err)
		return
	}
	msg := &nats.Msg{
		Subject: Subject(ev.Kind),
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set("Nats-Msg-Id", ev.ID)
	if err := s.conn.PublishMsg(msg); err != nil {
		s.logger.WarnContext(ctx, "publish event", "subject", msg.Subject, "error", err)
	}
}

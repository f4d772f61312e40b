package transport

import (
	"context"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	berrors "github.com/randalmurphal/beacon/pkg/beacon/errors"
)

// ErrNATSClosed indicates Send was called after Close.
var ErrNATSClosed = errors.New("nats transport closed")

// NATS publishes each batch as one JSON-array message on a subject. The
// first event id is used as Nats-Msg-Id so JetStream streams can drop
// duplicate redeliveries.
type NATS struct {
	conn      *nats.Conn
	subject   string
	projectID string
	ownsConn  bool
}

// Compile-time interface check.
var _ Transport = (*NATS)(nil)

// NewNATS connects to url and returns a transport publishing to subject.
func NewNATS(url, subject, projectID string, opts ...nats.Option) (*NATS, error) {
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATS{conn: conn, subject: subject, projectID: projectID, ownsConn: true}, nil
}

// NewNATSWithConn wraps an existing connection. Close leaves it open.
func NewNATSWithConn(conn *nats.Conn, subject, projectID string) *NATS {
	return &NATS{conn: conn, subject: subject, projectID: projectID}
}

// Send implements Transport. It returns once the server has acknowledged
// the publish via a round-trip flush.
func (n *NATS) Send(ctx context.Context, batch []WireEvent) error {
	if len(batch) == 0 {
		return nil
	}
	if n.conn.IsClosed() {
		return berrors.Permanent(ErrNATSClosed, "publish batch")
	}

	body, err := json.Marshal(batch)
	if err != nil {
		return &berrors.EncodeError{EventID: batch[0].EventID, Err: err}
	}

	msg := nats.NewMsg(n.subject)
	msg.Data = body
	msg.Header.Set(nats.MsgIdHdr, batch[0].EventID)
	msg.Header.Set(HeaderProjectID, n.projectID)
	msg.Header.Set(HeaderContentType, "application/json")

	if err := n.conn.PublishMsg(msg); err != nil {
		return berrors.Transient(err, "publish batch")
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
	}
	if err := n.conn.FlushWithContext(ctx); err != nil {
		return berrors.Transient(err, "flush batch")
	}
	return nil
}

// Close drains the connection if the transport opened it.
func (n *NATS) Close() error {
	if !n.ownsConn || n.conn.IsClosed() {
		return nil
	}
	return n.conn.Drain()
}

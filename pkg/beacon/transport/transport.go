// Package transport delivers batches of wire-format events to a collector.
//
// Transport is the pluggable delivery seam. HTTP is the default provider;
// NATS publishes batches onto a subject for collectors that consume from a
// message bus. A returned error means the batch was not accepted and
// triggers the dispatcher's retry path.
package transport

import "context"

// Transport sends one batch of events.
type Transport interface {
	// Send delivers batch. Implementations must not retain the slice.
	Send(ctx context.Context, batch []WireEvent) error
}

// Func adapts a function to the Transport interface.
type Func func(ctx context.Context, batch []WireEvent) error

// Send implements Transport.
func (f Func) Send(ctx context.Context, batch []WireEvent) error {
	return f(ctx, batch)
}

// Header names sent with every batch.
const (
	HeaderContentType   = "Content-Type"
	HeaderAuthorization = "Authorization"
	HeaderProjectID     = "X-Project-ID"
)

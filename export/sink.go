// Package export carries Import/Export Envelopes to and from durable
// storage. The envelope itself (entity + optional relations records,
// JSON-encoded) is assembled by the root entitygraph package; this
// package only knows how to move bytes under a name.
package export

import "context"

// Sink is a named byte-blob store: the minimal surface an envelope
// transfer needs, independent of what's behind it.
type Sink interface {
	Write(ctx context.Context, name string, data []byte) error
	Read(ctx context.Context, name string) ([]byte, error)
}

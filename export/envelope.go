package export

import (
	"context"
	"encoding/json"
	"fmt"
)

// Entry is one entity and its optional relations, as they travel
// through a Sink. Relations is omitted entirely when the entity has
// none, matching the root package's EntityRelations.IsEmpty rule.
type Entry struct {
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data"`
	Relations json.RawMessage `json:"relations,omitempty"`
}

// Export serialises entries as a single JSON array and writes it to
// sink under name.
func Export(ctx context.Context, sink Sink, name string, entries []Entry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal envelope %q: %w", name, err)
	}
	return sink.Write(ctx, name, data)
}

// Import reads name from sink and decodes it as a JSON array of
// entries.
func Import(ctx context.Context, sink Sink, name string) ([]Entry, error) {
	data, err := sink.Read(ctx, name)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("unmarshal envelope %q: %w", name, err)
	}
	return entries, nil
}

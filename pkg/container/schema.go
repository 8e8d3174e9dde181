package container

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/autonlab/auviewer/pkg/raw"
	"github.com/autonlab/auviewer/pkg/storage"
)

const (
	schemaKey     = "schema"
	schemaVersion = 1
)

// ErrNoSchema is returned when a store carries no series schema.
var ErrNoSchema = errors.New("container has no schema")

// Schema lists the series held by a source container.
type Schema struct {
	Version   int          `json:"version"`
	Series    []raw.Series `json:"series"`
	CreatedAt int64        `json:"created_at"`
}

// WriteSchema stores the schema in a source store, sorted by series id
func WriteSchema(ctx context.Context, store storage.Storage, schema *Schema) error {
	schema.Version = schemaVersion
	sort.Slice(schema.Series, func(i, j int) bool { return schema.Series[i].ID < schema.Series[j].ID })

	seen := make(map[string]bool, len(schema.Series))
	for _, s := range schema.Series {
		if s.ID == "" || s.TimePath == "" || s.ValuePath == "" {
			return fmt.Errorf("series %q is missing a path", s.ID)
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate series %q", s.ID)
		}
		seen[s.ID] = true
	}

	data, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	return store.WriteMeta(ctx, schemaKey, data)
}

// ReadSchema loads the schema of a source store
func ReadSchema(ctx context.Context, store storage.Storage) (*Schema, error) {
	data, err := store.ReadMeta(ctx, schemaKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoSchema
	}
	if err != nil {
		return nil, err
	}

	var schema Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	if schema.Version != schemaVersion {
		return nil, fmt.Errorf("unsupported schema version %d", schema.Version)
	}
	return &schema, nil
}

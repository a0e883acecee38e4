// Package schema holds the process-wide description of the queryable
// dataset. The descriptor is loaded once at startup and only replaced by an
// explicit, administrator-triggered refresh; request handlers never mutate it.
package schema

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

type ColumnSpec struct {
	Name         string `json:"name"`
	DeclaredType string `json:"declared_type"`
	Description  string `json:"description,omitempty"`
}

type TableSpec struct {
	Name    string       `json:"name"`
	Columns []ColumnSpec `json:"columns"`
}

type Descriptor struct {
	Tables   []TableSpec `json:"tables"`
	LoadedAt time.Time   `json:"loaded_at"`
}

// Table looks a table up by name, case-insensitively. SQL identifiers fold
// case unless quoted, so the allow-list check has to as well.
func (d Descriptor) Table(name string) (TableSpec, bool) {
	for _, table := range d.Tables {
		if strings.EqualFold(table.Name, name) {
			return table, true
		}
	}
	return TableSpec{}, false
}

const maxDescriptionRunes = 200

// Render produces the compact prompt rendering of the descriptor: table and
// column names, declared types, and trimmed descriptions. Never row data.
func (d Descriptor) Render() string {
	var b strings.Builder
	for _, table := range d.Tables {
		fmt.Fprintf(&b, "table %s:\n", table.Name)
		for _, column := range table.Columns {
			fmt.Fprintf(&b, "  - %s (%s)", column.Name, column.DeclaredType)
			if description := trimDescription(column.Description); description != "" {
				fmt.Fprintf(&b, ": %s", description)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func trimDescription(description string) string {
	description = strings.Join(strings.Fields(description), " ")
	runes := []rune(description)
	if len(runes) > maxDescriptionRunes {
		return string(runes[:maxDescriptionRunes])
	}
	return description
}

type Loader interface {
	Load(ctx context.Context) (Descriptor, error)
}

// Holder is the one piece of state shared across concurrent requests.
// Current is safe for any number of readers; Refresh swaps the descriptor
// wholesale and never edits it in place.
type Holder struct {
	loader Loader

	mu      sync.RWMutex
	current Descriptor
}

// NewHolder performs the startup load. A failure here must abort process
// start: serving against an unknown schema is worse than not serving.
func NewHolder(ctx context.Context, loader Loader) (*Holder, error) {
	if loader == nil {
		return nil, fmt.Errorf("schema loader is required")
	}
	descriptor, err := loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("initial schema load: %w", err)
	}
	if len(descriptor.Tables) == 0 {
		return nil, fmt.Errorf("initial schema load: descriptor has no tables")
	}
	return &Holder{loader: loader, current: descriptor}, nil
}

func (h *Holder) Current() Descriptor {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

func (h *Holder) Refresh(ctx context.Context) (Descriptor, error) {
	descriptor, err := h.loader.Load(ctx)
	if err != nil {
		return Descriptor{}, fmt.Errorf("refresh schema: %w", err)
	}
	if len(descriptor.Tables) == 0 {
		return Descriptor{}, fmt.Errorf("refresh schema: descriptor has no tables")
	}
	h.mu.Lock()
	h.current = descriptor
	h.mu.Unlock()
	return descriptor, nil
}

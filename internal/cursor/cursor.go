// Package cursor stores named resume positions for the sync engine.
//
// Values are opaque strings. An absent cursor means "start from the beginning".
package cursor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when the cursor is absent.
var ErrNotFound = errors.New("cursor not found")

// Op is one write in an atomic batch.
type Op struct {
	Name   string
	Value  string
	Delete bool
}

// PutOp returns an Op storing value under name.
func PutOp(name, value string) Op {
	return Op{Name: name, Value: value}
}

// DeleteOp returns an Op removing name.
func DeleteOp(name string) Op {
	return Op{Name: name, Delete: true}
}

// Store is a durable key/value store of cursors.
type Store interface {
	Get(ctx context.Context, name string) (string, error)
	Put(ctx context.Context, name, value string) error
	Delete(ctx context.Context, name string) error
	// Apply performs every op or none of them.
	Apply(ctx context.Context, ops ...Op) error
}

// GetJSON decodes the cursor into v. It returns false when the cursor is absent.
func GetJSON(ctx context.Context, s Store, name string, v any) (bool, error) {
	raw, err := s.Get(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("decoding cursor %s: %w", name, err)
	}
	return true, nil
}

// PutJSON encodes v and stores it under name.
func PutJSON(ctx context.Context, s Store, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding cursor %s: %w", name, err)
	}
	return s.Put(ctx, name, string(data))
}

// collapse keeps only the last op per name, preserving first-seen order.
// Some backends reject a batch touching the same key twice.
func collapse(ops []Op) []Op {
	last := make(map[string]int, len(ops))
	var order []string
	for i, op := range ops {
		if _, seen := last[op.Name]; !seen {
			order = append(order, op.Name)
		}
		last[op.Name] = i
	}
	out := make([]Op, 0, len(order))
	for _, name := range order {
		out = append(out, ops[last[name]])
	}
	return out
}

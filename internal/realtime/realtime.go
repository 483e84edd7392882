// Package realtime delivers row changes for Postgres tables. Client speaks
// the Supabase Realtime websocket protocol; Hub is an in-process feed with
// the same semantics.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
	EventAll    EventType = "*"
)

// Filter selects row changes on one table, optionally narrowed to rows
// where Column equals Value.
type Filter struct {
	Schema string
	Table  string
	Event  EventType
	Column string
	Value  string
}

func (f Filter) schema() string {
	if f.Schema == "" {
		return "public"
	}
	return f.Schema
}

func (f Filter) event() EventType {
	if f.Event == "" {
		return EventAll
	}
	return f.Event
}

// String renders the PostgREST-style row filter, e.g. "conversation_id=eq.c1".
func (f Filter) String() string {
	if f.Column == "" {
		return ""
	}
	return fmt.Sprintf("%s=eq.%s", f.Column, f.Value)
}

func (f Filter) Matches(c Change) bool {
	if c.Schema != "" && c.Schema != f.schema() {
		return false
	}
	if c.Table != f.Table {
		return false
	}
	if ev := f.event(); ev != EventAll && ev != c.Type {
		return false
	}
	if f.Column == "" {
		return true
	}
	record := c.Record
	if c.Type == EventDelete {
		record = c.OldRecord
	}
	var row map[string]interface{}
	if err := json.Unmarshal(record, &row); err != nil {
		return false
	}
	v, ok := row[f.Column]
	if !ok || v == nil {
		return false
	}
	return fmt.Sprint(v) == f.Value
}

type Change struct {
	Type            EventType       `json:"type"`
	Schema          string          `json:"schema"`
	Table           string          `json:"table"`
	Record          json.RawMessage `json:"record"`
	OldRecord       json.RawMessage `json:"old_record"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
}

// Decode unmarshals the new row image into v.
func (c Change) Decode(v interface{}) error {
	return json.Unmarshal(c.Record, v)
}

// Subscription is a live stream of changes. Changes is closed when the
// subscription ends; Err then reports why (nil after Close).
type Subscription interface {
	Changes() <-chan Change
	Err() error
	Close() error
}

type Feed interface {
	Subscribe(ctx context.Context, f Filter) (Subscription, error)
}

// ErrOffline is returned by Offline.Subscribe.
var ErrOffline = errors.New("realtime: offline")

// Offline is a Feed without a connection. Streams opened on it load
// history and report themselves disconnected.
type Offline struct{}

func (Offline) Subscribe(ctx context.Context, f Filter) (Subscription, error) {
	return nil, ErrOffline
}

// ABOUTME: Store interface and data types for inbox-gateway persistence
// ABOUTME: Defines Session, Event structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested session does not exist
var ErrNotFound = errors.New("not found")

// Event is a single message event within a session. Events are immutable
// once created and appended in order by the conversation producer.
type Event struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is one conversation: an ordered event list plus a free-form
// state map. The durable row mirrors this struct with events and state
// stored as JSON blobs.
type Session struct {
	ID        string         `json:"id"`
	AppName   string         `json:"app_name"`
	UserID    string         `json:"user_id"`
	Events    []Event        `json:"events"`
	State     map[string]any `json:"state"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Clone returns a copy of the session with its own events slice and state
// map, so callers can mutate the copy without racing the cached original.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := &Session{
		ID:        s.ID,
		AppName:   s.AppName,
		UserID:    s.UserID,
		UpdatedAt: s.UpdatedAt,
		Events:    make([]Event, len(s.Events)),
		State:     make(map[string]any, len(s.State)),
	}
	copy(out.Events, s.Events)
	for k, v := range s.State {
		out.State[k] = v
	}
	return out
}

// StateBool reads a boolean state key with a default for missing or
// mistyped values. JSON round-trips store booleans as bool, but state
// written by older producers may carry anything.
func (s *Session) StateBool(key string, def bool) bool {
	v, ok := s.State[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

// StateString reads a string state key, returning "" when absent.
func (s *Session) StateString(key string) string {
	v, ok := s.State[key]
	if !ok {
		return ""
	}
	str, _ := v.(string)
	return str
}

// Store defines the durable-store contract the write-behind layer sits on.
// Upsert is a full-row replace keyed by id: applying the same row twice
// yields one row, and concurrent upserts for one id are resolved by
// whichever lands last.
type Store interface {
	GetSession(ctx context.Context, id string) (*Session, error)
	UpsertSession(ctx context.Context, session *Session) error
	DeleteSession(ctx context.Context, id string) error
	ListSessions(ctx context.Context, appName string) ([]*Session, error)

	// Ping reports whether the durable store is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}

// ABOUTME: Write-behind session service: memory-authoritative cache over the durable store
// ABOUTME: Reads and writes hit the cache; durable persistence happens via scheduled background upserts

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/woodstock-ai/inbox-gateway/internal/store"
	"github.com/woodstock-ai/inbox-gateway/internal/tasks"
)

// defaultWriteTimeout bounds each background durable write.
const defaultWriteTimeout = 5 * time.Second

// Service is the write-behind session layer. The in-memory cache is
// authoritative for every session it holds: saves land in the cache
// immediately and are persisted by background upserts, so a read issued
// after a save always observes that save. Durable failures are logged and
// dropped; they never surface to callers.
type Service struct {
	mu      sync.RWMutex
	cache   map[string]*store.Session
	durable store.Store
	tasks   *tasks.Registry
	logger  *slog.Logger

	writeTimeout time.Duration
}

// NewService creates the write-behind layer over durable, scheduling its
// persistence work on registry.
func NewService(durable store.Store, registry *tasks.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cache:        make(map[string]*store.Session),
		durable:      durable,
		tasks:        registry,
		logger:       logger.With("component", "session"),
		writeTimeout: defaultWriteTimeout,
	}
}

// Create makes a new session, caches it, and schedules its durable
// upsert. An empty id gets a generated UUID. The returned session is a
// private copy.
func (s *Service) Create(ctx context.Context, appName, userID, id string, state map[string]any) (*store.Session, error) {
	if id == "" {
		id = uuid.New().String()
	}
	if state == nil {
		state = make(map[string]any)
	}

	sess := &store.Session{
		ID:        id,
		AppName:   appName,
		UserID:    userID,
		Events:    []store.Event{},
		State:     state,
		UpdatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	if _, exists := s.cache[id]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("session %s already exists", id)
	}
	s.cache[id] = sess.Clone()
	s.mu.Unlock()

	s.scheduleUpsert(sess)
	s.logger.Debug("session created", "session_id", id, "app_name", appName)
	return sess, nil
}

// Get returns the cached session, or falls back to a synchronous durable
// read on a cache miss. A durable row is cached after the read unless a
// concurrent writer populated the cache first; the cached copy wins
// because it may hold writes the durable store hasn't seen yet.
func (s *Service) Get(ctx context.Context, id string) (*store.Session, error) {
	s.mu.RLock()
	cached, ok := s.cache[id]
	if ok {
		out := cached.Clone()
		s.mu.RUnlock()
		return out, nil
	}
	s.mu.RUnlock()

	sess, err := s.durable.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("durable read for session %s: %w", id, err)
	}

	s.mu.Lock()
	if raced, ok := s.cache[id]; ok {
		sess = raced
	} else {
		s.cache[id] = sess.Clone()
	}
	out := sess.Clone()
	s.mu.Unlock()
	return out, nil
}

// Save caches the session and schedules its durable upsert. It returns
// before any storage I/O happens; subsequent Gets observe this save.
func (s *Service) Save(ctx context.Context, sess *store.Session) error {
	if sess == nil || sess.ID == "" {
		return errors.New("session with id required")
	}
	sess.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	s.cache[sess.ID] = sess.Clone()
	s.mu.Unlock()

	s.scheduleUpsert(sess)
	return nil
}

// Delete evicts the session from the cache and schedules the durable
// delete. Unknown ids are a no-op.
func (s *Service) Delete(ctx context.Context, id string) {
	s.mu.Lock()
	delete(s.cache, id)
	s.mu.Unlock()

	s.tasks.Schedule("session-delete", func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
		defer cancel()
		if err := s.durable.DeleteSession(ctx, id); err != nil {
			s.logger.Error("background session delete failed",
				"session_id", id, "error", err)
		}
	})
}

// List merges durable rows for appName with the cache, which overrides
// row-for-row: a cached session may hold saves the durable store hasn't
// absorbed yet, and cache-only sessions (created moments ago) appear too.
// Results are ordered by update time, newest first.
func (s *Service) List(ctx context.Context, appName string) ([]*store.Session, error) {
	durable, err := s.durable.ListSessions(ctx, appName)
	if err != nil {
		return nil, fmt.Errorf("durable list: %w", err)
	}

	merged := make(map[string]*store.Session, len(durable))
	for _, sess := range durable {
		merged[sess.ID] = sess
	}

	s.mu.RLock()
	for id, sess := range s.cache {
		if appName == "" || sess.AppName == appName {
			merged[id] = sess.Clone()
		}
	}
	s.mu.RUnlock()

	out := make([]*store.Session, 0, len(merged))
	for _, sess := range merged {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Flush blocks until every scheduled durable write has finished or ctx
// expires. Shutdown and tests use it to drain the write-behind queue.
func (s *Service) Flush(ctx context.Context) error {
	return s.tasks.Wait(ctx)
}

func (s *Service) scheduleUpsert(sess *store.Session) {
	snapshot := sess.Clone()
	s.tasks.Schedule("session-upsert", func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
		defer cancel()
		if err := s.durable.UpsertSession(ctx, snapshot); err != nil {
			s.logger.Error("background session write failed",
				"session_id", snapshot.ID, "error", err)
		}
	})
}

// Package session stores research sessions in Redis behind a small local
// cache. Updates are guarded by an optimistic version check; the check-and-set
// is not atomic across processes, which is fine for the single-process
// orchestrator where the stage controller already serializes work per session.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/meridian-lab/fathom/internal/circuitbreaker"
	"github.com/meridian-lab/fathom/internal/metrics"
	"github.com/meridian-lab/fathom/internal/models"
)

const keyPrefix = "session:"

// Config holds session store settings. Zero values get defaults.
type Config struct {
	RedisURL         string
	TTL              time.Duration
	MaxLocalSessions int
	Breaker          circuitbreaker.Config
}

func withDefaults(c Config) Config {
	if c.TTL <= 0 {
		c.TTL = 24 * time.Hour
	}
	if c.MaxLocalSessions <= 0 {
		c.MaxLocalSessions = 1000
	}
	return c
}

type cacheEntry struct {
	session   *models.ResearchSession
	expiresAt time.Time
	lastUsed  time.Time
}

// Manager is the session store. Sessions returned from Get share memory with
// the local cache; callers mutate them only under the stage controller's
// per-session lock and persist through Update.
type Manager struct {
	client *circuitbreaker.RedisWrapper
	logger *zap.Logger
	ttl    time.Duration

	mu          sync.RWMutex
	localCache  map[string]cacheEntry
	maxSessions int
}

// NewManager dials Redis and verifies the connection before returning.
func NewManager(cfg Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = withDefaults(cfg)

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := circuitbreaker.NewRedisWrapper(redis.NewClient(opts), cfg.Breaker, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	logger.Info("Session store connected to Redis",
		zap.String("addr", opts.Addr),
		zap.Duration("ttl", cfg.TTL),
	)

	return &Manager{
		client:      client,
		logger:      logger,
		ttl:         cfg.TTL,
		localCache:  make(map[string]cacheEntry),
		maxSessions: cfg.MaxLocalSessions,
	}, nil
}

// Create stores a new session for the given query, starting at the intent
// clarification stage with version 1.
func (m *Manager) Create(ctx context.Context, query string) (*models.ResearchSession, error) {
	now := time.Now().UTC()
	session := &models.ResearchSession{
		ID:        uuid.New().String(),
		Query:     query,
		Stage:     models.StageIntentClarification,
		Status:    models.StatusActive,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := m.save(ctx, session); err != nil {
		return nil, err
	}

	metrics.SessionsCreated.Inc()
	m.logger.Debug("Session created", zap.String("session_id", session.ID))
	return session, nil
}

// Get returns the session by ID, serving from the local cache when possible.
func (m *Manager) Get(ctx context.Context, id string) (*models.ResearchSession, error) {
	now := time.Now().UTC()

	m.mu.RLock()
	entry, ok := m.localCache[id]
	m.mu.RUnlock()

	if ok && now.Before(entry.expiresAt) {
		metrics.SessionCacheHits.Inc()
		m.touch(id, now)
		return entry.session, nil
	}
	if ok {
		// Entry outlived its TTL; make sure Redis agrees it is gone.
		m.evict(id)
		m.client.Del(ctx, keyPrefix+id)
		return nil, ErrSessionNotFound
	}

	metrics.SessionCacheMisses.Inc()

	data, err := m.client.Get(ctx, keyPrefix+id).Result()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	var record storedSession
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	if record.Session == nil {
		return nil, fmt.Errorf("decode session %s: empty record", id)
	}
	if now.After(record.ExpiresAt) {
		m.client.Del(ctx, keyPrefix+id)
		return nil, ErrSessionNotFound
	}

	m.cache(record.Session, record.ExpiresAt, now)
	return record.Session, nil
}

// Update persists the session if its version matches the stored one, then
// bumps the version. A mismatch means someone else wrote first; the stale
// cache entry is dropped so the next Get re-reads Redis.
func (m *Manager) Update(ctx context.Context, session *models.ResearchSession) error {
	if session == nil || session.ID == "" {
		return ErrInvalidSession
	}

	data, err := m.client.Get(ctx, keyPrefix+session.ID).Result()
	if err == redis.Nil {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("load session %s: %w", session.ID, err)
	}

	var current storedSession
	if err := json.Unmarshal([]byte(data), &current); err != nil {
		return fmt.Errorf("decode session %s: %w", session.ID, err)
	}
	if current.Session != nil && current.Session.Version != session.Version {
		metrics.SessionConflicts.Inc()
		m.evict(session.ID)
		m.logger.Warn("Session version conflict",
			zap.String("session_id", session.ID),
			zap.Int64("stored", current.Session.Version),
			zap.Int64("submitted", session.Version),
		)
		return ErrSessionConflict
	}

	session.Version++
	session.UpdatedAt = time.Now().UTC()
	return m.save(ctx, session)
}

// Delete removes the session from Redis and the local cache.
func (m *Manager) Delete(ctx context.Context, id string) error {
	n, err := m.client.Del(ctx, keyPrefix+id).Result()
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	m.evict(id)
	if n == 0 {
		return ErrSessionNotFound
	}
	m.logger.Debug("Session deleted", zap.String("session_id", id))
	return nil
}

// List returns all live sessions, newest first. Corrupt or expired entries
// are skipped.
func (m *Manager) List(ctx context.Context) ([]*models.ResearchSession, error) {
	keys, err := m.client.Keys(ctx, keyPrefix+"*").Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	now := time.Now().UTC()
	sessions := make([]*models.ResearchSession, 0, len(keys))
	for _, key := range keys {
		data, err := m.client.Get(ctx, key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		var record storedSession
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			m.logger.Warn("Skipping corrupt session record", zap.String("key", key), zap.Error(err))
			continue
		}
		if record.Session == nil || now.After(record.ExpiresAt) {
			continue
		}
		sessions = append(sessions, record.Session)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// Ping reports backend connectivity for health checks.
func (m *Manager) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// RedisWrapper exposes the wrapped client for components that share the
// connection.
func (m *Manager) RedisWrapper() *circuitbreaker.RedisWrapper {
	return m.client
}

// Close closes the Redis connection.
func (m *Manager) Close() error {
	return m.client.Close()
}

// save writes the session with a fresh TTL and refreshes the cache entry.
func (m *Manager) save(ctx context.Context, session *models.ResearchSession) error {
	now := time.Now().UTC()
	expiresAt := now.Add(m.ttl)

	data, err := json.Marshal(storedSession{Session: session, ExpiresAt: expiresAt})
	if err != nil {
		return fmt.Errorf("encode session %s: %w", session.ID, err)
	}
	if err := m.client.Set(ctx, keyPrefix+session.ID, data, m.ttl).Err(); err != nil {
		return fmt.Errorf("store session %s: %w", session.ID, err)
	}

	m.cache(session, expiresAt, now)
	return nil
}

func (m *Manager) cache(session *models.ResearchSession, expiresAt, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.localCache[session.ID] = cacheEntry{
		session:   session,
		expiresAt: expiresAt,
		lastUsed:  now,
	}
	if len(m.localCache) > m.maxSessions {
		m.evictOldestLocked()
	}
}

func (m *Manager) touch(id string, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.localCache[id]; ok {
		entry.lastUsed = now
		m.localCache[id] = entry
	}
}

func (m *Manager) evict(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.localCache, id)
}

// evictOldestLocked drops the least recently used half of the cache. Called
// with m.mu held.
func (m *Manager) evictOldestLocked() {
	type access struct {
		id       string
		lastUsed time.Time
	}
	entries := make([]access, 0, len(m.localCache))
	for id, entry := range m.localCache {
		entries = append(entries, access{id: id, lastUsed: entry.lastUsed})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].lastUsed.Before(entries[j].lastUsed)
	})

	toRemove := len(m.localCache) - m.maxSessions + m.maxSessions/2
	if toRemove > len(entries) {
		toRemove = len(entries)
	}
	for i := 0; i < toRemove; i++ {
		delete(m.localCache, entries[i].id)
		metrics.SessionCacheEvictions.Inc()
	}

	m.logger.Debug("Evicted sessions from local cache",
		zap.Int("evicted", toRemove),
		zap.Int("remaining", len(m.localCache)),
	)
}

// Package memory keeps per-session conversation records in a process cache
// and writes them through to a durable cache backend.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/moviepilot/mpagent/pkg/cache"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const (
	Region         = "AI_AGENT"
	backendKeyBase = "agent_memory"

	ExpirySchedule = "@every 1h"
	day            = 24 * time.Hour
)

type ManagerConfig struct {
	MaxMessages int
	// RetentionDays bounds how long an idle session stays in the process cache
	RetentionDays int
	// BackendRetentionDays is the TTL of durable copies
	BackendRetentionDays int
}

type ManagerDependencies struct {
	Backend cache.Backend
	Config  ManagerConfig
	Now     func() time.Time
}

type Manager struct {
	mu      sync.RWMutex
	entries map[string]*ConversationMemory

	backend cache.Backend
	config  ManagerConfig
	now     func() time.Time

	cron *cron.Cron
}

func NewManager(deps ManagerDependencies) *Manager {
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Manager{
		entries: make(map[string]*ConversationMemory),
		backend: deps.Backend,
		config:  deps.Config,
		now:     now,
	}
}

func cacheKey(sessionID, userID string) string {
	if userID != "" {
		return fmt.Sprintf("%s:%s", userID, sessionID)
	}
	return sessionID
}

func backendKey(sessionID, userID string) string {
	if userID != "" {
		return fmt.Sprintf("%s:%s:%s", backendKeyBase, userID, sessionID)
	}
	return fmt.Sprintf("%s:%s", backendKeyBase, sessionID)
}

// Initialize starts the hourly eviction of idle sessions from the process
// cache. Durable copies expire through their TTL.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cron != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(ExpirySchedule, m.EvictExpired); err != nil {
		return fmt.Errorf("failed to schedule memory expiry: %w", err)
	}
	c.Start()

	m.cron = c

	log.Info().Msg("Conversation memory manager initialized")

	return nil
}

// Close stops the expiry job, waits for a running pass and closes the backend
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()

	if c != nil {
		stopped := c.Stop()

		select {
		case <-stopped.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if m.backend != nil {
		if err := m.backend.Close(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to close memory backend")
		}
	}

	log.Info().Msg("Conversation memory manager closed")

	return nil
}

// EvictExpired drops cache entries idle for more than RetentionDays whole days
func (m *Manager) EvictExpired() {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for key, memory := range m.entries {
		idleDays := int(now.Sub(memory.UpdatedAt) / day)
		if idleDays > m.config.RetentionDays {
			delete(m.entries, key)
			evicted++
		}
	}

	if evicted > 0 {
		log.Info().Int("evicted", evicted).Msg("Evicted idle conversation memories")
	}
}

// GetConversation returns a snapshot of the session's memory, loading it from
// the backend or creating and persisting an empty one when missing.
func (m *Manager) GetConversation(ctx context.Context, sessionID, userID string) *ConversationMemory {
	memory := m.load(ctx, sessionID, userID)

	m.mu.RLock()
	defer m.mu.RUnlock()

	return memory.clone()
}

// load returns the live cache entry
func (m *Manager) load(ctx context.Context, sessionID, userID string) *ConversationMemory {
	key := cacheKey(sessionID, userID)

	m.mu.RLock()
	memory, ok := m.entries[key]
	m.mu.RUnlock()

	if ok {
		return memory
	}

	if memory := m.loadBackend(ctx, sessionID, userID); memory != nil {
		m.mu.Lock()
		if existing, ok := m.entries[key]; ok {
			memory = existing
		} else {
			m.entries[key] = memory
		}
		m.mu.Unlock()

		return memory
	}

	memory = NewConversationMemory(sessionID, userID, m.now())

	m.mu.Lock()
	if existing, ok := m.entries[key]; ok {
		m.mu.Unlock()
		return existing
	}
	m.entries[key] = memory
	data, err := json.Marshal(memory)
	m.mu.Unlock()

	m.persist(ctx, sessionID, userID, data, err)

	return memory
}

func (m *Manager) loadBackend(ctx context.Context, sessionID, userID string) *ConversationMemory {
	if m.backend == nil {
		return nil
	}

	data, err := m.backend.Get(ctx, backendKey(sessionID, userID), Region)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to load memory from backend")
		}
		return nil
	}

	var memory ConversationMemory
	if err := json.Unmarshal(data, &memory); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to decode stored memory")
		return nil
	}

	if memory.Messages == nil {
		memory.Messages = []Message{}
	}
	if memory.Context == nil {
		memory.Context = map[string]any{}
	}

	return &memory
}

func (m *Manager) persist(ctx context.Context, sessionID, userID string, data []byte, marshalErr error) {
	if m.backend == nil {
		return
	}

	if marshalErr != nil {
		log.Warn().Err(marshalErr).Str("session_id", sessionID).Msg("Failed to encode memory")
		return
	}

	ttl := time.Duration(m.config.BackendRetentionDays) * day

	if err := m.backend.Set(ctx, backendKey(sessionID, userID), data, ttl, Region); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to save memory to backend")
	}
}

// update mutates the live entry under the cache lock and writes it through
func (m *Manager) update(ctx context.Context, sessionID, userID string, fn func(memory *ConversationMemory)) {
	memory := m.load(ctx, sessionID, userID)

	m.mu.Lock()
	fn(memory)
	memory.UpdatedAt = m.now()
	// the entry may have been evicted or cleared in between
	m.entries[cacheKey(sessionID, userID)] = memory
	data, err := json.Marshal(memory)
	m.mu.Unlock()

	m.persist(ctx, sessionID, userID, data, err)
}

func (m *Manager) AddConversation(ctx context.Context, sessionID, userID string, role Role, content string, metadata map[string]any) {
	if metadata == nil {
		metadata = map[string]any{}
	}

	m.update(ctx, sessionID, userID, func(memory *ConversationMemory) {
		memory.Messages = append(memory.Messages, Message{
			Role:      role,
			Content:   content,
			Timestamp: m.now(),
			Metadata:  metadata,
		})
		memory.Messages = capMessages(memory.Messages, m.config.MaxMessages)
	})

	log.Debug().
		Str("session_id", sessionID).
		Str("user_id", userID).
		Str("role", string(role)).
		Msg("Message added to memory")
}

func (m *Manager) SetTitle(ctx context.Context, sessionID, userID, title string) {
	m.update(ctx, sessionID, userID, func(memory *ConversationMemory) {
		memory.Title = title
	})
}

func (m *Manager) GetTitle(ctx context.Context, sessionID, userID string) string {
	return m.GetConversation(ctx, sessionID, userID).Title
}

func (m *Manager) GetContext(ctx context.Context, sessionID, userID string) map[string]any {
	return m.GetConversation(ctx, sessionID, userID).Context
}

// RecentMessagesForAgent reads the process cache only and returns every
// message except the newest, which is the input of the running turn.
func (m *Manager) RecentMessagesForAgent(sessionID, userID string) []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	memory, ok := m.entries[cacheKey(sessionID, userID)]
	if !ok || len(memory.Messages) == 0 {
		return []Message{}
	}

	return append([]Message(nil), memory.Messages[:len(memory.Messages)-1]...)
}

// GetRecentMessages returns the last limit messages, optionally restricted to
// the given roles
func (m *Manager) GetRecentMessages(ctx context.Context, sessionID, userID string, limit int, roles ...Role) []Message {
	messages := m.GetConversation(ctx, sessionID, userID).Messages

	if len(roles) > 0 {
		filtered := make([]Message, 0, len(messages))
		for _, msg := range messages {
			for _, role := range roles {
				if msg.Role == role {
					filtered = append(filtered, msg)
					break
				}
			}
		}
		messages = filtered
	}

	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	return messages
}

func (m *Manager) ClearMemory(ctx context.Context, sessionID, userID string) {
	m.mu.Lock()
	delete(m.entries, cacheKey(sessionID, userID))
	m.mu.Unlock()

	if m.backend != nil {
		if err := m.backend.Delete(ctx, backendKey(sessionID, userID), Region); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to delete memory from backend")
		}
	}

	log.Info().Str("session_id", sessionID).Str("user_id", userID).Msg("Conversation memory cleared")
}

// ListSessions merges backend and cache records, keeps the newest record per
// session and returns them most recently updated first
func (m *Manager) ListSessions(ctx context.Context, userID string, limit int) []SessionSummary {
	var sessions []SessionSummary

	if m.backend != nil {
		items, err := m.backend.Items(ctx, Region)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to list sessions from backend")
		}

		for _, item := range items {
			var memory ConversationMemory
			if err := json.Unmarshal(item.Value, &memory); err != nil {
				log.Warn().Err(err).Str("key", item.Key).Msg("Failed to decode stored memory")
				continue
			}

			if userID == "" || memory.UserID == userID {
				sessions = append(sessions, memory.summary())
			}
		}
	}

	m.mu.RLock()
	for _, memory := range m.entries {
		if userID == "" || memory.UserID == userID {
			sessions = append(sessions, memory.summary())
		}
	}
	m.mu.RUnlock()

	unique := make(map[string]SessionSummary, len(sessions))
	for _, session := range sessions {
		existing, ok := unique[session.SessionID]
		if !ok || session.UpdatedAt.After(existing.UpdatedAt) {
			unique[session.SessionID] = session
		}
	}

	result := make([]SessionSummary, 0, len(unique))
	for _, session := range unique {
		result = append(result, session)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result
}

// Package session stores conversations between turns. The in-memory manager
// matches the widget's single-instance deployment; the Redis manager serves
// multi-instance deployments.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/convocart/convocart/convo"
	"github.com/convocart/convocart/core"
)

// Manager persists conversations.
type Manager interface {
	Create(ctx context.Context, user *core.UserRecord) (*convo.Conversation, error)
	Get(ctx context.Context, id string) (*convo.Conversation, error)
	Save(ctx context.Context, conv *convo.Conversation) error
	Delete(ctx context.Context, id string) error
	Close() error
}

type memoryEntry struct {
	conv     *convo.Conversation
	lastSeen time.Time
}

// MemoryManager keeps conversations in process memory with idle expiry.
type MemoryManager struct {
	ttl    time.Duration
	logger core.Logger

	mu       sync.RWMutex
	sessions map[string]*memoryEntry

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewMemoryManager creates a manager that expires sessions idle longer than
// ttl. A ttl of zero disables expiry.
func NewMemoryManager(ttl time.Duration, logger core.Logger) *MemoryManager {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	m := &MemoryManager{
		ttl:      ttl,
		logger:   logger,
		sessions: make(map[string]*memoryEntry),
		stopChan: make(chan struct{}),
	}
	if ttl > 0 {
		m.wg.Add(1)
		go m.cleanupLoop()
	}
	return m
}

// Create starts a new conversation for the user.
func (m *MemoryManager) Create(ctx context.Context, user *core.UserRecord) (*convo.Conversation, error) {
	conv := convo.NewConversation(user)

	m.mu.Lock()
	m.sessions[conv.ID] = &memoryEntry{conv: conv, lastSeen: time.Now()}
	m.mu.Unlock()

	m.logger.Info("Session created", map[string]interface{}{
		"operation":  "session_create",
		"session_id": conv.ID,
	})
	return conv, nil
}

// Get returns the live conversation. Callers mutate it in place; Save only
// refreshes the idle clock.
func (m *MemoryManager) Get(ctx context.Context, id string) (*convo.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %q: %w", id, core.ErrSessionNotFound)
	}
	if m.ttl > 0 && time.Since(entry.lastSeen) > m.ttl {
		delete(m.sessions, id)
		return nil, fmt.Errorf("session %q expired: %w", id, core.ErrSessionNotFound)
	}
	entry.lastSeen = time.Now()
	return entry.conv, nil
}

// Save refreshes the session's idle clock.
func (m *MemoryManager) Save(ctx context.Context, conv *convo.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sessions[conv.ID]
	if !ok {
		return fmt.Errorf("session %q: %w", conv.ID, core.ErrSessionNotFound)
	}
	entry.lastSeen = time.Now()
	return nil
}

// Delete removes the session.
func (m *MemoryManager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// Close stops the cleanup loop.
func (m *MemoryManager) Close() error {
	close(m.stopChan)
	m.wg.Wait()
	return nil
}

func (m *MemoryManager) cleanupLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.evictIdle()
		}
	}
}

func (m *MemoryManager) evictIdle() {
	cutoff := time.Now().Add(-m.ttl)

	m.mu.Lock()
	var evicted int
	for id, entry := range m.sessions {
		if entry.lastSeen.Before(cutoff) {
			delete(m.sessions, id)
			evicted++
		}
	}
	m.mu.Unlock()

	if evicted > 0 {
		m.logger.Info("Evicted idle sessions", map[string]interface{}{
			"operation": "session_cleanup",
			"count":     evicted,
		})
	}
}

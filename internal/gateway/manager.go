// Package gateway pools per-user venue clients. Credentials live encrypted in
// the users table; a client is built on first use and cached with TTL and LRU
// eviction.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/crypto"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/db"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/exchanges/binance/futures"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/i18n"
)

var (
	// ErrNoAPIKey marks users without stored credentials; broadcast counts
	// them as skipped rather than failed.
	ErrNoAPIKey = errors.New("user has no API credentials")

	ErrUserDisabled = errors.New("user is disabled")
)

// Config tunes the client pool.
type Config struct {
	MaxSize int           // LRU capacity
	TTL     time.Duration // max client age before rebuild
}

// DefaultConfig returns the default pool tuning.
func DefaultConfig() Config {
	return Config{
		MaxSize: 100,
		TTL:     30 * time.Minute,
	}
}

type cachedClient struct {
	client    *futures.Client
	userID    string
	createdAt time.Time
	lastUsed  time.Time
}

// Stats are the pool counters surfaced by the status endpoint.
type Stats struct {
	Size      int   `json:"size"`
	MaxSize   int   `json:"maxSize"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// Manager is the per-user venue client pool.
type Manager struct {
	mu       sync.Mutex
	clients  map[string]*cachedClient // userID -> client
	lruOrder []string                 // oldest first

	cfg     Config
	keys    *crypto.KeyManager
	users   *db.UserQueries
	factory Factory

	hits      int64
	misses    int64
	evictions int64
}

// NewManager creates the pool.
func NewManager(users *db.UserQueries, keys *crypto.KeyManager, factory Factory, cfg Config) *Manager {
	return &Manager{
		clients: make(map[string]*cachedClient),
		cfg:     cfg,
		keys:    keys,
		users:   users,
		factory: factory,
	}
}

// ClientFor returns a venue client for the user, building and caching one
// when needed. Expired entries are rebuilt so a credential rotation takes
// effect within the TTL.
func (m *Manager) ClientFor(ctx context.Context, userID string) (*futures.Client, error) {
	m.mu.Lock()
	if cached, ok := m.clients[userID]; ok {
		if time.Since(cached.createdAt) < m.cfg.TTL {
			cached.lastUsed = time.Now()
			m.touchLocked(userID)
			m.hits++
			m.mu.Unlock()
			return cached.client, nil
		}
		m.removeLocked(userID)
	}
	m.misses++
	m.mu.Unlock()

	return m.build(ctx, userID)
}

func (m *Manager) build(ctx context.Context, userID string) (*futures.Client, error) {
	user, err := m.users.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !user.Enabled {
		return nil, ErrUserDisabled
	}
	if !user.HasAPIKey() {
		return nil, ErrNoAPIKey
	}

	apiKey, err := m.keys.Decrypt(user.APIKeyEnc)
	if err != nil {
		log.Printf(i18n.Get("GatewayDecryptFailed"), userID, err)
		return nil, fmt.Errorf("decrypt api key: %w", err)
	}
	apiSecret, err := m.keys.Decrypt(user.APISecretEnc)
	if err != nil {
		log.Printf(i18n.Get("GatewayDecryptFailed"), userID, err)
		return nil, fmt.Errorf("decrypt api secret: %w", err)
	}

	client := m.factory(apiKey, apiSecret)

	m.mu.Lock()
	defer m.mu.Unlock()

	// Another goroutine may have raced us here; keep the first one cached.
	if cached, ok := m.clients[userID]; ok && time.Since(cached.createdAt) < m.cfg.TTL {
		cached.lastUsed = time.Now()
		return cached.client, nil
	}

	if len(m.clients) >= m.cfg.MaxSize {
		m.evictOldestLocked()
	}

	now := time.Now()
	m.clients[userID] = &cachedClient{
		client:    client,
		userID:    userID,
		createdAt: now,
		lastUsed:  now,
	}
	m.lruOrder = append(m.lruOrder, userID)
	log.Printf(i18n.Get("GatewayCreated"), userID)
	return client, nil
}

// Invalidate drops a user's cached client, forcing a rebuild on next use.
// Called after credential updates.
func (m *Manager) Invalidate(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(userID)
}

// Stats returns a snapshot of the pool counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Size:      len(m.clients),
		MaxSize:   m.cfg.MaxSize,
		Hits:      m.hits,
		Misses:    m.misses,
		Evictions: m.evictions,
	}
}

func (m *Manager) touchLocked(userID string) {
	for i, id := range m.lruOrder {
		if id == userID {
			m.lruOrder = append(m.lruOrder[:i], m.lruOrder[i+1:]...)
			m.lruOrder = append(m.lruOrder, userID)
			return
		}
	}
}

func (m *Manager) removeLocked(userID string) {
	if _, ok := m.clients[userID]; !ok {
		return
	}
	delete(m.clients, userID)
	for i, id := range m.lruOrder {
		if id == userID {
			m.lruOrder = append(m.lruOrder[:i], m.lruOrder[i+1:]...)
			break
		}
	}
}

func (m *Manager) evictOldestLocked() {
	if len(m.lruOrder) == 0 {
		return
	}
	oldest := m.lruOrder[0]
	m.lruOrder = m.lruOrder[1:]
	delete(m.clients, oldest)
	m.evictions++
	log.Printf(i18n.Get("GatewayEvicted"), oldest)
}

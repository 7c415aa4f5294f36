package connector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"FixedTime/internal/domain/repository"
	"FixedTime/pkg/logger"
)

// Factory opens a connector for an account.
type Factory func(account string) (repository.Connector, error)

// Manager owns one logged-in connector per account and keeps sessions alive.
type Manager struct {
	mu       sync.Mutex
	factory  Factory
	conns    map[string]repository.Connector
	log      *logger.Logger
	interval time.Duration
}

func NewManager(factory Factory, log *logger.Logger, heartbeat time.Duration) *Manager {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &Manager{
		factory:  factory,
		conns:    make(map[string]repository.Connector),
		log:      log,
		interval: heartbeat,
	}
}

// Get returns the account connector, creating and logging it in on first use.
func (m *Manager) Get(ctx context.Context, account string) (repository.Connector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.conns[account]; ok {
		return c, nil
	}
	c, err := m.factory(account)
	if err != nil {
		return nil, fmt.Errorf("open connector %s: %w", account, err)
	}
	if err := c.Login(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("login %s: %w", account, err)
	}
	m.conns[account] = c
	m.log.Info("connector ready", logger.String("account", account))
	return c, nil
}

// Accounts lists accounts with an open session.
func (m *Manager) Accounts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.conns))
	for a := range m.conns {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Run heartbeats every session until ctx is done; a failed heartbeat triggers a re-login.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.HeartbeatAll(ctx)
		}
	}
}

func (m *Manager) HeartbeatAll(ctx context.Context) {
	m.mu.Lock()
	conns := make(map[string]repository.Connector, len(m.conns))
	for a, c := range m.conns {
		conns[a] = c
	}
	m.mu.Unlock()

	for account, c := range conns {
		if err := c.Heartbeat(ctx); err != nil {
			m.log.Warn("heartbeat failed, re-login", logger.String("account", account), logger.Error(err))
			if err := c.Login(ctx); err != nil {
				m.log.Error("re-login failed", logger.String("account", account), logger.Error(err))
			}
		}
	}
}

// Close closes every session.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for a, c := range m.conns {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close connector %s: %w", a, err)
		}
		delete(m.conns, a)
	}
	return firstErr
}

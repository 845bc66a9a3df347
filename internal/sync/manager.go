package sync

import (
	"context"
	"fmt"
	"sort"
	gosync "sync"

	"github.com/rs/zerolog/log"
)

// Key builds the manager key for an account resource.
func Key(accountID, resource string) string {
	return accountID + ":" + resource
}

type runEntry struct {
	id     uint64
	cancel context.CancelFunc
}

// Manager serializes runs per key inside one process. A second run for a
// key that is already running fails with ErrSyncInProgress.
type Manager struct {
	runners      map[string]runEntry
	runnersMutex gosync.RWMutex
	nextID       uint64
	wg           gosync.WaitGroup
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{runners: make(map[string]runEntry)}
}

func (m *Manager) claim(ctx context.Context, key string) (context.Context, uint64, error) {
	m.runnersMutex.Lock()
	defer m.runnersMutex.Unlock()

	if _, exists := m.runners[key]; exists {
		return nil, 0, fmt.Errorf("%s: %w", key, ErrSyncInProgress)
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.nextID++
	m.runners[key] = runEntry{id: m.nextID, cancel: cancel}
	return runCtx, m.nextID, nil
}

func (m *Manager) release(key string, id uint64) {
	m.runnersMutex.Lock()
	defer m.runnersMutex.Unlock()

	if e, ok := m.runners[key]; ok && e.id == id {
		e.cancel()
		delete(m.runners, key)
	}
}

// Run executes fn while holding key.
func (m *Manager) Run(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	runCtx, id, err := m.claim(ctx, key)
	if err != nil {
		return err
	}
	defer m.release(key, id)
	return fn(runCtx)
}

// Start runs fn in the background while holding key.
func (m *Manager) Start(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	runCtx, id, err := m.claim(ctx, key)
	if err != nil {
		return err
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.release(key, id)

		log.Debug().Str("key", key).Msg("sync start")
		if err := fn(runCtx); err != nil {
			log.Error().Err(err).Str("key", key).Msg("sync error")
		}
		log.Debug().Str("key", key).Msg("sync stop")
	}()
	return nil
}

// Stop cancels the run holding key.
func (m *Manager) Stop(key string) error {
	m.runnersMutex.Lock()
	defer m.runnersMutex.Unlock()

	e, exists := m.runners[key]
	if !exists {
		return fmt.Errorf("no sync running for %s", key)
	}
	e.cancel()
	delete(m.runners, key)
	return nil
}

// IsRunning reports whether key is held.
func (m *Manager) IsRunning(key string) bool {
	m.runnersMutex.RLock()
	defer m.runnersMutex.RUnlock()

	_, exists := m.runners[key]
	return exists
}

// StopAll cancels every run.
func (m *Manager) StopAll() {
	m.runnersMutex.Lock()
	defer m.runnersMutex.Unlock()

	for key, e := range m.runners {
		log.Info().Str("key", key).Msg("stopping sync")
		e.cancel()
	}
	m.runners = make(map[string]runEntry)
}

// Running lists the held keys in order.
func (m *Manager) Running() []string {
	m.runnersMutex.RLock()
	defer m.runnersMutex.RUnlock()

	keys := make([]string, 0, len(m.runners))
	for key := range m.runners {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Wait blocks until background runs started with Start have returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

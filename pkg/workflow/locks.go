package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/xbzone/pkg/engine"
	"github.com/openfroyo/xbzone/pkg/telemetry"
)

// DefaultLockTimeout applies to classes without a configured timeout.
const DefaultLockTimeout = 5 * time.Minute

// LockManager is an in-process engine.LockService. A step either holds all
// of its keys or none. Keys already held by the same step are re-entrant.
type LockManager struct {
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	timeouts map[engine.LockTimeoutClass]time.Duration

	mu      sync.Mutex
	owners  map[string]string   // key -> step ID
	held    map[string][]string // step ID -> keys
	changed chan struct{}       // closed and replaced on every release
}

// NewLockManager creates a lock manager with per-class timeouts.
func NewLockManager(logger zerolog.Logger, timeouts map[engine.LockTimeoutClass]time.Duration, metrics *telemetry.Metrics) *LockManager {
	t := make(map[engine.LockTimeoutClass]time.Duration, len(timeouts))
	for class, d := range timeouts {
		t[class] = d
	}
	return &LockManager{
		logger:   logger.With().Str("component", "lock-manager").Logger(),
		metrics:  metrics,
		timeouts: t,
		owners:   make(map[string]string),
		held:     make(map[string][]string),
		changed:  make(chan struct{}),
	}
}

// Timeout returns the acquisition timeout of class.
func (m *LockManager) Timeout(class engine.LockTimeoutClass) time.Duration {
	return ResolveTimeout(m.timeouts, class)
}

// ResolveTimeout returns the timeout for class, falling back to the default class.
func ResolveTimeout(timeouts map[engine.LockTimeoutClass]time.Duration, class engine.LockTimeoutClass) time.Duration {
	if d, ok := timeouts[class]; ok && d > 0 {
		return d
	}
	if d, ok := timeouts[engine.LockTimeoutDefault]; ok && d > 0 {
		return d
	}
	return DefaultLockTimeout
}

// AcquireStepLocks implements engine.LockService.
func (m *LockManager) AcquireStepLocks(ctx context.Context, stepID string, keys []string, class engine.LockTimeoutClass) error {
	keys = NormalizeKeys(keys)
	if len(keys) == 0 {
		return nil
	}

	timeout := m.Timeout(class)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	start := time.Now()

	for {
		m.mu.Lock()
		if m.tryAcquire(stepID, keys) {
			m.mu.Unlock()
			m.metrics.RecordLockWait(string(class), time.Since(start))
			m.logger.Debug().Str("step_id", stepID).Strs("keys", keys).Msg("Step locks acquired")
			return nil
		}
		changed := m.changed
		m.mu.Unlock()

		select {
		case <-changed:
		case <-timer.C:
			m.metrics.RecordLockWait(string(class), time.Since(start))
			return engine.NewLockTimeoutError(stepID, keys,
				fmt.Errorf("keys not available within %s", timeout))
		case <-ctx.Done():
			return engine.NewLockTimeoutError(stepID, keys, ctx.Err())
		}
	}
}

// tryAcquire grants keys to stepID if none is owned by another step. Callers hold mu.
func (m *LockManager) tryAcquire(stepID string, keys []string) bool {
	for _, k := range keys {
		if owner, ok := m.owners[k]; ok && owner != stepID {
			return false
		}
	}
	for _, k := range keys {
		if _, ok := m.owners[k]; ok {
			continue
		}
		m.owners[k] = stepID
		m.held[stepID] = append(m.held[stepID], k)
	}
	return true
}

// ReleaseStepLocks implements engine.LockService.
func (m *LockManager) ReleaseStepLocks(ctx context.Context, stepID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := m.held[stepID]
	if len(keys) == 0 {
		return nil
	}
	for _, k := range keys {
		delete(m.owners, k)
	}
	delete(m.held, stepID)

	close(m.changed)
	m.changed = make(chan struct{})

	m.logger.Debug().Str("step_id", stepID).Strs("keys", keys).Msg("Step locks released")
	return nil
}

// Holder returns the step holding key, if any.
func (m *LockManager) Holder(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner, ok := m.owners[key]
	return owner, ok
}

// NormalizeKeys returns the distinct non-empty keys in sorted order.
func NormalizeKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

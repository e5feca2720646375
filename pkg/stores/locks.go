package stores

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/xbzone/pkg/engine"
	"github.com/openfroyo/xbzone/pkg/telemetry"
	"github.com/openfroyo/xbzone/pkg/workflow"
)

// LockConfig configures a LockService.
type LockConfig struct {
	// Timeouts maps a timeout class to the time a step waits for its keys.
	Timeouts map[engine.LockTimeoutClass]time.Duration

	// Lease bounds how long a lock survives a crashed holder.
	Lease time.Duration

	// PollInterval is the delay between acquisition attempts.
	PollInterval time.Duration

	Metrics *telemetry.Metrics
}

// LockService is an engine.LockService backed by the step_locks table, so
// steps of different processes sharing the database exclude each other.
// Locks whose lease expired are reclaimed by the next acquisition.
type LockService struct {
	store *SQLiteStore
	cfg   LockConfig
	owner string
}

// NewLockService creates a lock service owned by this process.
func NewLockService(store *SQLiteStore, cfg LockConfig) *LockService {
	if cfg.Lease <= 0 {
		cfg.Lease = 30 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	return &LockService{
		store: store,
		cfg:   cfg,
		owner: uuid.New().String(),
	}
}

// Owner returns the token identifying this process in the lock table.
func (l *LockService) Owner() string {
	return l.owner
}

// AcquireStepLocks implements engine.LockService.
func (l *LockService) AcquireStepLocks(ctx context.Context, stepID string, keys []string, class engine.LockTimeoutClass) error {
	keys = workflow.NormalizeKeys(keys)
	if len(keys) == 0 {
		return nil
	}

	timeout := workflow.ResolveTimeout(l.cfg.Timeouts, class)
	start := time.Now()
	deadline := start.Add(timeout)

	for {
		if err := ctx.Err(); err != nil {
			return engine.NewLockTimeoutError(stepID, keys, err)
		}

		ok, err := l.tryAcquire(ctx, stepID, keys)
		if err != nil {
			return engine.NewTransientError("failed to acquire step locks", err).
				WithCode(engine.ErrCodeInternal).
				WithResource(stepID)
		}
		if ok {
			l.cfg.Metrics.RecordLockWait(string(class), time.Since(start))
			l.store.logger.Debug().Str("step_id", stepID).Strs("keys", keys).Msg("Step locks acquired")
			return nil
		}

		if !time.Now().Before(deadline) {
			l.cfg.Metrics.RecordLockWait(string(class), time.Since(start))
			return engine.NewLockTimeoutError(stepID, keys, fmt.Errorf("keys not available within %s", timeout))
		}

		timer := time.NewTimer(l.cfg.PollInterval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return engine.NewLockTimeoutError(stepID, keys, ctx.Err())
		}
	}
}

// tryAcquire takes every key for stepID in one transaction, or none.
func (l *LockService) tryAcquire(ctx context.Context, stepID string, keys []string) (bool, error) {
	tx, err := l.store.BeginTx(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	if _, err := tx.ExecContext(ctx, `DELETE FROM step_locks WHERE expires_at <= ?`, now); err != nil {
		return false, fmt.Errorf("failed to reclaim expired locks: %w", err)
	}

	for _, key := range keys {
		var holder string
		err := tx.QueryRowContext(ctx, `SELECT step_id FROM step_locks WHERE lock_key = ?`, key).Scan(&holder)
		switch {
		case err == sql.ErrNoRows:
		case err != nil:
			return false, fmt.Errorf("failed to read lock %s: %w", key, err)
		case holder != stepID:
			return false, nil
		}
	}

	query := `
		INSERT INTO step_locks (lock_key, step_id, owner, acquired_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(lock_key) DO UPDATE SET expires_at = excluded.expires_at
	`
	expires := now.Add(l.cfg.Lease)
	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, query, key, stepID, l.owner, now, expires); err != nil {
			return false, fmt.Errorf("failed to write lock %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit locks: %w", err)
	}
	return true, nil
}

// ReleaseStepLocks implements engine.LockService.
func (l *LockService) ReleaseStepLocks(ctx context.Context, stepID string) error {
	if _, err := l.store.db.ExecContext(ctx, `DELETE FROM step_locks WHERE step_id = ?`, stepID); err != nil {
		return fmt.Errorf("failed to release step locks: %w", err)
	}
	return nil
}

// ListLocks returns the locks currently held, expired ones included.
func (l *LockService) ListLocks(ctx context.Context) ([]StepLock, error) {
	rows, err := l.store.db.QueryContext(ctx,
		`SELECT lock_key, step_id, owner, acquired_at, expires_at FROM step_locks ORDER BY lock_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list locks: %w", err)
	}
	defer rows.Close()

	locks := []StepLock{}
	for rows.Next() {
		var lock StepLock
		if err := rows.Scan(&lock.Key, &lock.StepID, &lock.Owner, &lock.AcquiredAt, &lock.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan lock: %w", err)
		}
		locks = append(locks, lock)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating locks: %w", err)
	}
	return locks, nil
}

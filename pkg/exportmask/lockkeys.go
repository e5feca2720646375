package exportmask

import (
	"context"
	"fmt"

	"github.com/openfroyo/xbzone/pkg/engine"
	"github.com/openfroyo/xbzone/pkg/workflow"
)

const lockKeySeparator = "::"

// LockKey returns the key serializing mask mutations for host on arrayID.
func LockKey(host, arrayID string) string {
	return host + lockKeySeparator + arrayID
}

// LockKeys derives the host/array keys for the given initiators. Initiators
// that no longer exist are ignored; an initiator without a host name is keyed
// by its port. Keys are distinct and sorted.
func LockKeys(ctx context.Context, store engine.ObjectStore, arrayID string, initiatorIDs []string) ([]string, error) {
	keys := make([]string, 0, len(initiatorIDs))
	for _, id := range initiatorIDs {
		ini, err := store.GetInitiator(ctx, id)
		if err != nil {
			if engine.IsNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("failed to load initiator %s: %w", id, err)
		}

		host := ini.HostName
		if host == "" {
			host = ini.Port
		}
		keys = append(keys, LockKey(host, arrayID))
	}
	return workflow.NormalizeKeys(keys), nil
}

// HoldMaskLocks takes the host/array keys of initiatorIDs for holderID, runs
// fn and releases the keys. Callers outside a workflow step use it to change
// a mask under the same keys its mutation steps take.
func HoldMaskLocks(ctx context.Context, store engine.ObjectStore, locks engine.LockService,
	holderID, arrayID string, initiatorIDs []string, fn func(ctx context.Context) error) (err error) {
	keys, err := LockKeys(ctx, store, arrayID, initiatorIDs)
	if err != nil {
		return err
	}
	if err := locks.AcquireStepLocks(ctx, holderID, keys, engine.LockTimeoutVPlexBackendExport); err != nil {
		return err
	}
	defer func() {
		if rerr := locks.ReleaseStepLocks(context.WithoutCancel(ctx), holderID); rerr != nil && err == nil {
			err = fmt.Errorf("failed to release mask locks: %w", rerr)
		}
	}()
	return fn(ctx)
}

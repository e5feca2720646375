package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/openfroyo/xbzone/pkg/engine"
	"github.com/openfroyo/xbzone/pkg/stores"
)

// ExampleOpen demonstrates opening and migrating a store.
func ExampleOpen() {
	store, err := stores.Open(context.Background(), stores.Config{
		Path:            stores.MemoryPath,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_PersistExportMask demonstrates versioned mask updates.
func ExampleSQLiteStore_PersistExportMask() {
	ctx := context.Background()
	store, err := stores.Open(ctx, stores.Config{Path: stores.MemoryPath})
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	_ = store.UpsertStorageSystem(ctx, &engine.StorageSystem{ID: "array-1", SystemType: "xtremio"})

	mask := &engine.ExportMask{ID: "mask-1", StorageSystemID: "array-1"}
	_ = store.PersistExportMask(ctx, mask)

	mask.AddVolume("vol-1", 0)
	_ = store.PersistExportMask(ctx, mask)

	stored, _ := store.GetExportMask(ctx, "mask-1")
	fmt.Printf("Version: %d, Volumes: %v\n", stored.Version, stored.Volumes.IDs())
	// Output: Version: 2, Volumes: [vol-1]
}

// ExampleLockService demonstrates exclusive step locks.
func ExampleLockService() {
	ctx := context.Background()
	store, err := stores.Open(ctx, stores.Config{Path: stores.MemoryPath})
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	locks := stores.NewLockService(store, stores.LockConfig{
		Timeouts: map[engine.LockTimeoutClass]time.Duration{engine.LockTimeoutDefault: 10 * time.Millisecond},
	})

	_ = locks.AcquireStepLocks(ctx, "step-1", []string{"host-a::array-1"}, engine.LockTimeoutDefault)
	err = locks.AcquireStepLocks(ctx, "step-2", []string{"host-a::array-1"}, engine.LockTimeoutDefault)
	fmt.Println(engine.IsLockTimeout(err))

	_ = locks.ReleaseStepLocks(ctx, "step-1")
	err = locks.AcquireStepLocks(ctx, "step-2", []string{"host-a::array-1"}, engine.LockTimeoutDefault)
	fmt.Println(err == nil)
	// Output:
	// true
	// true
}

package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openfroyo/xbzone/pkg/engine"
)

const exportMaskColumns = `id, label, storage_system_id, initiators, storage_ports, volumes, existing_volumes, created, inactive, version`

func scanExportMask(row interface{ Scan(...interface{}) error }) (*engine.ExportMask, error) {
	var mask engine.ExportMask
	var initiators, ports, volumes, existingVolumes string
	if err := row.Scan(
		&mask.ID,
		&mask.Label,
		&mask.StorageSystemID,
		&initiators,
		&ports,
		&volumes,
		&existingVolumes,
		&mask.Created,
		&mask.Inactive,
		&mask.Version,
	); err != nil {
		return nil, err
	}

	for _, field := range []struct {
		raw    string
		target interface{}
	}{
		{initiators, &mask.Initiators},
		{ports, &mask.StoragePorts},
		{volumes, &mask.Volumes},
		{existingVolumes, &mask.ExistingVolumes},
	} {
		if err := json.Unmarshal([]byte(field.raw), field.target); err != nil {
			return nil, fmt.Errorf("failed to decode export mask %s: %w", mask.ID, err)
		}
	}
	if mask.Volumes == nil {
		mask.Volumes = engine.VolumeMap{}
	}
	return &mask, nil
}

// GetExportMask retrieves an export mask by ID
func (s *SQLiteStore) GetExportMask(ctx context.Context, id string) (*engine.ExportMask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+exportMaskColumns+` FROM export_masks WHERE id = ?`, id)
	mask, err := scanExportMask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.NewNotFoundError("export mask", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get export mask: %w", err)
	}
	return mask, nil
}

// PersistExportMask creates or updates an export mask. The mask version must
// match the stored one; a stale mask is rejected with a conflict error. On
// success the version of mask is advanced.
func (s *SQLiteStore) PersistExportMask(ctx context.Context, mask *engine.ExportMask) error {
	encode := func(v interface{}, empty string) (string, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		if string(b) == "null" {
			return empty, nil
		}
		return string(b), nil
	}

	initiators, err := encode(mask.Initiators, "[]")
	if err != nil {
		return fmt.Errorf("failed to encode initiators: %w", err)
	}
	ports, err := encode(mask.StoragePorts, "[]")
	if err != nil {
		return fmt.Errorf("failed to encode storage ports: %w", err)
	}
	volumes, err := encode(mask.Volumes, "{}")
	if err != nil {
		return fmt.Errorf("failed to encode volumes: %w", err)
	}
	existing, err := encode(mask.ExistingVolumes, "{}")
	if err != nil {
		return fmt.Errorf("failed to encode existing volumes: %w", err)
	}

	query := `
		INSERT INTO export_masks (id, label, storage_system_id, initiators, storage_ports, volumes, existing_volumes,
			created, inactive, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			label = excluded.label,
			storage_system_id = excluded.storage_system_id,
			initiators = excluded.initiators,
			storage_ports = excluded.storage_ports,
			volumes = excluded.volumes,
			existing_volumes = excluded.existing_volumes,
			created = excluded.created,
			inactive = excluded.inactive,
			version = excluded.version,
			updated_at = excluded.updated_at
		WHERE export_masks.version = ?
	`

	now := time.Now()
	result, err := s.db.ExecContext(ctx, query,
		mask.ID,
		mask.Label,
		mask.StorageSystemID,
		initiators,
		ports,
		volumes,
		existing,
		mask.Created,
		mask.Inactive,
		mask.Version+1,
		now,
		now,
		mask.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to persist export mask: %w", err)
	}

	conflict := engine.NewConflictError(
		fmt.Sprintf("export mask %s changed since version %d", mask.ID, mask.Version), nil).
		WithCode(engine.ErrCodeConflict).
		WithResource(mask.ID)
	if err := checkAffected(result, conflict); err != nil {
		return err
	}

	mask.Version++
	return nil
}

// ListExportMasks returns the masks of an array, or of every array when
// storageSystemID is empty. Inactive masks are skipped unless includeInactive is set.
func (s *SQLiteStore) ListExportMasks(ctx context.Context, storageSystemID string, includeInactive bool) ([]*engine.ExportMask, error) {
	query := `
		SELECT ` + exportMaskColumns + `
		FROM export_masks
		WHERE (? = '' OR storage_system_id = ?)
		  AND (? OR inactive = 0)
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, storageSystemID, storageSystemID, includeInactive)
	if err != nil {
		return nil, fmt.Errorf("failed to list export masks: %w", err)
	}
	defer rows.Close()

	masks := []*engine.ExportMask{}
	for rows.Next() {
		mask, err := scanExportMask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan export mask: %w", err)
		}
		masks = append(masks, mask)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating export masks: %w", err)
	}
	return masks, nil
}

package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/openfroyo/xbzone/pkg/engine"
)

// UpsertStorageSystem creates or updates an array
func (s *SQLiteStore) UpsertStorageSystem(ctx context.Context, array *engine.StorageSystem) error {
	query := `
		INSERT INTO storage_systems (id, label, system_type, serial, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			label = excluded.label,
			system_type = excluded.system_type,
			serial = excluded.serial,
			updated_at = excluded.updated_at
	`

	now := time.Now()
	if _, err := s.db.ExecContext(ctx, query,
		array.ID, array.Label, array.SystemType, array.Serial, now, now,
	); err != nil {
		return fmt.Errorf("failed to upsert storage system: %w", err)
	}
	return nil
}

// GetStorageSystem retrieves an array by ID
func (s *SQLiteStore) GetStorageSystem(ctx context.Context, id string) (*engine.StorageSystem, error) {
	query := `SELECT id, label, system_type, serial FROM storage_systems WHERE id = ?`

	array := &engine.StorageSystem{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(&array.ID, &array.Label, &array.SystemType, &array.Serial)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.NewNotFoundError("storage system", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get storage system: %w", err)
	}
	return array, nil
}

// ListStorageSystems returns all arrays ordered by ID
func (s *SQLiteStore) ListStorageSystems(ctx context.Context) ([]*engine.StorageSystem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, label, system_type, serial FROM storage_systems ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list storage systems: %w", err)
	}
	defer rows.Close()

	arrays := []*engine.StorageSystem{}
	for rows.Next() {
		array := &engine.StorageSystem{}
		if err := rows.Scan(&array.ID, &array.Label, &array.SystemType, &array.Serial); err != nil {
			return nil, fmt.Errorf("failed to scan storage system: %w", err)
		}
		arrays = append(arrays, array)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating storage systems: %w", err)
	}
	return arrays, nil
}

// UpsertNetwork creates or updates a network
func (s *SQLiteStore) UpsertNetwork(ctx context.Context, network *engine.Network) error {
	query := `
		INSERT INTO networks (id, label, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			label = excluded.label,
			updated_at = excluded.updated_at
	`

	now := time.Now()
	if _, err := s.db.ExecContext(ctx, query, network.ID, network.Label, now, now); err != nil {
		return fmt.Errorf("failed to upsert network: %w", err)
	}
	return nil
}

// ListNetworks returns all networks ordered by ID
func (s *SQLiteStore) ListNetworks(ctx context.Context) ([]engine.Network, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, label FROM networks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list networks: %w", err)
	}
	defer rows.Close()

	networks := []engine.Network{}
	for rows.Next() {
		var n engine.Network
		if err := rows.Scan(&n.ID, &n.Label); err != nil {
			return nil, fmt.Errorf("failed to scan network: %w", err)
		}
		networks = append(networks, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating networks: %w", err)
	}
	return networks, nil
}

// UpsertStoragePort creates or updates a target port
func (s *SQLiteStore) UpsertStoragePort(ctx context.Context, port *engine.StoragePort) error {
	query := `
		INSERT INTO storage_ports (id, name, storage_system_id, network_id, port_network_id, enclosure, controller, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			storage_system_id = excluded.storage_system_id,
			network_id = excluded.network_id,
			port_network_id = excluded.port_network_id,
			enclosure = excluded.enclosure,
			controller = excluded.controller,
			updated_at = excluded.updated_at
	`

	now := time.Now()
	if _, err := s.db.ExecContext(ctx, query,
		port.ID,
		port.Name,
		port.StorageSystemID,
		port.NetworkID,
		port.PortNetworkID,
		port.Group.Enclosure,
		port.Group.Controller,
		now,
		now,
	); err != nil {
		return fmt.Errorf("failed to upsert storage port: %w", err)
	}
	return nil
}

const storagePortColumns = `id, name, storage_system_id, network_id, port_network_id, enclosure, controller`

func scanStoragePort(row interface{ Scan(...interface{}) error }) (*engine.StoragePort, error) {
	port := &engine.StoragePort{}
	err := row.Scan(
		&port.ID,
		&port.Name,
		&port.StorageSystemID,
		&port.NetworkID,
		&port.PortNetworkID,
		&port.Group.Enclosure,
		&port.Group.Controller,
	)
	return port, err
}

// GetStoragePort retrieves a target port by ID
func (s *SQLiteStore) GetStoragePort(ctx context.Context, id string) (*engine.StoragePort, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+storagePortColumns+` FROM storage_ports WHERE id = ?`, id)
	port, err := scanStoragePort(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.NewNotFoundError("storage port", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get storage port: %w", err)
	}
	return port, nil
}

// ListStoragePorts returns the ports of an array ordered by name
func (s *SQLiteStore) ListStoragePorts(ctx context.Context, storageSystemID string) ([]engine.StoragePort, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+storagePortColumns+` FROM storage_ports WHERE storage_system_id = ? ORDER BY name`,
		storageSystemID)
	if err != nil {
		return nil, fmt.Errorf("failed to list storage ports: %w", err)
	}
	defer rows.Close()

	ports := []engine.StoragePort{}
	for rows.Next() {
		port, err := scanStoragePort(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan storage port: %w", err)
		}
		ports = append(ports, *port)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating storage ports: %w", err)
	}
	return ports, nil
}

// UpsertInitiator creates or updates an initiator. The port is normalized first.
func (s *SQLiteStore) UpsertInitiator(ctx context.Context, ini *engine.Initiator) error {
	query := `
		INSERT INTO initiators (id, port, node, host_name, network_id, director, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			port = excluded.port,
			node = excluded.node,
			host_name = excluded.host_name,
			network_id = excluded.network_id,
			director = excluded.director,
			updated_at = excluded.updated_at
	`

	now := time.Now()
	if _, err := s.db.ExecContext(ctx, query,
		ini.ID,
		engine.NormalizeInitiatorPort(ini.Port),
		ini.Node,
		ini.HostName,
		ini.NetworkID,
		ini.Director,
		now,
		now,
	); err != nil {
		return fmt.Errorf("failed to upsert initiator: %w", err)
	}
	return nil
}

const initiatorColumns = `id, port, node, host_name, network_id, director`

func scanInitiator(row interface{ Scan(...interface{}) error }) (*engine.Initiator, error) {
	ini := &engine.Initiator{}
	err := row.Scan(&ini.ID, &ini.Port, &ini.Node, &ini.HostName, &ini.NetworkID, &ini.Director)
	return ini, err
}

// GetInitiator retrieves an initiator by ID
func (s *SQLiteStore) GetInitiator(ctx context.Context, id string) (*engine.Initiator, error) {
	ini, err := scanInitiator(s.db.QueryRowContext(ctx, `SELECT `+initiatorColumns+` FROM initiators WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.NewNotFoundError("initiator", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get initiator: %w", err)
	}
	return ini, nil
}

// ListInitiators returns all initiators ordered by ID
func (s *SQLiteStore) ListInitiators(ctx context.Context) ([]engine.Initiator, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+initiatorColumns+` FROM initiators ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list initiators: %w", err)
	}
	defer rows.Close()

	initiators := []engine.Initiator{}
	for rows.Next() {
		ini, err := scanInitiator(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan initiator: %w", err)
		}
		initiators = append(initiators, *ini)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating initiators: %w", err)
	}
	return initiators, nil
}

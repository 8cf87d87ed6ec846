package database

import (
	"context"
)

const configurationColumns = `name, host, port, system_id, password, system_type, interface_version,
	bind_type, addr_ton, addr_npi, address_range, default_sender_id, connection_timeout_secs,
	enquire_link_interval_secs, is_active, is_default, created_at, updated_at`

func scanConfiguration(row interface{ Scan(...any) error }) (Configuration, error) {
	var i Configuration
	err := row.Scan(
		&i.Name,
		&i.Host,
		&i.Port,
		&i.SystemID,
		&i.Password,
		&i.SystemType,
		&i.InterfaceVersion,
		&i.BindType,
		&i.AddrTon,
		&i.AddrNpi,
		&i.AddressRange,
		&i.DefaultSenderID,
		&i.ConnectionTimeoutSecs,
		&i.EnquireLinkIntervalSecs,
		&i.IsActive,
		&i.IsDefault,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getConfiguration = `SELECT ` + configurationColumns + ` FROM smpp_configurations WHERE name = $1`

func (q *Queries) GetConfiguration(ctx context.Context, name string) (Configuration, error) {
	return scanConfiguration(q.db.QueryRow(ctx, getConfiguration, name))
}

const getDefaultConfiguration = `SELECT ` + configurationColumns + ` FROM smpp_configurations
WHERE is_default AND is_active
LIMIT 1`

func (q *Queries) GetDefaultConfiguration(ctx context.Context) (Configuration, error) {
	return scanConfiguration(q.db.QueryRow(ctx, getDefaultConfiguration))
}

const listConfigurations = `SELECT ` + configurationColumns + ` FROM smpp_configurations ORDER BY name`

func (q *Queries) ListConfigurations(ctx context.Context) ([]Configuration, error) {
	return q.queryConfigurations(ctx, listConfigurations)
}

const listActiveConfigurations = `SELECT ` + configurationColumns + ` FROM smpp_configurations
WHERE is_active
ORDER BY name`

func (q *Queries) ListActiveConfigurations(ctx context.Context) ([]Configuration, error) {
	return q.queryConfigurations(ctx, listActiveConfigurations)
}

func (q *Queries) queryConfigurations(ctx context.Context, sql string) ([]Configuration, error) {
	rows, err := q.db.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Configuration
	for rows.Next() {
		i, err := scanConfiguration(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const upsertConfiguration = `INSERT INTO smpp_configurations (
	name, host, port, system_id, password, system_type, interface_version, bind_type,
	addr_ton, addr_npi, address_range, default_sender_id, connection_timeout_secs,
	enquire_link_interval_secs, is_active, is_default
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (name) DO UPDATE SET
	host = EXCLUDED.host,
	port = EXCLUDED.port,
	system_id = EXCLUDED.system_id,
	password = EXCLUDED.password,
	system_type = EXCLUDED.system_type,
	interface_version = EXCLUDED.interface_version,
	bind_type = EXCLUDED.bind_type,
	addr_ton = EXCLUDED.addr_ton,
	addr_npi = EXCLUDED.addr_npi,
	address_range = EXCLUDED.address_range,
	default_sender_id = EXCLUDED.default_sender_id,
	connection_timeout_secs = EXCLUDED.connection_timeout_secs,
	enquire_link_interval_secs = EXCLUDED.enquire_link_interval_secs,
	is_active = EXCLUDED.is_active,
	is_default = EXCLUDED.is_default,
	updated_at = now()
RETURNING ` + configurationColumns

func (q *Queries) UpsertConfiguration(ctx context.Context, arg UpsertConfigurationParams) (Configuration, error) {
	row := q.db.QueryRow(ctx, upsertConfiguration,
		arg.Name,
		arg.Host,
		arg.Port,
		arg.SystemID,
		arg.Password,
		arg.SystemType,
		arg.InterfaceVersion,
		arg.BindType,
		arg.AddrTon,
		arg.AddrNpi,
		arg.AddressRange,
		arg.DefaultSenderID,
		arg.ConnectionTimeoutSecs,
		arg.EnquireLinkIntervalSecs,
		arg.IsActive,
		arg.IsDefault,
	)
	i, err := scanConfiguration(row)
	if err != nil {
		return i, mapInsertError(err)
	}
	return i, nil
}

const clearDefaultConfiguration = `UPDATE smpp_configurations
SET is_default = false, updated_at = now()
WHERE is_default AND name <> $1`

func (q *Queries) ClearDefaultConfiguration(ctx context.Context, exceptName string) error {
	_, err := q.db.Exec(ctx, clearDefaultConfiguration, exceptName)
	return err
}

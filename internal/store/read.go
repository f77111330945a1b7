package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fr4iser90/dashsync/internal/dashboard"
)

const configurationColumns = `id, kind, name, description, structure, created_at, updated_at`

const instanceColumns = `id, configuration_id, guild_id, channel_id, artifact_ref, is_active, created_at, last_updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// GetConfiguration retrieves a configuration by id.
// Returns ErrNotFound if absent.
func (s *Store) GetConfiguration(ctx context.Context, id string) (dashboard.Configuration, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+configurationColumns+`
		FROM configurations
		WHERE id = ?
	`, id)
	cfg, err := scanConfiguration(row)
	if err != nil {
		return dashboard.Configuration{}, classify("get configuration", err)
	}
	return cfg, nil
}

// FindConfigurationByName retrieves a configuration by its unique name.
// The name is normalized before lookup. Returns ErrNotFound if absent.
func (s *Store) FindConfigurationByName(ctx context.Context, name string) (dashboard.Configuration, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+configurationColumns+`
		FROM configurations
		WHERE name = ?
	`, normalizeName(name))
	cfg, err := scanConfiguration(row)
	if err != nil {
		return dashboard.Configuration{}, classify("find configuration", err)
	}
	return cfg, nil
}

// ListConfigurations returns all configurations ordered by name.
// Returns an empty slice (not nil) when there are none.
func (s *Store) ListConfigurations(ctx context.Context) ([]dashboard.Configuration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+configurationColumns+`
		FROM configurations
		ORDER BY name COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, classify("list configurations", err)
	}
	defer rows.Close()

	configs := []dashboard.Configuration{}
	for rows.Next() {
		cfg, err := scanConfiguration(rows)
		if err != nil {
			return nil, classify("list configurations", err)
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate configurations", err)
	}
	return configs, nil
}

// GetInstance retrieves an active instance by id (without its configuration).
func (s *Store) GetInstance(ctx context.Context, id string) (dashboard.ActiveInstance, error) {
	return s.getInstance(ctx, s.db, "get instance", `WHERE id = ?`, id)
}

// GetInstanceByChannel retrieves the instance bound to a channel.
// Returns ErrNotFound if the channel has no instance.
func (s *Store) GetInstanceByChannel(ctx context.Context, channelID string) (dashboard.ActiveInstance, error) {
	return s.getInstance(ctx, s.db, "get instance by channel", `WHERE channel_id = ?`, channelID)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) getInstance(ctx context.Context, q querier, op, where string, arg any) (dashboard.ActiveInstance, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+instanceColumns+`
		FROM active_instances
		`+where, arg)
	inst, err := scanInstance(row)
	if err != nil {
		return dashboard.ActiveInstance{}, classify(op, err)
	}
	return inst, nil
}

// ListInstances returns every instance, active or not, ordered by channel.
func (s *Store) ListInstances(ctx context.Context) ([]dashboard.ActiveInstance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+instanceColumns+`
		FROM active_instances
		ORDER BY channel_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, classify("list instances", err)
	}
	defer rows.Close()

	instances := []dashboard.ActiveInstance{}
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, classify("list instances", err)
		}
		instances = append(instances, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate instances", err)
	}
	return instances, nil
}

// ListActive returns all instances with is_active = 1 together with their
// configuration, in a single read transaction. An instance whose
// configuration row is missing is returned with Configuration == nil so the
// caller can count it as a broken reference.
func (s *Store) ListActive(ctx context.Context) ([]dashboard.ActiveInstance, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, classify("list active: begin tx", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT i.id, i.configuration_id, i.guild_id, i.channel_id, i.artifact_ref, i.is_active,
		       i.created_at, i.last_updated_at,
		       c.id, c.kind, c.name, c.description, c.structure, c.created_at, c.updated_at
		FROM active_instances i
		LEFT JOIN configurations c ON c.id = i.configuration_id
		WHERE i.is_active = 1
		ORDER BY i.channel_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, classify("list active", err)
	}
	defer rows.Close()

	instances := []dashboard.ActiveInstance{}
	for rows.Next() {
		inst, err := scanJoinedInstance(rows)
		if err != nil {
			return nil, classify("list active", err)
		}
		instances = append(instances, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate active", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, classify("list active: commit", err)
	}
	return instances, nil
}

func scanConfiguration(r rowScanner) (dashboard.Configuration, error) {
	var cfg dashboard.Configuration
	var kind, created, updated string
	var structure []byte
	if err := r.Scan(&cfg.ID, &kind, &cfg.Name, &cfg.Description, &structure, &created, &updated); err != nil {
		return dashboard.Configuration{}, err
	}
	cfg.Kind = dashboard.Kind(kind)
	cfg.Structure = dashboard.Structure(structure)
	var err error
	if cfg.CreatedAt, err = parseTime(created); err != nil {
		return dashboard.Configuration{}, err
	}
	if cfg.UpdatedAt, err = parseTime(updated); err != nil {
		return dashboard.Configuration{}, err
	}
	return cfg, nil
}

func scanInstance(r rowScanner) (dashboard.ActiveInstance, error) {
	var inst dashboard.ActiveInstance
	var ref sql.NullString
	var active int
	var created, updated string
	if err := r.Scan(&inst.ID, &inst.ConfigurationID, &inst.GuildID, &inst.ChannelID,
		&ref, &active, &created, &updated); err != nil {
		return dashboard.ActiveInstance{}, err
	}
	return finishInstance(inst, ref, active, created, updated)
}

func scanJoinedInstance(r rowScanner) (dashboard.ActiveInstance, error) {
	var inst dashboard.ActiveInstance
	var ref sql.NullString
	var active int
	var created, updated string
	var cID, cKind, cName, cDesc, cCreated, cUpdated sql.NullString
	var cStructure []byte
	if err := r.Scan(&inst.ID, &inst.ConfigurationID, &inst.GuildID, &inst.ChannelID,
		&ref, &active, &created, &updated,
		&cID, &cKind, &cName, &cDesc, &cStructure, &cCreated, &cUpdated); err != nil {
		return dashboard.ActiveInstance{}, err
	}
	inst, err := finishInstance(inst, ref, active, created, updated)
	if err != nil {
		return dashboard.ActiveInstance{}, err
	}
	if !cID.Valid {
		return inst, nil
	}

	cfg := &dashboard.Configuration{
		ID:          cID.String,
		Kind:        dashboard.Kind(cKind.String),
		Name:        cName.String,
		Description: cDesc.String,
		Structure:   dashboard.Structure(cStructure),
	}
	if cfg.CreatedAt, err = parseTime(cCreated.String); err != nil {
		return dashboard.ActiveInstance{}, err
	}
	if cfg.UpdatedAt, err = parseTime(cUpdated.String); err != nil {
		return dashboard.ActiveInstance{}, err
	}
	inst.Configuration = cfg
	return inst, nil
}

func finishInstance(inst dashboard.ActiveInstance, ref sql.NullString, active int, created, updated string) (dashboard.ActiveInstance, error) {
	if ref.Valid {
		inst.ArtifactRef = dashboard.ArtifactRef(ref.String)
	}
	inst.IsActive = active != 0
	var err error
	if inst.CreatedAt, err = parseTime(created); err != nil {
		return dashboard.ActiveInstance{}, fmt.Errorf("instance %s: %w", inst.ID, err)
	}
	if inst.LastUpdatedAt, err = parseTime(updated); err != nil {
		return dashboard.ActiveInstance{}, fmt.Errorf("instance %s: %w", inst.ID, err)
	}
	return inst, nil
}

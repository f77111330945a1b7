package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fr4iser90/dashsync/internal/dashboard"
)

// ConfigurationInput describes a configuration to create or update by name.
type ConfigurationInput struct {
	Name        string
	Kind        dashboard.Kind
	Description string
	Structure   dashboard.Structure
}

// UpsertConfiguration creates the named configuration, or updates the
// description and structure of an existing one. Kind is immutable: an
// existing configuration with a different kind is rejected with a
// VALIDATION error and left untouched.
//
// Returns the stored configuration and whether it was newly created.
func (s *Store) UpsertConfiguration(ctx context.Context, in ConfigurationInput) (dashboard.Configuration, bool, error) {
	name := normalizeName(in.Name)
	if name == "" {
		return dashboard.Configuration{}, false, dashboard.NewValidationError("upsert configuration", "", "configuration name is required")
	}
	if in.Kind == "" {
		return dashboard.Configuration{}, false, dashboard.NewValidationError("upsert configuration", "", "configuration %q: kind is required", name)
	}
	if dashboard.ValidChannelID(string(in.Kind)) {
		// Deactivate resolves a numeric key as a channel id, so such a kind
		// could never be deactivated by kind.
		return dashboard.Configuration{}, false, dashboard.NewValidationError("upsert configuration", "", "configuration %q: kind %q is indistinguishable from a channel id", name, in.Kind)
	}
	structure := in.Structure
	if structure == nil {
		structure = dashboard.Structure{}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dashboard.Configuration{}, false, classify("upsert configuration: begin tx", err)
	}
	defer tx.Rollback()

	now := s.clock.Now()
	existing, err := scanConfiguration(tx.QueryRowContext(ctx, `
		SELECT `+configurationColumns+`
		FROM configurations
		WHERE name = ?
	`, name))

	var created bool
	switch {
	case errors.Is(err, sql.ErrNoRows):
		existing = dashboard.Configuration{
			ID:          s.ids.NewID(),
			Kind:        in.Kind,
			Name:        name,
			Description: in.Description,
			Structure:   structure.Clone(),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO configurations (`+configurationColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			existing.ID,
			string(existing.Kind),
			existing.Name,
			existing.Description,
			[]byte(existing.Structure),
			formatTime(existing.CreatedAt),
			formatTime(existing.UpdatedAt),
		)
		if err != nil {
			return dashboard.Configuration{}, false, classify("upsert configuration: insert", err)
		}
		created = true
	case err != nil:
		return dashboard.Configuration{}, false, classify("upsert configuration: select", err)
	default:
		if existing.Kind != in.Kind {
			return dashboard.Configuration{}, false, dashboard.NewValidationError("upsert configuration", "",
				"configuration %q has kind %q; kind cannot change to %q", name, existing.Kind, in.Kind)
		}
		if existing.Description == in.Description && existing.Structure.Equal(structure) {
			return existing, false, nil
		}
		existing.Description = in.Description
		existing.Structure = structure.Clone()
		existing.UpdatedAt = now
		_, err = tx.ExecContext(ctx, `
			UPDATE configurations
			SET description = ?, structure = ?, updated_at = ?
			WHERE id = ?
		`, existing.Description, []byte(existing.Structure), formatTime(now), existing.ID)
		if err != nil {
			return dashboard.Configuration{}, false, classify("upsert configuration: update", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return dashboard.Configuration{}, false, classify("upsert configuration: commit", err)
	}
	return existing, created, nil
}

// DeleteConfiguration removes a configuration by id. Returns ErrInUse while
// any instance still references it and ErrNotFound if it does not exist.
func (s *Store) DeleteConfiguration(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM configurations WHERE id = ?`, id)
	if err != nil {
		return classify("delete configuration", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("delete configuration: rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("delete configuration %s: %w", id, ErrNotFound)
	}
	return nil
}

// InstanceInput describes a new active instance.
type InstanceInput struct {
	ConfigurationID string
	GuildID         string
	ChannelID       string
	ArtifactRef     dashboard.ArtifactRef
	IsActive        bool
}

// CreateInstance inserts a new instance. Returns ErrDuplicate if the channel
// already has one and a VALIDATION error if the configuration does not exist.
func (s *Store) CreateInstance(ctx context.Context, in InstanceInput) (dashboard.ActiveInstance, error) {
	if !dashboard.ValidChannelID(in.ChannelID) {
		return dashboard.ActiveInstance{}, dashboard.NewValidationError("create instance", in.ChannelID, "malformed channel id")
	}
	now := s.clock.Now()
	inst := dashboard.ActiveInstance{
		ID:              s.ids.NewID(),
		ConfigurationID: in.ConfigurationID,
		GuildID:         in.GuildID,
		ChannelID:       in.ChannelID,
		ArtifactRef:     in.ArtifactRef,
		IsActive:        in.IsActive,
		CreatedAt:       now,
		LastUpdatedAt:   now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO active_instances (`+instanceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		inst.ID,
		inst.ConfigurationID,
		inst.GuildID,
		inst.ChannelID,
		nullRef(inst.ArtifactRef),
		boolInt(inst.IsActive),
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		err = classify("create instance", err)
		if errors.Is(err, ErrInUse) {
			return dashboard.ActiveInstance{}, dashboard.NewValidationError("create instance", in.ChannelID,
				"configuration %s does not exist", in.ConfigurationID)
		}
		return dashboard.ActiveInstance{}, err
	}
	return inst, nil
}

// InstanceUpdate lists the fields to change; nil fields are left alone.
type InstanceUpdate struct {
	ConfigurationID *string
	GuildID         *string
	IsActive        *bool
}

// IsEmpty reports whether the update changes nothing.
func (u InstanceUpdate) IsEmpty() bool {
	return u.ConfigurationID == nil && u.GuildID == nil && u.IsActive == nil
}

// UpdateInstance applies the non-nil fields of upd to the instance and
// returns the updated row. Returns ErrNotFound if the instance is gone.
func (s *Store) UpdateInstance(ctx context.Context, id string, upd InstanceUpdate) (dashboard.ActiveInstance, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dashboard.ActiveInstance{}, classify("update instance: begin tx", err)
	}
	defer tx.Rollback()

	inst, err := s.getInstance(ctx, tx, "update instance", `WHERE id = ?`, id)
	if err != nil {
		return dashboard.ActiveInstance{}, err
	}
	if upd.IsEmpty() {
		return inst, nil
	}

	if upd.ConfigurationID != nil {
		inst.ConfigurationID = *upd.ConfigurationID
	}
	if upd.GuildID != nil {
		inst.GuildID = *upd.GuildID
	}
	if upd.IsActive != nil {
		inst.IsActive = *upd.IsActive
	}
	inst.LastUpdatedAt = s.clock.Now()

	_, err = tx.ExecContext(ctx, `
		UPDATE active_instances
		SET configuration_id = ?, guild_id = ?, is_active = ?, last_updated_at = ?
		WHERE id = ?
	`, inst.ConfigurationID, inst.GuildID, boolInt(inst.IsActive), formatTime(inst.LastUpdatedAt), id)
	if err != nil {
		return dashboard.ActiveInstance{}, classify("update instance", err)
	}
	if err := tx.Commit(); err != nil {
		return dashboard.ActiveInstance{}, classify("update instance: commit", err)
	}
	return inst, nil
}

// SetArtifactRef records a confirmed artifact identity. A zero ref is
// rejected: the column is never nulled by a render result.
// Returns false if the instance does not exist.
func (s *Store) SetArtifactRef(ctx context.Context, id string, ref dashboard.ArtifactRef) (bool, error) {
	if ref.IsZero() {
		return false, dashboard.NewValidationError("set artifact ref", "", "refusing to store empty artifact ref for instance %s", id)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE active_instances
		SET artifact_ref = ?, last_updated_at = ?
		WHERE id = ?
	`, string(ref), formatTime(s.clock.Now()), id)
	if err != nil {
		return false, classify("set artifact ref", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify("set artifact ref: rows affected", err)
	}
	return n > 0, nil
}

// SetArtifactRefs applies a batch of corrections in one write transaction.
// Each correction is a compare-and-set: the row is updated only while its
// stored ref still equals OldRef (NULL for a zero OldRef). A correction whose
// row changed underneath it reports CorrectionSuperseded; one whose row is
// gone reports CorrectionMissing. A non-nil error means the transaction did
// not commit and nothing was applied.
func (s *Store) SetArtifactRefs(ctx context.Context, corrections []dashboard.Correction) ([]dashboard.CorrectionStatus, error) {
	statuses := make([]dashboard.CorrectionStatus, len(corrections))
	if len(corrections) == 0 {
		return statuses, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify("set artifact refs: begin tx", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE active_instances
		SET artifact_ref = ?, last_updated_at = ?
		WHERE id = ? AND artifact_ref IS ?
	`)
	if err != nil {
		return nil, classify("set artifact refs: prepare", err)
	}
	defer stmt.Close()

	now := formatTime(s.clock.Now())
	for i, c := range corrections {
		if c.NewRef.IsZero() {
			statuses[i] = dashboard.CorrectionSuperseded
			continue
		}
		res, err := stmt.ExecContext(ctx, string(c.NewRef), now, c.InstanceID, nullRef(c.OldRef))
		if err != nil {
			return nil, classify("set artifact refs", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, classify("set artifact refs: rows affected", err)
		}
		if n > 0 {
			statuses[i] = dashboard.CorrectionApplied
			continue
		}
		var one int
		err = tx.QueryRowContext(ctx, `SELECT 1 FROM active_instances WHERE id = ?`, c.InstanceID).Scan(&one)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			statuses[i] = dashboard.CorrectionMissing
		case err != nil:
			return nil, classify("set artifact refs: lookup", err)
		default:
			statuses[i] = dashboard.CorrectionSuperseded
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, classify("set artifact refs: commit", err)
	}
	return statuses, nil
}

// SetActiveByChannel flips is_active for the instance bound to channelID.
// Returns the number of rows changed (0 when the channel is unknown or
// already in the requested state).
func (s *Store) SetActiveByChannel(ctx context.Context, channelID string, active bool) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE active_instances
		SET is_active = ?, last_updated_at = ?
		WHERE channel_id = ? AND is_active != ?
	`, boolInt(active), formatTime(s.clock.Now()), channelID, boolInt(active))
	if err != nil {
		return 0, classify("set active by channel", err)
	}
	return rowsAffected("set active by channel", res)
}

// SetActiveByKind flips is_active for every instance whose configuration
// has the given kind.
func (s *Store) SetActiveByKind(ctx context.Context, kind dashboard.Kind, active bool) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE active_instances
		SET is_active = ?, last_updated_at = ?
		WHERE is_active != ?
		  AND configuration_id IN (SELECT id FROM configurations WHERE kind = ?)
	`, boolInt(active), formatTime(s.clock.Now()), boolInt(active), string(kind))
	if err != nil {
		return 0, classify("set active by kind", err)
	}
	return rowsAffected("set active by kind", res)
}

// DeleteInstance removes an instance. Returns false if it did not exist.
func (s *Store) DeleteInstance(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM active_instances WHERE id = ?`, id)
	if err != nil {
		return false, classify("delete instance", err)
	}
	n, err := rowsAffected("delete instance", res)
	return n > 0, err
}

// DeleteGuild removes every instance of a guild (cascading guild removal).
func (s *Store) DeleteGuild(ctx context.Context, guildID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM active_instances WHERE guild_id = ?`, guildID)
	if err != nil {
		return 0, classify("delete guild", err)
	}
	return rowsAffected("delete guild", res)
}

func rowsAffected(op string, res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify(op+": rows affected", err)
	}
	return n, nil
}

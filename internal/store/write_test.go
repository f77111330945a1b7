package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fr4iser90/dashsync/internal/dashboard"
)

func TestUpsertConfiguration_CreateThenUpdate(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	cfg, created, err := s.UpsertConfiguration(ctx, ConfigurationInput{
		Name:        "servers",
		Kind:        "monitoring",
		Description: "v1",
		Structure:   dashboard.Structure(`{"v":1}`),
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "row-1", cfg.ID)

	updated, created, err := s.UpsertConfiguration(ctx, ConfigurationInput{
		Name:        "servers",
		Kind:        "monitoring",
		Description: "v2",
		Structure:   dashboard.Structure(`{"v":2}`),
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, cfg.ID, updated.ID)
	assert.True(t, updated.UpdatedAt.After(cfg.UpdatedAt))

	got, err := s.GetConfiguration(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Description)
	assert.Equal(t, dashboard.Structure(`{"v":2}`), got.Structure)
}

func TestUpsertConfiguration_UnchangedIsNoop(t *testing.T) {
	s := createTestStore(t)

	first := createTestConfiguration(t, s, "servers", "monitoring")
	second := createTestConfiguration(t, s, "servers", "monitoring")
	assert.True(t, first.UpdatedAt.Equal(second.UpdatedAt))
}

func TestUpsertConfiguration_KindIsImmutable(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	cfg := createTestConfiguration(t, s, "servers", "monitoring")

	_, _, err := s.UpsertConfiguration(ctx, ConfigurationInput{
		Name:      "servers",
		Kind:      "project",
		Structure: dashboard.Structure(`{}`),
	})
	require.Error(t, err)
	assert.True(t, dashboard.IsValidation(err))

	got, err := s.GetConfiguration(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, dashboard.Kind("monitoring"), got.Kind)
}

func TestUpsertConfiguration_RequiresNameAndKind(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, _, err := s.UpsertConfiguration(ctx, ConfigurationInput{Name: "  ", Kind: "monitoring"})
	assert.True(t, dashboard.IsValidation(err))

	_, _, err = s.UpsertConfiguration(ctx, ConfigurationInput{Name: "x"})
	assert.True(t, dashboard.IsValidation(err))
}

func TestUpsertConfiguration_RejectsChannelLikeKind(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, _, err := s.UpsertConfiguration(ctx, ConfigurationInput{Name: "yearly", Kind: "2024"})
	assert.True(t, dashboard.IsValidation(err))

	_, err = s.FindConfigurationByName(ctx, "yearly")
	assert.ErrorIs(t, err, ErrNotFound)

	// Digits mixed with other characters are not channel ids.
	_, _, err = s.UpsertConfiguration(ctx, ConfigurationInput{Name: "yearly", Kind: "report-2024"})
	assert.NoError(t, err)
}

func TestUpsertConfiguration_NilStructureStoredEmpty(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	cfg, _, err := s.UpsertConfiguration(ctx, ConfigurationInput{Name: "bare", Kind: "project"})
	require.NoError(t, err)

	got, err := s.GetConfiguration(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Structure)
}

func TestDeleteConfiguration_InUse(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	cfg := createTestConfiguration(t, s, "servers", "monitoring")
	inst := createTestInstance(t, s, cfg.ID, "1001")

	err := s.DeleteConfiguration(ctx, cfg.ID)
	assert.ErrorIs(t, err, ErrInUse)

	ok, err := s.DeleteInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.DeleteConfiguration(ctx, cfg.ID))
	assert.ErrorIs(t, s.DeleteConfiguration(ctx, cfg.ID), ErrNotFound)
}

func TestCreateInstance_ChannelIsUnique(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	cfg := createTestConfiguration(t, s, "servers", "monitoring")
	createTestInstance(t, s, cfg.ID, "1001")

	_, err := s.CreateInstance(ctx, InstanceInput{
		ConfigurationID: cfg.ID,
		GuildID:         "900",
		ChannelID:       "1001",
		IsActive:        true,
	})
	assert.ErrorIs(t, err, ErrDuplicate)

	all, err := s.ListInstances(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCreateInstance_Validation(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.CreateInstance(ctx, InstanceInput{ConfigurationID: "x", ChannelID: "not-a-channel"})
	assert.True(t, dashboard.IsValidation(err))

	_, err = s.CreateInstance(ctx, InstanceInput{ConfigurationID: "missing", ChannelID: "1001", IsActive: true})
	assert.True(t, dashboard.IsValidation(err), "dangling configuration reference: %v", err)
}

func TestUpdateInstance_PartialFields(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	a := createTestConfiguration(t, s, "a", "monitoring")
	b := createTestConfiguration(t, s, "b", "monitoring")
	inst := createTestInstance(t, s, a.ID, "1001")

	updated, err := s.UpdateInstance(ctx, inst.ID, InstanceUpdate{ConfigurationID: &b.ID})
	require.NoError(t, err)
	assert.Equal(t, b.ID, updated.ConfigurationID)
	assert.Equal(t, "900", updated.GuildID)
	assert.True(t, updated.IsActive)
	assert.True(t, updated.LastUpdatedAt.After(inst.LastUpdatedAt))

	same, err := s.UpdateInstance(ctx, inst.ID, InstanceUpdate{})
	require.NoError(t, err)
	assert.True(t, same.LastUpdatedAt.Equal(updated.LastUpdatedAt))

	_, err = s.UpdateInstance(ctx, "missing", InstanceUpdate{ConfigurationID: &b.ID})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetArtifactRef(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	cfg := createTestConfiguration(t, s, "servers", "monitoring")
	inst := createTestInstance(t, s, cfg.ID, "1001")

	ok, err := s.SetArtifactRef(ctx, inst.ID, "1001/5001")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, dashboard.ArtifactRef("1001/5001"), got.ArtifactRef)

	ok, err = s.SetArtifactRef(ctx, "missing", "1/2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetArtifactRef_RejectsEmpty(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	cfg := createTestConfiguration(t, s, "servers", "monitoring")
	inst := createTestInstance(t, s, cfg.ID, "1001")
	_, err := s.SetArtifactRef(ctx, inst.ID, "1001/5001")
	require.NoError(t, err)

	_, err = s.SetArtifactRef(ctx, inst.ID, "")
	assert.True(t, dashboard.IsValidation(err))

	got, err := s.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, dashboard.ArtifactRef("1001/5001"), got.ArtifactRef)
}

func TestSetArtifactRefs_Batch(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	cfg := createTestConfiguration(t, s, "servers", "monitoring")
	a := createTestInstance(t, s, cfg.ID, "1001")
	b := createTestInstance(t, s, cfg.ID, "1002")

	statuses, err := s.SetArtifactRefs(ctx, []dashboard.Correction{
		{InstanceID: a.ID, NewRef: "1001/1"},
		{InstanceID: "vanished", NewRef: "9/9"},
		{InstanceID: b.ID, NewRef: "1002/2"},
	})
	require.NoError(t, err)
	assert.Equal(t, []dashboard.CorrectionStatus{
		dashboard.CorrectionApplied,
		dashboard.CorrectionMissing,
		dashboard.CorrectionApplied,
	}, statuses)

	got, err := s.GetInstance(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, dashboard.ArtifactRef("1002/2"), got.ArtifactRef)

	none, err := s.SetArtifactRefs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSetArtifactRefs_CompareAndSet(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	cfg := createTestConfiguration(t, s, "servers", "monitoring")
	inst := createTestInstance(t, s, cfg.ID, "1001")
	_, err := s.SetArtifactRef(ctx, inst.ID, "1001/1")
	require.NoError(t, err)

	// A sync wrote 1001/2 after the batch read 1001/1.
	_, err = s.SetArtifactRef(ctx, inst.ID, "1001/2")
	require.NoError(t, err)

	statuses, err := s.SetArtifactRefs(ctx, []dashboard.Correction{
		{InstanceID: inst.ID, OldRef: "1001/1", NewRef: "1001/3"},
	})
	require.NoError(t, err)
	assert.Equal(t, []dashboard.CorrectionStatus{dashboard.CorrectionSuperseded}, statuses)

	got, err := s.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, dashboard.ArtifactRef("1001/2"), got.ArtifactRef)

	statuses, err = s.SetArtifactRefs(ctx, []dashboard.Correction{
		{InstanceID: inst.ID, OldRef: "1001/2", NewRef: "1001/3"},
	})
	require.NoError(t, err)
	assert.Equal(t, []dashboard.CorrectionStatus{dashboard.CorrectionApplied}, statuses)
}

func TestSetArtifactRefs_NullOldRefMatchesOnlyNull(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	cfg := createTestConfiguration(t, s, "servers", "monitoring")
	fresh := createTestInstance(t, s, cfg.ID, "1001")
	stamped := createTestInstance(t, s, cfg.ID, "1002")
	_, err := s.SetArtifactRef(ctx, stamped.ID, "1002/7")
	require.NoError(t, err)

	statuses, err := s.SetArtifactRefs(ctx, []dashboard.Correction{
		{InstanceID: fresh.ID, NewRef: "1001/1"},
		{InstanceID: stamped.ID, NewRef: "1002/8"},
	})
	require.NoError(t, err)
	assert.Equal(t, []dashboard.CorrectionStatus{
		dashboard.CorrectionApplied,
		dashboard.CorrectionSuperseded,
	}, statuses)

	got, err := s.GetInstance(ctx, stamped.ID)
	require.NoError(t, err)
	assert.Equal(t, dashboard.ArtifactRef("1002/7"), got.ArtifactRef)
}

func TestSetActiveByChannelAndKind(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	monitoring := createTestConfiguration(t, s, "servers", "monitoring")
	project := createTestConfiguration(t, s, "roadmap", "project")
	createTestInstance(t, s, monitoring.ID, "1001")
	createTestInstance(t, s, monitoring.ID, "1002")
	createTestInstance(t, s, project.ID, "1003")

	n, err := s.SetActiveByChannel(ctx, "1003", false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Already inactive and unknown channels are no-ops.
	n, err = s.SetActiveByChannel(ctx, "1003", false)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	n, err = s.SetActiveByChannel(ctx, "4242", false)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = s.SetActiveByKind(ctx, "monitoring", false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	active, err := s.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestDeleteGuild_Cascades(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	cfg := createTestConfiguration(t, s, "servers", "monitoring")
	createTestInstance(t, s, cfg.ID, "1001")
	createTestInstance(t, s, cfg.ID, "1002")
	_, err := s.CreateInstance(ctx, InstanceInput{ConfigurationID: cfg.ID, GuildID: "901", ChannelID: "1003", IsActive: true})
	require.NoError(t, err)

	n, err := s.DeleteGuild(ctx, "900")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	all, err := s.ListInstances(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "1003", all[0].ChannelID)
}

func TestChannelUniqueness_HoldsUnderConcurrentCreates(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	cfg := createTestConfiguration(t, s, "servers", "monitoring")

	const n = 8
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := s.CreateInstance(ctx, InstanceInput{ConfigurationID: cfg.ID, GuildID: "900", ChannelID: "1001", IsActive: true})
			errs <- err
		}()
	}

	var ok, dup int
	for i := 0; i < n; i++ {
		err := <-errs
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrDuplicate):
			dup++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, dup)
}

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fr4iser90/dashsync/internal/dashboard"
)

func TestFindConfigurationByName_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.FindConfigurationByName(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindConfigurationByName_NormalizesName(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// "é" composed (U+00E9) vs decomposed (e + U+0301)
	stored := createTestConfiguration(t, s, "  café status ", "monitoring")
	assert.Equal(t, "café status", stored.Name)

	found, err := s.FindConfigurationByName(ctx, "cafe\u0301 status")
	require.NoError(t, err)
	assert.Equal(t, stored.ID, found.ID)
}

func TestGetConfiguration_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	stored := createTestConfiguration(t, s, "servers", "monitoring")

	got, err := s.GetConfiguration(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.ID, got.ID)
	assert.Equal(t, dashboard.Kind("monitoring"), got.Kind)
	assert.Equal(t, dashboard.Structure(`{"title":"servers"}`), got.Structure)
	assert.True(t, stored.CreatedAt.Equal(got.CreatedAt))

	_, err = s.GetConfiguration(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListConfigurations_OrderedByName(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	empty, err := s.ListConfigurations(ctx)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	createTestConfiguration(t, s, "zeta", "project")
	createTestConfiguration(t, s, "alpha", "monitoring")

	configs, err := s.ListConfigurations(ctx)
	require.NoError(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, "alpha", configs[0].Name)
	assert.Equal(t, "zeta", configs[1].Name)
}

func TestGetInstanceByChannel(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	cfg := createTestConfiguration(t, s, "servers", "monitoring")
	created := createTestInstance(t, s, cfg.ID, "1001")

	got, err := s.GetInstanceByChannel(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.True(t, got.IsActive)
	assert.True(t, got.ArtifactRef.IsZero())
	assert.Nil(t, got.Configuration)

	_, err = s.GetInstanceByChannel(ctx, "2002")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListActive_JoinsConfigurationAndFiltersInactive(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	monitoring := createTestConfiguration(t, s, "servers", "monitoring")
	project := createTestConfiguration(t, s, "roadmap", "project")
	createTestInstance(t, s, monitoring.ID, "1001")
	createTestInstance(t, s, project.ID, "1002")
	inactive := createTestInstance(t, s, project.ID, "1003")

	off := false
	_, err := s.UpdateInstance(ctx, inactive.ID, InstanceUpdate{IsActive: &off})
	require.NoError(t, err)

	active, err := s.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)

	assert.Equal(t, "1001", active[0].ChannelID)
	require.NotNil(t, active[0].Configuration)
	assert.Equal(t, "servers", active[0].Configuration.Name)
	assert.Equal(t, dashboard.Structure(`{"title":"servers"}`), active[0].Configuration.Structure)

	assert.Equal(t, "1002", active[1].ChannelID)
	require.NotNil(t, active[1].Configuration)
	assert.Equal(t, dashboard.Kind("project"), active[1].Configuration.Kind)
}

func TestListActive_BrokenReferenceHasNilConfiguration(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	cfg := createTestConfiguration(t, s, "servers", "monitoring")
	createTestInstance(t, s, cfg.ID, "1001")

	// Simulate a legacy row whose configuration was removed without
	// foreign key enforcement.
	_, err := s.db.Exec("PRAGMA foreign_keys = OFF")
	require.NoError(t, err)
	_, err = s.db.Exec("DELETE FROM configurations WHERE id = ?", cfg.ID)
	require.NoError(t, err)
	_, err = s.db.Exec("PRAGMA foreign_keys = ON")
	require.NoError(t, err)

	active, err := s.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, cfg.ID, active[0].ConfigurationID)
	assert.Nil(t, active[0].Configuration)
}

func TestListInstances_IncludesInactive(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	cfg := createTestConfiguration(t, s, "servers", "monitoring")
	createTestInstance(t, s, cfg.ID, "1002")
	createTestInstance(t, s, cfg.ID, "1001")
	_, err := s.SetActiveByChannel(ctx, "1002", false)
	require.NoError(t, err)

	all, err := s.ListInstances(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "1001", all[0].ChannelID)
	assert.False(t, all[1].IsActive)
}

package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/fr4iser90/dashsync/internal/dashboard"
	"github.com/fr4iser90/dashsync/internal/testutil"
)

// createTestStore creates a new file-backed store with deterministic clock
// and identities.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path,
		WithClock(testutil.NewDeterministicClock()),
		WithIDGenerator(testutil.NewSequenceIDGenerator("row")),
	)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestConfiguration stores a configuration with a small structure.
func createTestConfiguration(t *testing.T, s *Store, name string, kind dashboard.Kind) dashboard.Configuration {
	t.Helper()
	cfg, _, err := s.UpsertConfiguration(context.Background(), ConfigurationInput{
		Name:      name,
		Kind:      kind,
		Structure: dashboard.Structure(`{"title":"` + name + `"}`),
	})
	if err != nil {
		t.Fatalf("UpsertConfiguration(%q) failed: %v", name, err)
	}
	return cfg
}

// createTestInstance stores an active instance for channelID.
func createTestInstance(t *testing.T, s *Store, configID, channelID string) dashboard.ActiveInstance {
	t.Helper()
	inst, err := s.CreateInstance(context.Background(), InstanceInput{
		ConfigurationID: configID,
		GuildID:         "900",
		ChannelID:       channelID,
		IsActive:        true,
	})
	if err != nil {
		t.Fatalf("CreateInstance(%q) failed: %v", channelID, err)
	}
	return inst
}

// verifyPragma checks that a pragma is set to the expected value.
func verifyPragma(s *Store, name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

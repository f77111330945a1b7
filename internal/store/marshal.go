package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/fr4iser90/dashsync/internal/dashboard"
)

// Timestamps are stored as RFC 3339 text in UTC so rows stay readable from
// the sqlite3 shell.
const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// normalizeName returns the canonical form of a configuration name:
// trimmed and NFC-normalized, so visually identical names collide on the
// UNIQUE constraint.
func normalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// nullRef maps the zero ArtifactRef to NULL.
func nullRef(ref dashboard.ArtifactRef) sql.NullString {
	if ref.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: string(ref), Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

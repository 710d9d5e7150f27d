package migrations

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrationFilesAreEmbedded(t *testing.T) {
	entries, err := MigrationFiles.ReadDir(".")
	require.NoError(t, err)

	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		names[e.Name()] = true
	}
	require.True(t, names["001_create_ledger_tables.up.sql"])
	require.True(t, names["001_create_ledger_tables.down.sql"])
}

func TestMigrationPairsComplete(t *testing.T) {
	entries, err := MigrationFiles.ReadDir(".")
	require.NoError(t, err)

	ups, downs := 0, 0
	for _, e := range entries {
		switch {
		case len(e.Name()) > 7 && e.Name()[len(e.Name())-7:] == ".up.sql":
			ups++
		case len(e.Name()) > 9 && e.Name()[len(e.Name())-9:] == ".down.sql":
			downs++
		}
	}
	require.Equal(t, ups, downs)
	require.Greater(t, ups, 0)
}

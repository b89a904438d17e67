package db

import (
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrations_SortsAndSkips(t *testing.T) {
	fsys := fstest.MapFS{
		"010_later.sql":  {Data: []byte("SELECT 10")},
		"002_second.sql": {Data: []byte("SELECT 2")},
		"001_first.sql":  {Data: []byte("SELECT 1")},
		"README.md":      {Data: []byte("docs")},
		"notes.sql":      {Data: []byte("no version")},
		"abc_bad.sql":    {Data: []byte("bad prefix")},
	}

	migrations, err := LoadMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, migrations, 3)

	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "001_first.sql", migrations[0].Name)
	assert.Equal(t, 2, migrations[1].Version)
	assert.Equal(t, 10, migrations[2].Version)
	assert.Equal(t, "SELECT 10", migrations[2].SQL)
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1")},
		"1_b.sql":   {Data: []byte("SELECT 1")},
	}

	_, err := LoadMigrations(fsys)
	assert.Error(t, err)
}

func TestEmbeddedSchemaCarriesBookedTripleIndex(t *testing.T) {
	migrations, err := EmbeddedMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	assert.Equal(t, 1, migrations[0].Version)

	var all strings.Builder
	for _, m := range migrations {
		all.WriteString(m.SQL)
	}
	schema := all.String()
	assert.Contains(t, schema, "appointments_booked_triple_key")
	assert.Contains(t, schema, "WHERE status = 'booked'")
	assert.Contains(t, schema, "dispatched_at")
}

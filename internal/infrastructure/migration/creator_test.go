package migration

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/erp/stockledger/migrations"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"add batch index", "add_batch_index"},
		{"Add-Batch-Index", "add_batch_index"},
		{"ADD__BATCH__INDEX", "add_batch_index"},
		{"cash 2024", "cash_2024"},
		{"   spaces   ", "spaces"},
		{"special!@#$chars", "specialchars"},
		{"trailing_", "trailing"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeName(tt.input))
		})
	}
}

func TestCreateMigration_Sequential(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "migrations")

	first, err := CreateMigration(dir, "create ledger tables", "ledger schema")
	require.NoError(t, err)
	assert.Equal(t, uint(1), first.Version)
	assert.Equal(t, "000001_create_ledger_tables.up.sql", filepath.Base(first.UpPath))

	second, err := CreateMigration(dir, "add outbox", "")
	require.NoError(t, err)
	assert.Equal(t, uint(2), second.Version)
	assert.True(t, strings.HasSuffix(second.DownPath, "000002_add_outbox.down.sql"))

	up, err := os.ReadFile(first.UpPath)
	require.NoError(t, err)
	assert.Contains(t, string(up), "ledger schema")
	down, err := os.ReadFile(first.DownPath)
	require.NoError(t, err)
	assert.Contains(t, string(down), "Rollback")

	_, err = CreateMigration(dir, "!!!", "")
	assert.Error(t, err)
}

func TestListMigrations(t *testing.T) {
	dir := t.TempDir()
	for _, f := range []string{
		"000002_add_outbox.up.sql",
		"000002_add_outbox.down.sql",
		"000001_init.up.sql",
		"000001_init.down.sql",
		"000003_partial.up.sql",
		"README.md",
		".gitkeep",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte("-- test"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "000009_dir.up.sql"), 0o755))

	files, err := ListMigrations(dir)
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, []uint{1, 2, 3}, []uint{files[0].Version, files[1].Version, files[2].Version})
	assert.Equal(t, "add_outbox", files[1].Name)
	assert.False(t, files[2].HasDown())

	err = Validate(files)
	assert.ErrorContains(t, err, "000003")
	assert.ErrorContains(t, err, "no down file")

	none, err := ListMigrations(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestShippedMigrations(t *testing.T) {
	files, err := ListMigrations(filepath.Join("..", "..", "..", "migrations"))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	assert.NoError(t, Validate(files))

	src, err := iofs.New(migrations.FS, ".")
	require.NoError(t, err)
	defer src.Close()

	versions, err := sourceVersions(src)
	require.NoError(t, err)
	require.Len(t, versions, len(files))
	for i, f := range files {
		assert.Equal(t, f.Version, versions[i])
	}
}

func TestSourceVersions_Empty(t *testing.T) {
	src, err := iofs.New(fstest.MapFS{"README.md": {Data: []byte("x")}}, ".")
	require.NoError(t, err)
	versions, err := sourceVersions(src)
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestZapMigrateLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &zapMigrateLogger{logger: zap.New(core)}

	assert.True(t, l.Verbose())
	l.Printf("Start buffering %d/u %s\n", 1, "create_ledger_tables")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "Start buffering 1/u create_ledger_tables", logs.All()[0].Message)

	quiet := &zapMigrateLogger{logger: zap.NewNop()}
	assert.False(t, quiet.Verbose())
}

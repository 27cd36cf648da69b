package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "tinyopds.db", cfg.DatabaseFilePath)
	assert.Equal(t, SortOrderLatinFirst, cfg.SortOrder)
	assert.Equal(t, 30, cfg.NewBooksPeriodDays())
	assert.False(t, cfg.UseAuthorsAliases)
}

func TestNew_FromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tinyopds.yml")
	data := []byte("library_path: /books\nsort_order: 1\nnew_books_period: 0\nuse_authors_aliases: true\n")
	require.NoError(t, os.WriteFile(path, data, 0644))
	t.Setenv("TINYOPDS_CONFIG", path)

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "/books", cfg.LibraryPath)
	assert.Equal(t, SortOrderCyrillicFirst, cfg.SortOrder)
	assert.Equal(t, 7, cfg.NewBooksPeriodDays())
	assert.True(t, cfg.UseAuthorsAliases)
}

func TestNew_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tinyopds.yml")
	require.NoError(t, os.WriteFile(path, []byte("library_path: /books\n"), 0644))
	t.Setenv("TINYOPDS_CONFIG", path)
	t.Setenv("TINYOPDS_LIBRARY_PATH", "/override")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "/override", cfg.LibraryPath)
}

func TestNew_RejectsBadPeriodIndex(t *testing.T) {
	t.Setenv("TINYOPDS_NEW_BOOKS_PERIOD", "99")

	_, err := New()
	require.Error(t, err)
}

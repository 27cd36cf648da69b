package genres

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinyopds/tinyopds/pkg/migrations"
	"github.com/tinyopds/tinyopds/pkg/models"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func setupTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	// Every pooled connection gets its own in-memory database, so the pool
	// must stay at a single connection.
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	_, err = migrations.BringUpToDate(context.Background(), db)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestParseTaxonomy(t *testing.T) {
	t.Parallel()

	rows, err := EmbeddedTaxonomy()
	require.NoError(t, err)
	require.NotEmpty(t, rows)

	var mains, subs int
	for _, row := range rows {
		if row.IsMain() {
			mains++
			assert.Empty(t, row.ParentName)
		} else {
			subs++
			assert.NotEmpty(t, row.Tag)
			assert.NotEmpty(t, row.ParentName)
		}
	}
	assert.Greater(t, mains, 5)
	assert.Greater(t, subs, 50)
}

func TestSeed_Monotone(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()
	svc := NewService(db)

	inserted, err := svc.Seed(ctx)
	require.NoError(t, err)
	assert.Greater(t, inserted, 0)

	// Second seed is a no-op: the store already holds every entry.
	inserted, err = svc.Seed(ctx)
	require.NoError(t, err)
	assert.Zero(t, inserted)
}

func TestSeed_NeverDeletesExtraRows(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()
	svc := NewService(db)

	_, err := svc.Seed(ctx)
	require.NoError(t, err)

	custom := &models.Genre{Tag: "local_custom", Name: "Custom", ParentName: "Prose"}
	_, err = db.NewInsert().Model(custom).Exec(ctx)
	require.NoError(t, err)

	_, err = svc.Seed(ctx)
	require.NoError(t, err)

	got, err := svc.RetrieveGenre(ctx, "local_custom")
	require.NoError(t, err)
	assert.Equal(t, "Custom", got.Name)
}

func TestReload_Destructive(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()
	svc := NewService(db)

	_, err := svc.Seed(ctx)
	require.NoError(t, err)

	custom := &models.Genre{Tag: "local_custom", Name: "Custom"}
	_, err = db.NewInsert().Model(custom).Exec(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.Reload(ctx))

	_, err = svc.RetrieveGenre(ctx, "local_custom")
	require.Error(t, err)

	// Canonical rows are back.
	_, err = svc.RetrieveGenre(ctx, "sf_fantasy")
	require.NoError(t, err)
}

func TestTree(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()
	svc := NewService(db)

	_, err := svc.Seed(ctx)
	require.NoError(t, err)

	tree, err := svc.Tree(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, tree)

	var sf *TreeNode
	for _, node := range tree {
		require.NotEmpty(t, node.Subgenres)
		if node.Name == "Science Fiction & Fantasy" {
			sf = node
		}
	}
	require.NotNil(t, sf)
	assert.Equal(t, "Фантастика и фэнтези", sf.Translation)

	tags := make([]string, 0, len(sf.Subgenres))
	for _, sub := range sf.Subgenres {
		tags = append(tags, sub.Tag)
	}
	assert.Contains(t, tags, "sf_fantasy")
}

func TestTagIndex_Normalize(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()
	svc := NewService(db)

	_, err := svc.Seed(ctx)
	require.NoError(t, err)

	idx, err := svc.BuildTagIndex(ctx)
	require.NoError(t, err)

	// Known tags pass through.
	assert.Equal(t, "sf_fantasy", idx.Normalize("sf_fantasy"))

	// A misspelled tag with the same Soundex is recovered.
	assert.Equal(t, "sf_fantasy", idx.Normalize("sf_fantazy"))

	// Unrecoverable tags are kept for a later validation pass.
	assert.Equal(t, "zz_unheard_of", idx.Normalize("zz_unheard_of"))
}

func TestBookCounts(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()
	svc := NewService(db)

	_, err := svc.Seed(ctx)
	require.NoError(t, err)

	active := &models.Book{ID: "b1", FileName: "a.fb2", Title: "A", BookType: models.BookTypeFB2}
	replaced := &models.Book{ID: "b2", FileName: "b.fb2", Title: "B", BookType: models.BookTypeFB2}
	_, err = db.NewInsert().Model(active).Exec(ctx)
	require.NoError(t, err)
	_, err = db.NewInsert().Model(replaced).Exec(ctx)
	require.NoError(t, err)
	_, err = db.NewUpdate().Model((*models.Book)(nil)).
		Set("replaced_by_id = ?", "b1").
		Where("id = ?", "b2").
		Exec(ctx)
	require.NoError(t, err)

	for _, bookID := range []string{"b1", "b2"} {
		_, err = db.NewInsert().Model(&models.BookGenre{BookID: bookID, GenreTag: "sf"}).Exec(ctx)
		require.NoError(t, err)
	}

	counts, err := svc.BookCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts["sf"])
}

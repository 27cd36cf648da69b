// Package genres manages the two-level genre taxonomy: seeding it from the
// embedded XML, serving the navigation tree, and recovering misspelled
// incoming tags through a Soundex index.
package genres

import (
	"context"
	"database/sql"
	"sort"

	"github.com/pkg/errors"
	"github.com/tinyopds/tinyopds/pkg/errcodes"
	"github.com/tinyopds/tinyopds/pkg/models"
	"github.com/tinyopds/tinyopds/pkg/translit"
	"github.com/uptrace/bun"
)

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

// Seed inserts taxonomy rows from the embedded XML when the XML carries
// strictly more entries than the store already holds. Existing rows are never
// deleted or overwritten, so seeding stays monotone across upgrades. Returns
// the number of rows inserted.
func (svc *Service) Seed(ctx context.Context) (int, error) {
	rows, err := EmbeddedTaxonomy()
	if err != nil {
		return 0, err
	}

	stored, err := svc.db.NewSelect().Model((*models.Genre)(nil)).Count(ctx)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	if len(rows) <= stored {
		return 0, nil
	}

	res, err := svc.db.NewInsert().
		Model(&rows).
		On("CONFLICT (tag) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Reload clears the taxonomy and re-seeds it from the embedded XML. Book
// associations are left in place; tags that vanish from the XML dangle until
// a later validation pass.
func (svc *Service) Reload(ctx context.Context) error {
	rows, err := EmbeddedTaxonomy()
	if err != nil {
		return err
	}

	return svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewDelete().
			Model((*models.Genre)(nil)).
			Where("1 = 1").
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = tx.NewInsert().Model(&rows).Exec(ctx)
		return errors.WithStack(err)
	})
}

func (svc *Service) RetrieveGenre(ctx context.Context, tag string) (*models.Genre, error) {
	genre := &models.Genre{}

	err := svc.db.NewSelect().
		Model(genre).
		Where("g.tag = ?", tag).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Genre")
		}
		return nil, errors.WithStack(err)
	}

	return genre, nil
}

// TreeNode is one parent label with its subgenres, ordered by English name.
type TreeNode struct {
	Name        string
	Translation string
	Subgenres   []*models.Genre
}

// Tree reconstructs the navigation tree from the stored rows. Parents with no
// surviving subgenres are dropped.
func (svc *Service) Tree(ctx context.Context) ([]*TreeNode, error) {
	var rows []*models.Genre
	err := svc.db.NewSelect().
		Model(&rows).
		Order("g.name ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	nodes := map[string]*TreeNode{}
	for _, row := range rows {
		if row.IsMain() {
			if _, ok := nodes[row.Name]; !ok {
				nodes[row.Name] = &TreeNode{Name: row.Name, Translation: row.Translation}
			}
		}
	}
	for _, row := range rows {
		if row.IsMain() || row.ParentName == "" {
			continue
		}
		node, ok := nodes[row.ParentName]
		if !ok {
			node = &TreeNode{Name: row.ParentName}
			nodes[row.ParentName] = node
		}
		node.Subgenres = append(node.Subgenres, row)
	}

	tree := make([]*TreeNode, 0, len(nodes))
	for _, node := range nodes {
		if len(node.Subgenres) > 0 {
			tree = append(tree, node)
		}
	}
	sort.Slice(tree, func(i, j int) bool { return tree[i].Name < tree[j].Name })
	return tree, nil
}

// TagIndex supports tag normalization on insert: known tags pass through,
// unknown ones are recovered by Soundex when possible and otherwise kept.
type TagIndex struct {
	Known     map[string]bool
	BySoundex map[string]string
}

func (idx *TagIndex) Normalize(tag string) string {
	if idx.Known[tag] {
		return tag
	}
	if match, ok := idx.BySoundex[translit.Soundex(tag)]; ok {
		return match
	}
	return tag
}

// BuildTagIndex loads every usable subgenre tag with its Soundex code. When
// two tags collide on Soundex the first one in tag order wins.
func (svc *Service) BuildTagIndex(ctx context.Context) (*TagIndex, error) {
	var rows []*models.Genre
	err := svc.db.NewSelect().
		Model(&rows).
		Where("g.tag NOT LIKE ?", models.MainGenrePrefix+"%").
		Order("g.tag ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	idx := &TagIndex{
		Known:     make(map[string]bool, len(rows)),
		BySoundex: make(map[string]string, len(rows)),
	}
	for _, row := range rows {
		idx.Known[row.Tag] = true
		code := translit.Soundex(row.Tag)
		if code == "" {
			continue
		}
		if _, ok := idx.BySoundex[code]; !ok {
			idx.BySoundex[code] = row.Tag
		}
	}
	return idx, nil
}

// BookCounts returns per-tag counts over active books.
func (svc *Service) BookCounts(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		GenreTag string
		Count    int
	}
	err := svc.db.NewSelect().
		Model((*models.BookGenre)(nil)).
		ColumnExpr("bg.genre_tag AS genre_tag").
		ColumnExpr("count(*) AS count").
		Join("INNER JOIN books b ON b.id = bg.book_id").
		Where("b.replaced_by_id IS NULL").
		Group("bg.genre_tag").
		Scan(ctx, &rows)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.GenreTag] = row.Count
	}
	return counts, nil
}

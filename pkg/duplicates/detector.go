// Package duplicates decides whether an incoming book is already in the
// library and which record survives. The policy errs toward preservation:
// losing a unique edition costs more than keeping a near-duplicate.
package duplicates

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/tinyopds/tinyopds/pkg/books"
	"github.com/tinyopds/tinyopds/pkg/errcodes"
	"github.com/tinyopds/tinyopds/pkg/models"
	"github.com/uptrace/bun"
)

// MatchType records which probe identified the duplicate.
type MatchType int

const (
	MatchNone MatchType = iota
	MatchContentHash
	MatchDuplicateKey
	MatchFuzzy
)

func (mt MatchType) String() string {
	switch mt {
	case MatchContentHash:
		return "content_hash"
	case MatchDuplicateKey:
		return "duplicate_key"
	case MatchFuzzy:
		return "fuzzy"
	default:
		return "none"
	}
}

// CheckResult is the verdict for one candidate.
type CheckResult struct {
	IsDuplicate   bool
	ExistingBook  *models.Book
	ShouldReplace bool
	MatchType     MatchType
	Score         int

	// ReplaceIDs lists every matching record to mark replaced when the
	// candidate wins.
	ReplaceIDs []string
}

// replaceThreshold keeps near-ties from thrashing between editions.
const replaceThreshold = 2

type Detector struct {
	books *books.Service
}

func NewDetector(booksSvc *books.Service) *Detector {
	return &Detector{books: booksSvc}
}

// CheckDuplicate probes the store for the candidate: first by content hash,
// then by trusted document ID, then by duplicate key with the translator-set
// predicate. The stream, when given, supplies the content hash lazily.
func (d *Detector) CheckDuplicate(ctx context.Context, candidate *models.Book, stream io.ReadSeeker) (*CheckResult, error) {
	return d.check(ctx, d.books.DB(), candidate, stream)
}

// check runs the probes on the given handle. During batch load this is the
// batch transaction, so earlier inserts from the same batch are visible.
func (d *Detector) check(ctx context.Context, idb bun.IDB, candidate *models.Book, stream io.ReadSeeker) (*CheckResult, error) {
	if !candidate.IsValid() {
		return nil, errcodes.ValidationError("Book needs a title, an author and a genre.")
	}

	if candidate.DuplicateKey == "" {
		candidate.DuplicateKey = candidate.GenerateDuplicateKey()
	}
	if candidate.ContentHash == "" && stream != nil {
		candidate.GenerateContentHash(stream)
	}

	// A filename already on record is the same file re-offered; it carries
	// no new information, replaced or not.
	existing, err := books.RetrieveBook(ctx, idb, books.RetrieveBookOptions{
		FileName:        &candidate.FileName,
		IncludeReplaced: true,
	})
	if err != nil && !errors.Is(err, errcodes.NotFound("Book")) {
		return nil, err
	}
	if err == nil {
		return &CheckResult{
			IsDuplicate:  true,
			ExistingBook: existing,
			MatchType:    MatchContentHash,
		}, nil
	}

	// An identical file under another name carries no new information
	// either.
	if candidate.ContentHash != "" {
		hit, err := books.FindByContentHash(ctx, idb, candidate.ContentHash)
		if err != nil {
			return nil, err
		}
		if hit != nil {
			return &CheckResult{
				IsDuplicate:  true,
				ExistingBook: hit,
				MatchType:    MatchContentHash,
			}, nil
		}
	}

	// A trusted ID identifies the work even when title normalization drifts
	// and the duplicate keys disagree.
	if candidate.DocumentIDTrusted && candidate.ID != "" {
		existing, err := books.RetrieveBook(ctx, idb, books.RetrieveBookOptions{ID: &candidate.ID})
		if err != nil && !errors.Is(err, errcodes.NotFound("Book")) {
			return nil, err
		}
		if err == nil && existing.DocumentIDTrusted && existing.DuplicateKey != candidate.DuplicateKey {
			score := candidate.CompareTo(existing)
			result := &CheckResult{
				IsDuplicate:  true,
				ExistingBook: existing,
				MatchType:    MatchFuzzy,
				Score:        score,
			}
			if score > replaceThreshold {
				result.ShouldReplace = true
				result.ReplaceIDs = []string{existing.ID}
			}
			return result, nil
		}
	}

	matches, err := books.FindByDuplicateKey(ctx, idb, candidate.DuplicateKey)
	if err != nil {
		return nil, err
	}

	var qualifying []*models.Book
	for _, match := range matches {
		if candidate.IsDuplicateOf(match) {
			qualifying = append(qualifying, match)
		}
	}
	// A key collision alone is not a duplicate: a different translation or
	// volume shares the key legitimately.
	if len(qualifying) == 0 {
		return &CheckResult{MatchType: MatchNone}, nil
	}

	best := qualifying[0]
	bestScore := candidate.CompareTo(best)
	for _, match := range qualifying[1:] {
		if score := candidate.CompareTo(match); score > bestScore {
			best = match
			bestScore = score
		}
	}

	// Indistinguishable quality: keep both editions.
	if bestScore == 0 {
		return &CheckResult{MatchType: MatchNone}, nil
	}

	result := &CheckResult{
		IsDuplicate:  true,
		ExistingBook: best,
		MatchType:    MatchDuplicateKey,
		Score:        bestScore,
	}
	if bestScore > replaceThreshold {
		result.ShouldReplace = true
		for _, match := range qualifying {
			result.ReplaceIDs = append(result.ReplaceIDs, match.ID)
		}
	}
	return result, nil
}

// ProcessDuplicate applies the conservative policy and reports whether the
// candidate was inserted.
func (d *Detector) ProcessDuplicate(ctx context.Context, candidate *models.Book, result *CheckResult) (bool, error) {
	if result == nil || !result.IsDuplicate {
		if err := d.books.AddBook(ctx, candidate); err != nil {
			return false, err
		}
		return true, nil
	}

	switch {
	case result.MatchType == MatchContentHash:
		return false, nil
	case result.ShouldReplace:
		if err := d.books.AddBook(ctx, candidate); err != nil {
			return false, err
		}
		if err := d.books.MarkReplaced(ctx, candidate.ID, result.ReplaceIDs); err != nil {
			return false, err
		}
		return true, nil
	case result.Score >= -1 && result.Score <= 1:
		// Err toward preservation.
		if err := d.books.AddBook(ctx, candidate); err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, nil
	}
}

// Decide adapts the detector to the batch loader's policy interface. The
// probes run on the handle the loader supplies, which inside a batch is the
// open transaction.
func (d *Detector) Decide(ctx context.Context, idb bun.IDB, book *models.Book) (books.DuplicateDecision, error) {
	result, err := d.check(ctx, idb, book, nil)
	if err != nil {
		return books.DuplicateDecision{}, err
	}
	if !result.IsDuplicate {
		return books.DuplicateDecision{}, nil
	}

	decision := books.DuplicateDecision{Duplicate: true}
	switch {
	case result.MatchType == MatchContentHash:
		decision.Skip = true
	case result.ShouldReplace:
		decision.ReplaceIDs = result.ReplaceIDs
	case result.Score >= -1 && result.Score <= 1:
		// Inserted alongside the existing edition.
	default:
		decision.Skip = true
	}
	return decision, nil
}

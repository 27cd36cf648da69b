package library

import (
	"sync"
	"time"

	"github.com/tinyopds/tinyopds/pkg/books"
	"github.com/tinyopds/tinyopds/pkg/genres"
	"github.com/tinyopds/tinyopds/pkg/models"
)

// refreshTimeout bounds how long a reader waits for the refresh slot before
// serving stale values and queueing an async refresh.
const refreshTimeout = 100 * time.Millisecond

const (
	stableCountsTTL = time.Hour
	newBooksTTL     = 5 * time.Minute
	listsTTL        = 10 * time.Minute
	alphabetTTL     = 2 * time.Hour
	genreTreeTTL    = 5 * time.Minute
)

// slot is a try-lockable refresh token: at most one holder at a time, with a
// bounded wait for acquisition.
type slot chan struct{}

func newSlot() slot {
	s := make(slot, 1)
	s <- struct{}{}
	return s
}

func (s slot) tryAcquire(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s:
		return true
	case <-timer.C:
		return false
	}
}

func (s slot) release() {
	s <- struct{}{}
}

// countCache holds the six library counters. Invalidation clears the
// timestamps but never the values, so readers see the last known counts
// instead of zeros while a recount runs.
type countCache struct {
	mu       sync.RWMutex
	counts   books.Counts
	stableAt time.Time
	newAt    time.Time

	refresh slot
}

func newCountCache() *countCache {
	return &countCache{refresh: newSlot()}
}

func (c *countCache) snapshot() (books.Counts, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fresh := time.Since(c.stableAt) < stableCountsTTL && time.Since(c.newAt) < newBooksTTL
	return c.counts, fresh
}

func (c *countCache) store(counts books.Counts) {
	now := time.Now()
	c.mu.Lock()
	c.counts = counts
	c.stableAt = now
	c.newAt = now
	c.mu.Unlock()
}

func (c *countCache) invalidate() {
	c.mu.Lock()
	c.stableAt = time.Time{}
	c.newAt = time.Time{}
	c.mu.Unlock()
}

// seed installs persisted counters without marking them fresh, so a restart
// shows numbers immediately and the first recount still runs.
func (c *countCache) seed(stats map[string]*models.LibraryStat) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := stats[models.StatTotalBooks]; ok {
		c.counts.TotalBooks = s.Value
	}
	if s, ok := stats[models.StatFB2Books]; ok {
		c.counts.FB2Books = s.Value
	}
	if s, ok := stats[models.StatEPUBBooks]; ok {
		c.counts.EPUBBooks = s.Value
	}
	if s, ok := stats[models.StatAuthorsCount]; ok {
		c.counts.Authors = s.Value
	}
	if s, ok := stats[models.StatSequencesCount]; ok {
		c.counts.Sequences = s.Value
	}
	if s, ok := stats[models.StatNewBooks]; ok {
		c.counts.NewBooks = s.Value
	}
}

// listCache holds the flat author and sequence listings with book counts.
type listCache struct {
	mu        sync.RWMutex
	authors   []*models.Author
	sequences []*models.Sequence
	fetchedAt time.Time
}

func (c *listCache) invalidate() {
	c.mu.Lock()
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}

// alphabetCache groups authors under their uppercased first letter for the
// alphabetical navigation feed.
type alphabetCache struct {
	mu       sync.RWMutex
	letters  []string
	byLetter map[string][]*models.Author
	builtAt  time.Time
}

func (c *alphabetCache) invalidate() {
	c.mu.Lock()
	c.builtAt = time.Time{}
	c.mu.Unlock()
}

type treeCache struct {
	mu      sync.RWMutex
	nodes   []*genres.TreeNode
	builtAt time.Time
}

func (c *treeCache) invalidate() {
	c.mu.Lock()
	c.builtAt = time.Time{}
	c.mu.Unlock()
}

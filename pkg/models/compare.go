package models

import (
	"crypto/md5" //nolint:gosec // fingerprint, not security
	"encoding/hex"
	"io"
	"regexp"
	"strconv"
	"time"
)

// contentHashPrefixSize bounds the prefix read for the content fingerprint.
const contentHashPrefixSize = 10 * 1024

// archivePriorityRe extracts the range-numbered FB2 archive name. The second
// number orders archives chronologically and is the strongest replacement
// signal we have.
var archivePriorityRe = regexp.MustCompile(`fb2-(\d+)-(\d+)\.zip`)

// GenerateContentHash fingerprints the first 10 KiB of the book stream. The
// stream position is restored before returning. Failures yield "".
func GenerateContentHash(r io.ReadSeeker) string {
	if r == nil {
		return ""
	}
	pos, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return ""
	}
	defer r.Seek(pos, io.SeekStart) //nolint:errcheck // best effort restore
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return ""
	}
	h := md5.New() //nolint:gosec // fingerprint, not security
	if _, err := io.CopyN(h, r, contentHashPrefixSize); err != nil && err != io.EOF {
		return ""
	}
	return hex.EncodeToString(h.Sum(nil))
}

// GenerateContentHash computes and stores the book's content fingerprint.
func (b *Book) GenerateContentHash(r io.ReadSeeker) string {
	b.ContentHash = GenerateContentHash(r)
	return b.ContentHash
}

// GetArchivePriority returns the second number of a range-numbered FB2
// archive filename, or 0 when the filename does not carry one.
func (b *Book) GetArchivePriority() int {
	m := archivePriorityRe.FindStringSubmatch(b.FileName)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return 0
	}
	return n
}

const dayTolerance = 24 * time.Hour

// CompareTo scores this book against another copy of (presumably) the same
// work. Positive means b is the better record to keep, negative means other
// wins. The magnitude encodes confidence; a result of 0 means the two are
// indistinguishable in quality.
func (b *Book) CompareTo(other *Book) int {
	// Archive numbering trumps everything: a strictly newer archive carries
	// the corrected file.
	bp, op := b.GetArchivePriority(), other.GetArchivePriority()
	if bp > 0 && op > 0 && bp != op {
		if bp > op {
			return 10
		}
		return -10
	}

	score := 0

	if b.DocumentIDTrusted && other.DocumentIDTrusted && b.ID == other.ID {
		switch {
		case b.Version > other.Version:
			score += 5
		case b.Version < other.Version:
			score -= 5
		}
		switch {
		case b.DocumentDate.Sub(other.DocumentDate) > dayTolerance:
			score += 2
		case other.DocumentDate.Sub(b.DocumentDate) > dayTolerance:
			score -= 2
		}
		return score
	}

	// FB2 carries richer metadata than a derived EPUB.
	if b.BookType != other.BookType {
		if b.BookType == BookTypeFB2 {
			score += 2
		} else {
			score -= 2
		}
	}
	switch {
	case b.DocumentDate.Sub(other.DocumentDate) > dayTolerance:
		score += 3
	case other.DocumentDate.Sub(b.DocumentDate) > dayTolerance:
		score -= 3
	}
	if b.DocumentSize > 0 && other.DocumentSize > 0 {
		ratio := float64(b.DocumentSize) / float64(other.DocumentSize)
		switch {
		case ratio > 1.2:
			score++
		case ratio < 1.0/1.2:
			score--
		}
	}
	if b.DocumentIDTrusted != other.DocumentIDTrusted {
		if b.DocumentIDTrusted {
			score++
		} else {
			score--
		}
	}
	return score
}

// IsDuplicateOf reports whether the two records describe the same edition.
// A shared duplicate key alone is not enough: different translations of the
// same work collide on the key and must both be kept.
func (b *Book) IsDuplicateOf(other *Book) bool {
	if b.DocumentIDTrusted && other.DocumentIDTrusted && b.ID == other.ID {
		return true
	}
	if b.ContentHash != "" && b.ContentHash == other.ContentHash {
		return true
	}
	if b.DuplicateKey != "" && b.DuplicateKey == other.DuplicateKey {
		return TranslatorSetsMatch(b.Translators, other.Translators)
	}
	return false
}

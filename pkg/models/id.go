package models

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// fbdPattern matches FictionBook Designer identifiers: "FBD-" followed by
// dash-separated hex groups.
var fbdPattern = regexp.MustCompile(`^FBD-[0-9A-Fa-f]+(?:-[0-9A-Fa-f]+)*$`)

// calendarFragments appear inside UUID-shaped identifiers written by broken
// LibRusEc-kit toolchains that substituted the current date into the ID.
var calendarFragments = []string{
	"mon", "tue", "wed", "thu", "fri", "sat", "sun",
	"jan", "feb", "mar", "apr", "may", "jun",
	"jul", "aug", "sep", "oct", "nov", "dec",
}

// placeholderIDs are well-known junk identifiers emitted by FB2 editors.
var placeholderIDs = map[string]struct{}{
	"00000000-0000-0000-0000-000000000000": {},
	"ffffffff-ffff-ffff-ffff-ffffffffffff": {},
	"11111111-1111-1111-1111-111111111111": {},
	"deadbeef-dead-beef-dead-beefdeadbeef": {},
}

// idNamespace is the namespace for deterministic fallback IDs derived from
// the library-relative filename.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("tinyopds://library"))

// IsTrustedID reports whether the candidate identifier comes from a source
// reliable enough to use for duplicate matching: an FBD identifier, a
// LibRusEc numeric ID above 100000, or a UUID that is neither a known
// placeholder nor a calendar-mangled LibRusEc-kit artifact.
func IsTrustedID(candidate string) bool {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return false
	}
	if fbdPattern.MatchString(candidate) {
		return true
	}
	if n, err := strconv.ParseInt(candidate, 10, 64); err == nil {
		return n > 100000
	}
	if _, err := uuid.Parse(candidate); err != nil {
		return false
	}
	lower := strings.ToLower(candidate)
	if _, ok := placeholderIDs[lower]; ok {
		return false
	}
	for _, frag := range calendarFragments {
		if strings.Contains(lower, frag) {
			return false
		}
	}
	return true
}

// DeterministicID derives a stable UUIDv5 from the filename, for books whose
// embedded identifier cannot be trusted.
func DeterministicID(fileName string) string {
	return uuid.NewSHA1(idNamespace, []byte(fileName)).String()
}

// SetID assigns the candidate identifier to the book if it is trusted;
// otherwise it derives a deterministic untrusted ID from the filename.
func (b *Book) SetID(candidate string) {
	if IsTrustedID(candidate) {
		b.ID = strings.TrimSpace(candidate)
		b.DocumentIDTrusted = true
		return
	}
	b.ID = DeterministicID(b.FileName)
	b.DocumentIDTrusted = false
}

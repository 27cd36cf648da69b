// Package aliases maps author-name variants (pseudonyms, transliterations,
// misspellings) to a canonical form. The table ships as an embedded gzipped
// resource; an external a_aliases.txt next to the library overrides it.
package aliases

import (
	"bufio"
	"bytes"
	"compress/gzip"
	_ "embed"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

//go:embed aliases.txt.gz
var embeddedAliases []byte

// Table holds the alias lookup and its reverse. Lookups are case-sensitive
// on the exact stored name, matching how author names are canonicalized
// before insert.
type Table struct {
	byAlias map[string]string
	reverse map[string][]string
}

// Canonical resolves an alias to its canonical name.
func (t *Table) Canonical(name string) (string, bool) {
	canonical, ok := t.byAlias[name]
	return canonical, ok
}

// Aliases lists the known variants of a canonical name, in file order.
func (t *Table) Aliases(canonical string) []string {
	return t.reverse[canonical]
}

func (t *Table) Len() int {
	return len(t.byAlias)
}

// joinName glues name parts, dropping blanks and collapsing whitespace.
func joinName(parts ...string) string {
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

// Parse reads the line-oriented alias format: tab- or comma-separated
// records of at least 8 fields. Fields 0-2 are the canonical last, first and
// middle names; fields 6-8 the alias ones; the middle three are ignored.
// Malformed lines are skipped.
func Parse(r io.Reader) (*Table, error) {
	t := &Table{
		byAlias: map[string]string{},
		reverse: map[string][]string{},
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) < 8 {
			fields = strings.Split(line, ",")
		}
		if len(fields) < 8 {
			continue
		}
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}

		aliasMiddle := ""
		if len(fields) > 8 {
			aliasMiddle = fields[8]
		}
		canonical := joinName(fields[2], fields[0], fields[1])
		alias := joinName(aliasMiddle, fields[6], fields[7])
		if canonical == "" || alias == "" || canonical == alias {
			continue
		}

		if _, dup := t.byAlias[alias]; !dup {
			t.byAlias[alias] = canonical
			t.reverse[canonical] = append(t.reverse[canonical], alias)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.WithStack(err)
	}

	return t, nil
}

// Load reads the external alias file when it exists, falling back to the
// embedded resource.
func Load(path string) (*Table, error) {
	if path != "" {
		f, err := os.Open(path)
		if err == nil {
			defer f.Close()
			return Parse(f)
		}
		if !os.IsNotExist(err) {
			return nil, errors.WithStack(err)
		}
	}
	return LoadEmbedded()
}

// LoadEmbedded parses the compiled-in gzipped table.
func LoadEmbedded() (*Table, error) {
	gz, err := gzip.NewReader(bytes.NewReader(embeddedAliases))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer gz.Close()
	return Parse(gz)
}

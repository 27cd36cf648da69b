package genres

import (
	_ "embed"
	"encoding/xml"
	"strings"

	"github.com/pkg/errors"
	"github.com/tinyopds/tinyopds/pkg/models"
)

//go:embed genres.xml
var embeddedTaxonomy []byte

type xmlSubgenre struct {
	Tag  string `xml:"tag,attr"`
	Ru   string `xml:"ru,attr"`
	Name string `xml:",chardata"`
}

type xmlGenre struct {
	Name      string        `xml:"name,attr"`
	Ru        string        `xml:"ru,attr"`
	Subgenres []xmlSubgenre `xml:"subgenre"`
}

type xmlRoot struct {
	XMLName xml.Name   `xml:"root"`
	Genres  []xmlGenre `xml:"genre"`
}

// ParseTaxonomy flattens a taxonomy document into genre rows. Each parent
// becomes a _MAIN_ pseudo-row carrying only its translation; its subgenres
// follow with the parent's English label in ParentName.
func ParseTaxonomy(data []byte) ([]*models.Genre, error) {
	var root xmlRoot
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, errors.Wrap(err, "failed to parse genre taxonomy")
	}

	var rows []*models.Genre
	for _, g := range root.Genres {
		if g.Name == "" {
			continue
		}
		rows = append(rows, &models.Genre{
			Tag:         models.MainGenrePrefix + g.Name,
			Name:        g.Name,
			Translation: g.Ru,
		})
		for _, sub := range g.Subgenres {
			if sub.Tag == "" {
				continue
			}
			rows = append(rows, &models.Genre{
				Tag:         sub.Tag,
				Name:        strings.TrimSpace(sub.Name),
				Translation: sub.Ru,
				ParentName:  g.Name,
			})
		}
	}
	return rows, nil
}

// EmbeddedTaxonomy parses the compiled-in genre list.
func EmbeddedTaxonomy() ([]*models.Genre, error) {
	return ParseTaxonomy(embeddedTaxonomy)
}

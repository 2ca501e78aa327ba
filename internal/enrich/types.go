package enrich

import (
	"sort"
	"strings"

	"github.com/tlawson/papyrus/internal/work"
)

// Record is the enrichment payload for one work: the catalog's
// identifiers and metadata, plus the open-access location and the ids
// of works it references, which feed download and expansion.
type Record struct {
	CatalogID     string        `json:"catalog_id"`
	DOI           string        `json:"doi,omitempty"`
	Title         string        `json:"title"`
	Authors       []work.Author `json:"authors,omitempty"`
	Editors       []work.Author `json:"editors,omitempty"`
	Year          int           `json:"year,omitempty"`
	Venue         string        `json:"venue,omitempty"`
	Abstract      string        `json:"abstract,omitempty"`
	OALocation    string        `json:"oa_location,omitempty"`
	ReferencedIDs []string      `json:"referenced_ids,omitempty"`
	Raw           string        `json:"-"` // original payload, kept as source metadata
}

// catalogWork is the catalog's wire format for a work.
type catalogWork struct {
	ID          string `json:"id"`
	DOI         string `json:"doi"`
	Title       string `json:"title"`
	DisplayName string `json:"display_name"`
	Year        int    `json:"publication_year"`
	HostVenue   struct {
		DisplayName string `json:"display_name"`
	} `json:"host_venue"`
	Authorships []struct {
		Role   string `json:"role"`
		Author struct {
			DisplayName string `json:"display_name"`
		} `json:"author"`
	} `json:"authorships"`
	OpenAccess struct {
		OAURL string `json:"oa_url"`
	} `json:"open_access"`
	ReferencedWorks []string       `json:"referenced_works"`
	AbstractIndex   map[string][]int `json:"abstract_inverted_index"`
}

// toRecord converts a wire work into the enrichment payload.
func (cw *catalogWork) toRecord(raw []byte) *Record {
	r := &Record{
		CatalogID:  shortID(cw.ID),
		DOI:        cw.DOI,
		Title:      cw.Title,
		Year:       cw.Year,
		Venue:      cw.HostVenue.DisplayName,
		OALocation: cw.OpenAccess.OAURL,
		Abstract:   reassembleAbstract(cw.AbstractIndex),
		Raw:        string(raw),
	}
	if r.Title == "" {
		r.Title = cw.DisplayName
	}
	for _, a := range cw.Authorships {
		person := splitName(a.Author.DisplayName)
		if a.Role == "editor" {
			r.Editors = append(r.Editors, person)
		} else {
			r.Authors = append(r.Authors, person)
		}
	}
	for _, ref := range cw.ReferencedWorks {
		if id := shortID(ref); id != "" {
			r.ReferencedIDs = append(r.ReferencedIDs, id)
		}
	}
	return r
}

// Candidate turns a search or expansion hit into untrusted pipeline
// input, carrying the catalog id so enrichment can short-circuit.
func (r *Record) Candidate(origin work.Origin) *work.Candidate {
	return &work.Candidate{
		Title:   r.Title,
		Authors: r.Authors,
		Editors: r.Editors,
		DOI:     r.DOI,
		Year:    r.Year,
		Origin:  origin,
	}
}

// shortID strips the catalog's URL prefix from a work id.
func shortID(id string) string {
	if i := strings.LastIndex(id, "/"); i >= 0 {
		return id[i+1:]
	}
	return id
}

// splitName derives a structured author from a display name: the last
// whitespace-separated token is the family name.
func splitName(display string) work.Author {
	display = strings.TrimSpace(display)
	i := strings.LastIndex(display, " ")
	if i < 0 {
		return work.Author{Family: display}
	}
	return work.Author{Given: display[:i], Family: display[i+1:]}
}

// reassembleAbstract rebuilds the abstract text from the catalog's
// inverted index representation.
func reassembleAbstract(index map[string][]int) string {
	if len(index) == 0 {
		return ""
	}
	type placed struct {
		pos  int
		word string
	}
	var words []placed
	for word, positions := range index {
		for _, p := range positions {
			words = append(words, placed{pos: p, word: word})
		}
	}
	sort.Slice(words, func(i, j int) bool { return words[i].pos < words[j].pos })

	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = w.word
	}
	return strings.Join(parts, " ")
}


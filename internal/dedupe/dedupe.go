// Package dedupe decides whether an incoming candidate identifies an
// already-known work, and how to merge the two when it does. It is a
// pure decision engine: the corpus store executes its plans inside the
// same transaction as the insert or promotion they guard.
package dedupe

import (
	"errors"
	"fmt"

	"github.com/tlawson/papyrus/internal/normalize"
	"github.com/tlawson/papyrus/internal/work"
)

// FuzzyThreshold is the minimum author/editor similarity for rule 5.
const FuzzyThreshold = 0.85

// ErrAmbiguousMatch is returned when two existing records both match a
// candidate above threshold. The conflict is escalated for manual
// reconciliation; auto-merging would corrupt two independent lineages.
var ErrAmbiguousMatch = errors.New("ambiguous match: multiple merge targets")

// AmbiguousMatchError carries the competing target ids.
type AmbiguousMatchError struct {
	TargetIDs []string
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("ambiguous match: %d merge targets %v", len(e.TargetIDs), e.TargetIDs)
}

func (e *AmbiguousMatchError) Unwrap() error { return ErrAmbiguousMatch }

// Rule names the matching rule that identified a duplicate, in the
// order the rules are evaluated. First match wins; scores are never
// averaged across rules.
type Rule string

const (
	RuleDOI          Rule = "doi"
	RuleCatalogID    Rule = "catalog_id"
	RuleTitleAuthors Rule = "title_authors"
	RuleTitleYear    Rule = "title_year"
	RuleFuzzy        Rule = "fuzzy"
)

// Alias records an alternate (title, author-set, year) surface form
// known to refer to the same work as a canonical title, e.g. a
// translated title. Aliases are consulted by the title+year rule only;
// a match still has to pass that rule, an alias alone proves nothing.
type Alias struct {
	ID            string `json:"id"`
	TitleNorm     string `json:"title_norm"`      // Alternate surface form, normalized
	CanonicalNorm string `json:"canonical_norm"`  // Canonical title, normalized
	AuthorSetKey  string `json:"author_set_key,omitempty"`
	Year          int    `json:"year,omitempty"`
	Note          string `json:"note,omitempty"`
}

// Match is the outcome of a successful identity resolution.
type Match struct {
	Target    *work.Work
	Rule      Rule
	Score     float64  // 1 for exact rules, the similarity for fuzzy
	MatchedOn []string // Field names the decision rested on
}

// placeholderNorm is the normalized form of the shared placeholder
// title. Every untitled work carries it, so it keys nothing.
var placeholderNorm = normalize.Title(work.PlaceholderTitle)

// titleKey returns the normalized title usable as an identity key, or
// "" when the title is absent or the placeholder.
func titleKey(raw string) string {
	t := normalize.Title(raw)
	if t == placeholderNorm {
		return ""
	}
	return t
}

// doiConflict reports whether both sides carry a DOI and they differ.
// Distinct DOIs are distinct works; no title rule may bridge them.
func doiConflict(a, b string) bool {
	return a != "" && b != "" && a != b
}

// Probe is the normalized view of an incoming candidate or field
// update, precomputed once so rules stay cheap.
type Probe struct {
	DOINorm      string
	CatalogID    string
	TitleNorm    string
	AuthorSetKey string
	Authors      []work.Author
	Editors      []work.Author
	Year         int
}

// ProbeFromCandidate normalizes a validated candidate for matching.
func ProbeFromCandidate(c *work.Candidate) Probe {
	return Probe{
		DOINorm:      normalize.DOI(c.DOI),
		TitleNorm:    titleKey(c.Title),
		AuthorSetKey: normalize.AuthorSetKey(c.Authors),
		Authors:      c.Authors,
		Editors:      c.Editors,
		Year:         c.Year,
	}
}

// ProbeFromWork normalizes an existing record, used when a field update
// leaving the enriched stage collides and must be re-resolved.
func ProbeFromWork(w *work.Work) Probe {
	return Probe{
		DOINorm:      w.DOINorm,
		CatalogID:    w.CatalogID,
		TitleNorm:    titleKey(w.Title),
		AuthorSetKey: normalize.AuthorSetKey(w.Authors),
		Authors:      w.Authors,
		Editors:      w.Editors,
		Year:         w.Year,
	}
}

// aliasLinked reports whether an alias links the two normalized titles
// (in either direction) for the title+year rule's ±1 tolerance.
func aliasLinked(aliases []Alias, a, b string) bool {
	for _, al := range aliases {
		if (al.TitleNorm == a && al.CanonicalNorm == b) ||
			(al.TitleNorm == b && al.CanonicalNorm == a) {
			return true
		}
	}
	return false
}

// Resolve evaluates the matching policy against the given existing
// records, in rule order with first match winning. It returns nil when
// no record matches, and an AmbiguousMatchError when the fuzzy rule
// finds more than one plausible target.
func Resolve(p Probe, existing []*work.Work, aliases []Alias) (*Match, error) {
	// Rule 1: normalized DOI exact match.
	if p.DOINorm != "" {
		for _, w := range existing {
			if w.DOINorm == p.DOINorm {
				return &Match{Target: w, Rule: RuleDOI, Score: 1, MatchedOn: []string{"doi_norm"}}, nil
			}
		}
	}

	// Rule 2: external catalog identifier exact match.
	if p.CatalogID != "" {
		for _, w := range existing {
			if w.CatalogID == p.CatalogID {
				return &Match{Target: w, Rule: RuleCatalogID, Score: 1, MatchedOn: []string{"catalog_id"}}, nil
			}
		}
	}

	// Rule 3: title + author set, applicable only when the year is
	// missing on either side.
	if p.TitleNorm != "" && p.AuthorSetKey != "" {
		for _, w := range existing {
			if p.Year != 0 && w.Year != 0 {
				continue
			}
			if doiConflict(p.DOINorm, w.DOINorm) {
				continue
			}
			if titleKey(w.Title) == p.TitleNorm &&
				normalize.AuthorSetKey(w.Authors) == p.AuthorSetKey {
				return &Match{Target: w, Rule: RuleTitleAuthors, Score: 1,
					MatchedOn: []string{"title_norm", "author_set"}}, nil
			}
		}
	}

	// Rule 4: title + year, applicable only when authors are missing on
	// either side. An alias link between the titles widens the year
	// tolerance to ±1.
	if p.TitleNorm != "" && p.Year != 0 {
		for _, w := range existing {
			if len(p.Authors) != 0 && len(w.Authors) != 0 {
				continue
			}
			if w.Year == 0 || doiConflict(p.DOINorm, w.DOINorm) {
				continue
			}
			wTitle := titleKey(w.Title)
			if wTitle == "" {
				continue
			}
			titleEq := wTitle == p.TitleNorm
			linked := aliasLinked(aliases, p.TitleNorm, wTitle)
			if !titleEq && !linked {
				continue
			}
			yearDiff := p.Year - w.Year
			if yearDiff < 0 {
				yearDiff = -yearDiff
			}
			tolerance := 0
			if linked {
				tolerance = 1
			}
			if yearDiff <= tolerance {
				return &Match{Target: w, Rule: RuleTitleYear, Score: 1,
					MatchedOn: []string{"title_norm", "year"}}, nil
			}
		}
	}

	// Rule 5: fuzzy author or editor similarity above threshold among
	// same-title records. Any two targets above threshold are an
	// ambiguity regardless of their scores; auto-picking one would
	// corrupt a lineage either way.
	if p.TitleNorm == "" {
		return nil, nil
	}
	var best *Match
	var over []string
	for _, w := range existing {
		if titleKey(w.Title) != p.TitleNorm || doiConflict(p.DOINorm, w.DOINorm) {
			continue
		}
		score := normalize.AuthorListSimilarity(p.Authors, w.Authors)
		matched := "authors"
		if es := normalize.AuthorListSimilarity(p.Editors, w.Editors); es > score {
			score, matched = es, "editors"
		}
		if score <= FuzzyThreshold {
			continue
		}
		over = append(over, w.ID)
		best = &Match{Target: w, Rule: RuleFuzzy, Score: score,
			MatchedOn: []string{"title_norm", matched}}
	}
	if len(over) > 1 {
		return nil, &AmbiguousMatchError{TargetIDs: over}
	}
	return best, nil
}

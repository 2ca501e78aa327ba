// Package extract pulls bibliographic leads out of seed PDFs: the
// seed's own DOI, its raw text, and its reference section, which a
// remote parsing service turns into candidates. Everything produced
// here is untrusted input for the pipeline.
package extract

import (
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
)

// doiPattern matches 10.XXXX/... identifiers embedded in page text.
var doiPattern = regexp.MustCompile(`10\.\d{4,9}/[^\s<>"{}|\\^~\[\]` + "`" + `]+`)

// referenceHeadings mark the start of a bibliography section.
var referenceHeadings = []string{"references", "bibliography", "works cited", "literature cited"}

// ScanDOI searches the first few pages of a PDF for the document's own
// DOI. An empty result is not an error; many scans carry no DOI.
func ScanDOI(filePath string) (string, error) {
	f, r, err := pdf.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	// The DOI is nearly always on the first page.
	maxPages := 3
	if r.NumPage() < maxPages {
		maxPages = r.NumPage()
	}

	for i := 1; i <= maxPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if doi := findDOI(text); doi != "" {
			return doi, nil
		}
	}

	return "", nil
}

// Text extracts plain text from the first maxPages pages of a PDF.
// Zero or negative maxPages means all pages.
func Text(filePath string, maxPages int) (string, error) {
	f, r, err := pdf.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if maxPages <= 0 || maxPages > r.NumPage() {
		maxPages = r.NumPage()
	}

	var builder strings.Builder
	for i := 1; i <= maxPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		builder.WriteString(text)
		builder.WriteString("\n")
	}

	return builder.String(), nil
}

// ReferenceSection returns the text from the bibliography heading
// onward, or empty when no heading is found. The parsing service
// handles the heavy lifting; this just narrows its input.
func ReferenceSection(text string) string {
	lower := strings.ToLower(text)
	best := -1
	for _, heading := range referenceHeadings {
		// Look for the heading on its own line, latest occurrence wins
		// (papers cite the word "references" in running text too).
		idx := strings.LastIndex(lower, "\n"+heading)
		if idx < 0 && strings.HasPrefix(lower, heading) {
			idx = 0
		}
		if idx > best {
			best = idx
		}
	}
	if best < 0 {
		return ""
	}
	return strings.TrimSpace(text[best:])
}

// findDOI finds the first valid DOI in text.
func findDOI(text string) string {
	for _, match := range doiPattern.FindAllString(text, -1) {
		match = strings.TrimRight(match, ".,;:)")
		if isValidDOI(match) {
			return match
		}
	}
	return ""
}

// isValidDOI performs basic shape validation on a DOI.
func isValidDOI(doi string) bool {
	if len(doi) < 10 {
		return false
	}
	if !strings.HasPrefix(doi, "10.") {
		return false
	}
	slashIdx := strings.Index(doi, "/")
	return slashIdx != -1 && slashIdx < len(doi)-1
}

package fetch

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PreviewMaxPages is the page count at or below which a document is
// treated as a publisher preview rather than the full work.
const PreviewMaxPages = 2

// watermarkMarkers are byte sequences publishers stamp into preview
// and sample documents.
var watermarkMarkers = [][]byte{
	[]byte("PREVIEW ONLY"),
	[]byte("SAMPLE PAGES"),
	[]byte("FOR REVIEW PURPOSES"),
}

// isPDF reports whether the data carries the PDF magic header.
func isPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

// QuickCheck runs the cheap validations: non-empty, magic header,
// watermark markers. It is split out so the orchestrator can reject
// obvious garbage before handing bytes to the full parser.
func QuickCheck(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty response", ErrInvalidPDF)
	}
	if !isPDF(data) {
		return fmt.Errorf("%w: missing PDF header", ErrInvalidPDF)
	}
	for _, marker := range watermarkMarkers {
		if bytes.Contains(data, marker) {
			return fmt.Errorf("%w: watermarked preview (%s)", ErrInvalidPDF, marker)
		}
	}
	return nil
}

// DeepCheck parses the document container and applies the preview
// heuristic. Corrupt, encrypted, and truncated documents fail here.
func DeepCheck(data []byte) error {
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		return fmt.Errorf("%w: container parse: %v", ErrInvalidPDF, err)
	}
	if ctx.PageCount == 0 {
		return fmt.Errorf("%w: zero pages", ErrInvalidPDF)
	}
	if ctx.PageCount <= PreviewMaxPages {
		return fmt.Errorf("%w: only %d pages, likely a preview", ErrInvalidPDF, ctx.PageCount)
	}
	return nil
}

// ValidateFunc is the validation hook used by the orchestrator. A
// non-nil error sends it to the next source in the chain.
type ValidateFunc func(data []byte) error

// DefaultValidate is the full validation chain.
func DefaultValidate(data []byte) error {
	if err := QuickCheck(data); err != nil {
		return err
	}
	return DeepCheck(data)
}

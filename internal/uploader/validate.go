package uploader

import (
	"fmt"
	"net/http"

	"github.com/northpine/sitemedia/internal/transcode"
)

// Constraints bound what a request may declare. Zero values fall back to
// the category defaults.
type Constraints struct {
	AcceptedTypes []string
	MaxBytes      int64

	// Advisory minimums. Sources below these produce a warning, never an
	// error.
	MinWidth  int
	MinHeight int
}

// DefaultConstraints returns the configured limits for a category.
func DefaultConstraints(c Category) Constraints {
	maxBytes := MaxProductBytes
	if c == CategoryHero {
		maxBytes = MaxHeroBytes
	}
	return Constraints{
		AcceptedTypes: DefaultAcceptedTypes,
		MaxBytes:      maxBytes,
		MinWidth:      300,
		MinHeight:     300,
	}
}

// validate runs the fatal checks in order, short-circuiting on the first
// failure, then collects advisory warnings.
func validate(req *Request, size int64, c Constraints) ([]string, error) {
	if !typeAccepted(req.ContentType, c.AcceptedTypes) {
		return nil, &ValidationError{
			Field:   "fileType",
			Message: fmt.Sprintf("unsupported file type %q", req.ContentType),
		}
	}

	// Sniff the magic bytes so a mislabeled payload fails here instead of
	// deep inside the codec.
	if detected := sniffType(req.Data); detected != req.ContentType {
		return nil, &ValidationError{
			Field:   "fileType",
			Message: fmt.Sprintf("declared %s but content looks like %s", req.ContentType, detected),
		}
	}

	if c.MaxBytes > 0 && size > c.MaxBytes {
		return nil, &ValidationError{
			Field:   "fileSize",
			Message: fmt.Sprintf("file is %d bytes, limit is %d", size, c.MaxBytes),
		}
	}

	var warnings []string
	if c.MinWidth > 0 || c.MinHeight > 0 {
		w, h, err := transcode.Dimensions(req.Data)
		if err == nil && (w < c.MinWidth || h < c.MinHeight) {
			warnings = append(warnings,
				fmt.Sprintf("image is %dx%d, below the recommended %dx%d", w, h, c.MinWidth, c.MinHeight))
		}
	}

	return warnings, nil
}

func typeAccepted(declared string, accepted []string) bool {
	for _, t := range accepted {
		if declared == t {
			return true
		}
	}
	return false
}

// sniffType detects the content type from the first 512 bytes.
func sniffType(data []byte) string {
	if len(data) > 512 {
		data = data[:512]
	}
	return http.DetectContentType(data)
}

// Package uploader runs one selected file through validation, transcoding,
// credential issuance, the direct storage PUT, and the conditional
// hero-metadata write.
package uploader

import (
	"context"
	"fmt"

	"github.com/northpine/sitemedia/internal/transcode"
)

// Category selects the storage prefix, default bounds and size cap.
type Category string

const (
	CategoryHero    Category = "hero"
	CategoryProduct Category = "product"
)

func (c Category) Valid() bool {
	return c == CategoryHero || c == CategoryProduct
}

// DefaultBounds returns the per-category output bounds.
func (c Category) DefaultBounds() transcode.Bounds {
	if c == CategoryHero {
		return transcode.HeroBounds
	}
	return transcode.ProductBounds
}

// Size caps per category, enforced on the declared size.
const (
	MaxHeroBytes    = int64(10 << 20)
	MaxProductBytes = int64(5 << 20)
)

// DefaultAcceptedTypes are the declared MIME types allowed in.
var DefaultAcceptedTypes = []string{"image/jpeg", "image/png", "image/webp"}

// Request describes one upload attempt. It is consumed synchronously and
// never persisted.
type Request struct {
	FileName    string
	ContentType string // declared by the caller, untrusted
	Size        int64  // declared byte size, untrusted; 0 means len(Data)
	Data        []byte

	Category Category
	Subject  string // hero page identifier or product slug/index

	Bounds  *transcode.Bounds // nil means the category default
	Quality float64           // (0,1], 0 means transcode.DefaultQuality
}

// Result is returned when the pipeline completes.
type Result struct {
	PublicURL    string
	StorageKey   string
	Width        int
	Height       int
	Size         int64 // re-encoded size; usually, but not always, <= OriginalSize
	OriginalSize int64
	Warnings     []string // advisory only, e.g. small source dimensions
}

// CredentialRequest is sent to the credential issuer.
type CredentialRequest struct {
	FileName string   `json:"fileName"`
	FileType string   `json:"fileType"`
	FileSize int64    `json:"fileSize"`
	Category Category `json:"category"`
	Subject  string   `json:"subject"`
}

// Credential is a single-use, time-limited authorization to PUT one object.
type Credential struct {
	UploadURL  string `json:"uploadUrl"`
	PublicURL  string `json:"publicUrl"`
	StorageKey string `json:"storageKey"`
	ExpiresIn  int64  `json:"expiresIn"` // seconds
}

// CredentialIssuer is the server collaborator that signs storage writes.
// It re-validates declared type and size regardless of client checks.
type CredentialIssuer interface {
	IssueUploadCredential(ctx context.Context, req CredentialRequest) (*Credential, error)
}

// HeroRecord is the pointer row written for hero images.
type HeroRecord struct {
	PublicURL  string
	StorageKey string
	Width      int
	Height     int
	FileSize   int64
}

// MetadataStore persists the hero pointer row, at most one per page.
type MetadataStore interface {
	UpsertHeroImage(ctx context.Context, page string, rec HeroRecord) error
}

// Notifier receives fire-and-forget user-facing notices. Implementations
// must not block.
type Notifier interface {
	Notify(kind, title, detail string)
}

// ValidationError is a user-correctable input problem. The pipeline stops
// at the first fatal check.
type ValidationError struct {
	Field   string // "category", "fileType", "fileSize" or "dimensions"
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// CredentialError means the issuer rejected the request.
type CredentialError struct {
	StatusCode int
	Message    string
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("credential request rejected (%d): %s", e.StatusCode, e.Message)
}

// UploadError means the storage endpoint rejected the PUT, including the
// case where the credential expired mid-flight. The body is surfaced
// verbatim; there is no automatic retry.
type UploadError struct {
	StatusCode int
	Message    string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("storage upload failed (%d): %s", e.StatusCode, e.Message)
}

package uploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/northpine/sitemedia/internal/transcode"
)

// State is the orchestrator's position in the pipeline. Failed is reachable
// from every non-idle state; Reset returns to Idle from Complete or Failed.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateTranscoding
	StateRequestingCredential
	StateUploading
	StatePersistingMetadata
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateTranscoding:
		return "transcoding"
	case StateRequestingCredential:
		return "requesting_credential"
	case StateUploading:
		return "uploading"
	case StatePersistingMetadata:
		return "persisting_metadata"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Config wires one orchestrator. Issuer is required; Metadata is required
// only when hero uploads will pass through.
type Config struct {
	Issuer     CredentialIssuer
	Metadata   MetadataStore
	HTTPClient *http.Client
	Logger     *zap.Logger
	Notifier   Notifier

	// Optional collectors, labeled (category, outcome) and (category).
	Uploads     *prometheus.CounterVec
	UploadBytes *prometheus.HistogramVec
}

// Orchestrator drives a single upload at a time. Steps are strictly
// sequential; concurrent uploads need one orchestrator each, which is safe
// because instances share no state.
type Orchestrator struct {
	issuer      CredentialIssuer
	meta        MetadataStore
	client      *http.Client
	log         *zap.Logger
	notifier    Notifier
	uploads     *prometheus.CounterVec
	uploadBytes *prometheus.HistogramVec

	mu       sync.Mutex
	state    State
	progress int
	lastErr  error
	preview  []byte
}

// New builds an orchestrator; nil HTTPClient and Logger get usable defaults.
func New(cfg Config) *Orchestrator {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		issuer:      cfg.Issuer,
		meta:        cfg.Metadata,
		client:      client,
		log:         log,
		notifier:    cfg.Notifier,
		uploads:     cfg.Uploads,
		uploadBytes: cfg.UploadBytes,
	}
}

// Snapshot returns the observable state, progress percentage and last error.
func (o *Orchestrator) Snapshot() (State, int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state, o.progress, o.lastErr
}

// Preview returns the transcoded buffer held after a completed upload, for
// callers that want to render the result without re-fetching it.
func (o *Orchestrator) Preview() []byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.preview
}

// Reset returns the orchestrator to Idle, clearing progress, the recorded
// error and the held preview buffer. Idempotent.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = StateIdle
	o.progress = 0
	o.lastErr = nil
	o.preview = nil
}

// Upload runs the full pipeline for one request. The first error wins and
// is returned as one of ValidationError, transcode.Error, CredentialError
// or UploadError; a hero metadata-write failure is logged but does not fail
// the call. There is no cancellation of an in-flight step beyond ctx.
func (o *Orchestrator) Upload(ctx context.Context, req *Request) (*Result, error) {
	size := req.Size
	if size == 0 {
		size = int64(len(req.Data))
	}

	outcome := "failure"
	defer func() {
		if o.uploads != nil {
			o.uploads.WithLabelValues(string(req.Category), outcome).Inc()
		}
	}()

	o.setState(StateValidating, 20)
	if !req.Category.Valid() {
		return nil, o.fail(&ValidationError{Field: "category", Message: fmt.Sprintf("unknown category %q", req.Category)})
	}
	warnings, err := validate(req, size, DefaultConstraints(req.Category))
	if err != nil {
		return nil, o.fail(err)
	}

	o.setState(StateTranscoding, 40)
	bounds := req.Category.DefaultBounds()
	if req.Bounds != nil {
		bounds = *req.Bounds
	}
	enc, err := transcode.WebP(req.Data, bounds, req.Quality)
	if err != nil {
		return nil, o.fail(err)
	}

	o.setState(StateRequestingCredential, 50)
	cred, err := o.issuer.IssueUploadCredential(ctx, CredentialRequest{
		FileName: req.FileName,
		FileType: "image/webp",
		FileSize: int64(len(enc.Data)),
		Category: req.Category,
		Subject:  req.Subject,
	})
	if err != nil {
		return nil, o.fail(err)
	}
	o.setProgress(60)

	o.setState(StateUploading, 60)
	if err := o.put(ctx, cred.UploadURL, enc.Data); err != nil {
		return nil, o.fail(err)
	}
	o.setProgress(90)

	res := &Result{
		PublicURL:    cred.PublicURL,
		StorageKey:   cred.StorageKey,
		Width:        enc.Width,
		Height:       enc.Height,
		Size:         int64(len(enc.Data)),
		OriginalSize: size,
		Warnings:     warnings,
	}

	if req.Category == CategoryHero {
		o.setState(StatePersistingMetadata, 90)
		err := o.meta.UpsertHeroImage(ctx, req.Subject, HeroRecord{
			PublicURL:  cred.PublicURL,
			StorageKey: cred.StorageKey,
			Width:      enc.Width,
			Height:     enc.Height,
			FileSize:   int64(len(enc.Data)),
		})
		if err != nil {
			// The object is durable; only the pointer row is stale. Keep the
			// key in the log so an operator can re-point it.
			o.log.Warn("hero metadata write failed",
				zap.String("page", req.Subject),
				zap.String("storage_key", cred.StorageKey),
				zap.Error(err))
		}
	}

	o.mu.Lock()
	o.state = StateComplete
	o.progress = 100
	o.preview = enc.Data
	o.mu.Unlock()

	outcome = "success"
	if o.uploadBytes != nil {
		o.uploadBytes.WithLabelValues(string(req.Category)).Observe(float64(len(enc.Data)))
	}
	if o.notifier != nil {
		o.notifier.Notify("success", "Upload complete", res.PublicURL)
	}
	return res, nil
}

// put issues the direct storage write against the presigned URL.
func (o *Orchestrator) put(ctx context.Context, url string, data []byte) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return &UploadError{Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "image/webp")
	httpReq.ContentLength = int64(len(data))

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return &UploadError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &UploadError{StatusCode: resp.StatusCode, Message: string(body)}
	}
	return nil
}

func (o *Orchestrator) setState(s State, progress int) {
	o.mu.Lock()
	o.state = s
	o.progress = progress
	o.mu.Unlock()
}

func (o *Orchestrator) setProgress(p int) {
	o.mu.Lock()
	o.progress = p
	o.mu.Unlock()
}

func (o *Orchestrator) fail(err error) error {
	o.mu.Lock()
	o.state = StateFailed
	o.lastErr = err
	o.mu.Unlock()

	if o.notifier != nil {
		o.notifier.Notify("error", "Upload failed", err.Error())
	}
	return err
}

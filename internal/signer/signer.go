// Package signer issues time-limited presigned PUT credentials for the
// media bucket. It is the server-side counterpart of the upload pipeline's
// CredentialIssuer contract and re-checks declared type and size even
// though the client validates first.
package signer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/northpine/sitemedia/internal/config"
	"github.com/northpine/sitemedia/internal/uploader"
)

var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
)

var extensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
}

// Signer builds storage keys and presigns direct PUTs against them.
type Signer struct {
	storage config.StorageConfig
	ttl     time.Duration
	now     func() time.Time
}

func New(storage config.StorageConfig, ttl time.Duration) *Signer {
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &Signer{storage: storage, ttl: ttl, now: time.Now}
}

// IssueUploadCredential validates the declared file and returns a
// single-use credential.
func (s *Signer) IssueUploadCredential(ctx context.Context, req uploader.CredentialRequest) (*uploader.Credential, error) {
	ext, ok := extensions[req.FileType]
	if !ok {
		return nil, &uploader.CredentialError{
			StatusCode: 400,
			Message:    fmt.Sprintf("unsupported file type %q", req.FileType),
		}
	}
	if !req.Category.Valid() {
		return nil, &uploader.CredentialError{
			StatusCode: 400,
			Message:    fmt.Sprintf("unknown category %q", req.Category),
		}
	}
	if req.Subject == "" {
		return nil, &uploader.CredentialError{StatusCode: 400, Message: "subject is required"}
	}

	maxBytes := uploader.MaxProductBytes
	if req.Category == uploader.CategoryHero {
		maxBytes = uploader.MaxHeroBytes
	}
	if req.FileSize <= 0 || req.FileSize > maxBytes {
		return nil, &uploader.CredentialError{
			StatusCode: 413,
			Message:    fmt.Sprintf("declared size %d exceeds the %d byte limit", req.FileSize, maxBytes),
		}
	}

	key := s.buildKey(req.Category, req.Subject, ext)
	uploadURL, err := s.presignPut(ctx, key, req.FileType)
	if err != nil {
		return nil, fmt.Errorf("presign put: %w", err)
	}

	return &uploader.Credential{
		UploadURL:  uploadURL,
		PublicURL:  s.publicURL(key),
		StorageKey: key,
		ExpiresIn:  int64(s.ttl.Seconds()),
	}, nil
}

// buildKey follows the {category-prefix}/{subject}-{unixMillis}.{ext}
// layout so repeated uploads for one subject never collide.
func (s *Signer) buildKey(category uploader.Category, subject, ext string) string {
	return fmt.Sprintf("%s/%s-%d.%s", category, sanitize(subject), s.now().UnixMilli(), ext)
}

func (s *Signer) publicURL(key string) string {
	return strings.TrimSuffix(s.storage.PublicURL, "/") + "/" + key
}

func (s *Signer) presignPut(ctx context.Context, key, contentType string) (string, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		awsconfig.WithRegion(s.storage.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.storage.AccessKey,
			s.storage.SecretKey,
			"",
		)))
	if err != nil {
		return "", err
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if s.storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(s.storage.Endpoint)
		}
	})

	req, err := presignPutObject(newS3PresignClient(client), ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.storage.Bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

// sanitize keeps subjects usable as key segments.
func sanitize(subject string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, subject)
}

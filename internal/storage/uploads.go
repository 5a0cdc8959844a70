// Package storage hands out presigned S3 upload URLs for item photos.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// ErrUnsupportedType is returned for content types that are not images.
var ErrUnsupportedType = errors.New("unsupported content type")

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Config selects the bucket and the public address objects are served from.
type Config struct {
	Bucket        string
	Region        string
	Endpoint      string // optional, for S3-compatible stores
	PublicBaseURL string
	TTL           time.Duration
}

// Upload describes a presigned PUT the client performs itself.
type Upload struct {
	UploadURL string            `json:"uploadUrl"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers"`
	Key       string            `json:"key"`
	PublicURL string            `json:"publicUrl"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

// Uploader signs photo uploads.
type Uploader struct {
	presign    *s3.PresignClient
	bucket     string
	publicBase string
	ttl        time.Duration
	now        func() time.Time
}

// New builds an Uploader from the default AWS credential chain.
func New(ctx context.Context, cfg Config) (*Uploader, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithClient(client, cfg), nil
}

// NewWithClient builds an Uploader around an existing S3 client.
func NewWithClient(client *s3.Client, cfg Config) *Uploader {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Uploader{
		presign:    s3.NewPresignClient(client),
		bucket:     cfg.Bucket,
		publicBase: strings.TrimRight(cfg.PublicBaseURL, "/"),
		ttl:        ttl,
		now:        time.Now,
	}
}

// PresignUpload returns a presigned PUT for a new photo owned by userID.
// The object key is random; the original filename is not used.
func (u *Uploader) PresignUpload(ctx context.Context, userID int64, contentType string) (*Upload, error) {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	ext, ok := extensions[contentType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}

	key := path.Join("items", fmt.Sprint(userID), uuid.NewString()+ext)
	req, err := u.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(u.ttl))
	if err != nil {
		return nil, fmt.Errorf("presigning upload: %w", err)
	}

	return &Upload{
		UploadURL: req.URL,
		Method:    req.Method,
		Headers:   map[string]string{"Content-Type": contentType},
		Key:       key,
		PublicURL: u.publicBase + "/" + key,
		ExpiresAt: u.now().Add(u.ttl).UTC(),
	}, nil
}

// Package archive writes raw research payloads to S3 so the hot store only
// keeps what generation reads. Disabled entirely when no bucket is
// configured.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/brightline/outreach-engine/internal/config"
)

// Archiver uploads JSON blobs under {prefix}/{tenant}/{lead}/. A nil
// Archiver is valid and stores nothing.
type Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

// New builds an archiver from config. Returns nil (no error) when archival
// is disabled.
func New(ctx context.Context, cfg config.ArchiveConfig) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}
	return &Archiver{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Enabled reports whether uploads will happen.
func (a *Archiver) Enabled() bool { return a != nil }

// Put uploads one blob and returns its object key.
func (a *Archiver) Put(ctx context.Context, tenantID, leadID string, body []byte) (string, error) {
	if a == nil {
		return "", nil
	}
	key := fmt.Sprintf("%s/%s/%s/%d.json", a.prefix, tenantID, leadID, time.Now().UnixMilli())
	contentType := "application/json"
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &a.bucket,
		Key:         &key,
		Body:        bytes.NewReader(body),
		ContentType: &contentType,
	})
	if err != nil {
		return "", fmt.Errorf("archive: put %s: %w", key, err)
	}
	return key, nil
}

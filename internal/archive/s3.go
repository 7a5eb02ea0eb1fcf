// Package archive optionally ships a completed run's snapshot database to
// S3, adapted from trader's R2BackupService (an S3-compatible backup flow)
// but using aws-sdk-go-v2's S3 client and upload manager directly instead
// of a Cloudflare-R2-specific client wrapper.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// S3Archiver uploads completed run artifacts to a bucket. A zero-value
// Bucket means archiving is disabled — callers should check Enabled
// before bothering to build one, matching the teacher's pattern of
// no-op'ing optional integrations when unconfigured (S3Bucket unset in
// internal/config).
type S3Archiver struct {
	bucket   string
	uploader *manager.Uploader
	log      zerolog.Logger
}

// New builds an S3Archiver targeting bucket, loading credentials the
// standard AWS way (env vars, shared config, instance profile). If bucket
// is empty, the returned archiver's Enabled() is false and Upload is a
// no-op.
func New(ctx context.Context, bucket string, log zerolog.Logger) (*S3Archiver, error) {
	a := &S3Archiver{bucket: bucket, log: log.With().Str("component", "s3_archiver").Logger()}
	if bucket == "" {
		return a, nil
	}

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("archive: loading AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	a.uploader = manager.NewUploader(client)
	return a, nil
}

// Enabled reports whether a bucket was configured.
func (a *S3Archiver) Enabled() bool { return a.bucket != "" }

// UploadRunArtifact uploads localPath (typically a snapshot.Store's sqlite
// file) under the run's key prefix. No-ops if archiving is disabled.
func (a *S3Archiver) UploadRunArtifact(ctx context.Context, runID, localPath string) error {
	if !a.Enabled() {
		return nil
	}

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("archive: opening %s: %w", localPath, err)
	}
	defer f.Close()

	key := fmt.Sprintf("runs/%s/%s", runID, filepath.Base(localPath))
	start := time.Now()

	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("archive: uploading %s: %w", key, err)
	}

	a.log.Info().
		Str("bucket", a.bucket).
		Str("key", key).
		Dur("duration_ms", time.Since(start)).
		Msg("uploaded run artifact")
	return nil
}

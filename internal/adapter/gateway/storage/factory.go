package storage

import (
	"context"
	"fmt"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/asw/internal/app/config"
	"github.com/YoshitsuguKoike/asw/internal/application/port/output"
)

// Archive types accepted in setting.yaml
const (
	ArchiveNone  = "none"
	ArchiveLocal = "local"
	ArchiveS3    = "s3"
)

// NewStorageGateway builds the archive gateway selected by cfg.Type.
// It returns nil, nil when archiving is disabled.
func NewStorageGateway(ctx context.Context, cfg config.ArchiveConfig, fs afero.Fs) (output.StorageGateway, error) {
	switch cfg.Type {
	case "", ArchiveNone:
		return nil, nil
	case ArchiveLocal:
		g, err := NewLocalStorageGateway(fs, cfg.Dir)
		if err != nil {
			return nil, err
		}
		return g, nil
	case ArchiveS3:
		g, err := NewS3StorageGateway(ctx, S3Config{BucketName: cfg.S3Bucket, Prefix: cfg.S3Prefix, Region: cfg.S3Region})
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown archive type: %s (supported: none, local, s3)", cfg.Type)
	}
}

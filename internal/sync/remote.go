package sync

import (
	"context"
	"fmt"

	"linkhoard/internal/config"
)

// NewRemoteFromConfig builds the configured remote store. It returns
// nil when sync is disabled or incomplete; the coordinator then
// reports "not configured" instead of failing.
func NewRemoteFromConfig(ctx context.Context, cfg config.Config) (RemoteStore, error) {
	if !cfg.SyncEnabled {
		return nil, nil
	}
	switch cfg.SyncDestination {
	case "webdav", "":
		if cfg.WebDAVEndpoint == "" {
			return nil, nil
		}
		return NewWebDAVStore(cfg.WebDAVEndpoint, cfg.WebDAVUsername, cfg.WebDAVPassword, cfg.SyncTimeout), nil
	case "s3":
		if cfg.SyncS3Bucket == "" {
			return nil, nil
		}
		client, err := NewS3Client(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("init s3 sync store: %w", err)
		}
		return NewS3Store(client, cfg.SyncS3Bucket), nil
	default:
		return nil, fmt.Errorf("unknown sync destination %q", cfg.SyncDestination)
	}
}

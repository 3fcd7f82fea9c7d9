//go:build gcp

package contentstore

import (
	"context"
	"fmt"
	"os"
)

func newGCSStoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("MINDSTATE_GCS_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("contentstore: MINDSTATE_GCS_BUCKET is required for GCS storage")
	}
	return newGCSStore(ctx, bucket, os.Getenv("MINDSTATE_GCS_PREFIX"))
}

func newGCSStore(ctx context.Context, bucket, prefix string) (Store, error) {
	return NewGCSStore(ctx, GCSConfig{
		Bucket: bucket,
		Prefix: prefix,
	})
}

//go:build !gcp

package contentstore

import (
	"context"
	"fmt"
)

func newGCSStoreFromEnv(ctx context.Context) (Store, error) {
	return nil, fmt.Errorf("contentstore: GCS storage is not enabled in this build (use -tags gcp)")
}

func newGCSStore(ctx context.Context, bucket, prefix string) (Store, error) {
	return nil, fmt.Errorf("contentstore: GCS storage is not enabled in this build (use -tags gcp)")
}

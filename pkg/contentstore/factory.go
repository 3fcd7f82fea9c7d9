package contentstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// StoreType selects a blob storage backend.
type StoreType string

const (
	StoreTypeMem  StoreType = "mem"
	StoreTypeFS   StoreType = "fs"
	StoreTypeS3   StoreType = "s3"
	StoreTypeGCS  StoreType = "gcs"
	StoreTypeHTTP StoreType = "http"
)

// NewStoreFromEnv creates a blob store based on environment variables.
//
// Environment variables:
//   - MINDSTATE_STORAGE_TYPE: "fs" (default), "mem", "s3", "gcs", or "http"
//   - MINDSTATE_DATA_DIR: base directory for filesystem store (default: "data")
//
// For S3:
//   - MINDSTATE_S3_BUCKET (required)
//   - MINDSTATE_S3_REGION or AWS_REGION
//   - MINDSTATE_S3_ENDPOINT (optional, for MinIO/LocalStack)
//   - MINDSTATE_S3_PREFIX (optional)
//
// For GCS (requires the gcp build tag):
//   - MINDSTATE_GCS_BUCKET (required)
//   - MINDSTATE_GCS_PREFIX (optional)
//
// For HTTP:
//   - MINDSTATE_GATEWAY_URL (required)
//   - MINDSTATE_GATEWAY_TOKEN (optional bearer token)
func NewStoreFromEnv(ctx context.Context) (Store, error) {
	storeType := StoreType(os.Getenv("MINDSTATE_STORAGE_TYPE"))
	if storeType == "" {
		storeType = StoreTypeFS
	}

	switch storeType {
	case StoreTypeMem:
		return NewMemoryStore(), nil
	case StoreTypeFS:
		return newFileStoreFromEnv()
	case StoreTypeS3:
		return newS3StoreFromEnv(ctx)
	case StoreTypeGCS:
		return newGCSStoreFromEnv(ctx)
	case StoreTypeHTTP:
		return newHTTPStoreFromEnv()
	default:
		return nil, fmt.Errorf("contentstore: unsupported storage type: %s", storeType)
	}
}

func newFileStoreFromEnv() (Store, error) {
	dataDir := os.Getenv("MINDSTATE_DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}
	return NewFileStore(filepath.Join(dataDir, "blobs"))
}

func newS3StoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("MINDSTATE_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("contentstore: MINDSTATE_S3_BUCKET is required for S3 storage")
	}

	region := os.Getenv("MINDSTATE_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	return NewS3Store(ctx, S3Config{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv("MINDSTATE_S3_ENDPOINT"),
		Prefix:   os.Getenv("MINDSTATE_S3_PREFIX"),
	})
}

func newHTTPStoreFromEnv() (Store, error) {
	baseURL := os.Getenv("MINDSTATE_GATEWAY_URL")
	if baseURL == "" {
		return nil, fmt.Errorf("contentstore: MINDSTATE_GATEWAY_URL is required for HTTP storage")
	}

	var tokens TokenSource
	if token := os.Getenv("MINDSTATE_GATEWAY_TOKEN"); token != "" {
		tokens = StaticTokenSource(token)
	}
	return NewHTTPStore(baseURL, tokens), nil
}

// StoreConfig selects and configures a backend directly, without consulting
// the environment. The zero Kind means fs.
type StoreConfig struct {
	Kind StoreType

	// Dir is the fs base directory; blobs live under Dir/blobs.
	Dir string

	S3 S3Config

	GCSBucket string
	GCSPrefix string

	GatewayURL   string
	GatewayToken string
}

// NewStore creates a blob store from explicit configuration. It is the
// config-driven twin of NewStoreFromEnv.
func NewStore(ctx context.Context, cfg StoreConfig) (Store, error) {
	switch cfg.Kind {
	case StoreTypeMem:
		return NewMemoryStore(), nil
	case "", StoreTypeFS:
		dir := cfg.Dir
		if dir == "" {
			dir = "data"
		}
		return NewFileStore(filepath.Join(dir, "blobs"))
	case StoreTypeS3:
		if cfg.S3.Bucket == "" {
			return nil, fmt.Errorf("contentstore: S3 bucket is required for S3 storage")
		}
		s3cfg := cfg.S3
		if s3cfg.Region == "" {
			s3cfg.Region = "us-east-1"
		}
		return NewS3Store(ctx, s3cfg)
	case StoreTypeGCS:
		if cfg.GCSBucket == "" {
			return nil, fmt.Errorf("contentstore: GCS bucket is required for GCS storage")
		}
		return newGCSStore(ctx, cfg.GCSBucket, cfg.GCSPrefix)
	case StoreTypeHTTP:
		if cfg.GatewayURL == "" {
			return nil, fmt.Errorf("contentstore: gateway URL is required for HTTP storage")
		}
		var tokens TokenSource
		if cfg.GatewayToken != "" {
			tokens = StaticTokenSource(cfg.GatewayToken)
		}
		return NewHTTPStore(cfg.GatewayURL, tokens), nil
	default:
		return nil, fmt.Errorf("contentstore: unsupported storage type: %s", cfg.Kind)
	}
}

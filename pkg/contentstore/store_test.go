package contentstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMemoryStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	data := []byte("sealed capsule bytes")

	uri, err := store.Upload(ctx, data)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !strings.HasPrefix(uri, "mem://") {
		t.Errorf("uri = %q, want mem:// prefix", uri)
	}

	got, err := store.Download(ctx, uri)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("got %q, want %q", got, data)
	}
}

func TestMemoryStore_IdempotentUpload(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	data := []byte("same content")

	uri1, err := store.Upload(ctx, data)
	if err != nil {
		t.Fatalf("first Upload: %v", err)
	}
	uri2, err := store.Upload(ctx, data)
	if err != nil {
		t.Fatalf("second Upload: %v", err)
	}
	if uri1 != uri2 {
		t.Errorf("uris differ: %s vs %s", uri1, uri2)
	}
	if store.Len() != 1 {
		t.Errorf("Len = %d, want 1", store.Len())
	}
}

func TestMemoryStore_NotFound(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Download(context.Background(), "mem://"+strings.Repeat("ab", 32))
	if !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("got %v, want ErrBlobNotFound", err)
	}
}

func TestMemoryStore_ForeignURI(t *testing.T) {
	store := NewMemoryStore()
	for _, uri := range []string{"file://abc", "s3://bucket/key", "not-a-uri"} {
		if _, err := store.Download(context.Background(), uri); !errors.Is(err, ErrForeignURI) {
			t.Errorf("Download(%q) = %v, want ErrForeignURI", uri, err)
		}
	}
}

func TestMemoryStore_CallerMutationIsolated(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	data := []byte("original")

	uri, err := store.Upload(ctx, data)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	data[0] = 'X'

	got, err := store.Download(ctx, uri)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(got) != "original" {
		t.Errorf("stored blob mutated: %q", got)
	}
	got[0] = 'Y'

	again, err := store.Download(ctx, uri)
	if err != nil {
		t.Fatalf("second Download: %v", err)
	}
	if string(again) != "original" {
		t.Errorf("returned blob aliased: %q", again)
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	data := []byte("filesystem blob")

	uri, err := store.Upload(ctx, data)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !strings.HasPrefix(uri, "file://") {
		t.Errorf("uri = %q, want file:// prefix", uri)
	}

	got, err := store.Download(ctx, uri)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("got %q, want %q", got, data)
	}
}

func TestFileStore_IdempotentUpload(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "blobs")
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	data := []byte("same content")

	uri1, err := store.Upload(ctx, data)
	if err != nil {
		t.Fatalf("first Upload: %v", err)
	}
	uri2, err := store.Upload(ctx, data)
	if err != nil {
		t.Fatalf("second Upload: %v", err)
	}
	if uri1 != uri2 {
		t.Errorf("uris differ: %s vs %s", uri1, uri2)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("blob files = %d, want 1 (no tmp leftovers)", len(entries))
	}
}

func TestFileStore_NotFound(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	_, err = store.Download(context.Background(), "file://"+strings.Repeat("00", 32))
	if !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("got %v, want ErrBlobNotFound", err)
	}
}

func TestFileStore_ForeignURI(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	for _, uri := range []string{"mem://abc", "file://../../etc/passwd", "plain"} {
		if _, err := store.Download(context.Background(), uri); !errors.Is(err, ErrForeignURI) {
			t.Errorf("Download(%q) = %v, want ErrForeignURI", uri, err)
		}
	}
}

func TestS3Store_ForeignURI(t *testing.T) {
	store := &S3Store{bucket: "capsules"}
	for _, uri := range []string{"mem://abc", "s3://other-bucket/key", "s3://no-key"} {
		if _, err := store.Download(context.Background(), uri); !errors.Is(err, ErrForeignURI) {
			t.Errorf("Download(%q) = %v, want ErrForeignURI", uri, err)
		}
	}
}

func TestNewStoreFromEnv_Default(t *testing.T) {
	_ = os.Unsetenv("MINDSTATE_STORAGE_TYPE")
	tmpDir := t.TempDir()
	_ = os.Setenv("MINDSTATE_DATA_DIR", tmpDir)
	defer func() { _ = os.Unsetenv("MINDSTATE_DATA_DIR") }()

	store, err := NewStoreFromEnv(context.Background())
	if err != nil {
		t.Fatalf("NewStoreFromEnv: %v", err)
	}

	fs, ok := store.(*FileStore)
	if !ok {
		t.Fatalf("got %T, want *FileStore", store)
	}
	if want := filepath.Join(tmpDir, "blobs"); fs.baseDir != want {
		t.Errorf("baseDir = %s, want %s", fs.baseDir, want)
	}
}

func TestNewStoreFromEnv_Memory(t *testing.T) {
	_ = os.Setenv("MINDSTATE_STORAGE_TYPE", "mem")
	defer func() { _ = os.Unsetenv("MINDSTATE_STORAGE_TYPE") }()

	store, err := NewStoreFromEnv(context.Background())
	if err != nil {
		t.Fatalf("NewStoreFromEnv: %v", err)
	}
	if _, ok := store.(*MemoryStore); !ok {
		t.Fatalf("got %T, want *MemoryStore", store)
	}
}

func TestNewStoreFromEnv_S3MissingBucket(t *testing.T) {
	_ = os.Setenv("MINDSTATE_STORAGE_TYPE", "s3")
	_ = os.Unsetenv("MINDSTATE_S3_BUCKET")
	defer func() { _ = os.Unsetenv("MINDSTATE_STORAGE_TYPE") }()

	_, err := NewStoreFromEnv(context.Background())
	if err == nil || !strings.Contains(err.Error(), "MINDSTATE_S3_BUCKET is required") {
		t.Errorf("got %v, want missing-bucket error", err)
	}
}

func TestNewStoreFromEnv_HTTPMissingURL(t *testing.T) {
	_ = os.Setenv("MINDSTATE_STORAGE_TYPE", "http")
	_ = os.Unsetenv("MINDSTATE_GATEWAY_URL")
	defer func() { _ = os.Unsetenv("MINDSTATE_STORAGE_TYPE") }()

	_, err := NewStoreFromEnv(context.Background())
	if err == nil || !strings.Contains(err.Error(), "MINDSTATE_GATEWAY_URL is required") {
		t.Errorf("got %v, want missing-url error", err)
	}
}

func TestNewStoreFromEnv_UnsupportedType(t *testing.T) {
	_ = os.Setenv("MINDSTATE_STORAGE_TYPE", "azure")
	defer func() { _ = os.Unsetenv("MINDSTATE_STORAGE_TYPE") }()

	_, err := NewStoreFromEnv(context.Background())
	if err == nil || !strings.Contains(err.Error(), "unsupported storage type") {
		t.Errorf("got %v, want unsupported-type error", err)
	}
}

func TestNewStore_ZeroKindIsFS(t *testing.T) {
	tmpDir := t.TempDir()

	store, err := NewStore(context.Background(), StoreConfig{Dir: tmpDir})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	fs, ok := store.(*FileStore)
	if !ok {
		t.Fatalf("got %T, want *FileStore", store)
	}
	if want := filepath.Join(tmpDir, "blobs"); fs.baseDir != want {
		t.Errorf("baseDir = %s, want %s", fs.baseDir, want)
	}
}

func TestNewStore_Memory(t *testing.T) {
	store, err := NewStore(context.Background(), StoreConfig{Kind: StoreTypeMem})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, ok := store.(*MemoryStore); !ok {
		t.Fatalf("got %T, want *MemoryStore", store)
	}
}

func TestNewStore_S3MissingBucket(t *testing.T) {
	_, err := NewStore(context.Background(), StoreConfig{Kind: StoreTypeS3})
	if err == nil || !strings.Contains(err.Error(), "S3 bucket is required") {
		t.Errorf("got %v, want missing-bucket error", err)
	}
}

func TestNewStore_HTTPMissingURL(t *testing.T) {
	_, err := NewStore(context.Background(), StoreConfig{Kind: StoreTypeHTTP})
	if err == nil || !strings.Contains(err.Error(), "gateway URL is required") {
		t.Errorf("got %v, want missing-url error", err)
	}
}

func TestNewStore_UnsupportedKind(t *testing.T) {
	_, err := NewStore(context.Background(), StoreConfig{Kind: "azure"})
	if err == nil || !strings.Contains(err.Error(), "unsupported storage type") {
		t.Errorf("got %v, want unsupported-kind error", err)
	}
}

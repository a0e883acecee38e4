package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/querylens/querylens/internal/storage"
)

type fakeClient struct {
	objects map[string][]byte
	gets    []string
	lists   []string
}

func (f *fakeClient) Get(_ context.Context, _ string, key string) (io.ReadCloser, error) {
	f.gets = append(f.gets, key)
	data, ok := f.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeClient) Stat(_ context.Context, _ string, key string) (storage.ObjectInfo, error) {
	data, ok := f.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (f *fakeClient) List(_ context.Context, _ string, prefix string) ([]storage.ObjectInfo, error) {
	f.lists = append(f.lists, prefix)
	var infos []storage.ObjectInfo
	for key, data := range f.objects {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			infos = append(infos, storage.ObjectInfo{Key: key, Size: int64(len(data))})
		}
	}
	return infos, nil
}

func TestStoreAppliesPrefixToKeys(t *testing.T) {
	client := &fakeClient{objects: map[string][]byte{
		"datasets/spending/part0.parquet": []byte("x"),
	}}
	store, err := NewWithClient("bucket", "datasets", client)
	if err != nil {
		t.Fatalf("store setup failed: %v", err)
	}

	reader, err := store.Get(context.Background(), "spending/part0.parquet")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	_ = reader.Close()
	if len(client.gets) != 1 || client.gets[0] != "datasets/spending/part0.parquet" {
		t.Fatalf("gets = %v", client.gets)
	}
}

func TestStoreListStripsPrefixAndSorts(t *testing.T) {
	client := &fakeClient{objects: map[string][]byte{
		"datasets/spending/part1.parquet": []byte("b"),
		"datasets/spending/part0.parquet": []byte("a"),
	}}
	store, err := NewWithClient("bucket", "datasets", client)
	if err != nil {
		t.Fatalf("store setup failed: %v", err)
	}

	infos, err := store.List(context.Background(), "spending/")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("infos = %+v", infos)
	}
	if infos[0].Key != "spending/part0.parquet" || infos[1].Key != "spending/part1.parquet" {
		t.Fatalf("keys = %q, %q", infos[0].Key, infos[1].Key)
	}
}

func TestStoreRejectsTraversalKeys(t *testing.T) {
	store, err := NewWithClient("bucket", "", &fakeClient{objects: map[string][]byte{}})
	if err != nil {
		t.Fatalf("store setup failed: %v", err)
	}
	for _, key := range []string{"", "   ", "..", "../secrets", "a/../../b"} {
		if _, err := store.Get(context.Background(), key); err == nil {
			t.Fatalf("expected error for %q", key)
		}
	}
}

func TestStoreMapsNotFound(t *testing.T) {
	store, err := NewWithClient("bucket", "", &fakeClient{objects: map[string][]byte{}})
	if err != nil {
		t.Fatalf("store setup failed: %v", err)
	}
	if _, err := store.Get(context.Background(), "missing.parquet"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("err = %v", err)
	}
	if _, err := store.Stat(context.Background(), "missing.parquet"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{Bucket: "bucket"}); err == nil {
		t.Fatal("expected error for missing endpoint")
	}
	if _, err := New(Config{Endpoint: "minio:9000"}); err == nil {
		t.Fatal("expected error for missing bucket")
	}
	if _, err := NewWithClient("", "", &fakeClient{}); err == nil {
		t.Fatal("expected error for missing bucket")
	}
	if _, err := NewWithClient("bucket", "", nil); err == nil {
		t.Fatal("expected error for missing client")
	}
}

func TestParseEndpoint(t *testing.T) {
	host, secure, err := parseEndpoint("https://minio.internal:9000", false)
	if err != nil || host != "minio.internal:9000" || !secure {
		t.Fatalf("host=%q secure=%v err=%v", host, secure, err)
	}
	host, secure, err = parseEndpoint("http://minio:9000", false)
	if err != nil || host != "minio:9000" || secure {
		t.Fatalf("host=%q secure=%v err=%v", host, secure, err)
	}
	host, secure, err = parseEndpoint("minio:9000", true)
	if err != nil || host != "minio:9000" || !secure {
		t.Fatalf("host=%q secure=%v err=%v", host, secure, err)
	}
	if _, _, err := parseEndpoint("", false); err == nil {
		t.Fatal("expected error")
	}
}

package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/minio/minio-go/v7"

	"github.com/arkwith7/text-to-sql-sub000/internal/storage"
)

type fakeAPI struct {
	putKeys    []string
	putTypes   []string
	removeKeys []string
	removeErr  error
	exists     bool
	made       []string
}

func (f *fakeAPI) PutObject(_ context.Context, _ string, key string, reader io.Reader, _ int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	body, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.putKeys = append(f.putKeys, key)
	f.putTypes = append(f.putTypes, opts.ContentType)
	return minio.UploadInfo{Key: key, Size: int64(len(body))}, nil
}

func (f *fakeAPI) GetObject(_ context.Context, _ string, _ string, _ minio.GetObjectOptions) (*minio.Object, error) {
	return nil, errors.New("not supported in fake")
}

func (f *fakeAPI) RemoveObject(_ context.Context, _ string, key string, _ minio.RemoveObjectOptions) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removeKeys = append(f.removeKeys, key)
	return nil
}

func (f *fakeAPI) BucketExists(_ context.Context, _ string) (bool, error) {
	return f.exists, nil
}

func (f *fakeAPI) MakeBucket(_ context.Context, bucket string, _ minio.MakeBucketOptions) error {
	f.made = append(f.made, bucket)
	return nil
}

func TestPutAppliesPrefixAndContentType(t *testing.T) {
	api := &fakeAPI{}
	store, err := NewWithAPI("archive", "textsql", api)
	if err != nil {
		t.Fatalf("NewWithAPI() error = %v", err)
	}

	body := []byte("parquet bytes")
	info, err := store.Put(context.Background(), "results/conn-1/req.parquet", bytes.NewReader(body), int64(len(body)),
		storage.PutOptions{ContentType: "application/octet-stream"})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if info.Key != "textsql/results/conn-1/req.parquet" || info.Size != int64(len(body)) {
		t.Fatalf("unexpected info %+v", info)
	}
	if len(api.putTypes) != 1 || api.putTypes[0] != "application/octet-stream" {
		t.Fatalf("content type not forwarded: %v", api.putTypes)
	}
}

func TestPutRejectsTraversalKeys(t *testing.T) {
	store, err := NewWithAPI("archive", "", &fakeAPI{})
	if err != nil {
		t.Fatalf("NewWithAPI() error = %v", err)
	}
	for _, key := range []string{"", "../secret", "a/../../b"} {
		if _, err := store.Put(context.Background(), key, bytes.NewReader(nil), 0, storage.PutOptions{}); err == nil {
			t.Fatalf("expected rejection for key %q", key)
		}
	}
}

func TestDeleteIgnoresMissingObject(t *testing.T) {
	api := &fakeAPI{removeErr: minio.ErrorResponse{Code: "NoSuchKey"}}
	store, err := NewWithAPI("archive", "", api)
	if err != nil {
		t.Fatalf("NewWithAPI() error = %v", err)
	}
	if err := store.Delete(context.Background(), "results/gone.parquet"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
}

func TestParseEndpoint(t *testing.T) {
	host, secure, err := parseEndpoint("https://minio.internal:9000", false)
	if err != nil || host != "minio.internal:9000" || !secure {
		t.Fatalf("parseEndpoint https: %q %v %v", host, secure, err)
	}
	host, secure, err = parseEndpoint("minio.internal:9000", false)
	if err != nil || host != "minio.internal:9000" || secure {
		t.Fatalf("parseEndpoint bare: %q %v %v", host, secure, err)
	}
	if _, _, err := parseEndpoint("  ", false); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
}

package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// fakeS3 serves the path-style object calls S3Storage makes.
type fakeS3 struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
}

type listResult struct {
	XMLName     xml.Name      `xml:"ListBucketResult"`
	Name        string        `xml:"Name"`
	Prefix      string        `xml:"Prefix"`
	KeyCount    int           `xml:"KeyCount"`
	MaxKeys     int           `xml:"MaxKeys"`
	IsTruncated bool          `xml:"IsTruncated"`
	Contents    []listContent `xml:"Contents"`
}

type listContent struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int64  `xml:"Size"`
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/"+f.bucket)
	key := strings.TrimPrefix(path, "/")

	switch {
	case r.Method == http.MethodGet && key == "" && r.URL.Query().Get("list-type") == "2":
		prefix := r.URL.Query().Get("prefix")
		res := listResult{Name: f.bucket, Prefix: prefix, MaxKeys: 1000}
		for k, v := range f.objects {
			if strings.HasPrefix(k, prefix) {
				res.Contents = append(res.Contents, listContent{
					Key:          k,
					LastModified: "2024-01-02T03:04:05.000Z",
					ETag:         `"` + etagOf(v) + `"`,
					Size:         int64(len(v)),
				})
			}
		}
		res.KeyCount = len(res.Contents)
		w.Header().Set("Content-Type", "application/xml")
		xml.NewEncoder(w).Encode(res)

	case r.Method == http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		f.objects[key] = data
		w.Header().Set("ETag", `"`+etagOf(data)+`"`)
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		w.Write(data)

	case r.Method == http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func etagOf(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func newFakeS3Storage(t *testing.T) (*S3Storage, *fakeS3) {
	t.Helper()
	fake := &fakeS3{bucket: "exports", objects: make(map[string][]byte)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client := s3.New(s3.Options{
		Region:                     "us-east-1",
		BaseEndpoint:               aws.String(srv.URL),
		UsePathStyle:               true,
		Credentials:                aws.AnonymousCredentials{},
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
	})
	return NewS3StorageWithClient(client, fake.bucket, S3Config{}), fake
}

func tempBody(t *testing.T, content string) *os.File {
	t.Helper()
	f, err := os.Create(filepath.Join(t.TempDir(), "body"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestS3Storage_RoundTrip(t *testing.T) {
	ctx := context.Background()
	st, fake := newFakeS3Storage(t)

	body := tempBody(t, "hello world")
	etag, err := st.Put(ctx, "exports/_all/a.ndjson.sz", body, 11)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !strings.Contains(etag, "5eb63bbbe01eeed093cb22bb8f5acdc3") {
		t.Errorf("unexpected etag %q", etag)
	}
	fake.mu.Lock()
	stored := fake.objects["exports/_all/a.ndjson.sz"]
	fake.mu.Unlock()
	if !bytes.Equal(stored, []byte("hello world")) {
		t.Errorf("server stored %q", stored)
	}

	rc, err := st.Get(ctx, "exports/_all/a.ndjson.sz")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "hello world" {
		t.Errorf("Get returned %q", data)
	}

	if _, err := st.Get(ctx, "exports/_all/missing"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}

	if err := st.Delete(ctx, "exports/_all/a.ndjson.sz"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := st.Get(ctx, "exports/_all/a.ndjson.sz"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("object should be gone after Delete, got %v", err)
	}
}

func TestS3Storage_List(t *testing.T) {
	ctx := context.Background()
	st, fake := newFakeS3Storage(t)
	fake.mu.Lock()
	fake.objects["exports/shop/2.ndjson.sz"] = []byte("bb")
	fake.objects["exports/shop/1.ndjson.sz"] = []byte("a")
	fake.objects["exports/other/3.ndjson.sz"] = []byte("ccc")
	fake.mu.Unlock()

	objects, err := st.List(ctx, "exports/shop/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(objects) != 2 {
		t.Fatalf("expected 2 objects, got %d", len(objects))
	}
	paths := []string{objects[0].Path, objects[1].Path}
	if !sort.StringsAreSorted(paths) || paths[0] != "exports/shop/1.ndjson.sz" {
		t.Errorf("unexpected listing %v", paths)
	}
	if objects[1].Size != 2 {
		t.Errorf("expected size 2, got %d", objects[1].Size)
	}
	want := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if !objects[0].ModTime.Equal(want) {
		t.Errorf("expected mod time %v, got %v", want, objects[0].ModTime)
	}
}

func TestS3Storage_RetryStopsOnCancel(t *testing.T) {
	st := &S3Storage{maxRetries: 3}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := st.retryWithBackoff(ctx, func() error { calls++; return errors.New("unreachable") })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 0 {
		t.Errorf("operation should not run on a cancelled context, ran %d times", calls)
	}
}

func TestS3Storage_RetryGivesUpOnNotFound(t *testing.T) {
	st := &S3Storage{maxRetries: 3}
	calls := 0
	err := st.retryWithBackoff(context.Background(), func() error { calls++; return ErrObjectNotFound })
	if !errors.Is(err, ErrObjectNotFound) || calls != 1 {
		t.Errorf("expected one attempt and ErrObjectNotFound, got %d attempts and %v", calls, err)
	}
}

func TestNewS3Storage_RequiresBucket(t *testing.T) {
	if _, err := NewS3Storage(context.Background(), "", DefaultS3Config()); err == nil {
		t.Error("expected error without a bucket")
	}
}

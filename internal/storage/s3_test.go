package storage_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/readlater/readlater/internal/storage"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	putErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, errors.New("multipart not supported")
}

func (f *fakeS3) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, errors.New("multipart not supported")
}

func (f *fakeS3) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, errors.New("multipart not supported")
}

func (f *fakeS3) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			LastModified: aws.Time(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)),
		})
	}
	return out, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, obj := range in.Delete.Objects {
		delete(f.objects, aws.ToString(obj.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

type fakePresigner struct{}

func (fakePresigner) PresignGetObject(_ context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	return &v4.PresignedHTTPRequest{
		URL:    "https://" + aws.ToString(in.Bucket) + ".s3.local/" + aws.ToString(in.Key) + "?X-Amz-Expires=" + opts.Expires.String(),
		Method: http.MethodGet,
	}, nil
}

func newTestS3Store(t *testing.T, api *fakeS3) *storage.S3Store {
	t.Helper()
	s, err := storage.NewS3Store(storage.S3StoreConfig{
		Client:    api,
		Presigner: fakePresigner{},
		Bucket:    "exports",
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	return s
}

func TestNewS3Store_Validation(t *testing.T) {
	_, err := storage.NewS3Store(storage.S3StoreConfig{Bucket: "exports"})
	assert.Error(t, err)

	_, err = storage.NewS3Store(storage.S3StoreConfig{Client: newFakeS3()})
	assert.Error(t, err)
}

func TestS3Store_WriteAndExists(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	s := newTestS3Store(t, api)

	require.NoError(t, s.Write(ctx, sampleRecords(), "parts/abc/list/part_000000", storage.FormatCSV))

	want, err := storage.Encode(sampleRecords(), storage.FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, want, api.objects["parts/abc/list/part_000000.csv"])
	assert.Equal(t, "text/csv; charset=utf-8", api.types["parts/abc/list/part_000000.csv"])

	ok, err := s.Exists(ctx, "parts/abc/list/part_000000.csv")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, "parts/abc/list/part_000001.csv")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestS3Store_WriteError(t *testing.T) {
	api := newFakeS3()
	api.putErr = errors.New("access denied")
	s := newTestS3Store(t, api)

	err := s.Write(context.Background(), sampleRecords(), "parts/abc/list/part_000000", storage.FormatCSV)
	assert.Error(t, err)
}

func TestS3Store_ZipByPrefix(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	api.objects["parts/abc/list/part_000000.csv"] = []byte("id\n1\n")
	api.objects["parts/abc/list/part_000001.csv"] = []byte("id\n2\n")
	api.objects["parts/abc/annotations/part_000000.json"] = []byte("[]\n")
	api.objects["parts/other/list/part_000000.csv"] = []byte("nope")
	s := newTestS3Store(t, api)

	key, err := s.ZipByPrefix(ctx, "parts/abc", "req-1.zip")
	require.NoError(t, err)
	assert.Equal(t, "archives/req-1.zip", key)
	assert.Equal(t, "application/zip", api.types[key])

	entries := readZip(t, api.objects[key])
	assert.Equal(t, []string{
		"annotations/part_000000.json",
		"list/part_000000.csv",
		"list/part_000001.csv",
	}, names(entries))
	assert.Equal(t, "id\n2\n", entries["list/part_000001.csv"])
}

func TestS3Store_PresignGet(t *testing.T) {
	s := newTestS3Store(t, newFakeS3())

	u, err := s.PresignGet(context.Background(), "archives/req-1.zip", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "https://exports.s3.local/archives/req-1.zip?X-Amz-Expires=1h0m0s", u)
}

func TestS3Store_DeleteByPrefix(t *testing.T) {
	api := newFakeS3()
	api.objects["parts/enc42/list/part_000000.csv"] = []byte("a")
	api.objects["parts/enc42/list/part_000001.csv"] = []byte("b")
	api.objects["parts/enc420/list/part_000000.csv"] = []byte("other user")
	s := newTestS3Store(t, api)

	n, err := s.DeleteByPrefix(context.Background(), "parts/enc42")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, api.objects, 1)
	assert.Contains(t, api.objects, "parts/enc420/list/part_000000.csv")
}

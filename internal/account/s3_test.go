package account

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"pv-go/internal/pv"
)

func serverError(status int) error {
	return &smithyhttp.ResponseError{
		Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status}},
		Err:      errors.New(http.StatusText(status)),
	}
}

// partFault makes one UploadPart call fail. When stored is set the server
// keeps the part even though the call reports an error.
type partFault struct {
	part   int32
	stored bool
	err    error
}

type fakeUpload struct {
	key   string
	parts map[int32][]byte
}

// fakeS3 is an in-memory bucket that implements s3API.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	uploads  map[string]*fakeUpload
	nextID   int
	pageSize int
	faults   []partFault

	partCalls  []int32
	putCalls   int
	aborted    int
	headBucket error
}

var _ s3API = (*fakeS3)(nil)

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects:  make(map[string][]byte),
		uploads:  make(map[string]*fakeUpload),
		pageSize: 2,
	}
}

func etag(b []byte) string { return strconv.Quote(fmt.Sprintf("%d-%x", len(b), b)) }

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.headBucket != nil {
		return nil, f.headBucket
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(b)))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != aws.ToInt64(in.ContentLength) {
		return nil, fmt.Errorf("body is %d bytes, content length %d", len(data), aws.ToInt64(in.ContentLength))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putCalls++
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeS3) CopyObject(ctx context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	_, escaped, _ := strings.Cut(aws.ToString(in.CopySource), "/")
	src, err := url.PathUnescape(escaped)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[src]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	f.objects[aws.ToString(in.Key)] = slices.Clone(b)
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, obj := range in.Delete.Objects {
		delete(f.objects, aws.ToString(obj.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	start := 0
	if in.ContinuationToken != nil {
		start, _ = strconv.Atoi(*in.ContinuationToken)
	}
	end := min(start+f.pageSize, len(keys))

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(f.objects[k])))})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

func (f *fakeS3) CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("upload-%d", f.nextID)
	f.uploads[id] = &fakeUpload{key: aws.ToString(in.Key), parts: make(map[int32][]byte)}
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(id)}, nil
}

func (f *fakeS3) UploadPart(ctx context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	n := aws.ToInt32(in.PartNumber)
	f.partCalls = append(f.partCalls, n)
	u, ok := f.uploads[aws.ToString(in.UploadId)]
	if !ok {
		return nil, errors.New("no such upload")
	}

	for i, fault := range f.faults {
		if fault.part == n {
			f.faults = slices.Delete(f.faults, i, i+1)
			if fault.stored {
				u.parts[n] = data
			}
			return nil, fault.err
		}
	}
	u.parts[n] = data
	return &s3.UploadPartOutput{ETag: aws.String(etag(data))}, nil
}

func (f *fakeS3) ListParts(ctx context.Context, in *s3.ListPartsInput, _ ...func(*s3.Options)) (*s3.ListPartsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.uploads[aws.ToString(in.UploadId)]
	if !ok {
		return nil, errors.New("no such upload")
	}
	out := &s3.ListPartsOutput{}
	for n, data := range u.parts {
		out.Parts = append(out.Parts, types.Part{PartNumber: aws.Int32(n), ETag: aws.String(etag(data)), Size: aws.Int64(int64(len(data)))})
	}
	return out, nil
}

func (f *fakeS3) CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.uploads[aws.ToString(in.UploadId)]
	if !ok {
		return nil, errors.New("no such upload")
	}
	var buf bytes.Buffer
	for i, p := range in.MultipartUpload.Parts {
		n := aws.ToInt32(p.PartNumber)
		data, ok := u.parts[n]
		if !ok || int(n) != i+1 || aws.ToString(p.ETag) != etag(data) {
			return nil, fmt.Errorf("invalid part %d", n)
		}
		buf.Write(data)
	}
	f.objects[u.key] = buf.Bytes()
	delete(f.uploads, aws.ToString(in.UploadId))
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeS3) AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted++
	delete(f.uploads, aws.ToString(in.UploadId))
	return &s3.AbortMultipartUploadOutput{}, nil
}

func newTestS3Account(client *fakeS3, partSize int64, maxResumes int) *S3Account {
	return newS3Account("cloud", client, S3Options{
		Bucket:     "photos",
		Prefix:     "pv",
		Limit:      1 << 20,
		BatchSize:  2,
		PartSize:   partSize,
		MaxResumes: maxResumes,
	}, &seqIDs{}, nil)
}

func TestS3Account(t *testing.T) {
	testAccountContract(t, func(t *testing.T) pv.Account {
		return newTestS3Account(newFakeS3(), 1024, 2)
	})
}

func TestS3Account_KeyLayout(t *testing.T) {
	ctx := context.Background()
	client := newFakeS3()
	a := newTestS3Account(client, 1024, 0)

	id := upload(t, a, "pixels")
	if _, ok := client.objects["pv/blobs/"+id]; !ok {
		t.Fatalf("object keys = %v, want pv/blobs/%s", objectKeys(client), id)
	}
	cid, err := a.GetOrCreateContainer(ctx, "quarantine")
	if err != nil {
		t.Fatalf("GetOrCreateContainer() error = %v", err)
	}
	if err := a.MoveToContainer(ctx, []string{id}, cid); err != nil {
		t.Fatalf("MoveToContainer() error = %v", err)
	}

	want := []string{"pv/containers/quarantine/", "pv/containers/quarantine/" + id}
	if got := objectKeys(client); !slices.Equal(got, want) {
		t.Errorf("object keys = %v, want %v", got, want)
	}
}

func objectKeys(f *fakeS3) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func TestS3Account_SmallContentUsesSinglePut(t *testing.T) {
	client := newFakeS3()
	a := newTestS3Account(client, 4, 0)
	upload(t, a, "abcd")
	if client.putCalls != 1 || len(client.partCalls) != 0 {
		t.Errorf("put calls = %d, part calls = %v, want a single put", client.putCalls, client.partCalls)
	}
}

func TestS3Account_MultipartUpload(t *testing.T) {
	const content = "0123456789" // parts of 4, 4 and 2 bytes

	tests := []struct {
		name      string
		faults    []partFault
		wantCalls []int32
	}{
		{
			name:      "no failures",
			wantCalls: []int32{1, 2, 3},
		},
		{
			name:      "part lost in transit is re-sent",
			faults:    []partFault{{part: 2, err: serverError(503)}},
			wantCalls: []int32{1, 2, 2, 3},
		},
		{
			name:      "part stored before the failure is skipped",
			faults:    []partFault{{part: 2, stored: true, err: serverError(500)}},
			wantCalls: []int32{1, 2, 3},
		},
		{
			name:      "short final part is always re-sent",
			faults:    []partFault{{part: 3, stored: true, err: serverError(502)}},
			wantCalls: []int32{1, 2, 3, 3},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakeS3()
			client.faults = tt.faults
			a := newTestS3Account(client, 4, 1)

			id := upload(t, a, content)

			if !slices.Equal(client.partCalls, tt.wantCalls) {
				t.Errorf("part calls = %v, want %v", client.partCalls, tt.wantCalls)
			}
			var buf bytes.Buffer
			if err := a.Download(context.Background(), id, &buf); err != nil {
				t.Fatalf("Download() error = %v", err)
			}
			if buf.String() != content {
				t.Errorf("Download() = %q, want %q", buf.String(), content)
			}
			if client.aborted != 0 {
				t.Errorf("aborted = %d, want 0", client.aborted)
			}
		})
	}
}

func TestS3Account_MultipartResumesExhausted(t *testing.T) {
	client := newFakeS3()
	client.faults = []partFault{
		{part: 2, err: serverError(503)},
		{part: 2, err: serverError(503)},
	}
	a := newTestS3Account(client, 4, 1)

	_, err := a.Upload(context.Background(), strings.NewReader("0123456789"), 10, "clip.mp4")

	var transient *pv.TransientBackendError
	if !errors.As(err, &transient) {
		t.Fatalf("Upload() error = %v, want *pv.TransientBackendError", err)
	}
	if client.aborted != 1 {
		t.Errorf("aborted = %d, want 1", client.aborted)
	}
	if len(client.uploads) != 0 || len(client.objects) != 0 {
		t.Errorf("leftover uploads = %d, objects = %v", len(client.uploads), objectKeys(client))
	}
}

func TestS3Account_ClientErrorsAreNotTransient(t *testing.T) {
	client := newFakeS3()
	client.faults = []partFault{{part: 1, err: serverError(403)}}
	a := newTestS3Account(client, 4, 0)

	_, err := a.Upload(context.Background(), strings.NewReader("0123456789"), 10, "clip.mp4")
	if err == nil {
		t.Fatal("Upload() should fail")
	}
	var transient *pv.TransientBackendError
	if errors.As(err, &transient) {
		t.Errorf("Upload() error = %v, want a non-transient error", err)
	}
}

func TestS3Account_ValidateSetup(t *testing.T) {
	client := newFakeS3()
	client.headBucket = serverError(404)
	a := newTestS3Account(client, 1024, 0)
	if err := a.ValidateSetup(context.Background()); err == nil {
		t.Error("ValidateSetup() with missing bucket should fail")
	}
}

func TestNewS3Account_RejectsSmallParts(t *testing.T) {
	_, err := NewS3Account(context.Background(), "cloud", S3Options{Bucket: "b", PartSize: 1024}, nil)
	if err == nil || !strings.Contains(err.Error(), "part size") {
		t.Errorf("NewS3Account() error = %v, want part size error", err)
	}
}

func TestCopySource(t *testing.T) {
	got := copySource("photos", "pv/blobs/a b+c")
	if want := "photos/pv/blobs/a%20b+c"; got != want {
		t.Errorf("copySource() = %q, want %q", got, want)
	}
}

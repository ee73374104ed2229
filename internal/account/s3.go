package account

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"pv-go/internal/model"
	"pv-go/internal/pv"
)

// maxDeleteObjects is the S3 limit on keys per DeleteObjects call.
const maxDeleteObjects = 1000

// s3API is the subset of *s3.Client the account uses.
type s3API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	ListParts(ctx context.Context, params *s3.ListPartsInput, optFns ...func(*s3.Options)) (*s3.ListPartsOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

var _ s3API = (*s3.Client)(nil)

// S3Options configures an S3Account.
type S3Options struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string // custom endpoint for S3-compatible stores; enables path-style addressing
	AccessKeyID     string // static credentials; the default chain is used when empty
	SecretAccessKey string

	Limit      int64
	BatchSize  int
	PartSize   int64
	MaxResumes int

	// Retry policy of the SDK's standard retryer, which handles 5xx and
	// throttling responses per call.
	MaxAttempts int
	MaxBackoff  time.Duration
}

// S3Account stores blobs as objects in one bucket:
//
//	<prefix>blobs/<id>
//	<prefix>containers/<name>/        container marker
//	<prefix>containers/<name>/<id>
//
// Content larger than one part is sent as a multipart upload that resumes
// from the last part the server holds when a part fails.
type S3Account struct {
	id         model.AccountID
	client     s3API
	bucket     string
	prefix     string
	region     string
	limit      int64
	batchSize  int
	partSize   int64
	maxResumes int
	idgen      pv.IDGenerator
	logger     pv.Logger
}

var _ pv.Account = (*S3Account)(nil)

// NewS3Account builds an SDK client from opts and returns the account.
func NewS3Account(ctx context.Context, id model.AccountID, opts S3Options, logger pv.Logger) (*S3Account, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 account %q requires s3_bucket", id)
	}
	if opts.PartSize < manager.MinUploadPartSize {
		return nil, fmt.Errorf("part size %d is below the S3 minimum of %d", opts.PartSize, manager.MinUploadPartSize)
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRetryer(func() aws.Retryer {
			return retry.NewStandard(func(o *retry.StandardOptions) {
				if opts.MaxAttempts > 0 {
					o.MaxAttempts = opts.MaxAttempts
				}
				if opts.MaxBackoff > 0 {
					o.MaxBackoff = opts.MaxBackoff
				}
			})
		}),
	}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Account(id, client, opts, nil, logger), nil
}

func newS3Account(id model.AccountID, client s3API, opts S3Options, idgen pv.IDGenerator, logger pv.Logger) *S3Account {
	if idgen == nil {
		idgen = pv.UUIDGenerator{}
	}
	if logger == nil {
		logger = pv.NewNopLogger()
	}
	prefix := opts.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Account{
		id:         id,
		client:     client,
		bucket:     opts.Bucket,
		prefix:     prefix,
		region:     opts.Region,
		limit:      opts.Limit,
		batchSize:  min(max(opts.BatchSize, 1), maxDeleteObjects),
		partSize:   opts.PartSize,
		maxResumes: max(opts.MaxResumes, 0),
		idgen:      idgen,
		logger:     logger,
	}
}

func (a *S3Account) ID() model.AccountID { return a.id }

func (a *S3Account) MaxBatchSize() int { return a.batchSize }

func (a *S3Account) blobKey(id string) string { return a.prefix + blobsDir + "/" + id }

func (a *S3Account) containerPrefix(name string) string {
	return a.prefix + containersDir + "/" + name + "/"
}

// UsageAndLimit sums the size of every object under the prefix.
func (a *S3Account) UsageAndLimit(ctx context.Context) (int64, int64, error) {
	var usage int64
	err := a.listObjects(ctx, a.prefix, func(obj types.Object) {
		usage += aws.ToInt64(obj.Size)
	})
	if err != nil {
		return 0, 0, a.wrapErr("measuring usage", err)
	}
	return usage, a.limit, nil
}

func (a *S3Account) Upload(ctx context.Context, content io.ReaderAt, size int64, fileName string) (string, error) {
	id := a.idgen.New()
	if err := validateBlobID(id); err != nil {
		return "", err
	}
	key := a.blobKey(id)

	if size <= a.partSize {
		_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(a.bucket),
			Key:           aws.String(key),
			Body:          io.NewSectionReader(content, 0, size),
			ContentLength: aws.Int64(size),
		})
		if err != nil {
			return "", a.wrapErr("uploading "+fileName, err)
		}
		return id, nil
	}

	if err := a.uploadMultipart(ctx, key, content, size); err != nil {
		return "", a.wrapErr("uploading "+fileName, err)
	}
	return id, nil
}

// uploadMultipart runs the chunked upload: start, send parts while tracking
// the offset, on a part failure ask the server which parts it holds and
// resume after them, then complete. The upload is aborted on final failure.
func (a *S3Account) uploadMultipart(ctx context.Context, key string, content io.ReaderAt, size int64) (err error) {
	created, err := a.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("starting multipart upload: %w", err)
	}
	uploadID := created.UploadId

	defer func() {
		if err == nil {
			return
		}
		_, abortErr := a.client.AbortMultipartUpload(context.WithoutCancel(ctx), &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(a.bucket),
			Key:      aws.String(key),
			UploadId: uploadID,
		})
		if abortErr != nil {
			a.logger.Warn("aborting multipart upload failed", "key", key, "error", abortErr)
		}
	}()

	var parts []types.CompletedPart
	offset := int64(0)
	resumes := 0
	for offset < size {
		partNumber := int32(len(parts) + 1)
		n := min(a.partSize, size-offset)

		out, err := a.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(a.bucket),
			Key:           aws.String(key),
			UploadId:      uploadID,
			PartNumber:    aws.Int32(partNumber),
			Body:          io.NewSectionReader(content, offset, n),
			ContentLength: aws.Int64(n),
		})
		if err == nil {
			parts = append(parts, types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(partNumber)})
			offset += n
			continue
		}

		if resumes >= a.maxResumes || ctx.Err() != nil {
			return fmt.Errorf("uploading part %d: %w", partNumber, err)
		}
		resumes++
		a.logger.Warn("part upload failed, resuming", "key", key, "part", partNumber, "attempt", resumes, "error", err)

		parts, err = a.receivedParts(ctx, key, uploadID)
		if err != nil {
			return fmt.Errorf("querying received parts: %w", err)
		}
		offset = int64(len(parts)) * a.partSize
	}

	_, err = a.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		UploadId:        uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return fmt.Errorf("completing multipart upload: %w", err)
	}
	return nil
}

// receivedParts returns the run of full-size parts, numbered from 1 without
// gaps, that the server holds for an upload. The upload resumes after them.
func (a *S3Account) receivedParts(ctx context.Context, key string, uploadID *string) ([]types.CompletedPart, error) {
	var held []types.Part
	p := s3.NewListPartsPaginator(a.client, &s3.ListPartsInput{
		Bucket:   aws.String(a.bucket),
		Key:      aws.String(key),
		UploadId: uploadID,
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		held = append(held, page.Parts...)
	}
	slices.SortFunc(held, func(x, y types.Part) int {
		return int(aws.ToInt32(x.PartNumber) - aws.ToInt32(y.PartNumber))
	})

	var parts []types.CompletedPart
	for _, part := range held {
		next := int32(len(parts) + 1)
		if aws.ToInt32(part.PartNumber) != next || aws.ToInt64(part.Size) != a.partSize {
			break
		}
		parts = append(parts, types.CompletedPart{ETag: part.ETag, PartNumber: aws.Int32(next)})
	}
	return parts, nil
}

func (a *S3Account) Download(ctx context.Context, blobID string, w io.Writer) error {
	if err := validateBlobID(blobID); err != nil {
		return err
	}
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.blobKey(blobID)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return fmt.Errorf("blob not found: %s", blobID)
		}
		return a.wrapErr("downloading "+blobID, err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("reading blob %s: %w", blobID, err)
	}
	return nil
}

// ListBlobIDs returns the top-level blobs, sorted.
func (a *S3Account) ListBlobIDs(ctx context.Context) ([]string, error) {
	base := a.prefix + blobsDir + "/"
	var ids []string
	err := a.listObjects(ctx, base, func(obj types.Object) {
		id := strings.TrimPrefix(aws.ToString(obj.Key), base)
		if id != "" && !strings.Contains(id, "/") {
			ids = append(ids, id)
		}
	})
	if err != nil {
		return nil, a.wrapErr("listing blobs", err)
	}
	slices.Sort(ids)
	return ids, nil
}

// GetOrCreateContainer writes the container marker object if it is missing.
func (a *S3Account) GetOrCreateContainer(ctx context.Context, name string) (string, error) {
	if err := validateContainerName(name); err != nil {
		return "", err
	}
	marker := a.containerPrefix(name)

	_, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(a.bucket), Key: aws.String(marker)})
	if err == nil {
		return name, nil
	}
	var nf *types.NotFound
	if !errors.As(err, &nf) {
		return "", a.wrapErr("checking container "+name, err)
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(marker),
		Body:          strings.NewReader(""),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		return "", a.wrapErr("creating container "+name, err)
	}
	return name, nil
}

// MoveToContainer copies each blob into the container and then deletes the
// originals in one batch.
func (a *S3Account) MoveToContainer(ctx context.Context, blobIDs []string, containerID string) error {
	if len(blobIDs) > a.batchSize {
		return fmt.Errorf("batch of %d exceeds limit of %d", len(blobIDs), a.batchSize)
	}
	if len(blobIDs) == 0 {
		return nil
	}
	if err := validateContainerName(containerID); err != nil {
		return err
	}

	dest := a.containerPrefix(containerID)
	objects := make([]types.ObjectIdentifier, 0, len(blobIDs))
	for _, id := range blobIDs {
		if err := validateBlobID(id); err != nil {
			return err
		}
		src := a.blobKey(id)
		_, err := a.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(a.bucket),
			Key:        aws.String(dest + id),
			CopySource: aws.String(copySource(a.bucket, src)),
		})
		if err != nil {
			return a.wrapErr("copying blob "+id, err)
		}
		objects = append(objects, types.ObjectIdentifier{Key: aws.String(src)})
	}

	out, err := a.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(a.bucket),
		Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
	})
	if err != nil {
		return a.wrapErr("deleting moved blobs", err)
	}
	if len(out.Errors) > 0 {
		e := out.Errors[0]
		return fmt.Errorf("deleting moved blob %s: %s", aws.ToString(e.Key), aws.ToString(e.Message))
	}
	return nil
}

// ValidateSetup checks that the bucket exists and lives in the configured
// region.
func (a *S3Account) ValidateSetup(ctx context.Context) error {
	region, err := manager.GetBucketRegion(ctx, a.client, a.bucket)
	if err != nil {
		return a.wrapErr("locating bucket "+a.bucket, err)
	}
	if a.region != "" && region != "" && region != a.region {
		return fmt.Errorf("bucket %s is in region %s, configured region is %s", a.bucket, region, a.region)
	}
	return nil
}

func (a *S3Account) listObjects(ctx context.Context, prefix string, fn func(types.Object)) error {
	p := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, obj := range page.Contents {
			fn(obj)
		}
	}
	return nil
}

// wrapErr surfaces server-side failures that outlived the SDK retryer as
// *pv.TransientBackendError.
func (a *S3Account) wrapErr(op string, err error) error {
	var re *smithyhttp.ResponseError
	if errors.As(err, &re) && re.HTTPStatusCode() >= 500 {
		return &pv.TransientBackendError{Backend: "s3 account " + string(a.id), Op: op, Err: err}
	}
	var maxAttempts *retry.MaxAttemptsError
	if errors.As(err, &maxAttempts) {
		return &pv.TransientBackendError{Backend: "s3 account " + string(a.id), Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// copySource formats bucket and key for CopyObject, escaping each key segment.
func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return bucket + "/" + strings.Join(segments, "/")
}

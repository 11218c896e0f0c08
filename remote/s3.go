package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/olegkotsar/dupesweep/config"
	"github.com/olegkotsar/dupesweep/model"

	s3config "github.com/aws/aws-sdk-go-v2/config"
)

var _ StorageProvider = (*S3Storage)(nil)

// s3MaxDeleteKeys is the DeleteObjects limit.
const s3MaxDeleteKeys = 1000

// S3API is the subset of the S3 client in use, so tests can supply their own.
type S3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// S3Storage lists and deletes objects of one bucket. Object keys are used as paths.
type S3Storage struct {
	*requestGate
	client S3API
	config *config.S3Config
	common *config.CommonStorageConfig
}

func NewS3Storage(cfg *config.S3Config, common *config.CommonStorageConfig) (*S3Storage, error) {
	ctx := context.TODO()

	gate := newRequestGate(common)

	// For S3-compatible storage, region is often just a placeholder
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	s3cfg, err := s3config.LoadDefaultConfig(
		ctx,
		s3config.WithRegion(region),
		s3config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
		// retries are driven by the catalog and the deletion engine
		s3config.WithRetryMaxAttempts(1),
		// Suppress AWS SDK logging warnings about missing checksums
		s3config.WithClientLogMode(0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %v", err)
	}

	client := s3.NewFromConfig(s3cfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// Use path-style addressing for S3-compatible storage
			o.UsePathStyle = true
		}
	})

	return newS3StorageWithClient(client, cfg, common, gate), nil
}

func newS3StorageWithClient(client S3API, cfg *config.S3Config, common *config.CommonStorageConfig, gate *requestGate) *S3Storage {
	if gate == nil {
		gate = newRequestGate(common)
	}
	return &S3Storage{
		requestGate: gate,
		client:      client,
		config:      cfg,
		common:      common,
	}
}

func (c *S3Storage) Name() string { return "s3" }

// ListsRecursively is false only for the hierarchical strategy, where common
// prefixes come back as directories.
func (c *S3Storage) ListsRecursively() bool {
	return c.common.ListingStrategy != config.ListingStrategyHierarchical
}

func (c *S3Storage) MaxBatchSize() int { return s3MaxDeleteKeys }

func (c *S3Storage) Close() error { return nil }

// s3Prefix turns a path like "/photos/2020" into the key prefix "photos/2020/".
func s3Prefix(root string) string {
	p := strings.Trim(root, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

func (c *S3Storage) ListPage(ctx context.Context, root, pageToken string) (*ListPage, error) {
	reqCtx, cancel, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.config.Bucket),
		Prefix: aws.String(s3Prefix(root)),
	}
	if pageToken != "" {
		input.ContinuationToken = aws.String(pageToken)
	}
	if !c.ListsRecursively() {
		input.Delimiter = aws.String("/")
	}

	resp, err := c.client.ListObjectsV2(reqCtx, input)
	if err != nil {
		return nil, classifyS3("ListObjectsV2", err)
	}

	page := &ListPage{}
	for _, cp := range resp.CommonPrefixes {
		page.Entries = append(page.Entries, model.RemoteEntry{
			Path: strings.TrimSuffix(aws.ToString(cp.Prefix), "/"),
			Type: model.EntryDir,
		})
	}
	for _, v := range resp.Contents {
		key := aws.ToString(v.Key)
		// zero-byte folder markers
		if strings.HasSuffix(key, "/") {
			continue
		}
		page.Entries = append(page.Entries, model.RemoteEntry{
			Path:        key,
			Type:        model.EntryFile,
			Size:        aws.ToInt64(v.Size),
			Fingerprint: strings.Trim(aws.ToString(v.ETag), `"`),
			ModifiedAt:  aws.ToTime(v.LastModified),
		})
	}

	if aws.ToBool(resp.IsTruncated) {
		page.NextPageToken = aws.ToString(resp.NextContinuationToken)
	}

	return page, nil
}

// DeleteBatch removes up to 1000 keys with one synchronous DeleteObjects call.
func (c *S3Storage) DeleteBatch(ctx context.Context, paths []string) (*BatchSubmission, error) {
	if len(paths) > s3MaxDeleteKeys {
		return nil, NewError(ErrPermanent, "DeleteObjects", fmt.Errorf("batch of %d exceeds %d keys", len(paths), s3MaxDeleteKeys))
	}

	reqCtx, cancel, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	objects := make([]types.ObjectIdentifier, len(paths))
	for i, p := range paths {
		objects[i] = types.ObjectIdentifier{Key: aws.String(p)}
	}

	resp, err := c.client.DeleteObjects(reqCtx, &s3.DeleteObjectsInput{
		Bucket: aws.String(c.config.Bucket),
		Delete: &types.Delete{
			Objects: objects,
			Quiet:   aws.Bool(false),
		},
	})
	if err != nil {
		return nil, classifyS3("DeleteObjects", err)
	}

	deleted := make(map[string]struct{}, len(resp.Deleted))
	for _, d := range resp.Deleted {
		deleted[aws.ToString(d.Key)] = struct{}{}
	}
	failed := make(map[string]types.Error, len(resp.Errors))
	for _, e := range resp.Errors {
		failed[aws.ToString(e.Key)] = e
	}

	outcomes := make([]model.PathOutcome, len(paths))
	for i, p := range paths {
		outcomes[i] = s3Outcome(p, deleted, failed)
	}

	return &BatchSubmission{Outcomes: outcomes}, nil
}

func s3Outcome(path string, deleted map[string]struct{}, failed map[string]types.Error) model.PathOutcome {
	if _, ok := deleted[path]; ok {
		return model.PathOutcome{Path: path, Status: model.OutcomeDeleted}
	}
	e, ok := failed[path]
	if !ok {
		return model.PathOutcome{Path: path, Status: model.OutcomeRetry, Reason: "not reported by DeleteObjects"}
	}

	code := aws.ToString(e.Code)
	reason := code
	if msg := aws.ToString(e.Message); msg != "" {
		reason = code + ": " + msg
	}

	switch code {
	case "NoSuchKey":
		return model.PathOutcome{Path: path, Status: model.OutcomeAbsent}
	case "SlowDown", "InternalError", "ServiceUnavailable", "RequestTimeout":
		return model.PathOutcome{Path: path, Status: model.OutcomeRetry, Reason: reason}
	default:
		return model.PathOutcome{Path: path, Status: model.OutcomeFailed, Reason: reason}
	}
}

// CheckJob always reports an unknown job: S3 deletes complete synchronously.
func (c *S3Storage) CheckJob(ctx context.Context, jobID string) (*JobStatus, error) {
	return nil, NewError(ErrNotFound, "CheckJob", fmt.Errorf("s3 has no asynchronous job %q", jobID))
}

func classifyS3(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "SlowDown", "Throttling", "ThrottlingException", "RequestLimitExceeded", "TooManyRequestsException":
			return NewError(ErrRateLimited, op, err)
		case "AccessDenied", "InvalidAccessKeyId", "ExpiredToken", "SignatureDoesNotMatch", "InvalidToken":
			return NewError(ErrInvalidCredential, op, err)
		case "NoSuchKey":
			return NewError(ErrNotFound, op, err)
		case "InternalError", "ServiceUnavailable", "RequestTimeout":
			return NewError(ErrTransient, op, err)
		}
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		switch status := respErr.HTTPStatusCode(); {
		case status == http.StatusTooManyRequests:
			return NewError(ErrRateLimited, op, err)
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return NewError(ErrInvalidCredential, op, err)
		case status >= 500:
			return NewError(ErrTransient, op, err)
		}
	}

	return Classify(op, err)
}

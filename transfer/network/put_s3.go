package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/BotCoder254/remocloud-sub000/errdefs"
)

const numS3PutRetries = 3

// S3BackendParams configure the direct S3 transfer backend.
type S3BackendParams struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// PartSizeMB sets the multipart part size. Zero means 10 MB.
	PartSizeMB int64
}

// S3Backend PUTs objects straight into a bucket with first-party credentials,
// for deployments that skip the signed-URL hop. URLs passed to Put use the
// s3://bucket/key form.
type S3Backend struct {
	client     *s3.Client
	partSizeMB int64
	logger     log.Logger
}

// NewS3Backend loads AWS credentials and creates the backend.
func NewS3Backend(ctx context.Context, params S3BackendParams, logger log.Logger) (*S3Backend, error) {
	cfg, err := loadAWSCredentials(ctx, params.Region, params.AccessKeyID, params.SecretAccessKey, logger)
	if err != nil {
		return nil, fmt.Errorf("load aws credentials: %w", err)
	}

	partSizeMB := params.PartSizeMB
	if partSizeMB == 0 {
		partSizeMB = 10
	}

	return &S3Backend{
		client:     s3.NewFromConfig(*cfg),
		partSizeMB: partSizeMB,
		logger:     logger,
	}, nil
}

// Put uploads the source through the S3 transfer manager. Transport-level
// retries happen here; the orchestrator's policy on top only restarts whole
// steps.
func (b *S3Backend) Put(ctx context.Context, objectURL string, src Source, headers map[string]string, onProgress ProgressFunc) (TransferResult, error) {
	bucket, key, err := parseS3URL(objectURL)
	if err != nil {
		return TransferResult{}, err
	}

	body, size, err := materialize(src)
	if err != nil {
		return TransferResult{}, err
	}

	counting := &countingReader{reader: body, total: size, onProgress: onProgress}
	counting.report(0)

	uploader := manager.NewUploader(b.client, func(u *manager.Uploader) {
		u.PartSize = b.partSizeMB * 1024 * 1024
	})

	var etag string
	err = retry.Times(numS3PutRetries).Wait(5 * time.Second).TryWithAbort(func(attempt uint) (error, bool) {
		if attempt > 0 {
			// rewind for retry; materialize always yields a seeker for
			// in-memory sources, streamed sources are not rewindable
			seeker, ok := body.(io.Seeker)
			if !ok {
				return errdefs.New(errdefs.KindNetwork, "stream source cannot be rewound for retry"), true
			}
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return fmt.Errorf("rewind source: %w", err), true
			}
			counting.reset()
		}

		result, err := uploader.Upload(ctx, &s3.PutObjectInput{
			Body:              counting,
			Bucket:            aws.String(bucket),
			Key:               aws.String(key),
			ContentType:       aws.String(src.ContentType),
			ContentLength:     aws.Int64(size),
			ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
		})
		if err != nil {
			return fmt.Errorf("upload object: %w", err), false
		}
		if result.ETag != nil {
			etag = strings.Trim(*result.ETag, `"`)
		}
		return nil, true
	})
	if err != nil {
		return TransferResult{}, classifyS3Error(ctx, err)
	}

	counting.finish()
	return TransferResult{OK: true, Status: 200, ETag: etag}, nil
}

func parseS3URL(raw string) (bucket string, key string, err error) {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme != "s3" || parsed.Host == "" {
		return "", "", errdefs.Newf(errdefs.KindValidation, "not an s3 object url: %s", raw)
	}
	key = strings.TrimPrefix(parsed.Path, "/")
	if key == "" {
		return "", "", errdefs.Newf(errdefs.KindValidation, "s3 object url has no key: %s", raw)
	}
	return parsed.Host, key, nil
}

func classifyS3Error(ctx context.Context, err error) error {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return errdefs.Newf(errdefs.KindTimeout, "s3 upload deadline exceeded: %s", err)
	case context.Canceled:
		return ctx.Err()
	}

	var apiError smithy.APIError
	if errors.As(err, &apiError) {
		switch apiError.(type) {
		case *types.NoSuchBucket:
			return errdefs.Newf(errdefs.KindNotFound, "bucket does not exist: %s", err)
		default:
			return errdefs.Newf(errdefs.KindService, "s3 api error: %s", err)
		}
	}
	return errdefs.Newf(errdefs.KindNetwork, "s3 upload failed: %s", err)
}

func loadAWSCredentials(
	ctx context.Context,
	region string,
	accessKeyID string,
	secretKey string,
	logger log.Logger,
) (*aws.Config, error) {
	if region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if accessKeyID != "" && secretKey != "" {
		logger.Debugf("aws credentials provided, using them...")
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %v", err)
	}

	return &cfg, nil
}

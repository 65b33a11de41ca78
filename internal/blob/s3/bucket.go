// Package s3blob archives rotated logs and ledger exports to S3 or an
// S3-compatible store (MinIO, R2, iDrive e2) using AWS SDK v2.
package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/polypaper/internal/domain"
)

// minPartSize is the smallest part S3 accepts in a multipart upload.
const minPartSize int64 = 5 * 1024 * 1024

// Options locate the archive bucket. Without an access key the default AWS
// credential chain is used (environment, shared config, instance role).
type Options struct {
	Endpoint  string // empty for AWS S3
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool // scheme for an Endpoint given without one
	PathStyle bool
}

func (o Options) validate() error {
	var errs []error
	if o.Bucket == "" {
		errs = append(errs, errors.New("bucket is required"))
	}
	if o.Region == "" {
		errs = append(errs, errors.New("region is required"))
	}
	if (o.AccessKey == "") != (o.SecretKey == "") {
		errs = append(errs, errors.New("access_key and secret_key go together"))
	}
	if _, err := o.endpointURL(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// endpointURL returns the endpoint with a scheme, or "" for AWS S3.
func (o Options) endpointURL() (string, error) {
	ep := strings.TrimRight(strings.TrimSpace(o.Endpoint), "/")
	if ep == "" {
		return "", nil
	}
	if !strings.Contains(ep, "://") {
		scheme := "http://"
		if o.UseSSL {
			scheme = "https://"
		}
		ep = scheme + ep
	}
	u, err := url.Parse(ep)
	if err != nil {
		return "", fmt.Errorf("endpoint %q: %w", o.Endpoint, err)
	}
	if u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("endpoint %q: want http(s)://host[:port]", o.Endpoint)
	}
	return ep, nil
}

// Bucket uploads archive objects into one bucket. It implements
// domain.BlobWriter.
type Bucket struct {
	client *s3.Client
	name   string
}

// Open builds the S3 client for o. It does not contact the store; call Check
// for that.
func Open(ctx context.Context, o Options) (*Bucket, error) {
	if err := o.validate(); err != nil {
		return nil, fmt.Errorf("s3blob: %w", err)
	}
	endpoint, _ := o.endpointURL()

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(o.Region)}
	if o.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(o.AccessKey, o.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(so *s3.Options) {
		if endpoint != "" {
			so.BaseEndpoint = aws.String(endpoint)
		}
		so.UsePathStyle = o.PathStyle
	})
	return &Bucket{client: client, name: o.Bucket}, nil
}

// Name is the bucket name.
func (b *Bucket) Name() string { return b.name }

// Check verifies the bucket exists and the credentials may use it.
func (b *Bucket) Check(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.name)})
	var nf *types.NotFound
	switch {
	case err == nil:
		return nil
	case errors.As(err, &nf):
		return fmt.Errorf("s3blob: bucket %s does not exist", b.name)
	default:
		return fmt.Errorf("s3blob: check bucket %s: %w", b.name, err)
	}
}

// Put stores data under key in one PutObject request. data should be
// seekable so the payload can be signed.
func (b *Bucket) Put(ctx context.Context, key string, data io.Reader, contentType string) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.name),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put %s: %w", key, err)
	}
	return nil
}

// PutMultipart streams data of unknown length. Payloads larger than one part
// go up as a multipart upload; partSize is raised to the S3 minimum.
func (b *Bucket) PutMultipart(ctx context.Context, key string, data io.Reader, partSize int64) error {
	up := manager.NewUploader(b.client, func(u *manager.Uploader) {
		u.PartSize = max(partSize, minPartSize)
		u.LeavePartsOnError = false
	})
	_, err := up.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.name),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String(contentType(key)),
	})
	if err != nil {
		return fmt.Errorf("s3blob: upload %s: %w", key, err)
	}
	return nil
}

// contentType picks the MIME type of an archived file from its extension.
func contentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".jsonl"):
		return "application/x-ndjson"
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	case strings.HasSuffix(key, ".csv"):
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}

var _ domain.BlobWriter = (*Bucket)(nil)

package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config configures access to an S3-compatible bucket.
type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
}

// s3API is the subset of *s3.Client the source uses.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 fetches manifests and assets from an S3 bucket. The manifest URL has
// the form s3://bucket/key; asset locators are either s3:// URLs or keys
// relative to the manifest's directory.
type S3 struct {
	client s3API
	bucket string
	key    string
}

// NewS3 creates an S3 source. Static credentials are used when both keys
// are set; otherwise the default AWS credential chain applies.
func NewS3(ctx context.Context, manifestURL string, cfg S3Config) (*S3, error) {
	bucket, key, err := parseS3URL(manifestURL)
	if err != nil {
		return nil, err
	}

	loadOpts := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			// Path-style addressing is required by most S3-compatible stores.
			o.UsePathStyle = true
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newS3WithClient(client, bucket, key), nil
}

func newS3WithClient(client s3API, bucket, key string) *S3 {
	return &S3{client: client, bucket: bucket, key: key}
}

// ScopeKey implements Source.
func (s *S3) ScopeKey() string {
	return scopeKeyFor("s3://" + s.bucket + "/" + s.key)
}

// FetchManifest implements Source.
func (s *S3) FetchManifest(ctx context.Context) ([]byte, error) {
	body, err := s.get(ctx, s.bucket, s.key)
	if err != nil {
		return nil, networkError("fetch manifest", err)
	}
	defer func() { _ = body.Close() }()

	data, err := io.ReadAll(io.LimitReader(body, maxManifestSize))
	if err != nil {
		return nil, networkError("read manifest", err)
	}
	return data, nil
}

// OpenAsset implements Source.
func (s *S3) OpenAsset(ctx context.Context, locator string) (io.ReadCloser, error) {
	bucket, key, err := s.resolve(locator)
	if err != nil {
		return nil, networkError("resolve asset locator", err)
	}
	body, err := s.get(ctx, bucket, key)
	if err != nil {
		return nil, networkError("fetch asset", err)
	}
	return body, nil
}

func (s *S3) resolve(locator string) (string, string, error) {
	locator = strings.TrimSpace(locator)
	if strings.HasPrefix(locator, "s3://") {
		return parseS3URL(locator)
	}
	if strings.Contains(locator, "://") {
		return "", "", fmt.Errorf("%w: locator %q", ErrUnsupported, locator)
	}
	if strings.HasPrefix(locator, "/") {
		return s.bucket, strings.TrimPrefix(locator, "/"), nil
	}
	return s.bucket, path.Join(path.Dir(s.key), locator), nil
}

func (s *S3) get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrNotFound, bucket, key)
		}
		return nil, fmt.Errorf("%w: %w", ErrNetworkFailure, err)
	}
	return decodeBody(result.Body, aws.ToString(result.ContentEncoding))
}

func parseS3URL(raw string) (string, string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("parse s3 url: %w", err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("%w: %q is not an s3://bucket/key url", ErrUnsupported, raw)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("%w: %q has no object key", ErrUnsupported, raw)
	}
	return u.Host, key, nil
}

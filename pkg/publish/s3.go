package publish

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// S3API is the part of the S3 client the publisher uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewS3Client loads the default AWS configuration. A non-empty endpoint
// selects an S3 compatible server with path-style addressing.
func NewS3Client(ctx context.Context, region, endpoint string) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// S3Publisher uploads artifacts and a dataset card under a key prefix.
type S3Publisher struct {
	client S3API
	bucket string
	prefix string
	logger zerolog.Logger
}

// NewS3Publisher creates a publisher writing to bucket/prefix.
func NewS3Publisher(client S3API, bucket, prefix string, logger zerolog.Logger) *S3Publisher {
	return &S3Publisher{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logger,
	}
}

func (p *S3Publisher) key(name string) string {
	if p.prefix == "" {
		return name
	}
	return path.Join(p.prefix, name)
}

// Publish uploads every artifact, then README.md. It stops at the first
// failed upload.
func (p *S3Publisher) Publish(ctx context.Context, artifacts []Artifact, meta Metadata, stats Stats) (Result, error) {
	if len(artifacts) == 0 {
		return Result{}, ErrNoArtifacts
	}
	meta = meta.withDefaults()
	res := Result{
		Target:   "s3",
		Location: fmt.Sprintf("s3://%s/%s", p.bucket, p.key("")),
	}
	objectMeta := map[string]string{
		"title":      meta.Title,
		"visibility": meta.Visibility,
	}

	for _, a := range artifacts {
		key := p.key(a.Name())
		if err := p.putFile(ctx, key, a.Path, objectMeta); err != nil {
			return res, err
		}
		res.Objects = append(res.Objects, key)
		p.logger.Info().Str("format", a.Format).Str("key", key).Msg("Uploaded artifact")
	}

	card, err := DatasetCard(meta, stats, artifacts)
	if err != nil {
		return res, err
	}
	key := p.key("README.md")
	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(card),
		ContentType: aws.String(contentType(key)),
		Metadata:    objectMeta,
	})
	if err != nil {
		return res, fmt.Errorf("upload %s: %w", key, err)
	}
	res.Objects = append(res.Objects, key)

	p.logger.Info().
		Str("location", res.Location).
		Int("objects", len(res.Objects)).
		Msg("Dataset published")
	return res, nil
}

func (p *S3Publisher) putFile(ctx context.Context, key, file string, meta map[string]string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(key)),
		Metadata:    meta,
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

var contentTypes = map[string]string{
	".csv":  "text/csv; charset=utf-8",
	".json": "application/json",
	".db":   "application/vnd.sqlite3",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".md":   "text/markdown; charset=utf-8",
}

func contentType(name string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

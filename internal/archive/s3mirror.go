package archive

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Mirror uploads completed Store files to an S3-compatible datalake
// bucket, per process-data.hcl's "datalake" key.
type S3Mirror struct {
	client *s3.Client
	bucket string
	prefix string

	timeout time.Duration
}

// ParseDatalakeURI parses a "s3://bucket[/prefix]" URI, the shape
// process-data.hcl's "datalake" field is documented to carry.
func ParseDatalakeURI(uri string) (bucket, prefix string, err error) {
	const scheme = "s3://"
	if !strings.HasPrefix(uri, scheme) {
		return "", "", fmt.Errorf("archive: datalake URI %q must start with %s", uri, scheme)
	}
	rest := uri[len(scheme):]
	if rest == "" {
		return "", "", fmt.Errorf("archive: datalake URI %q has no bucket", uri)
	}
	parts := strings.SplitN(rest, "/", 2)
	bucket = parts[0]
	if len(parts) == 2 {
		prefix = strings.Trim(parts[1], "/")
	}
	return bucket, prefix, nil
}

// NewS3Mirror builds an S3Mirror from a "s3://bucket/prefix" datalake
// URI, loading credentials the default AWS SDK way (environment,
// shared config file, or container/instance role).
func NewS3Mirror(ctx context.Context, datalakeURI string) (*S3Mirror, error) {
	bucket, prefix, err := ParseDatalakeURI(datalakeURI)
	if err != nil {
		return nil, err
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("archive: load AWS config: %w", err)
	}

	return &S3Mirror{
		client:  s3.NewFromConfig(cfg),
		bucket:  bucket,
		prefix:  prefix,
		timeout: 30 * time.Second,
	}, nil
}

// Upload puts data at "<prefix>/<area>/<job-id>/<relPath>" in the
// configured bucket; with an empty area the key is "<prefix>/<relPath>".
func (m *S3Mirror) Upload(area string, jobID uint64, relPath string, data []byte) error {
	key := relPath
	if area != "" {
		key = fmt.Sprintf("%s/%d/%s", area, jobID, relPath)
	}
	if m.prefix != "" {
		key = m.prefix + "/" + key
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	_, err := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put %s/%s: %w", m.bucket, key, err)
	}
	return nil
}

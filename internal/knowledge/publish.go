package knowledge

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"gopkg.in/yaml.v3"
)

// Publisher uploads export snapshots to an S3 bucket so that knowledge
// gathered on one machine can be pulled by the rest of the team.
type Publisher struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewPublisher builds a publisher from the ambient AWS configuration.
func NewPublisher(ctx context.Context, bucket, prefix string) (*Publisher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Publisher{client: s3.NewFromConfig(cfg), bucket: bucket, prefix: prefix}, nil
}

// Publish uploads the export as YAML under
// <prefix>/<sut>/knowledge-<timestamp>.yaml and also refreshes the stable
// <prefix>/<sut>/knowledge.yaml alias. Returns the timestamped key.
func (p *Publisher) Publish(ctx context.Context, export Export) (string, error) {
	raw, err := yaml.Marshal(export)
	if err != nil {
		return "", err
	}
	stamp := export.ExportedAt
	if stamp.IsZero() {
		stamp = time.Now().UTC()
	}
	key := path.Join(p.prefix, export.SUT, fmt.Sprintf("knowledge-%s.yaml", stamp.Format("20060102T150405Z")))
	for _, target := range []string{key, path.Join(p.prefix, export.SUT, "knowledge.yaml")} {
		_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(p.bucket),
			Key:         aws.String(target),
			Body:        bytes.NewReader(raw),
			ContentType: aws.String("application/yaml"),
		})
		if err != nil {
			return "", fmt.Errorf("upload %s: %w", target, err)
		}
	}
	return key, nil
}

package upload

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/studyforge/core/internal/config"
)

// s3Mirror copies uploaded materials into an S3-compatible bucket so they
// survive local disk loss.
type s3Mirror struct {
	client *s3.Client
	opts   config.S3Options
}

func newS3Mirror(opts config.S3Options) *s3Mirror {
	clientOpts := s3.Options{
		Region:       opts.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		UsePathStyle: opts.PathStyleAccess,
	}
	if opts.Endpoint != "" {
		clientOpts.BaseEndpoint = aws.String(normalizeS3Endpoint(opts.Endpoint))
	}
	return &s3Mirror{client: s3.New(clientOpts), opts: opts}
}

func (m *s3Mirror) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	_, err := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.opts.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", err
	}
	return m.publicURL(key), nil
}

func (m *s3Mirror) Delete(ctx context.Context, key string) error {
	_, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(m.opts.Bucket),
		Key:    aws.String(key),
	})
	return err
}

func (m *s3Mirror) publicURL(key string) string {
	if domain := strings.TrimSuffix(strings.TrimSpace(m.opts.CustomDomain), "/"); domain != "" {
		if !strings.Contains(domain, "://") {
			domain = "https://" + domain
		}
		return domain + "/" + key
	}
	endpoint := strings.TrimSuffix(normalizeS3Endpoint(m.opts.Endpoint), "/")
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://s3.%s.amazonaws.com", m.opts.Region)
	}
	if m.opts.PathStyleAccess {
		return endpoint + "/" + m.opts.Bucket + "/" + key
	}
	return strings.Replace(endpoint, "://", "://"+m.opts.Bucket+".", 1) + "/" + key
}

func normalizeS3Endpoint(raw string) string {
	endpoint := strings.TrimSpace(raw)
	if endpoint == "" {
		return ""
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	return endpoint
}

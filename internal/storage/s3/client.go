package s3

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/containerfs/containerfs/pkg/errors"
)

// Client is the subset of the S3 API the backend uses. *s3.Client
// satisfies it; tests substitute an in-memory implementation.
type Client interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// newClient builds an S3 client from backend params. A custom endpoint
// switches on path-style addressing for S3-compatible stores (MinIO,
// LocalStack). Static credentials in the params take precedence over
// the ambient credential chain.
func newClient(ctx context.Context, params map[string]string) (Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRetryMaxAttempts(3),
	}
	if region := params["region"]; region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	if access, secret := params["access-key"], params["secret-key"]; access != "" {
		if secret == "" {
			return nil, errors.InvalidConfig("s3 backend has access-key but no secret-key")
		}
		loadOpts = append(loadOpts,
			awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(access, secret, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.InvalidConfig("failed to load aws config: " + err.Error())
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint := params["endpoint"]; endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return client, nil
}

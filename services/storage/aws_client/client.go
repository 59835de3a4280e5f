package aws_client

import (
	"bytes"
	"context"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailflow/internal/tracing"
)

type Object struct {
	Key          string
	LastModified time.Time
}

type ObjectClient interface {
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
	List(ctx context.Context, bucket, prefix string) ([]Object, error)
	Delete(ctx context.Context, bucket, key string) error
}

type s3Client struct {
	uploader *s3manager.Uploader
	api      *s3.S3
}

func newS3Client(config *aws.Config) ObjectClient {
	s := session.Must(session.NewSession(config))
	return &s3Client{
		uploader: s3manager.NewUploader(s),
		api:      s3.New(s),
	}
}

func (c *s3Client) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "s3Client.Put")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("key", key)

	_, err := c.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	tracing.TraceErr(span, err)
	return err
}

func (c *s3Client) List(ctx context.Context, bucket, prefix string) ([]Object, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "s3Client.List")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	var objects []Object
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}
	err := c.api.ListObjectsV2PagesWithContext(ctx, input, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			objects = append(objects, Object{Key: *obj.Key, LastModified: aws.TimeValue(obj.LastModified)})
		}
		return true
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	span.SetTag("objects", len(objects))
	return objects, nil
}

func (c *s3Client) Delete(ctx context.Context, bucket, key string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "s3Client.Delete")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	_, err := c.api.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	tracing.TraceErr(span, err)
	return err
}

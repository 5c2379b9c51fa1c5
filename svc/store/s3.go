package store

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"linkvault/cfg"
	"linkvault/pkg/domain"
	"linkvault/svc/util"
)

// S3Store uploads file bodies to an S3-compatible bucket and builds the
// ordered candidate URLs used to read them back. Candidate generation is
// defensive: a variant that fails to sign is skipped, never fatal.
type S3Store struct {
	client    *s3.Client
	presign   *s3.PresignClient
	bucket    string
	region    string
	endpoint  string
	pathStyle bool
	signTTL   time.Duration
}

func NewS3Store(ctx context.Context, c *cfg.Cfg) (*S3Store, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	loadOpts = append(loadOpts, awsconfig.WithRegion(c.S3Region))
	if c.S3AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.S3AccessKey, c.S3SecretKey.Value(), ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if c.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(c.S3Endpoint)
		}
		o.UsePathStyle = c.S3ForcePathStyle
	})
	return &S3Store{
		client:    client,
		presign:   s3.NewPresignClient(client),
		bucket:    c.S3Bucket,
		region:    c.S3Region,
		endpoint:  c.S3Endpoint,
		pathStyle: c.S3ForcePathStyle,
		signTTL:   c.SignedURLTTL,
	}, nil
}

func (s *S3Store) Save(ctx context.Context, up *domain.FileUpload) (*Object, error) {
	key := storageKey(up.Name)
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   up.Reader,
	}
	if up.MimeType != "" {
		input.ContentType = aws.String(up.MimeType)
	}
	if up.Size > 0 {
		input.ContentLength = aws.Int64(up.Size)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return nil, errors.Wrap(err, "s3 put object")
	}
	return &Object{
		RemoteKey: key,
		RemoteURL: s.publicURL(key),
	}, nil
}

func (s *S3Store) Delete(ctx context.Context, obj Object) error {
	if obj.RemoteKey == "" {
		return nil
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(obj.RemoteKey),
	})
	return errors.Wrap(err, "s3 delete object")
}

// Candidates returns retrieval URLs most preferred first: a short-lived
// presigned GET, a presigned GET forcing a download disposition when the
// file name carries an extension, then the unsigned URLs as a last resort.
func (s *S3Store) Candidates(ctx context.Context, p *domain.Paste) []string {
	if p.RemoteKey == "" {
		if p.RemoteURL != "" {
			return []string{p.RemoteURL}
		}
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	add := func(u string) {
		if u != "" && !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}

	if signed, err := s.presignGet(ctx, p.RemoteKey, ""); err != nil {
		util.Warn().Err(err).Str("key", p.RemoteKey).Msg("presign candidate failed")
	} else {
		add(signed)
	}
	if ext := FileExt(p.FileName); ext != "" {
		disposition := fmt.Sprintf("attachment; filename=%q", SafeFileName(p.FileName))
		if signed, err := s.presignGet(ctx, p.RemoteKey, disposition); err != nil {
			util.Warn().Err(err).Str("key", p.RemoteKey).Msg("presign download candidate failed")
		} else {
			add(signed)
		}
	}
	add(s.publicURL(p.RemoteKey))
	add(p.RemoteURL)
	return out
}

func (s *S3Store) presignGet(ctx context.Context, key, disposition string) (string, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if disposition != "" {
		input.ResponseContentDisposition = aws.String(disposition)
	}
	req, err := s.presign.PresignGetObject(ctx, input, s3.WithPresignExpires(s.signTTL))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

func (s *S3Store) publicURL(key string) string {
	escaped := escapeKey(key)
	if s.endpoint != "" {
		base := strings.TrimSuffix(s.endpoint, "/")
		if s.pathStyle {
			return fmt.Sprintf("%s/%s/%s", base, s.bucket, escaped)
		}
		u, err := url.Parse(base)
		if err != nil {
			return fmt.Sprintf("%s/%s/%s", base, s.bucket, escaped)
		}
		u.Host = s.bucket + "." + u.Host
		return fmt.Sprintf("%s/%s", strings.TrimSuffix(u.String(), "/"), escaped)
	}
	if s.pathStyle {
		return fmt.Sprintf("https://s3.%s.amazonaws.com/%s/%s", s.region, s.bucket, escaped)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, escaped)
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func storageKey(name string) string {
	d := time.Now().UTC()
	return fmt.Sprintf("pastes/%d/%02d/%02d/%s-%s", d.Year(), d.Month(), d.Day(), uuid.New(), SafeFileName(name))
}

package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/BluceCao2018/funbenchmark.com/pkg/logging"
	"github.com/BluceCao2018/funbenchmark.com/pkg/models"
)

// S3Config holds configuration for the S3-backed gateway.
type S3Config struct {
	Bucket    string // bucket name
	Prefix    string // key prefix for all operations
	Region    string // AWS region (default: auto)
	Endpoint  string // custom endpoint for S3-compatible storage (R2, MinIO)
	AccessKey string // access key (optional, uses the default chain if empty)
	SecretKey string // secret key (optional)
	PublicURL string // public base URL for media objects
}

// S3Gateway persists the JSON documents and media blobs in an S3-compatible
// bucket. Documents are read and rewritten whole; media keys follow
// media/<owner>/<ts>-<filename>.
type S3Gateway struct {
	client *s3.Client
	config S3Config
	logger logging.Logger
}

// NewS3Gateway creates a gateway over an S3-compatible bucket.
func NewS3Gateway(cfg S3Config, logger logging.Logger) (*S3Gateway, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket is required")
	}

	if cfg.Region == "" {
		cfg.Region = "auto"
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	// Use explicit credentials if provided, otherwise the default chain
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for R2/MinIO and most S3-compatible storage
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)

	logger.WithFields(logging.Fields{
		"bucket":   cfg.Bucket,
		"prefix":   cfg.Prefix,
		"region":   cfg.Region,
		"endpoint": cfg.Endpoint,
	}).Info("S3 gateway initialized")

	return &S3Gateway{client: client, config: cfg, logger: logger}, nil
}

func (g *S3Gateway) fullKey(key string) string {
	if g.config.Prefix == "" {
		return key
	}
	return strings.TrimSuffix(g.config.Prefix, "/") + "/" + strings.TrimPrefix(key, "/")
}

func (g *S3Gateway) getDocument(ctx context.Context, key string, out interface{}) (bool, error) {
	resp, err := g.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.config.Bucket),
		Key:    aws.String(g.fullKey(key)),
	})
	if err != nil {
		// A missing document means an empty initial store
		if isNotFoundError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("failed to read %s body: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

func (g *S3Gateway) putDocument(ctx context.Context, key string, doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}

	_, err = g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(g.config.Bucket),
		Key:         aws.String(g.fullKey(key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// ReadResults returns the persisted result store, empty when absent.
func (g *S3Gateway) ReadResults(ctx context.Context) (models.ResultStore, error) {
	store := models.ResultStore{}
	if _, err := g.getDocument(ctx, ResultsKey, &store); err != nil {
		return nil, err
	}
	if store == nil {
		store = models.ResultStore{}
	}
	return store, nil
}

// WriteResults replaces the persisted result store.
func (g *S3Gateway) WriteResults(ctx context.Context, store models.ResultStore) error {
	return g.putDocument(ctx, ResultsKey, store)
}

// ReadMessages returns the persisted message store, empty when absent.
func (g *S3Gateway) ReadMessages(ctx context.Context) (*models.MessageStore, error) {
	store := &models.MessageStore{}
	if _, err := g.getDocument(ctx, MessagesKey, store); err != nil {
		return nil, err
	}
	return store, nil
}

// WriteMessages replaces the persisted message store.
func (g *S3Gateway) WriteMessages(ctx context.Context, store *models.MessageStore) error {
	return g.putDocument(ctx, MessagesKey, store)
}

// StoreMedia uploads a media blob and returns its public URL.
func (g *S3Gateway) StoreMedia(ctx context.Context, data []byte, contentType, ownerID, filename string) (string, error) {
	owner, err := mediaComponent(ownerID)
	if err != nil {
		return "", err
	}
	base, err := mediaComponent(filename)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("media/%s/%d-%s", owner, time.Now().UnixMilli(), base)

	_, err = g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(g.config.Bucket),
		Key:         aws.String(g.fullKey(key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to store media: %w", err)
	}

	g.logger.WithFields(logging.Fields{
		"bucket": g.config.Bucket,
		"key":    key,
		"size":   len(data),
	}).Info("Stored media object")

	return strings.TrimSuffix(g.config.PublicURL, "/") + "/" + g.fullKey(key), nil
}

// Ping probes the bucket with a HeadObject on the results document.
// A missing document still proves the bucket is reachable.
func (g *S3Gateway) Ping(ctx context.Context) error {
	_, err := g.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(g.config.Bucket),
		Key:    aws.String(g.fullKey(ResultsKey)),
	})
	if err != nil && !isNotFoundError(err) {
		return fmt.Errorf("bucket unreachable: %w", err)
	}
	return nil
}

// isNotFoundError checks if the error is a "not found" type error
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "NotFound") ||
		strings.Contains(errStr, "NoSuchKey") ||
		strings.Contains(errStr, "404")
}

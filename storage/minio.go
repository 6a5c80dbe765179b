package storage

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/loiht2/ctr-aiops/backend/errdefs"
	"github.com/loiht2/ctr-aiops/backend/logger"
)

// MinIOSecretName is the secret holding endpoint, accesskey and secretkey.
const MinIOSecretName = "minio-secret"

// MinIOClient stores objects in a single MinIO bucket
type MinIOClient struct {
	client *minio.Client
	bucket string
}

// MinIOConfig holds MinIO connection configuration
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewMinIOClientFromK8s creates a MinIO client using credentials from the
// minio-secret in namespace.
func NewMinIOClientFromK8s(ctx context.Context, k8sClient kubernetes.Interface, namespace, bucket string, useSSL bool) (*MinIOClient, error) {
	secret, err := k8sClient.CoreV1().Secrets(namespace).Get(ctx, MinIOSecretName, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", MinIOSecretName, err)
	}

	cfg := MinIOConfig{
		Endpoint:  string(secret.Data["endpoint"]),
		AccessKey: string(secret.Data["accesskey"]),
		SecretKey: string(secret.Data["secretkey"]),
		Bucket:    bucket,
		UseSSL:    useSSL,
	}
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("%s is missing required fields (endpoint, accesskey, secretkey)", MinIOSecretName)
	}

	logger.Infof("MinIO credentials loaded from %s/%s (endpoint: %s)", namespace, MinIOSecretName, cfg.Endpoint)
	return NewMinIOClient(cfg)
}

// NewMinIOClient creates a MinIO client with explicit configuration
func NewMinIOClient(cfg MinIOConfig) (*MinIOClient, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("minio bucket is required")
	}
	minioClient, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	return &MinIOClient{
		client: minioClient,
		bucket: cfg.Bucket,
	}, nil
}

// Bucket returns the bucket objects are stored in.
func (m *MinIOClient) Bucket() string {
	return m.bucket
}

// EnsureBucket creates the bucket if it doesn't exist
func (m *MinIOClient) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("failed to check if bucket exists: %w", err)
	}
	if exists {
		return nil
	}

	logger.Infof("Creating MinIO bucket: %s", m.bucket)
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// Put uploads an object
func (m *MinIOClient) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	info, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	logger.Debugf("Object uploaded: %s/%s (size: %d bytes)", m.bucket, key, info.Size)
	return nil
}

// Get retrieves an object. The object is stat'ed first so a missing key is
// reported here rather than on the first Read.
func (m *MinIOClient) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	object, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	if _, err := object.Stat(); err != nil {
		object.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("object %s: %w", key, errdefs.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to stat object %s: %w", key, err)
	}
	return object, nil
}

// List lists objects in the bucket with a prefix
func (m *MinIOClient) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete deletes an object
func (m *MinIOClient) Delete(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

package resource

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"outreach-service/ddd/domain/gateway"
	"outreach-service/ddd/infrastructure/storage"
	"outreach-service/pkg/assert"
	"outreach-service/pkg/config"
	"outreach-service/pkg/logger"
	"outreach-service/pkg/manager"
)

var (
	minioResourceOnce      sync.Once
	singletonMinioResource *MinioResource
)

// MinioResource owns the client for the artifact bucket.
type MinioResource struct {
	client     *minio.Client
	bucketName string
	publicBase string
}

// DefaultMinioResource 获取MinIO资源单例
func DefaultMinioResource() *MinioResource {
	assert.NotCircular()
	minioResourceOnce.Do(func() {
		singletonMinioResource = &MinioResource{}
	})
	assert.NotNil(singletonMinioResource)
	return singletonMinioResource
}

// MustOpen connects, creates the bucket if needed and, when configured, opens the
// artifact prefix for anonymous reads so emailed links work without signing.
func (r *MinioResource) MustOpen() {
	cfg := config.GetGlobalConfig()
	if cfg == nil {
		panic("global config not initialized before MinioResource")
	}
	mc := cfg.Minio
	if mc.Endpoint == "" {
		panic("minio endpoint is required")
	}
	if mc.BucketName == "" {
		panic("minio bucket_name is required")
	}

	client, err := minio.New(mc.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(mc.AccessKeyID, mc.SecretAccessKey, ""),
		Secure: mc.UseSSL,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to create minio client: %v", err))
	}
	r.client = client
	r.bucketName = mc.BucketName
	r.publicBase = publicBase(cfg.Public.StorageBase, mc)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := r.ensureBucket(ctx); err != nil {
		panic(err.Error())
	}
	if mc.PublicRead {
		if err := r.client.SetBucketPolicy(ctx, r.bucketName, readPolicy(r.bucketName, mc.ObjectPrefix)); err != nil {
			logger.Warnf("Set public read policy failed bucket=%s prefix=%s error=%v", r.bucketName, mc.ObjectPrefix, err)
		}
	}

	logger.Info("MinIO resource initialized", map[string]interface{}{
		"endpoint":    mc.Endpoint,
		"bucket_name": r.bucketName,
		"public_base": r.publicBase,
	})
}

func (r *MinioResource) ensureBucket(ctx context.Context) error {
	exists, err := r.client.BucketExists(ctx, r.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check minio bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := r.client.MakeBucket(ctx, r.bucketName, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create minio bucket: %w", err)
	}
	return nil
}

// ArtifactStorage returns the upload gateway for merged videos.
func (r *MinioResource) ArtifactStorage() gateway.StorageGateway {
	return storage.NewMinioStorage(r.client, r.bucketName, r.publicBase)
}

// GetClient 获取MinIO客户端
func (r *MinioResource) GetClient() *minio.Client {
	return r.client
}

// GetBucketName 获取桶名称
func (r *MinioResource) GetBucketName() string {
	return r.bucketName
}

// Close 释放资源
func (r *MinioResource) Close() {
	// minio-go客户端无需关闭连接
}

// publicBase prefers the configured CDN/public base and falls back to the endpoint itself.
func publicBase(configured string, mc config.MinioConfig) string {
	if base := strings.TrimRight(configured, "/"); base != "" {
		return base
	}
	scheme := "http"
	if mc.UseSSL {
		scheme = "https"
	}
	return scheme + "://" + mc.Endpoint
}

func readPolicy(bucket, prefix string) string {
	resource := "arn:aws:s3:::" + bucket + "/*"
	if p := strings.Trim(prefix, "/"); p != "" {
		resource = "arn:aws:s3:::" + bucket + "/" + p + "/*"
	}
	return `{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":["` + resource + `"]}]}`
}

// MinioResourcePlugin MinIO资源插件
type MinioResourcePlugin struct{}

func (p *MinioResourcePlugin) Name() string {
	return "minioResource"
}

func (p *MinioResourcePlugin) MustCreateResource() manager.Resource {
	return DefaultMinioResource()
}

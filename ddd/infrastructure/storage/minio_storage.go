package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"

	"outreach-service/ddd/domain/gateway"
	"outreach-service/pkg/logger"
)

// ObjectPutter is the part of *minio.Client used for uploads.
type ObjectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinioStorage MinIO存储实现
type MinioStorage struct {
	client     ObjectPutter
	bucketName string
	publicBase string
}

// NewMinioStorage 创建MinIO存储实例；publicBase 为对外访问前缀，如 https://cdn.example.com
func NewMinioStorage(client ObjectPutter, bucketName, publicBase string) gateway.StorageGateway {
	return &MinioStorage{
		client:     client,
		bucketName: bucketName,
		publicBase: strings.TrimRight(publicBase, "/"),
	}
}

// UploadArtifact 上传合成视频，返回可访问的URL
func (s *MinioStorage) UploadArtifact(ctx context.Context, localPath, objectKey, contentType string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		logger.Error("Failed to open local file", map[string]interface{}{
			"local_path": localPath,
			"error":      err.Error(),
		})
		return "", fmt.Errorf("open local file failed: %w", err)
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("get file info failed: %w", err)
	}
	if contentType == "" {
		contentType = getContentTypeFromExtension(objectKey)
	}

	_, err = s.client.PutObject(ctx, s.bucketName, objectKey, file, fileInfo.Size(), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		logger.Error("Failed to upload artifact to MinIO", map[string]interface{}{
			"local_path": localPath,
			"object_key": objectKey,
			"error":      err.Error(),
		})
		return "", fmt.Errorf("upload artifact to minio failed: %w", err)
	}

	logger.Info("Artifact uploaded", map[string]interface{}{
		"object_key": objectKey,
		"size":       fileInfo.Size(),
	})
	return s.PublicURL(objectKey), nil
}

// PublicURL joins the public base, bucket and key.
func (s *MinioStorage) PublicURL(objectKey string) string {
	key := strings.TrimLeft(objectKey, "/")
	if s.publicBase == "" {
		return "/" + s.bucketName + "/" + key
	}
	return s.publicBase + "/" + s.bucketName + "/" + key
}

func getContentTypeFromExtension(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mov":
		return "video/quicktime"
	case ".mkv":
		return "video/x-matroska"
	default:
		return "application/octet-stream"
	}
}

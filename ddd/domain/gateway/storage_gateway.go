package gateway

import "context"

// StorageGateway 存储网关
type StorageGateway interface {
	// UploadArtifact 上传合成视频，返回可公开访问的URL
	UploadArtifact(ctx context.Context, localPath, objectKey, contentType string) (string, error)
}

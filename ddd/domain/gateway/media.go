package gateway

import (
	"context"

	"outreach-service/ddd/domain/vo"
)

// Recorder captures a short screen recording of a website into outputDir.
type Recorder interface {
	Record(ctx context.Context, url, outputDir string) (string, error)
}

// Merger overlays the camera video onto the base recording and writes outputPath.
type Merger interface {
	Merge(ctx context.Context, basePath, overlayPath, outputPath string, placement vo.CameraPlacement) error
}

package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"outreach-service/ddd/domain/gateway"
	"outreach-service/ddd/domain/vo"
	"outreach-service/pkg/config"
	"outreach-service/pkg/logger"
)

// FFmpegMerger overlays the user's camera video on a website recording.
type FFmpegMerger struct {
	binary      string
	videoCodec  string
	videoPreset string
	audioCodec  string
	timeout     time.Duration
}

func NewFFmpegMerger(cfg config.FFmpegConfig) *FFmpegMerger {
	return &FFmpegMerger{
		binary:      cfg.BinaryPath,
		videoCodec:  cfg.VideoCodec,
		videoPreset: cfg.VideoPreset,
		audioCodec:  cfg.AudioCodec,
		timeout:     cfg.Timeout,
	}
}

var _ gateway.Merger = (*FFmpegMerger)(nil)

func (m *FFmpegMerger) Merge(ctx context.Context, basePath, overlayPath, outputPath string, placement vo.CameraPlacement) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, m.binaryPath(), m.buildArgs(basePath, overlayPath, outputPath, placement)...)
	logger.Debugf("ffmpeg command output=%s command=%s", outputPath, strings.Join(cmd.Args, " "))
	if err := runCommand(ctx, "ffmpeg", cmd); err != nil {
		_ = os.Remove(outputPath)
		return err
	}
	return nil
}

// buildArgs keeps the overlay's audio track, and the output ends with the shorter input.
func (m *FFmpegMerger) buildArgs(basePath, overlayPath, outputPath string, placement vo.CameraPlacement) []string {
	videoCodec := "libx264"
	if strings.TrimSpace(m.videoCodec) != "" {
		videoCodec = m.videoCodec
	}
	preset := "veryfast"
	if strings.TrimSpace(m.videoPreset) != "" {
		preset = m.videoPreset
	}
	audioCodec := "aac"
	if strings.TrimSpace(m.audioCodec) != "" {
		audioCodec = m.audioCodec
	}

	args := []string{
		"-i", basePath,
		"-i", overlayPath,
		"-filter_complex", placement.OverlayFilter(),
		"-map", "1:a?",
		"-c:v", videoCodec,
		"-preset", preset,
		"-pix_fmt", "yuv420p",
	}
	if !strings.Contains(strings.ToLower(videoCodec), "nvenc") {
		args = append(args, "-crf", "23")
	}
	args = append(args,
		"-c:a", audioCodec,
		"-b:a", "128k",
		"-shortest",
		"-movflags", "+faststart",
		"-y",
		outputPath,
	)
	return args
}

func (m *FFmpegMerger) binaryPath() string {
	if m.binary == "" {
		return "ffmpeg"
	}
	return m.binary
}

package executor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach-service/ddd/domain/vo"
	"outreach-service/pkg/config"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

const fakeEncoder = `for last; do :; done; cat > "$last"`

func TestFrameEncoderRepeatsLatestFrame(t *testing.T) {
	out := filepath.Join(t.TempDir(), "frames.bin")
	enc, err := startFrameEncoder(context.Background(), writeScript(t, fakeEncoder), []string{out}, 50)
	require.NoError(t, err)

	enc.Feed([]byte("A"))
	time.Sleep(100 * time.Millisecond)
	enc.Feed([]byte("B"))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, enc.Close())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	frames := string(data)
	assert.GreaterOrEqual(t, strings.Count(frames, "A"), 2, "an idle page keeps its frame on screen")
	assert.Contains(t, frames, "B")
	assert.Less(t, strings.LastIndex(frames, "A"), strings.Index(frames, "B"))
}

func TestFrameEncoderReportsEncoderFailure(t *testing.T) {
	enc, err := startFrameEncoder(context.Background(), writeScript(t, `cat > /dev/null; echo "Invalid data found" >&2; exit 1`), nil, 30)
	require.NoError(t, err)
	enc.Feed([]byte("frame"))
	time.Sleep(50 * time.Millisecond)

	err = enc.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid data found")
}

func recorderConfig() config.RecorderConfig {
	return config.RecorderConfig{
		Width:             1280,
		Height:            720,
		FPS:               30,
		NavigationTimeout: 45 * time.Second,
		Timeout:           time.Minute,
	}
}

func TestRecorderEncoderArgs(t *testing.T) {
	rec := NewBrowserRecorder(recorderConfig(), config.FFmpegConfig{BinaryPath: "ffmpeg"})
	args := rec.encoderArgs("out.mp4")
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-f image2pipe -framerate 30 -c:v mjpeg -i -")
	assert.Contains(t, joined, "scale=1280:720")
	assert.Contains(t, joined, "-pix_fmt yuv420p -r 30")
	assert.Equal(t, "out.mp4", args[len(args)-1])
}

func TestRecorderRejectsEmptyURL(t *testing.T) {
	rec := NewBrowserRecorder(recorderConfig(), config.FFmpegConfig{BinaryPath: "ffmpeg"})
	_, err := rec.Record(context.Background(), "  ", t.TempDir())
	assert.Error(t, err)
}

func TestRecorderCapturesLocalPage(t *testing.T) {
	browser := ""
	for _, name := range []string{"chromium", "chromium-browser", "google-chrome", "headless-shell"} {
		if p, err := exec.LookPath(name); err == nil {
			browser = p
			break
		}
	}
	ffmpeg, err := exec.LookPath("ffmpeg")
	if browser == "" || err != nil {
		t.Skip("chrome and ffmpeg are required")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body style="height:3000px;background:linear-gradient(#fff,#08f)">demo</body></html>`))
	}))
	defer srv.Close()

	cfg := recorderConfig()
	cfg.BrowserPath = browser
	rec := NewBrowserRecorder(cfg, config.FFmpegConfig{BinaryPath: ffmpeg})
	path, err := rec.Record(context.Background(), srv.URL, t.TempDir())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(path), "recording_"))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestMergerArgs(t *testing.T) {
	m := NewFFmpegMerger(config.FFmpegConfig{VideoCodec: "h264_nvenc", VideoPreset: "p4"})
	placement := vo.CameraPlacement{Position: vo.PositionTopRight, Size: vo.SizeLarge}

	args := m.buildArgs("base.mp4", "cam.mp4", "out.mp4", placement)
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-i base.mp4 -i cam.mp4")
	assert.Contains(t, joined, "-filter_complex "+placement.OverlayFilter())
	assert.Contains(t, joined, "-c:v h264_nvenc -preset p4")
	assert.NotContains(t, joined, "-crf")
	assert.Equal(t, "out.mp4", args[len(args)-1])

	m = NewFFmpegMerger(config.FFmpegConfig{})
	joined = strings.Join(m.buildArgs("a", "b", "c", vo.DefaultCameraPlacement()), " ")
	assert.Contains(t, joined, "-c:v libx264 -preset veryfast")
	assert.Contains(t, joined, "-crf 23")
	assert.Contains(t, joined, "-c:a aac")
}

func TestMergerRunsBinary(t *testing.T) {
	script := writeScript(t, `for last; do :; done; echo merged > "$last"`)
	m := NewFFmpegMerger(config.FFmpegConfig{BinaryPath: script, Timeout: 10 * time.Second})
	out := filepath.Join(t.TempDir(), "nested", "merged.mp4")

	require.NoError(t, m.Merge(context.Background(), "base.mp4", "cam.mp4", out, vo.DefaultCameraPlacement()))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "merged\n", string(data))
}

func TestMergerFailureRemovesOutput(t *testing.T) {
	script := writeScript(t, `for last; do :; done; echo partial > "$last"; echo "Invalid data found" >&2; exit 1`)
	m := NewFFmpegMerger(config.FFmpegConfig{BinaryPath: script})
	out := filepath.Join(t.TempDir(), "merged.mp4")

	err := m.Merge(context.Background(), "base.mp4", "cam.mp4", out, vo.DefaultCameraPlacement())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid data found")
	assert.NoFileExists(t, out)
}

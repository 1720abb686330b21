package executor

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"

	"outreach-service/ddd/domain/gateway"
	"outreach-service/pkg/config"
	"outreach-service/pkg/logger"
)

// scrollScript scrolls to the bottom in viewport steps, pauses, then scrolls back to the top.
const scrollScript = `(async () => {
  const step = window.innerHeight / 1.3;
  const total = document.body.scrollHeight;
  const pause = (ms) => new Promise((r) => setTimeout(r, ms));
  let pos = 0;
  while (pos < total) { window.scrollBy(0, step); await pause(150); pos += step; }
  await pause(800);
  while (pos > 0) { window.scrollBy(0, -step); await pause(150); pos -= step; }
})()`

// BrowserRecorder screen-records a website in headless Chrome. Screencast frames are
// re-timed to a constant frame rate and encoded by ffmpeg.
type BrowserRecorder struct {
	browserPath       string
	ffmpeg            string
	width             int
	height            int
	fps               int
	navigationTimeout time.Duration
	timeout           time.Duration
}

func NewBrowserRecorder(rc config.RecorderConfig, fc config.FFmpegConfig) *BrowserRecorder {
	return &BrowserRecorder{
		browserPath:       rc.BrowserPath,
		ffmpeg:            fc.BinaryPath,
		width:             rc.Width,
		height:            rc.Height,
		fps:               rc.FPS,
		navigationTimeout: rc.NavigationTimeout,
		timeout:           rc.Timeout,
	}
}

var _ gateway.Recorder = (*BrowserRecorder)(nil)

// Record writes recording_<id>.mp4 under outputDir and returns its path.
func (r *BrowserRecorder) Record(ctx context.Context, url, outputDir string) (string, error) {
	if strings.TrimSpace(url) == "" {
		return "", fmt.Errorf("empty url")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create recording dir: %w", err)
	}
	output := filepath.Join(outputDir, fmt.Sprintf("recording_%s.mp4", uuid.NewString()))

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, r.allocatorOptions()...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	if err := chromedp.Run(browserCtx, chromedp.EmulateViewport(int64(r.width), int64(r.height))); err != nil {
		return "", fmt.Errorf("start browser: %w", err)
	}
	if err := r.navigate(browserCtx, url); err != nil {
		return "", err
	}

	enc, err := startFrameEncoder(ctx, r.ffmpeg, r.encoderArgs(output), r.fps)
	if err != nil {
		return "", err
	}
	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		frame, ok := ev.(*page.EventScreencastFrame)
		if !ok {
			return
		}
		if data, err := base64.StdEncoding.DecodeString(frame.Data); err == nil {
			enc.Feed(data)
		}
		go func() {
			_ = chromedp.Run(browserCtx, page.ScreencastFrameAck(frame.SessionID))
		}()
	})

	logger.Debugf("recording started url=%s output=%s", url, output)
	runErr := chromedp.Run(browserCtx,
		page.StartScreencast().
			WithFormat(page.ScreencastFormatJpeg).
			WithQuality(85).
			WithMaxWidth(int64(r.width)).
			WithMaxHeight(int64(r.height)),
		chromedp.Evaluate(scrollScript, nil, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}),
		chromedp.Sleep(800*time.Millisecond),
		page.StopScreencast(),
	)
	encErr := enc.Close()
	if runErr != nil {
		_ = os.Remove(output)
		return "", fmt.Errorf("record %s: %w", url, runErr)
	}
	if encErr != nil {
		_ = os.Remove(output)
		return "", encErr
	}

	info, err := os.Stat(output)
	if err != nil {
		return "", fmt.Errorf("recorder produced no output: %w", err)
	}
	if info.Size() == 0 {
		_ = os.Remove(output)
		return "", fmt.Errorf("recorder produced an empty file for %s", url)
	}
	return output, nil
}

// navigate waits for the load event under the navigation timeout. The browser itself
// outlives the timeout.
func (r *BrowserRecorder) navigate(browserCtx context.Context, url string) error {
	navCtx := browserCtx
	if r.navigationTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(browserCtx, r.navigationTimeout)
		defer cancel()
	}
	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		if errors.Is(navCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("website took longer than %s to load: %s", r.navigationTimeout, url)
		}
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (r *BrowserRecorder) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.WindowSize(r.width, r.height),
	)
	if r.browserPath != "" {
		opts = append(opts, chromedp.ExecPath(r.browserPath))
	}
	return opts
}

func (r *BrowserRecorder) encoderArgs(output string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "image2pipe",
		"-framerate", strconv.Itoa(r.fps),
		"-c:v", "mjpeg",
		"-i", "-",
		"-vf", fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2", r.width, r.height, r.width, r.height),
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(r.fps),
		output,
	}
}

// frameEncoder feeds the latest frame to ffmpeg's stdin at a fixed rate, repeating it
// while the page is idle.
type frameEncoder struct {
	stdin io.WriteCloser
	fps   int
	done  chan error

	mu     sync.Mutex
	latest []byte

	stop    chan struct{}
	stopped chan struct{}
}

func startFrameEncoder(ctx context.Context, binary string, args []string, fps int) (*frameEncoder, error) {
	if fps <= 0 {
		fps = 30
	}
	cmd := exec.CommandContext(ctx, binary, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create encoder stdin: %w", err)
	}
	e := &frameEncoder{
		stdin:   stdin,
		fps:     fps,
		done:    make(chan error, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go func() { e.done <- runCommand(ctx, "ffmpeg encode", cmd) }()
	go e.pump()
	return e, nil
}

// Feed replaces the frame written on the next tick.
func (e *frameEncoder) Feed(frame []byte) {
	e.mu.Lock()
	e.latest = frame
	e.mu.Unlock()
}

func (e *frameEncoder) pump() {
	defer close(e.stopped)
	ticker := time.NewTicker(time.Second / time.Duration(e.fps))
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.mu.Lock()
			frame := e.latest
			e.mu.Unlock()
			if frame == nil {
				continue
			}
			if _, err := e.stdin.Write(frame); err != nil {
				return
			}
		}
	}
}

// Close stops the pump, ends ffmpeg's input and waits for the encode to finish.
func (e *frameEncoder) Close() error {
	close(e.stop)
	<-e.stopped
	_ = e.stdin.Close()
	return <-e.done
}

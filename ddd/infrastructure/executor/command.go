package executor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"outreach-service/pkg/logger"
)

const stderrTailLines = 50

// runCommand starts cmd, keeps the tail of its stderr and kills the process when ctx ends.
func runCommand(ctx context.Context, name string, cmd *exec.Cmd) error {
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("create %s stderr pipe: %w", name, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}

	scanDone := make(chan struct{})
	buf := make([]string, 0, 200)
	go func() {
		defer close(scanDone)
		captureTail(stderr, &buf)
	}()

	done := make(chan error, 1)
	go func() {
		<-scanDone
		done <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		return ctx.Err()
	case err := <-done:
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		tail := buf
		if n := len(tail); n > stderrTailLines {
			tail = tail[n-stderrTailLines:]
		}
		if len(tail) > 0 {
			logger.Errorf("%s failed tail_stderr=%s", name, strings.Join(tail, "\n"))
			return fmt.Errorf("%s: %w: %s", name, err, tail[len(tail)-1])
		}
		return fmt.Errorf("%s: %w", name, err)
	}
}

func captureTail(r io.Reader, capture *[]string) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024), 1024*1024)
	for scanner.Scan() {
		b := *capture
		if len(b) >= 200 {
			b = b[1:]
		}
		*capture = append(b, scanner.Text())
	}
}

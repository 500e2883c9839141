package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
)

// FrameCallback is called for each extracted JPEG frame.
type FrameCallback func(frameData []byte) error

const maxFrameSize = 10 * 1024 * 1024

var errNoFrames = errors.New("no frames received from ffmpeg")

// FFmpegExtractor extracts JPEG frames from a video source using FFmpeg.
type FFmpegExtractor struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	cmd    *exec.Cmd
}

// ffmpegArgs builds the command line for a source; network sources get
// protocol-specific timeouts so a dead camera fails instead of hanging.
func ffmpegArgs(streamURL string, fps, width int) []string {
	args := []string{"-hide_banner", "-nostdin", "-loglevel", "warning"}

	switch {
	case strings.HasPrefix(streamURL, "rtsp://"), strings.HasPrefix(streamURL, "rtsps://"):
		args = append(args,
			"-rtsp_transport", "tcp",
			"-timeout", "5000000", // microseconds
		)
	case strings.HasPrefix(streamURL, "http://"), strings.HasPrefix(streamURL, "https://"):
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
			"-rw_timeout", "10000000",
		)
	}

	return append(args,
		"-i", streamURL,
		"-an",
		"-vf", fmt.Sprintf("fps=%d,scale=%d:-2", fps, width),
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "3",
		"pipe:1",
	)
}

// StartExtraction runs FFmpeg and calls callback for every frame. It blocks
// until the source ends, the process fails or ctx is cancelled.
func (f *FFmpegExtractor) StartExtraction(ctx context.Context, streamURL string, fps int, width int, callback FrameCallback) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffmpeg", ffmpegArgs(streamURL, fps, width)...)
	f.mu.Lock()
	f.cancel = cancel
	f.cmd = cmd
	f.mu.Unlock()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			slog.Warn("ffmpeg stderr", "output", scanner.Text())
		}
	}()

	readErr := readJPEGFrames(ctx, stdout, callback)
	waitErr := cmd.Wait()

	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case readErr != nil:
		return fmt.Errorf("read frames: %w", readErr)
	case waitErr != nil:
		return fmt.Errorf("ffmpeg exited: %w", waitErr)
	}
	return nil
}

// Stop terminates the FFmpeg process.
func (f *FFmpegExtractor) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cancel != nil {
		f.cancel()
	}
	if f.cmd != nil && f.cmd.Process != nil {
		_ = f.cmd.Process.Kill()
	}
}

// readJPEGFrames splits a stream of concatenated JPEG images on the SOI/EOI
// markers. A callback error is logged and the frame dropped.
func readJPEGFrames(ctx context.Context, r io.Reader, callback FrameCallback) error {
	reader := bufio.NewReaderSize(r, 512*1024)
	frames := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := skipToJPEGStart(reader); err != nil {
			if errors.Is(err, io.EOF) {
				if frames == 0 {
					return errNoFrames
				}
				return nil
			}
			return err
		}

		frame, err := readJPEGBody(reader)
		if err != nil {
			// A frame cut off by the end of the stream is dropped.
			if errors.Is(err, io.EOF) && frames > 0 {
				return nil
			}
			return err
		}

		frames++
		if err := callback(frame); err != nil {
			slog.Warn("frame callback error", "frame", frames, "error", err)
		}
	}
}

func skipToJPEGStart(r *bufio.Reader) error {
	prev := byte(0)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if prev == 0xFF && b == 0xD8 {
			return nil
		}
		prev = b
	}
}

func readJPEGBody(r *bufio.Reader) ([]byte, error) {
	data := []byte{0xFF, 0xD8}
	prev := byte(0)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		data = append(data, b)
		if prev == 0xFF && b == 0xD9 {
			return data, nil
		}
		prev = b
		if len(data) > maxFrameSize {
			return nil, fmt.Errorf("jpeg frame larger than %d bytes", maxFrameSize)
		}
	}
}

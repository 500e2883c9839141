package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ResolveYouTubeURL uses yt-dlp to get a direct video URL from a YouTube link.
func ResolveYouTubeURL(ctx context.Context, youtubeURL string) (string, error) {
	cmd := exec.CommandContext(ctx, "yt-dlp",
		"--get-url",
		// Video only; audio is dropped by ffmpeg anyway.
		"--format", "bestvideo[height<=1080]/best[height<=1080]",
		"--no-playlist",
		youtubeURL,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("yt-dlp failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return firstURL(output)
}

// firstURL returns the first non-empty line; yt-dlp prints one URL per
// selected format.
func firstURL(output []byte) (string, error) {
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			return line, nil
		}
	}
	return "", errors.New("yt-dlp returned empty URL")
}

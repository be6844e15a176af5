package ffmpeg

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/lkern/shrinkarr/internal/logger"
)

const detectTimeout = 10 * time.Second

// DetectNVENC reports whether the ffmpeg binary carries hevc_nvenc and the
// driver stack can actually use it. The encoder list only proves the build
// flag; a one-frame lavfi test encode proves the GPU is reachable.
func DetectNVENC(ctx context.Context, ffmpegPath string) bool {
	ctx, cancel := context.WithTimeout(ctx, detectTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, ffmpegPath, "-encoders", "-hide_banner").Output()
	if err != nil {
		logger.Warn("Could not list ffmpeg encoders", "error", err)
		return false
	}
	if !strings.Contains(string(out), "hevc_nvenc") {
		logger.Warn("ffmpeg build has no hevc_nvenc encoder")
		return false
	}

	if !testNVENCEncode(ctx, ffmpegPath) {
		logger.Warn("hevc_nvenc present but test encode failed, GPU unavailable")
		return false
	}
	return true
}

// testNVENCEncode encodes a single black frame through the NVENC pipeline.
func testNVENCEncode(ctx context.Context, ffmpegPath string) bool {
	args := []string{
		"-hwaccel", "cuda",
		"-hwaccel_output_format", "cuda",
		"-f", "lavfi",
		"-i", "color=c=black:s=256x256:d=0.1",
		"-frames:v", "1",
		"-c:v", "hevc_nvenc",
		"-f", "null",
		"-",
	}
	return exec.CommandContext(ctx, ffmpegPath, args...).Run() == nil
}

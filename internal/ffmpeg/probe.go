// Package ffmpeg wraps the external ffprobe/ffmpeg tools: metadata probing,
// transcode planning and the encode run itself.
package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/lkern/shrinkarr/internal/errs"
)

// ProbeResult contains the metadata classification and planning run on.
type ProbeResult struct {
	Path     string        `json:"path"`
	Codec    string        `json:"codec,omitempty"`
	Bitrate  int64         `json:"bitrate,omitempty"` // bits per second
	Size     int64         `json:"size,omitempty"`
	Width    int           `json:"width,omitempty"`
	Height   int           `json:"height,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	IsHDR    bool          `json:"is_hdr"`
	IsHEVC   bool          `json:"is_hevc"`
	Is4K     bool          `json:"is_4k"`
}

// ffprobeOutput represents the JSON output from ffprobe.
type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
	Size     string `json:"size"`
	BitRate  string `json:"bit_rate"`
}

type ffprobeStream struct {
	CodecType      string            `json:"codec_type"`
	CodecName      string            `json:"codec_name"`
	Width          int               `json:"width"`
	Height         int               `json:"height"`
	BitRate        string            `json:"bit_rate"`
	ColorTransfer  string            `json:"color_transfer"`
	ColorPrimaries string            `json:"color_primaries"`
	SideDataList   []ffprobeSideData `json:"side_data_list"`
}

type ffprobeSideData struct {
	SideDataType string `json:"side_data_type"`
}

// Prober wraps ffprobe.
type Prober struct {
	ffprobePath string
}

// NewProber creates a Prober using the given ffprobe binary.
func NewProber(ffprobePath string) *Prober {
	return &Prober{ffprobePath: ffprobePath}
}

// Probe returns metadata for the first video stream of path.
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, errs.ProbeFailedf("%s: %s", path, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("%w: %s: %w", errs.ErrProbeFailed, path, err)
	}

	var probeOutput ffprobeOutput
	if err := json.Unmarshal(output, &probeOutput); err != nil {
		return nil, errs.ProbeFailedf("%s: unparseable ffprobe output: %v", path, err)
	}

	var video *ffprobeStream
	for i := range probeOutput.Streams {
		if probeOutput.Streams[i].CodecType == "video" {
			video = &probeOutput.Streams[i]
			break
		}
	}
	if video == nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrNoVideoStream, path)
	}

	result := &ProbeResult{
		Path:   path,
		Codec:  video.CodecName,
		Width:  video.Width,
		Height: video.Height,
		IsHEVC: IsHEVCCodec(video.CodecName),
		Is4K:   video.Width >= 3840 || video.Height >= 2160,
		IsHDR:  detectHDR(video),
	}

	// Stream bitrate when the container records one per stream (mp4 usually
	// does), else the container-level average (mkv usually only has this).
	if video.BitRate != "" {
		result.Bitrate, _ = strconv.ParseInt(video.BitRate, 10, 64)
	}
	if result.Bitrate == 0 && probeOutput.Format.BitRate != "" {
		result.Bitrate, _ = strconv.ParseInt(probeOutput.Format.BitRate, 10, 64)
	}

	if probeOutput.Format.Size != "" {
		result.Size, _ = strconv.ParseInt(probeOutput.Format.Size, 10, 64)
	}
	if probeOutput.Format.Duration != "" {
		durationSec, _ := strconv.ParseFloat(probeOutput.Format.Duration, 64)
		result.Duration = time.Duration(durationSec * float64(time.Second))
	}

	return result, nil
}

// hdrTransfers are the transfer functions that mark HDR content: PQ (HDR10
// and Dolby Vision profiles), HLG, and ST.428 digital cinema.
var hdrTransfers = map[string]bool{
	"smpte2084":    true,
	"arib-std-b67": true,
	"smpte428":     true,
}

// detectHDR reports whether the stream carries HDR signalling in its color
// metadata or side data (mastering display, content light level, DOVI).
func detectHDR(stream *ffprobeStream) bool {
	if hdrTransfers[strings.ToLower(stream.ColorTransfer)] {
		return true
	}
	if strings.ToLower(stream.ColorPrimaries) == "bt2020" {
		return true
	}
	for _, sd := range stream.SideDataList {
		t := strings.ToLower(sd.SideDataType)
		if strings.Contains(t, "hdr") || strings.Contains(t, "dolby vision") {
			return true
		}
	}
	return false
}

// IsHEVCCodec returns true if the codec name is HEVC.
func IsHEVCCodec(codec string) bool {
	codec = strings.ToLower(codec)
	return codec == "hevc" || codec == "h265"
}

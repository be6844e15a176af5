package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lkern/shrinkarr/internal/errs"
	"github.com/lkern/shrinkarr/internal/logger"
)

// stderrTailBytes bounds how much encoder stderr is retained for error
// reporting and the encoding log.
const stderrTailBytes = 4 << 10

// Progress is one parsed sample from the encoder's native stats stream.
type Progress struct {
	Time    time.Duration `json:"time"`
	Percent float64       `json:"percent"`
}

// TranscodeResult describes a completed encode.
type TranscodeResult struct {
	OutputSize int64         `json:"output_size"`
	Took       time.Duration `json:"took"`
}

// TranscodeError carries the stderr tail alongside the failure so callers
// can decide on retries and record diagnostics.
type TranscodeError struct {
	Err    error
	Stderr string
}

func (e *TranscodeError) Error() string {
	return e.Err.Error()
}

func (e *TranscodeError) Unwrap() error {
	return e.Err
}

// Transcoder runs ffmpeg processes.
type Transcoder struct {
	ffmpegPath string
}

// NewTranscoder creates a Transcoder using the given ffmpeg binary.
func NewTranscoder(ffmpegPath string) *Transcoder {
	return &Transcoder{ffmpegPath: ffmpegPath}
}

// Run executes one planned encode. ffmpeg's native stats output is left
// enabled and scanned for time= positions; onProgress (optional) is invoked
// once per parsed stats line, so callers throttle downstream publishing
// themselves. On failure the partial output file is removed and the returned
// error is a *TranscodeError holding the stderr tail. Context cancellation
// asks the process to finish gracefully before it is killed.
func (t *Transcoder) Run(ctx context.Context, plan *Plan, inputPath, outputPath string, duration time.Duration, onProgress func(Progress)) (*TranscodeResult, error) {
	start := time.Now()

	args := plan.Args(inputPath, outputPath)
	cmd := exec.CommandContext(ctx, t.ffmpegPath, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = 5 * time.Second

	logger.Debug("FFmpeg command", "args", strings.Join(args, " "))

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	// Drain stderr to completion before Wait. Stats lines are rewritten
	// in place with carriage returns, so the scanner splits on CR too.
	tail := newTailBuffer(stderrTailBytes)
	scanner := bufio.NewScanner(stderr)
	scanner.Split(scanStatsLines)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		tail.WriteLine(line)
		if pos, ok := parseStatsTime(line); ok && onProgress != nil {
			onProgress(Progress{Time: pos, Percent: percentOf(pos, duration)})
		}
	}

	if err := cmd.Wait(); err != nil {
		os.Remove(outputPath)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		stderrTail := tail.String()
		logger.Error("FFmpeg failed", "error", err, "stderr", lastLines(stderrTail, 5))
		return nil, &TranscodeError{
			Err:    errs.EncodeFailedf("ffmpeg exited: %v", err),
			Stderr: stderrTail,
		}
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat output file: %w", err)
	}

	return &TranscodeResult{
		OutputSize: info.Size(),
		Took:       time.Since(start),
	}, nil
}

// statsTimeRE matches the position field of an ffmpeg stats line,
// e.g. "frame= 102 fps= 40 ... time=00:01:23.45 bitrate=...".
var statsTimeRE = regexp.MustCompile(`time=(\d+):(\d+):(\d+)\.(\d+)`)

// parseStatsTime extracts the transcode position from one stats line.
// The fractional part is centiseconds.
func parseStatsTime(line string) (time.Duration, bool) {
	m := statsTimeRE.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	hours, _ := strconv.Atoi(m[1])
	mins, _ := strconv.Atoi(m[2])
	secs, _ := strconv.Atoi(m[3])
	centis, _ := strconv.Atoi(m[4])
	return time.Duration(hours)*time.Hour +
		time.Duration(mins)*time.Minute +
		time.Duration(secs)*time.Second +
		time.Duration(centis)*10*time.Millisecond, true
}

// percentOf converts a stream position to a percentage bounded at 100.
func percentOf(current, total time.Duration) float64 {
	if total <= 0 {
		return 0
	}
	pct := float64(current) / float64(total) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// scanStatsLines is a bufio.SplitFunc that treats both LF and CR as line
// terminators.
func scanStatsLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// tailBuffer retains the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) WriteLine(line string) {
	b.buf = append(b.buf, line...)
	b.buf = append(b.buf, '\n')
	if len(b.buf) > b.limit {
		b.buf = b.buf[len(b.buf)-b.limit:]
	}
}

func (b *tailBuffer) String() string {
	return string(b.buf)
}

// lastLines returns up to n trailing lines joined for compact log output.
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}

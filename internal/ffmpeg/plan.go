package ffmpeg

import (
	"strconv"
	"strings"
)

// Fixed plan constants. The encoder is NVENC-only and the filter spellings
// are not user-tunable.
const (
	planEncoder = "hevc_nvenc"
	planPreset  = "p4"

	scaleFilterCUDA = "scale_cuda=-2:1080"
	scaleFilterCPU  = "scale=-2:1080"

	// Moves frames out of GPU memory so the software tonemap chain can run.
	hwDownloadFilter = "hwdownload,format=nv12"

	// HDR10/HLG to SDR bt709 via Hable.
	tonemapFilter = "zscale=t=linear:npl=100,format=gbrpf32le,zscale=p=bt709," +
		"tonemap=tonemap=hable:desat=0,zscale=t=bt709:m=bt709:r=tv,format=yuv420p"
)

// fallbackRateArgs is the quality-mode rate control used when the source
// bitrate could not be probed.
var fallbackRateArgs = []string{"-rc", "vbr", "-cq", "28", "-maxrate", "8M", "-bufsize", "16M"}

// hwaccelInputArgs requests CUDA decode with frames left in GPU memory.
var hwaccelInputArgs = []string{"-hwaccel", "cuda", "-hwaccel_output_format", "cuda"}

// EncodeSettings are the tunables the planner consumes. They mirror the
// persisted encoding settings but live here so the package stays free of
// storage concerns.
type EncodeSettings struct {
	Scale4KTo1080p bool
	BitrateFactor  float64
	Cap1080pMbps   int
	Cap720pMbps    int
	CapOtherMbps   int
}

// Plan is a fully rendered ffmpeg invocation: everything except the binary
// and the input/output paths.
type Plan struct {
	InputArgs  []string // before -i
	OutputArgs []string // after -i, before the output path

	HWDecode      bool
	Downscale     bool
	Tonemap       bool
	TargetBitrate int64 // bps; 0 when the source bitrate is unknown
}

// BuildPlan renders the invocation for one source file. It is a pure
// function: the same metadata and settings always produce the same plan.
func BuildPlan(meta *ProbeResult, opts EncodeSettings, hwDecode bool) *Plan {
	p := &Plan{
		HWDecode:  hwDecode,
		Downscale: meta.Is4K && opts.Scale4KTo1080p,
		Tonemap:   meta.IsHDR,
	}

	if hwDecode {
		p.InputArgs = append(p.InputArgs, hwaccelInputArgs...)
	}

	var filters []string
	if p.Downscale {
		if hwDecode {
			filters = append(filters, scaleFilterCUDA)
		} else {
			filters = append(filters, scaleFilterCPU)
		}
	}
	if p.Tonemap {
		// The tonemap chain runs on the CPU. After a hardware downscale the
		// frames are still in GPU memory and must be downloaded first.
		if hwDecode && p.Downscale {
			filters = append(filters, hwDownloadFilter)
		}
		filters = append(filters, tonemapFilter)
	}
	if len(filters) > 0 {
		p.OutputArgs = append(p.OutputArgs, "-vf", strings.Join(filters, ","))
	}

	p.OutputArgs = append(p.OutputArgs, "-c:v", planEncoder, "-preset", planPreset)

	if meta.Bitrate > 0 {
		p.TargetBitrate = targetBitrate(meta, opts, p.Downscale)
		p.OutputArgs = append(p.OutputArgs, "-b:v", strconv.FormatInt(p.TargetBitrate, 10))
	} else {
		p.OutputArgs = append(p.OutputArgs, fallbackRateArgs...)
	}

	p.OutputArgs = append(p.OutputArgs,
		"-map", "0",
		"-c:a", "copy",
		"-c:s", "copy",
		"-f", "matroska",
	)
	return p
}

// targetBitrate scales the source bitrate by the configured factor and clamps
// it to the cap for the output resolution class. A downscaled 4K source
// counts as 1080p. Caps are stored in Mbps.
func targetBitrate(meta *ProbeResult, opts EncodeSettings, downscaled bool) int64 {
	target := int64(float64(meta.Bitrate) * opts.BitrateFactor)

	var capMbps int
	switch {
	case downscaled || meta.Height >= 1080:
		capMbps = opts.Cap1080pMbps
	case meta.Height <= 720:
		capMbps = opts.Cap720pMbps
	default:
		capMbps = opts.CapOtherMbps
	}
	if capBps := int64(capMbps) * 1_000_000; target > capBps {
		target = capBps
	}
	return target
}

// Args assembles the complete argument list for one ffmpeg run.
func (p *Plan) Args(inputPath, outputPath string) []string {
	args := make([]string, 0, len(p.InputArgs)+len(p.OutputArgs)+4)
	args = append(args, p.InputArgs...)
	args = append(args, "-i", inputPath, "-y")
	args = append(args, p.OutputArgs...)
	args = append(args, outputPath)
	return args
}

// Command renders the invocation as a single loggable string.
func (p *Plan) Command(inputPath, outputPath string) string {
	return "ffmpeg " + strings.Join(p.Args(inputPath, outputPath), " ")
}

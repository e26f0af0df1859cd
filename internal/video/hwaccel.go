// Package video detects decode-side hardware acceleration so the
// Capture Worker can pass the right ffmpeg flags when demuxing a
// stream, instead of always falling back to software decode.
package video

import (
	"context"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"
)

// HWAccelType identifies a decode acceleration backend ffmpeg supports.
type HWAccelType string

const (
	HWAccelNone         HWAccelType = ""
	HWAccelCUDA         HWAccelType = "cuda"        // NVIDIA GPU
	HWAccelVideoToolbox HWAccelType = "videotoolbox" // macOS
	HWAccelVAAPI        HWAccelType = "vaapi"       // Linux VA-API
	HWAccelQSV          HWAccelType = "qsv"         // Intel Quick Sync
	HWAccelD3D11VA      HWAccelType = "d3d11va"     // Windows DirectX 11
)

// HWAccelCapabilities is the result of one detection pass.
type HWAccelCapabilities struct {
	Available   []HWAccelType `json:"available"`
	Recommended HWAccelType   `json:"recommended"`
	DecodeH264  bool          `json:"decode_h264"`
	DecodeH265  bool          `json:"decode_h265"`
	GPUName     string        `json:"gpu_name,omitempty"`
	DetectedAt  time.Time     `json:"detected_at"`
}

// HWAccelDetector probes and caches the host's decode acceleration
// capabilities; probing spawns ffmpeg/vendor CLI subprocesses, so the
// result is cached after the first call.
type HWAccelDetector struct {
	mu           sync.RWMutex
	capabilities *HWAccelCapabilities
	logger       *slog.Logger
}

// NewHWAccelDetector builds an uninitialized detector.
func NewHWAccelDetector() *HWAccelDetector {
	return &HWAccelDetector{
		logger: slog.Default().With("component", "hwaccel"),
	}
}

// Detect runs the platform-specific probes and caches the result.
func (d *HWAccelDetector) Detect(ctx context.Context) (*HWAccelCapabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps := &HWAccelCapabilities{
		Available:  make([]HWAccelType, 0),
		DetectedAt: time.Now(),
	}

	if !d.checkFFmpeg() {
		d.logger.Warn("ffmpeg not found, decode acceleration unavailable")
		d.capabilities = caps
		return caps, nil
	}

	switch runtime.GOOS {
	case "darwin":
		d.detectMacOS(ctx, caps)
	case "linux":
		d.detectLinux(ctx, caps)
	case "windows":
		d.detectWindows(ctx, caps)
	}

	caps.Recommended = d.selectRecommended(caps.Available)
	d.capabilities = caps

	d.logger.Info("decode acceleration detected",
		"available", caps.Available, "recommended", caps.Recommended, "gpu", caps.GPUName)

	return caps, nil
}

// GetCapabilities returns the cached result, probing once if needed.
func (d *HWAccelDetector) GetCapabilities(ctx context.Context) (*HWAccelCapabilities, error) {
	d.mu.RLock()
	if d.capabilities != nil {
		caps := d.capabilities
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Detect(ctx)
}

// GetRecommended returns the best available decode backend, or
// HWAccelNone if probing failed or nothing was found.
func (d *HWAccelDetector) GetRecommended(ctx context.Context) HWAccelType {
	caps, err := d.GetCapabilities(ctx)
	if err != nil || caps == nil {
		return HWAccelNone
	}
	return caps.Recommended
}

// GetFFmpegHWAccelArgs returns the ffmpeg decode flags for accel, or nil
// for HWAccelNone (software decode).
func GetFFmpegHWAccelArgs(accel HWAccelType) []string {
	switch accel {
	case HWAccelCUDA:
		return []string{"-hwaccel", "cuda", "-hwaccel_output_format", "cuda"}
	case HWAccelVideoToolbox:
		return []string{"-hwaccel", "videotoolbox"}
	case HWAccelVAAPI:
		return []string{"-hwaccel", "vaapi", "-hwaccel_device", "/dev/dri/renderD128"}
	case HWAccelQSV:
		return []string{"-hwaccel", "qsv"}
	case HWAccelD3D11VA:
		return []string{"-hwaccel", "d3d11va"}
	default:
		return nil
	}
}

func (d *HWAccelDetector) checkFFmpeg() bool {
	cmd := exec.Command("ffmpeg", "-version")
	return cmd.Run() == nil
}

func (d *HWAccelDetector) detectMacOS(ctx context.Context, caps *HWAccelCapabilities) {
	if d.testVideoToolbox(ctx) {
		caps.Available = append(caps.Available, HWAccelVideoToolbox)
		caps.DecodeH264 = true
		caps.DecodeH265 = true
	}
	caps.GPUName = d.getMacGPUName()
}

func (d *HWAccelDetector) detectLinux(ctx context.Context, caps *HWAccelCapabilities) {
	if d.hasNVIDIAGPU() && d.testCUDA(ctx) {
		caps.Available = append(caps.Available, HWAccelCUDA)
		caps.GPUName = d.getNVIDIAGPUName()
		caps.DecodeH264 = true
		caps.DecodeH265 = true
	}

	if d.hasVAAPI() && d.testVAAPI(ctx) {
		caps.Available = append(caps.Available, HWAccelVAAPI)
		if caps.GPUName == "" {
			caps.GPUName = d.getVAAPIGPUName()
		}
		caps.DecodeH264 = true
		caps.DecodeH265 = true
	}

	if d.hasQSV() && d.testQSV(ctx) {
		caps.Available = append(caps.Available, HWAccelQSV)
		caps.DecodeH264 = true
		caps.DecodeH265 = true
	}
}

func (d *HWAccelDetector) detectWindows(ctx context.Context, caps *HWAccelCapabilities) {
	if d.hasNVIDIAGPU() && d.testCUDA(ctx) {
		caps.Available = append(caps.Available, HWAccelCUDA)
		caps.GPUName = d.getNVIDIAGPUName()
		caps.DecodeH264 = true
		caps.DecodeH265 = true
	}

	if d.testD3D11VA(ctx) {
		caps.Available = append(caps.Available, HWAccelD3D11VA)
		caps.DecodeH264 = true
		caps.DecodeH265 = true
	}

	if d.hasQSV() && d.testQSV(ctx) {
		caps.Available = append(caps.Available, HWAccelQSV)
		caps.DecodeH264 = true
		caps.DecodeH265 = true
	}
}

func (d *HWAccelDetector) selectRecommended(available []HWAccelType) HWAccelType {
	priority := []HWAccelType{
		HWAccelCUDA,
		HWAccelVideoToolbox,
		HWAccelQSV,
		HWAccelVAAPI,
		HWAccelD3D11VA,
	}

	for _, accel := range priority {
		for _, avail := range available {
			if accel == avail {
				return accel
			}
		}
	}

	return HWAccelNone
}

func (d *HWAccelDetector) testVideoToolbox(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, "ffmpeg", "-hide_banner", "-hwaccels")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return false
	}
	return strings.Contains(string(output), "videotoolbox")
}

func (d *HWAccelDetector) testCUDA(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-hwaccel", "cuda",
		"-f", "lavfi", "-i", "testsrc=duration=1:size=320x240:rate=1",
		"-f", "null", "-",
	)
	return cmd.Run() == nil
}

func (d *HWAccelDetector) testVAAPI(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-hwaccel", "vaapi",
		"-hwaccel_device", "/dev/dri/renderD128",
		"-f", "lavfi", "-i", "testsrc=duration=1:size=320x240:rate=1",
		"-f", "null", "-",
	)
	return cmd.Run() == nil
}

func (d *HWAccelDetector) testQSV(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-hwaccel", "qsv",
		"-f", "lavfi", "-i", "testsrc=duration=1:size=320x240:rate=1",
		"-f", "null", "-",
	)
	return cmd.Run() == nil
}

func (d *HWAccelDetector) testD3D11VA(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-hwaccel", "d3d11va",
		"-f", "lavfi", "-i", "testsrc=duration=1:size=320x240:rate=1",
		"-f", "null", "-",
	)
	return cmd.Run() == nil
}

func (d *HWAccelDetector) hasNVIDIAGPU() bool {
	cmd := exec.Command("nvidia-smi", "-L")
	output, err := cmd.Output()
	if err != nil {
		return false
	}
	return strings.Contains(string(output), "GPU")
}

func (d *HWAccelDetector) getNVIDIAGPUName() string {
	cmd := exec.Command("nvidia-smi", "--query-gpu=name", "--format=csv,noheader")
	output, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(output))
}

func (d *HWAccelDetector) hasVAAPI() bool {
	cmd := exec.Command("ls", "/dev/dri/renderD128")
	return cmd.Run() == nil
}

func (d *HWAccelDetector) getVAAPIGPUName() string {
	cmd := exec.Command("vainfo")
	output, err := cmd.Output()
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(output), "\n") {
		if strings.Contains(line, "Driver version") {
			return strings.TrimSpace(line)
		}
	}
	return ""
}

func (d *HWAccelDetector) hasQSV() bool {
	if runtime.GOOS != "linux" {
		return false
	}
	cmd := exec.Command("ls", "/dev/dri/renderD128")
	if cmd.Run() != nil {
		return false
	}
	cmd = exec.Command("lspci")
	output, err := cmd.Output()
	if err != nil {
		return false
	}
	lower := strings.ToLower(string(output))
	return strings.Contains(lower, "intel") && strings.Contains(lower, "vga")
}

func (d *HWAccelDetector) getMacGPUName() string {
	cmd := exec.Command("system_profiler", "SPDisplaysDataType")
	output, err := cmd.Output()
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(output), "\n") {
		if strings.Contains(line, "Chipset Model:") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				return strings.TrimSpace(parts[1])
			}
		}
	}
	return ""
}

var (
	globalDetector     *HWAccelDetector
	globalDetectorOnce sync.Once
)

// GetGlobalDetector returns the process-wide detector so every Capture
// Worker shares one probe instead of re-running ffmpeg/vendor CLIs per
// stream.
func GetGlobalDetector() *HWAccelDetector {
	globalDetectorOnce.Do(func() {
		globalDetector = NewHWAccelDetector()
	})
	return globalDetector
}

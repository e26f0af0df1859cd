package video

import (
	"context"
	"testing"
)

func TestHWAccelType_String(t *testing.T) {
	tests := []struct {
		accel    HWAccelType
		expected string
	}{
		{HWAccelNone, ""},
		{HWAccelCUDA, "cuda"},
		{HWAccelVideoToolbox, "videotoolbox"},
		{HWAccelVAAPI, "vaapi"},
		{HWAccelQSV, "qsv"},
		{HWAccelD3D11VA, "d3d11va"},
	}

	for _, tt := range tests {
		if string(tt.accel) != tt.expected {
			t.Errorf("expected %s, got %s", tt.expected, string(tt.accel))
		}
	}
}

func TestNewHWAccelDetector(t *testing.T) {
	detector := NewHWAccelDetector()
	if detector == nil {
		t.Fatal("NewHWAccelDetector returned nil")
	}
	if detector.logger == nil {
		t.Error("logger should be initialized")
	}
}

func TestGetFFmpegHWAccelArgs(t *testing.T) {
	tests := []struct {
		accel    HWAccelType
		expected []string
	}{
		{HWAccelNone, nil},
		{HWAccelCUDA, []string{"-hwaccel", "cuda", "-hwaccel_output_format", "cuda"}},
		{HWAccelVideoToolbox, []string{"-hwaccel", "videotoolbox"}},
		{HWAccelVAAPI, []string{"-hwaccel", "vaapi", "-hwaccel_device", "/dev/dri/renderD128"}},
		{HWAccelQSV, []string{"-hwaccel", "qsv"}},
		{HWAccelD3D11VA, []string{"-hwaccel", "d3d11va"}},
	}

	for _, tt := range tests {
		result := GetFFmpegHWAccelArgs(tt.accel)
		if tt.expected == nil {
			if result != nil {
				t.Errorf("expected nil for %s, got %v", tt.accel, result)
			}
			continue
		}
		if len(result) != len(tt.expected) {
			t.Errorf("expected %d args for %s, got %d", len(tt.expected), tt.accel, len(result))
		}
		for i, v := range result {
			if v != tt.expected[i] {
				t.Errorf("expected arg %d to be %s, got %s", i, tt.expected[i], v)
			}
		}
	}
}

func TestHWAccelDetector_SelectRecommended(t *testing.T) {
	detector := NewHWAccelDetector()

	tests := []struct {
		available []HWAccelType
		expected  HWAccelType
	}{
		{[]HWAccelType{}, HWAccelNone},
		{[]HWAccelType{HWAccelCUDA}, HWAccelCUDA},
		{[]HWAccelType{HWAccelVAAPI, HWAccelCUDA}, HWAccelCUDA},
		{[]HWAccelType{HWAccelVideoToolbox}, HWAccelVideoToolbox},
		{[]HWAccelType{HWAccelVAAPI, HWAccelQSV}, HWAccelQSV},
		{[]HWAccelType{HWAccelD3D11VA}, HWAccelD3D11VA},
	}

	for _, tt := range tests {
		result := detector.selectRecommended(tt.available)
		if result != tt.expected {
			t.Errorf("for available %v, expected %s, got %s", tt.available, tt.expected, result)
		}
	}
}

func TestGetGlobalDetector(t *testing.T) {
	detector1 := GetGlobalDetector()
	if detector1 == nil {
		t.Fatal("GetGlobalDetector returned nil")
	}

	detector2 := GetGlobalDetector()
	if detector1 != detector2 {
		t.Error("GetGlobalDetector should return the same instance")
	}
}

func TestHWAccelDetector_GetCapabilities_Caching(t *testing.T) {
	detector := NewHWAccelDetector()
	ctx := context.Background()

	caps1, err := detector.GetCapabilities(ctx)
	if err != nil {
		t.Fatalf("GetCapabilities failed: %v", err)
	}

	caps2, err := detector.GetCapabilities(ctx)
	if err != nil {
		t.Fatalf("GetCapabilities failed: %v", err)
	}

	if caps1 != caps2 {
		t.Error("expected second call to return the cached capabilities")
	}
}

func TestHWAccelDetector_GetRecommended_NoPanic(t *testing.T) {
	detector := NewHWAccelDetector()
	ctx := context.Background()

	_ = detector.GetRecommended(ctx)
}

func TestHWAccelDetector_Detect(t *testing.T) {
	detector := NewHWAccelDetector()
	ctx := context.Background()

	caps, err := detector.Detect(ctx)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if caps == nil {
		t.Fatal("expected non-nil capabilities")
	}
	if caps.DetectedAt.IsZero() {
		t.Error("DetectedAt should be set")
	}
	if caps.Available == nil {
		t.Error("Available should not be nil")
	}
}

func TestHWAccelCapabilities_Fields(t *testing.T) {
	caps := &HWAccelCapabilities{
		Available:   []HWAccelType{HWAccelCUDA},
		Recommended: HWAccelCUDA,
		DecodeH264:  true,
		DecodeH265:  true,
		GPUName:     "Test GPU",
	}

	if len(caps.Available) != 1 {
		t.Errorf("expected 1 available, got %d", len(caps.Available))
	}
	if caps.Recommended != HWAccelCUDA {
		t.Errorf("expected CUDA, got %s", caps.Recommended)
	}
	if !caps.DecodeH264 || !caps.DecodeH265 {
		t.Error("expected decode flags true")
	}
	if caps.GPUName != "Test GPU" {
		t.Errorf("expected 'Test GPU', got %q", caps.GPUName)
	}
}

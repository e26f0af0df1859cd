package segstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Metadata is what ffprobe reports about a finished segment file.
type Metadata struct {
	Duration   float64
	Bitrate    int
	Codec      string
	Resolution string
	FileSize   int64
}

// ExtractMetadata runs ffprobe against a finished segment file.
func ExtractMetadata(filePath string) (*Metadata, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("segment file not found: %w", err)
	}

	cmd := exec.Command("ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		filePath,
	)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var probe struct {
		Format struct {
			Duration string `json:"duration"`
			BitRate  string `json:"bit_rate"`
		} `json:"format"`
		Streams []struct {
			CodecType string `json:"codec_type"`
			CodecName string `json:"codec_name"`
			Width     int    `json:"width"`
			Height    int    `json:"height"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	meta := &Metadata{FileSize: info.Size()}
	if probe.Format.Duration != "" {
		if d, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
			meta.Duration = d
		}
	}
	if probe.Format.BitRate != "" {
		if b, err := strconv.Atoi(probe.Format.BitRate); err == nil {
			meta.Bitrate = b
		}
	}
	for _, s := range probe.Streams {
		if s.CodecType == "video" {
			meta.Codec = s.CodecName
			meta.Resolution = fmt.Sprintf("%dx%d", s.Width, s.Height)
			break
		}
	}
	return meta, nil
}

// GenerateThumbnail extracts a single frame at offsetSeconds into the
// segment as a JPEG.
func GenerateThumbnail(segmentPath, thumbnailPath string, offsetSeconds float64) error {
	if err := os.MkdirAll(filepath.Dir(thumbnailPath), 0755); err != nil {
		return fmt.Errorf("create thumbnail directory: %w", err)
	}

	cmd := exec.Command("ffmpeg",
		"-ss", fmt.Sprintf("%.2f", offsetSeconds),
		"-i", segmentPath,
		"-vframes", "1",
		"-q:v", "2",
		"-y",
		thumbnailPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg thumbnail failed: %s: %w", string(out), err)
	}
	return nil
}

// ThumbnailPathFor derives a thumbnail path alongside segmentPath under
// thumbRoot, mirroring the stream/day directory structure.
func ThumbnailPathFor(thumbRoot, segmentPath string) string {
	base := strings.TrimSuffix(filepath.Base(segmentPath), filepath.Ext(segmentPath))
	day := filepath.Base(filepath.Dir(segmentPath))
	stream := filepath.Base(filepath.Dir(filepath.Dir(segmentPath)))
	return filepath.Join(thumbRoot, stream, day, base+".jpg")
}

// Checksum computes the SHA-256 of a finished segment file.
func Checksum(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Validate runs a quick ffprobe decode pass to check a segment is
// playable.
func Validate(filePath string) error {
	info, err := os.Stat(filePath)
	if err != nil {
		return fmt.Errorf("segment not accessible: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("segment is empty")
	}

	cmd := exec.Command("ffprobe", "-v", "error", "-i", filePath, "-f", "null", "-")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("segment validation failed: %s", string(out))
	}
	return nil
}

// parseSegmentStart recovers a segment's start time from its
// <day>/<HH-MM-SS>.mp4 path, without consulting the catalog.
func parseSegmentStart(path string) (time.Time, error) {
	day := filepath.Base(filepath.Dir(path))
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return time.Parse("2006-01-02 15-04-05", day+" "+name)
}

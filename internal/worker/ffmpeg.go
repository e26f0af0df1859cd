package worker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/lightnvr/engine/internal/ring"
)

// ffmpegSource runs ffmpeg as a raw H.264 Annex-B elementary-stream
// demuxer over stdout. Only the first video stream is mapped; no audio
// reaches the worker. Unlike the segment-
// oriented "-f segment" invocation, this keeps rotation, pre-roll, and
// keyframe tagging entirely under the worker's control instead of
// ffmpeg's.
type ffmpegSource struct {
	cmd    *exec.Cmd
	stdout *bufio.Reader
	logger *slog.Logger
}

func newFFmpegSource(ctx context.Context, cfg Config, logger *slog.Logger) (*ffmpegSource, error) {
	args := buildFFmpegArgs(ctx, cfg)
	if len(args) == 0 {
		return nil, fmt.Errorf("no stream URL configured for %s", cfg.StreamName)
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	go logFFmpegStderr(stderr, logger)

	return &ffmpegSource{cmd: cmd, stdout: bufio.NewReaderSize(stdout, 256*1024), logger: logger}, nil
}

// nextFrame reads the next Annex-B NAL unit (start-code delimited) from
// the elementary stream and tags it as a keyframe if it is an IDR
// (NAL type 5) or SPS/PPS (types 7/8). Each NAL unit is returned as its
// own frame, so SPS and PPS are separate keyframe-tagged frames rather
// than bundled with the following IDR. PTS is the wall-clock time the
// unit was read.
func (s *ffmpegSource) nextFrame() (ring.Frame, error) {
	data, err := readNALUnit(s.stdout)
	if err != nil {
		return ring.Frame{}, err
	}
	if len(data) == 0 {
		return ring.Frame{}, fmt.Errorf("empty NAL unit")
	}

	nalType := data[0] & 0x1F
	keyframe := nalType == 5 || nalType == 7 || nalType == 8

	return ring.Frame{
		Kind:     ring.FrameVideo,
		Keyframe: keyframe,
		PTS:      time.Duration(time.Now().UnixNano()),
		Data:     data,
	}, nil
}

func (s *ffmpegSource) close() error {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	return s.cmd.Wait()
}

// readNALUnit scans forward from the current reader position to the
// next Annex-B start code (0x000001 or 0x00000001), returning everything
// between the previous and next start code.
func readNALUnit(r *bufio.Reader) ([]byte, error) {
	if err := skipToStartCode(r); err != nil {
		return nil, err
	}

	var buf []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF && len(buf) > 0 {
				return buf, nil
			}
			return nil, err
		}

		peek, _ := r.Peek(3)
		if len(peek) == 3 && peek[0] == 0 && peek[1] == 0 && (peek[2] == 1 || (len(peek) == 4 && peek[2] == 0 && peek[3] == 1)) {
			return buf, nil
		}
		buf = append(buf, b)
	}
}

func skipToStartCode(r *bufio.Reader) error {
	var zeros int
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		switch {
		case b == 0:
			zeros++
		case b == 1 && zeros >= 2:
			return nil
		default:
			zeros = 0
		}
	}
}

func logFFmpegStderr(stderr io.Reader, logger *slog.Logger) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(strings.ToLower(line), "error") {
			logger.Warn("ffmpeg stderr", "line", line)
		}
	}
}

// buildFFmpegArgs constructs the ffmpeg invocation that demuxes a
// stream to a raw Annex-B elementary stream on stdout, reusing the
// hardware-acceleration arg selection the rest of the engine shares.
func buildFFmpegArgs(ctx context.Context, cfg Config) []string {
	if cfg.URL == "" {
		return nil
	}

	args := []string{"-hide_banner", "-loglevel", "warning"}
	args = append(args, HardwareAccelArgs(ctx)...)

	args = append(args,
		"-fflags", "+genpts+discardcorrupt",
		"-avoid_negative_ts", "make_zero",
		"-max_delay", "500000",
	)

	if strings.HasPrefix(cfg.URL, "rtsp://") {
		args = append(args, "-rtsp_transport", "tcp", "-stimeout", "5000000")
	}

	args = append(args, "-i", cfg.URL)
	args = append(args, "-map", "0:v:0", "-c:v", "copy", "-bsf:v", "h264_mp4toannexb", "-f", "h264", "pipe:1")

	return args
}

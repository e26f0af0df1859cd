package timeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WritePlaylist renders m as an HLS-style playlist (one #EXTINF line per
// recording entry, gaps skipped) and writes it to
// <manifestRoot>/<streamName>/<start-unix>-<end-unix>.m3u8.
func WritePlaylist(manifestRoot string, m *Manifest) (string, error) {
	dir := filepath.Join(manifestRoot, m.StreamName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create manifest dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%d-%d.m3u8", m.StartTime.Unix(), m.EndTime.Unix()))

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString(fmt.Sprintf("#EXT-X-TARGETDURATION:%d\n", targetDuration(m)))
	b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")

	for _, e := range m.Entries {
		if e.Type != EntryRecording {
			continue
		}
		dur := e.EndTime.Sub(e.StartTime).Seconds()
		label := e.StartTime.Local().Format("2006-01-02 15:04:05")
		b.WriteString(fmt.Sprintf("#EXTINF:%.3f,%s\n", dur, label))
		for _, id := range e.SegmentIDs {
			b.WriteString(id + ".mp4\n")
		}
	}
	b.WriteString("#EXT-X-ENDLIST\n")

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("write playlist: %w", err)
	}
	return path, nil
}

func targetDuration(m *Manifest) int {
	max := 0.0
	for _, e := range m.Entries {
		if e.Type != EntryRecording {
			continue
		}
		if d := e.EndTime.Sub(e.StartTime).Seconds(); d > max {
			max = d
		}
	}
	if max < 1 {
		return 1
	}
	return int(max) + 1
}

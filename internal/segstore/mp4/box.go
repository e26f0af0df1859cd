// Package mp4 writes the minimal fragmented ISO BMFF boxes the segment
// store needs: one ftyp at the start of each file, one moof+mdat pair
// per GOP, and one moov appended when the file is closed.
// It is not a general-purpose muxer — no edit lists, no multi-track
// interleaving, no encryption boxes — only what a single H.264/AAC
// recording segment requires.
package mp4

import (
	"bytes"
	"encoding/binary"
	"io"
)

// Box is an in-memory box payload that knows how to serialize itself
// with its own size+type header.
type Box struct {
	Type    string
	Payload []byte
	Fourcc  bool // true for full boxes with embedded version/flags already in Payload
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func u16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func u64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// writeBox writes a standard [size][type][payload] box to w.
func writeBox(w io.Writer, boxType string, payload []byte) (int64, error) {
	if len(boxType) != 4 {
		panic("mp4: box type must be 4 characters")
	}
	size := uint32(8 + len(payload))
	buf := make([]byte, 0, size)
	buf = append(buf, u32(size)...)
	buf = append(buf, []byte(boxType)...)
	buf = append(buf, payload...)
	n, err := w.Write(buf)
	return int64(n), err
}

// container concatenates child box bytes, used to build payloads for
// boxes that are themselves just a sequence of child boxes (moov, trak,
// mdia, minf, stbl, moof, traf).
func container(children ...[]byte) []byte {
	var buf bytes.Buffer
	for _, c := range children {
		buf.Write(c)
	}
	return buf.Bytes()
}

// box renders a single box (header+payload) to a byte slice, for
// nesting inside a parent container payload.
func box(boxType string, payload []byte) []byte {
	var buf bytes.Buffer
	_, _ = writeBox(&buf, boxType, payload)
	return buf.Bytes()
}

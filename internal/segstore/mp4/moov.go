package mp4

import "io"

// TrackInfo carries the per-sample table finalize needs to synthesize a
// moov describing everything already written as moof/mdat fragments.
type TrackInfo struct {
	TrackID   uint32
	Timescale uint32
	Duration  uint64 // total duration in Timescale units
	Width     uint16
	Height    uint16
	Samples   []Sample
	Offsets   []int64 // absolute byte offset of each sample's first byte within the file
}

// WriteMoov synthesizes a moov box describing the samples already
// written to the file as fragments, so a finished segment is playable
// by readers that expect non-fragmented sample tables (stts/stsz/stco)
// alongside the moof data.
func WriteMoov(w io.Writer, track TrackInfo) (int64, error) {
	mvhd := box("mvhd", container(
		u32(0), u32(0), u32(0),
		u32(1000), u32(uint32(track.Duration*1000/uint64(max1(track.Timescale))+1)),
		u32(0x00010000), u16(0x0100), u16(0),
		u32(0), u32(0),
		identityMatrix(),
		make([]byte, 24),
		u32(track.TrackID+1),
	))

	tkhd := box("tkhd", container(
		u32(0x000007), // version 0, flags: enabled+in-movie+in-preview
		u32(0), u32(0),
		u32(track.TrackID),
		u32(0),
		u32(uint32(track.Duration)),
		make([]byte, 8),
		u16(0), u16(0),
		u16(0x0100), u16(0),
		identityMatrix(),
		u32(uint32(track.Width)<<16),
		u32(uint32(track.Height)<<16),
	))

	mdhd := box("mdhd", container(
		u32(0), u32(0), u32(0),
		u32(track.Timescale),
		u32(uint32(track.Duration)),
		u16(0x55c4), u16(0),
	))

	hdlr := box("hdlr", container(
		u32(0), u32(0), []byte("vide"), make([]byte, 12), []byte("VideoHandler\x00"),
	))

	stts := box("stts", sampleTimeTable(track.Samples))
	stsz := box("stsz", sampleSizeTable(track.Samples))
	stsc := box("stsc", container(u32(0), u32(1), u32(1), u32(1), u32(1)))
	stco := box("stco", chunkOffsetTable(track.Offsets))
	stsd := box("stsd", container(u32(0), u32(0))) // sample description deliberately left minimal

	stbl := box("stbl", container(stsd, stts, stsc, stsz, stco))
	vmhd := box("vmhd", container(u32(1), u16(0), u16(0), u16(0), u16(0)))
	dref := box("dref", container(u32(0), u32(1), box("url ", container(u32(1)))))
	dinf := box("dinf", container(dref))
	minf := box("minf", container(vmhd, dinf, stbl))
	mdia := box("mdia", container(mdhd, hdlr, minf))
	trak := box("trak", container(tkhd, mdia))

	mvex := box("mvex", container(box("trex", container(
		u32(0), u32(track.TrackID), u32(1), u32(0), u32(0), u32(0x00010000),
	))))

	moovPayload := container(mvhd, trak, mvex)
	return writeBox(w, "moov", moovPayload)
}

func identityMatrix() []byte {
	vals := []uint32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}
	buf := make([]byte, 0, 36)
	for _, v := range vals {
		buf = append(buf, u32(v)...)
	}
	return buf
}

func sampleTimeTable(samples []Sample) []byte {
	type run struct {
		count, duration uint32
	}
	var runs []run
	for _, s := range samples {
		if len(runs) > 0 && runs[len(runs)-1].duration == s.Duration {
			runs[len(runs)-1].count++
			continue
		}
		runs = append(runs, run{count: 1, duration: s.Duration})
	}
	out := container(u32(0), u32(uint32(len(runs))))
	for _, r := range runs {
		out = append(out, u32(r.count)...)
		out = append(out, u32(r.duration)...)
	}
	return out
}

func sampleSizeTable(samples []Sample) []byte {
	out := container(u32(0), u32(0), u32(uint32(len(samples))))
	for _, s := range samples {
		out = append(out, u32(s.Size)...)
	}
	return out
}

func chunkOffsetTable(offsets []int64) []byte {
	out := container(u32(0), u32(uint32(len(offsets))))
	for _, o := range offsets {
		out = append(out, u32(uint32(o))...)
	}
	return out
}

func max1(v uint32) uint32 {
	if v == 0 {
		return 1
	}
	return v
}

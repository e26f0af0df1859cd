package mp4

import "io"

// Sample describes one encoded access unit within a fragment.
type Sample struct {
	Size     uint32
	Duration uint32 // in track timescale units
	Keyframe bool
}

// WriteMoof writes a moof box describing one fragment (GOP) of samples
// for a single track, followed immediately by the mdat box holding the
// raw sample bytes — the pairing the segment writer emits once per GOP.
func WriteMoof(w io.Writer, sequenceNumber, trackID uint32, samples []Sample, data []byte) (int64, error) {
	mfhd := box("mfhd", container(u32(0), u32(sequenceNumber)))

	tfhd := box("tfhd", container(
		u32(0x020000), // tf_flags: default-base-is-moof
		u32(trackID),
	))

	tfdt := box("tfdt", container(u32(0), u32(0)))

	trunPayload := container(
		u32(0x01000701), // version 1, flags: data-offset + duration + size + flags present
		u32(uint32(len(samples))),
		u32(0), // data_offset patched below
	)
	for _, s := range samples {
		flags := uint32(0x00010000) // non-keyframe: sample_is_non_sync_sample
		if s.Keyframe {
			flags = 0x02000000
		}
		trunPayload = append(trunPayload, u32(s.Duration)...)
		trunPayload = append(trunPayload, u32(s.Size)...)
		trunPayload = append(trunPayload, u32(flags)...)
	}
	trun := box("trun", trunPayload)

	traf := box("traf", container(tfhd, tfdt, trun))
	moofPayload := container(mfhd, traf)

	moofSize := int64(8 + len(moofPayload))
	// Patch the trun data_offset field now that moof's total size (and
	// therefore mdat's start relative to moof) is known: data_offset is
	// the byte distance from the start of moof to the first sample byte,
	// i.e. moofSize + 8 (the mdat header).
	dataOffset := uint32(moofSize + 8)
	patchTrunOffset(moofPayload, dataOffset)

	if _, err := writeBox(w, "moof", moofPayload); err != nil {
		return 0, err
	}

	mdatN, err := writeBox(w, "mdat", data)
	if err != nil {
		return 0, err
	}
	return moofSize + mdatN, nil
}

// patchTrunOffset finds the data_offset field inside the already-built
// moof payload and overwrites it in place. The offset is fixed relative
// to the top of moofPayload: mfhd (8+8=16 bytes) + traf box header (8) +
// tfhd box (8+8=16) + tfdt box (8+8=16) + trun box header (8) +
// trun version/flags (4) + sample_count (4) = 72.
func patchTrunOffset(moofPayload []byte, offset uint32) {
	const trunDataOffsetPos = 16 + 8 + 16 + 16 + 8 + 4 + 4
	if len(moofPayload) < trunDataOffsetPos+4 {
		return
	}
	copy(moofPayload[trunDataOffsetPos:trunDataOffsetPos+4], u32(offset))
}

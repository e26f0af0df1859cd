package mp4

import "io"

// WriteFtyp writes the file-type box every segment opens with.
func WriteFtyp(w io.Writer) (int64, error) {
	payload := container(
		[]byte("isom"), u32(512),
		[]byte("isom"), []byte("iso2"), []byte("avc1"), []byte("mp41"),
	)
	return writeBox(w, "ftyp", payload)
}

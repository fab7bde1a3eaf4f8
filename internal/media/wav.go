package media

import (
	"encoding/binary"
	"io"
)

const wavHeaderSize = 44

// writeWAV writes a PCM16 WAV file (header plus sample data) to w.
func writeWAV(w io.Writer, pcm []byte, sampleRate, channels int) error {
	blockAlign := channels * 2
	byteRate := sampleRate * blockAlign

	header := make([]byte, wavHeaderSize)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+len(pcm)))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(header[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], 16) // bits per sample
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(len(pcm)))

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(pcm)
	return err
}

// clipPCM slices raw s16le sample data to the [start, end) second range.
// A request with end <= start or start < 0 is ignored and the full range is
// returned. A start at or beyond the end of the data is likewise ignored,
// which makes clipping an already-clipped range a no-op.
func clipPCM(pcm []byte, start, end, sampleRate, channels int) []byte {
	if end <= start || start < 0 {
		return pcm
	}
	frame := channels * 2
	bytesPerSec := sampleRate * frame

	lo := start * bytesPerSec
	if lo >= len(pcm) {
		return pcm
	}
	hi := end * bytesPerSec
	if hi > len(pcm) {
		hi = len(pcm)
	}
	lo -= lo % frame
	hi -= hi % frame
	return pcm[lo:hi]
}

package audio

import (
	"encoding/binary"
	"errors"
	"time"
)

// DefaultByteRate is assumed for buffers that carry no WAV header:
// 16 kHz, mono, 16-bit PCM.
const DefaultByteRate = 32000

// WAVInfo describes the format of a RIFF/WAVE buffer.
type WAVInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int

	// DataOffset is the byte offset of the first PCM sample.
	DataOffset int

	// DataLen is the number of PCM bytes available after DataOffset.
	DataLen int
}

// ByteRate returns the number of PCM bytes per second of audio.
func (w WAVInfo) ByteRate() int {
	return w.SampleRate * w.Channels * w.BitsPerSample / 8
}

// Duration returns the playing time of the PCM data.
func (w WAVInfo) Duration() time.Duration {
	br := w.ByteRate()
	if br <= 0 {
		return 0
	}
	return time.Duration(int64(w.DataLen) * int64(time.Second) / int64(br))
}

// ParseWAV walks the RIFF chunks of wav and returns the format of its fmt
// chunk and the location of its data chunk.
func ParseWAV(wav []byte) (WAVInfo, error) {
	if len(wav) < 12 {
		return WAVInfo{}, errors.New("audio: buffer too short to be a RIFF file")
	}
	if string(wav[0:4]) != "RIFF" {
		return WAVInfo{}, errors.New("audio: missing RIFF header")
	}
	if string(wav[8:12]) != "WAVE" {
		return WAVInfo{}, errors.New("audio: missing WAVE identifier")
	}

	var info WAVInfo
	foundFmt := false

	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize >= 16 && offset+8+16 <= len(wav) {
				f := wav[offset+8:]
				info.Channels = int(binary.LittleEndian.Uint16(f[2:4]))
				info.SampleRate = int(binary.LittleEndian.Uint32(f[4:8]))
				info.BitsPerSample = int(binary.LittleEndian.Uint16(f[14:16]))
				foundFmt = true
			}
		case "data":
			if !foundFmt {
				return WAVInfo{}, errors.New("audio: data chunk before fmt chunk")
			}
			info.DataOffset = offset + 8
			// Streaming encoders write 0 or 0xFFFFFFFF when the size is unknown.
			info.DataLen = min(chunkSize, len(wav)-info.DataOffset)
			if chunkSize == 0 {
				info.DataLen = len(wav) - info.DataOffset
			}
			return info, nil
		}

		// Chunks are word-aligned.
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return WAVInfo{}, errors.New("audio: missing data chunk")
}

// EncodeWAV wraps 16-bit little-endian PCM samples in a minimal WAV container.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const bits = 16
	fmtSize := uint32(16)
	dataSize := uint32(len(pcm))

	buf := make([]byte, 0, 44+len(pcm))
	le := binary.LittleEndian

	buf = append(buf, "RIFF"...)
	buf = le.AppendUint32(buf, 4+(8+fmtSize)+(8+dataSize))
	buf = append(buf, "WAVE"...)

	buf = append(buf, "fmt "...)
	buf = le.AppendUint32(buf, fmtSize)
	buf = le.AppendUint16(buf, 1) // PCM
	buf = le.AppendUint16(buf, uint16(channels))
	buf = le.AppendUint32(buf, uint32(sampleRate))
	buf = le.AppendUint32(buf, uint32(sampleRate*channels*bits/8))
	buf = le.AppendUint16(buf, uint16(channels*bits/8))
	buf = le.AppendUint16(buf, bits)

	buf = append(buf, "data"...)
	buf = le.AppendUint32(buf, dataSize)
	return append(buf, pcm...)
}

// EstimateDuration returns how long data takes to play. WAV buffers use
// their header; anything else is assumed to be raw audio at
// fallbackByteRate bytes per second (DefaultByteRate when ≤ 0).
func EstimateDuration(data []byte, fallbackByteRate int) time.Duration {
	if info, err := ParseWAV(data); err == nil && info.ByteRate() > 0 {
		return info.Duration()
	}
	if fallbackByteRate <= 0 {
		fallbackByteRate = DefaultByteRate
	}
	return time.Duration(int64(len(data)) * int64(time.Second) / int64(fallbackByteRate))
}

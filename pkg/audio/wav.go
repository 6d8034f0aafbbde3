// Package audio provides the stateless PCM/WAV codec and level-metering
// helpers shared by the capture pipeline, the playback scheduler, and the
// transcription bridge.
//
// All functions operate on 16-bit signed little-endian PCM. The WAV encoder
// emits the canonical 44-byte RIFF header expected by every downstream
// transcription consumer, so the byte layout here is load-bearing: do not
// "improve" it.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// wavHeaderSize is the size of the canonical RIFF/WAVE header produced by
// [EncodeWAV]: 12-byte RIFF descriptor + 24-byte fmt chunk + 8-byte data
// chunk header.
const wavHeaderSize = 44

// ErrOddPCMLength is returned when a PCM payload has an odd byte count and
// therefore cannot be interpreted as 16-bit samples.
var ErrOddPCMLength = errors.New("audio: pcm length is not a multiple of 2")

// EncodeWAV wraps raw 16-bit signed little-endian mono PCM in a standard
// RIFF/WAV container with the given sample rate. The returned slice is a
// fresh allocation; pcm is not retained.
func EncodeWAV(pcm []byte, sampleRate int) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, ErrOddPCMLength
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("audio: invalid sample rate %d", sampleRate)
	}

	const (
		channels      = 1
		bitsPerSample = 16
	)
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, wavHeaderSize+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                 // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)                  // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], channels)           // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate)) // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))   // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign)) // block align
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)      // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf, nil
}

// DecodeWAV strips the RIFF/WAVE container from wav and returns the raw PCM
// payload together with the declared sample rate. Only the canonical layout
// produced by [EncodeWAV] (PCM format, 16-bit, fmt chunk immediately followed
// by data) is accepted.
func DecodeWAV(wav []byte) (pcm []byte, sampleRate int, err error) {
	if len(wav) < wavHeaderSize {
		return nil, 0, fmt.Errorf("audio: wav too short (%d bytes)", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, 0, errors.New("audio: missing RIFF/WAVE magic")
	}
	if string(wav[12:16]) != "fmt " {
		return nil, 0, errors.New("audio: missing fmt chunk")
	}
	if format := binary.LittleEndian.Uint16(wav[20:22]); format != 1 {
		return nil, 0, fmt.Errorf("audio: unsupported audio format %d (want PCM)", format)
	}
	if string(wav[36:40]) != "data" {
		return nil, 0, errors.New("audio: missing data chunk")
	}

	sampleRate = int(binary.LittleEndian.Uint32(wav[24:28]))
	dataSize := int(binary.LittleEndian.Uint32(wav[40:44]))
	if dataSize > len(wav)-wavHeaderSize {
		return nil, 0, fmt.Errorf("audio: data chunk declares %d bytes, only %d present",
			dataSize, len(wav)-wavHeaderSize)
	}
	return wav[wavHeaderSize : wavHeaderSize+dataSize], sampleRate, nil
}

// PCMToFloat32 converts 16-bit signed little-endian PCM to float32 samples
// normalised to [-1.0, 1.0]. A trailing odd byte is silently ignored.
func PCMToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}

// Float32ToPCM converts normalised float32 samples back to 16-bit signed
// little-endian PCM, clamping values outside [-1.0, 1.0].
func Float32ToPCM(samples []float32) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		v := int16(s * 32767)
		binary.LittleEndian.PutUint16(pcm[i*2:i*2+2], uint16(v))
	}
	return pcm
}

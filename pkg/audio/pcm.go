// Package audio provides PCM helpers shared by the ingest path and the speech
// providers: sample math, linear resampling, and WAV container encoding for
// providers that refuse raw PCM.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ErrOddFrame is returned when a buffer cannot be interpreted as little-endian
// int16 samples because its length is odd.
var ErrOddFrame = fmt.Errorf("audio: odd byte count in int16 PCM frame")

// RMS computes the root-mean-square amplitude of a little-endian int16 PCM
// frame on the int16 scale. Returns ErrOddFrame rather than misreading a
// frame with an odd byte count; an empty frame has RMS 0.
func RMS(frame []byte) (float64, error) {
	if len(frame)%2 != 0 {
		return 0, ErrOddFrame
	}
	if len(frame) == 0 {
		return 0, nil
	}

	var sum float64
	for i := 0; i+1 < len(frame); i += 2 {
		s := float64(int16(frame[i]) | int16(frame[i+1])<<8)
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(frame)/2)), nil
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. The input must be little-endian int16 samples. If
// srcRate == dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

// EncodeWAV wraps raw 16-bit mono PCM in a minimal RIFF/WAVE container.
// Speech APIs that accept only file uploads get their WAV this way; nothing
// in the pipeline stores WAV.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	const (
		headerSize    = 44
		numChannels   = 1
		bitsPerSample = 16
	)
	byteRate := sampleRate * numChannels * bitsPerSample / 8

	buf := make([]byte, headerSize+len(pcm))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(buf[20:22], 1)  // PCM format
	binary.LittleEndian.PutUint16(buf[22:24], numChannels)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], numChannels*bitsPerSample/8)
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[headerSize:], pcm)
	return buf
}

// Int16ToBytes converts int16 samples to little-endian PCM bytes.
// Primarily used by tests to build synthetic frames.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// Package audio provides PCM processing utilities for the bridge:
// sample-rate conversion, fixed-duration framing and byte/sample helpers.
//
// All functions operate on 16-bit signed mono PCM. The wire representation
// is little-endian, matching both the Opus decoder output and the agent
// socket's binary frames.
package audio

import "encoding/binary"

// BytesPerSample is the size of one 16-bit PCM sample.
const BytesPerSample = 2

// BytesToSamples converts little-endian 16-bit PCM bytes to samples.
// A trailing odd byte is ignored.
func BytesToSamples(data []byte) []int16 {
	n := len(data) / BytesPerSample
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*BytesPerSample:]))
	}
	return samples
}

// SamplesToBytes converts samples to little-endian 16-bit PCM bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*BytesPerSample:], uint16(s))
	}
	return data
}

func clamp16(v int64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

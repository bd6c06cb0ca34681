package audio

import "fmt"

// Downsample converts PCM to a rate 1/ratio of the input by averaging each
// window of ratio consecutive samples (boxcar filter). Plain decimation would
// alias; averaging is cheap and good enough for speech. A trailing partial
// window is averaged over the samples it has, so no input is dropped.
func Downsample(in []int16, ratio int) []int16 {
	if ratio <= 1 {
		return append([]int16(nil), in...)
	}
	n := (len(in) + ratio - 1) / ratio
	out := make([]int16, 0, n)
	for i := 0; i < len(in); i += ratio {
		end := i + ratio
		if end > len(in) {
			end = len(in)
		}
		var sum int64
		for _, s := range in[i:end] {
			sum += int64(s)
		}
		out = append(out, clamp16(roundDiv(sum, int64(end-i))))
	}
	return out
}

// Upsample converts PCM to ratio times the input rate using linear
// interpolation: each input sample yields ratio output samples interpolated
// toward the next input sample. The final sample interpolates toward itself.
func Upsample(in []int16, ratio int) []int16 {
	if ratio <= 1 {
		return append([]int16(nil), in...)
	}
	out := make([]int16, 0, len(in)*ratio)
	for i, cur := range in {
		next := cur
		if i+1 < len(in) {
			next = in[i+1]
		}
		for j := 0; j < ratio; j++ {
			// out = cur*(1-t) + next*t with t = j/ratio, in integer math.
			v := int64(cur)*int64(ratio-j) + int64(next)*int64(j)
			out = append(out, clamp16(roundDiv(v, int64(ratio))))
		}
	}
	return out
}

// Resample converts between two integer sample rates. Only integer ratios
// are supported: one rate must divide the other. The bridge treats a ratio
// error as a per-packet failure and drops the chunk.
func Resample(in []int16, inRate, outRate int) ([]int16, error) {
	switch {
	case inRate <= 0 || outRate <= 0:
		return nil, fmt.Errorf("invalid sample rates %d -> %d", inRate, outRate)
	case inRate == outRate:
		return append([]int16(nil), in...), nil
	case inRate%outRate == 0:
		return Downsample(in, inRate/outRate), nil
	case outRate%inRate == 0:
		return Upsample(in, outRate/inRate), nil
	default:
		return nil, fmt.Errorf("non-integer resample ratio %d -> %d", inRate, outRate)
	}
}

// roundDiv divides rounding half away from zero.
func roundDiv(num, den int64) int64 {
	if num >= 0 {
		return (num + den/2) / den
	}
	return (num - den/2) / den
}

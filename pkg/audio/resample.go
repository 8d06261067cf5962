package audio

import "math"

// Resample converts mono PCM16 between sample rates by linear
// interpolation. The output holds round(len(samples) * dstRate /
// srcRate) samples, so concatenating resampled segments stays within
// one sample of the exact duration. Equal rates return the input
// unchanged.
func Resample(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate == dstRate || len(samples) == 0 {
		return samples
	}

	outLen := int(math.Round(float64(len(samples)) * float64(dstRate) / float64(srcRate)))
	if outLen == 0 {
		return nil
	}

	out := make([]int16, outLen)
	ratio := float64(srcRate) / float64(dstRate)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := pos - float64(idx)
		a := float64(samples[idx])
		b := float64(samples[idx+1])
		out[i] = int16(a + (b-a)*frac)
	}
	return out
}

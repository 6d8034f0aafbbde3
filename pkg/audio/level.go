package audio

// MeanAbsLevel computes the display level of a buffer of normalised float32
// samples as a 0–100 percentage: the mean absolute amplitude scaled ×100×5
// and capped at 100. The ×5 gain matches the capture-side meter so input and
// output bars read on the same scale.
func MeanAbsLevel(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		if s < 0 {
			sum -= float64(s)
		} else {
			sum += float64(s)
		}
	}
	level := (sum / float64(len(samples))) * 100 * 5
	if level > 100 {
		level = 100
	}
	return level
}

// PCMLevel computes the same 0–100 display level directly from 16-bit
// little-endian PCM bytes, normalising each sample by the int16 maximum.
// Used by the capture path, which meters raw batches before encoding.
func PCMLevel(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
		if s < 0 {
			sum -= float64(s)
		} else {
			sum += float64(s)
		}
	}
	level := (sum / (float64(n) * 32767.0)) * 100 * 5
	if level > 100 {
		level = 100
	}
	return level
}

package audio

// Smoothstep returns the smoothstep interpolation for t in [0,1].
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// FadeOut scales a block from full level down to silence along a
// smoothstep curve, so suspending never cuts a click mid-waveform.
func FadeOut(samples [][2]float64) {
	n := len(samples)
	for i := range samples {
		gain := 1 - Smoothstep(float64(i+1)/float64(n))
		samples[i][0] *= gain
		samples[i][1] *= gain
	}
}

// ToInt16 converts a mixed block to interleaved int16 PCM, clipping at
// full scale. dst is reused when large enough.
func ToInt16(dst []int16, samples [][2]float64) []int16 {
	need := len(samples) * Channels
	if cap(dst) < need {
		dst = make([]int16, need)
	}
	dst = dst[:need]
	for i, s := range samples {
		dst[i*2] = clip16(s[0])
		dst[i*2+1] = clip16(s[1])
	}
	return dst
}

func clip16(v float64) int16 {
	mixed := v * 32767
	if mixed > 32767 {
		mixed = 32767
	} else if mixed < -32768 {
		mixed = -32768
	}
	return int16(mixed)
}

package audio

// Transcoding between the telephony wire format (G.711 mu-law, 8 kHz,
// 8-bit mono) and the speech backend's native format (PCM16LE, 24 kHz,
// mono). All functions are pure and tolerate arbitrary chunk sizes; the
// two wire protocols chunk audio independently of any logical boundary.

const (
	// TelephonyRate is the carrier's sample rate in Hz.
	TelephonyRate = 8000
	// BackendRate is the speech backend's sample rate in Hz.
	BackendRate = 24000
)

// MulawToPCM24k decodes a mu-law 8 kHz chunk and upsamples it to
// PCM16LE 24 kHz. Empty input yields empty output.
func MulawToPCM24k(mulaw []byte) []byte {
	if len(mulaw) == 0 {
		return nil
	}
	samples := make([]int16, len(mulaw))
	for i, b := range mulaw {
		samples[i] = DecodeMulawSample(b)
	}
	return pcmToBytes(Resample(samples, TelephonyRate, BackendRate))
}

// PCM24kToMulaw downsamples a PCM16LE 24 kHz chunk to 8 kHz and encodes
// it as mu-law. A trailing odd byte is dropped rather than misaligning
// every following sample.
func PCM24kToMulaw(pcm []byte) []byte {
	samples := bytesToPCM(pcm)
	if len(samples) == 0 {
		return nil
	}
	down := Resample(samples, BackendRate, TelephonyRate)
	out := make([]byte, len(down))
	for i, s := range down {
		out[i] = EncodeMulawSample(s)
	}
	return out
}

// DecodeMulawSample converts one G.711 mu-law byte to a linear sample.
func DecodeMulawSample(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := int(b>>4) & 0x07
	mantissa := int(b & 0x0F)

	sample := int16((mantissa<<3 | 0x84) << exponent)
	sample -= 0x84 // remove encoding bias

	if sign != 0 {
		return -sample
	}
	return sample
}

// EncodeMulawSample converts one linear sample to a G.711 mu-law byte.
func EncodeMulawSample(sample int16) byte {
	const (
		bias = 0x84
		clip = 32635
	)

	sign := byte(0)
	if sample < 0 {
		sign = 0x80
		sample = -sample
	}
	if sample > clip {
		sample = clip
	}

	s := int(sample) + bias
	exponent := byte(7)
	for i := byte(0); i < 8; i++ {
		if s < (1 << (i + 8)) {
			exponent = i
			break
		}
	}

	mantissa := byte((s >> (exponent + 3)) & 0x0F)
	return ^(sign | (exponent << 4) | mantissa)
}

// Resample converts samples between rates using linear interpolation.
// It handles both upsampling (8 kHz -> 24 kHz) and downsampling
// (24 kHz -> 8 kHz); equal rates return the input unchanged.
func Resample(input []int16, inRate, outRate int) []int16 {
	if len(input) == 0 || inRate == outRate {
		return input
	}

	outLen := len(input) * outRate / inRate
	if outLen == 0 {
		return nil
	}

	output := make([]int16, outLen)
	ratio := float64(inRate) / float64(outRate)

	for i := range output {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		if srcIdx+1 < len(input) {
			output[i] = int16(float64(input[srcIdx])*(1-frac) + float64(input[srcIdx+1])*frac)
		} else if srcIdx < len(input) {
			output[i] = input[srcIdx]
		}
	}

	return output
}

func pcmToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return data
}

func bytesToPCM(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

package audio

import "testing"

func TestMulawRoundTripSamples(t *testing.T) {
	cases := []int16{0, 100, -100, 1000, -1000, 8000, -8000, 30000, -30000}
	for _, want := range cases {
		got := DecodeMulawSample(EncodeMulawSample(want))
		diff := int(got) - int(want)
		if diff < 0 {
			diff = -diff
		}
		// mu-law is lossy; tolerance scales with magnitude.
		tolerance := int(want)/16 + 16
		if tolerance < 0 {
			tolerance = -tolerance
		}
		if diff > tolerance {
			t.Fatalf("round trip of %d = %d, diff %d exceeds %d", want, got, diff, tolerance)
		}
	}
}

func TestMulawToPCM24kLength(t *testing.T) {
	// 160 mu-law bytes = 20ms at 8kHz; upsampled 3x and widened to 2 bytes.
	in := make([]byte, 160)
	out := MulawToPCM24k(in)
	if len(out) != 160*3*2 {
		t.Fatalf("len = %d, want %d", len(out), 160*3*2)
	}
}

func TestPCM24kToMulawLength(t *testing.T) {
	// 480 samples at 24kHz downsample to 160 at 8kHz.
	in := make([]byte, 480*2)
	out := PCM24kToMulaw(in)
	if len(out) != 160 {
		t.Fatalf("len = %d, want 160", len(out))
	}
}

func TestEmptyAndTinyChunks(t *testing.T) {
	if got := MulawToPCM24k(nil); got != nil {
		t.Fatalf("MulawToPCM24k(nil) = %v, want nil", got)
	}
	if got := PCM24kToMulaw(nil); got != nil {
		t.Fatalf("PCM24kToMulaw(nil) = %v, want nil", got)
	}
	// Odd trailing byte is dropped, not a panic.
	if got := PCM24kToMulaw([]byte{0x01}); got != nil {
		t.Fatalf("PCM24kToMulaw(single byte) = %v, want nil", got)
	}
	// A single mu-law byte still produces output.
	if got := MulawToPCM24k([]byte{0xFF}); len(got) != 3*2 {
		t.Fatalf("single byte upsample len = %d, want 6", len(got))
	}
}

func TestResamplePreservesConstantSignal(t *testing.T) {
	in := make([]int16, 240)
	for i := range in {
		in[i] = 1200
	}
	out := Resample(in, 24000, 8000)
	if len(out) != 80 {
		t.Fatalf("len = %d, want 80", len(out))
	}
	for i, s := range out {
		if s != 1200 {
			t.Fatalf("sample %d = %d, want 1200", i, s)
		}
	}
}

func TestResampleSameRateIsIdentity(t *testing.T) {
	in := []int16{1, 2, 3, 4}
	out := Resample(in, 8000, 8000)
	if len(out) != 4 {
		t.Fatalf("len = %d, want 4", len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("sample %d changed: %d != %d", i, out[i], in[i])
		}
	}
}

package audio

import (
	"math"
	"testing"
)

func TestNewResampler_InvalidRates(t *testing.T) {
	t.Parallel()
	for _, rates := range [][2]int{{0, 24000}, {48000, 0}, {-1, -1}} {
		if _, err := NewResampler(rates[0], rates[1]); err == nil {
			t.Errorf("NewResampler(%d, %d) = nil error", rates[0], rates[1])
		}
	}
}

func TestResampler_Passthrough(t *testing.T) {
	t.Parallel()
	rs, err := NewResampler(24000, 24000)
	if err != nil {
		t.Fatalf("NewResampler: %v", err)
	}
	if !rs.Passthrough() {
		t.Fatal("equal rates should pass through")
	}
	in := []float32{0.1, -0.2, 0.3}
	out, err := rs.Process(in)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(out) != len(in) || &out[0] != &in[0] {
		t.Error("passthrough should return the input slice")
	}
}

func TestResampler_Downsamples(t *testing.T) {
	t.Parallel()
	rs, err := NewResampler(48000, 24000)
	if err != nil {
		t.Fatalf("NewResampler: %v", err)
	}
	if rs.Passthrough() {
		t.Fatal("different rates reported as passthrough")
	}

	const blocks, size = 50, 960
	total := 0
	for b := range blocks {
		in := make([]float32, size)
		for i := range in {
			n := b*size + i
			in[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(n)/48000))
		}
		out, err := rs.Process(in)
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		total += len(out)
	}

	want := blocks * size / 2
	if total < want*9/10 || total > want*11/10 {
		t.Errorf("output samples = %d, want about %d", total, want)
	}
}

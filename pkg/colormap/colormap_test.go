package colormap

import (
	"image/color"
	"reflect"
	"testing"
)

func TestRampEndpoints(t *testing.T) {
	t.Parallel()

	red := color.RGBA{R: 255, A: 255}
	ramp := Ramp(red)

	c0, ok := ramp.At(0).(color.RGBA)
	if !ok {
		t.Fatalf("expected color.RGBA at t=0")
	}
	if c0 != Black {
		t.Fatalf("unexpected Ramp.At(0): %#v", c0)
	}

	c1, ok := ramp.At(1).(color.RGBA)
	if !ok {
		t.Fatalf("expected color.RGBA at t=1")
	}
	if c1 != red {
		t.Fatalf("unexpected Ramp.At(1): %#v", c1)
	}
}

func TestSamples(t *testing.T) {
	t.Parallel()

	got := Ramp(color.RGBA{R: 255, G: 128, A: 255}).Samples(2)
	want := []string{"#000000", "#ff8000"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	mid := Ramp(color.RGBA{R: 255, A: 255}).Samples(3)
	if mid[1] != "#800000" {
		t.Fatalf("expected rounded midpoint #800000, got %s", mid[1])
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    color.RGBA
		wantErr bool
	}{
		{in: "#FF0000", want: color.RGBA{R: 255, A: 255}},
		{in: "#0f0", want: color.RGBA{G: 255, A: 255}},
		{in: " #00ff00 ", want: color.RGBA{G: 255, A: 255}},
		{in: "blue", want: color.RGBA{B: 255, A: 255}},
		{in: "#12345", wantErr: true},
		{in: "#gggggg", wantErr: true},
		{in: "notacolor", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Parse(%q): expected error, got %#v", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q): unexpected error %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}

func TestTagIndexStable(t *testing.T) {
	t.Parallel()

	if TagIndex("nucleus") != TagIndex("nucleus") {
		t.Fatal("expected stable index")
	}
	idx := TagIndex("cell")
	if idx < 0 || idx >= 20 {
		t.Fatalf("index out of range: %d", idx)
	}
}

package tensor

import (
	"errors"
	"math"
	"testing"
)

func floorScaled(original int, scale float64) int {
	return int(math.Floor(float64(original)*scale + ScaleTolerance))
}

func TestSolveScale_Converges(t *testing.T) {
	for _, target := range []int{1, 7, 224, 256, 512} {
		for original := 1; original <= 2048; original++ {
			scale, exact := SolveScaleExact(original, target)
			if !exact {
				t.Fatalf("(%d,%d): search exhausted without exact hit, scale=%v", original, target, scale)
			}
			if got := floorScaled(original, scale); got != target {
				t.Fatalf("(%d,%d): floor(original*scale+eps) = %d", original, target, got)
			}
			if original != target {
				lo := float64(target) / float64(original)
				hi := float64(target+1) / float64(original)
				if scale < lo || scale >= hi {
					t.Fatalf("(%d,%d): scale %v outside [%v, %v)", original, target, scale, lo, hi)
				}
			}
		}
	}
}

func TestSolveScale_Upscale(t *testing.T) {
	scale := SolveScale(100, 256)
	if got := floorScaled(100, scale); got != 256 {
		t.Errorf("floor(100*%v+eps) = %d, want 256", scale, got)
	}
}

func TestSolveScale_Deterministic(t *testing.T) {
	for _, pair := range [][2]int{{100, 256}, {4032, 256}, {333, 256}, {1, 256}} {
		first := SolveScale(pair[0], pair[1])
		for i := 0; i < 10; i++ {
			if got := SolveScale(pair[0], pair[1]); math.Float64bits(got) != math.Float64bits(first) {
				t.Fatalf("%v: call %d returned %v, first call %v", pair, i, got, first)
			}
		}
	}
}

func TestSolveScale_Identity(t *testing.T) {
	if got := SolveScale(256, 256); got != 1.0 {
		t.Errorf("SolveScale(256,256) = %v, want 1", got)
	}
}

func TestComputeScaleVector(t *testing.T) {
	t.Run("identity", func(t *testing.T) {
		v, err := ComputeScaleVector(256, 256, []int64{1, 3, 256, 256})
		if err != nil {
			t.Fatalf("ComputeScaleVector: %v", err)
		}
		if !v.HasShape(4) {
			t.Fatalf("shape = %v, want [4]", v.Shape())
		}
		for i, s := range v.Float32s() {
			if s != 1 {
				t.Errorf("scale[%d] = %v, want 1", i, s)
			}
		}
	})

	t.Run("non_square", func(t *testing.T) {
		v, err := ComputeScaleVector(256, 256, []int64{1, 3, 600, 100})
		if err != nil {
			t.Fatalf("ComputeScaleVector: %v", err)
		}
		s := v.Float32s()
		if s[0] != 1 || s[1] != 1 {
			t.Errorf("batch/channel scales = %v, %v, want 1, 1", s[0], s[1])
		}
		if s[2] != float32(SolveScale(600, 256)) || s[3] != float32(SolveScale(100, 256)) {
			t.Errorf("spatial scales = %v, %v", s[2], s[3])
		}
		if got := int(math.Floor(600 * float64(s[2]))); got != 256 {
			t.Errorf("float32 height scale floors to %d", got)
		}
		if got := int(math.Floor(100 * float64(s[3]))); got != 256 {
			t.Errorf("float32 width scale floors to %d", got)
		}
	})

	for _, tc := range []struct {
		name  string
		shape []int64
	}{
		{name: "zero_height", shape: []int64{1, 3, 0, 10}},
		{name: "zero_width", shape: []int64{1, 3, 10, 0}},
		{name: "not_4d", shape: []int64{3, 10, 10}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ComputeScaleVector(256, 256, tc.shape); !errors.Is(err, ErrInvalidDimension) {
				t.Errorf("expected ErrInvalidDimension, got %v", err)
			}
		})
	}
}

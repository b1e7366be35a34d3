package tensor

import (
	"errors"
	"testing"
)

func TestNewFloat32(t *testing.T) {
	for _, tc := range []struct {
		name    string
		shape   []int64
		n       int
		wantErr error
	}{
		{name: "matching", shape: []int64{1, 3, 2, 2}, n: 12},
		{name: "scalar", shape: []int64{}, n: 1},
		{name: "vector", shape: []int64{4}, n: 4},
		{name: "too_short", shape: []int64{1, 3, 2, 2}, n: 11, wantErr: ErrShapeMismatch},
		{name: "negative_dim", shape: []int64{1, -3}, n: 3, wantErr: ErrInvalidDimension},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tt, err := NewFloat32(tc.shape, make([]float32, tc.n))
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewFloat32: %v", err)
			}
			if tt.DataType() != Float32 {
				t.Errorf("DataType = %v, want float32", tt.DataType())
			}
			if tt.Len() != tc.n {
				t.Errorf("Len = %d, want %d", tt.Len(), tc.n)
			}
		})
	}
}

func TestNewInt64(t *testing.T) {
	tt, err := NewInt64([]int64{1}, []int64{256})
	if err != nil {
		t.Fatalf("NewInt64: %v", err)
	}
	if tt.DataType() != Int64 || tt.Len() != 1 || tt.Int64s()[0] != 256 {
		t.Errorf("unexpected tensor %v %v", tt, tt.Int64s())
	}
	if _, err := NewInt64([]int64{2}, []int64{1}); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("expected shape mismatch, got %v", err)
	}
}

func TestShapeIsCopied(t *testing.T) {
	shape := []int64{1, 3, 1, 1}
	tt, err := NewFloat32(shape, make([]float32, 3))
	if err != nil {
		t.Fatalf("NewFloat32: %v", err)
	}
	shape[1] = 99
	got := tt.Shape()
	got[2] = 99
	if !tt.HasShape(1, 3, 1, 1) {
		t.Errorf("tensor shape was aliased: %v", tt.Shape())
	}
}

package tensor

import (
	"errors"
	"fmt"
	"slices"
)

// DataType 张量元素类型
type DataType int

const (
	Float32 DataType = iota + 1
	Int64
)

func (d DataType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Int64:
		return "int64"
	default:
		return fmt.Sprintf("DataType(%d)", int(d))
	}
}

var (
	ErrShapeMismatch    = errors.New("tensor data length does not match shape")
	ErrInvalidDimension = errors.New("invalid tensor dimension")
)

// Tensor 不可变的带类型、带形状的数值缓冲区
//
// 构造后数据不再修改；Float32s/Int64s 返回的切片只读。
type Tensor struct {
	dtype DataType
	shape []int64
	f32   []float32
	i64   []int64
}

// NewFloat32 创建 float32 张量，数据长度必须等于形状乘积
func NewFloat32(shape []int64, data []float32) (*Tensor, error) {
	n, err := ElementCount(shape)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, fmt.Errorf("%w: got %d elements, shape %v needs %d", ErrShapeMismatch, len(data), shape, n)
	}
	return &Tensor{dtype: Float32, shape: slices.Clone(shape), f32: data}, nil
}

// NewInt64 创建 int64 张量
func NewInt64(shape []int64, data []int64) (*Tensor, error) {
	n, err := ElementCount(shape)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, fmt.Errorf("%w: got %d elements, shape %v needs %d", ErrShapeMismatch, len(data), shape, n)
	}
	return &Tensor{dtype: Int64, shape: slices.Clone(shape), i64: data}, nil
}

// ElementCount 计算形状对应的元素个数，标量形状 [] 为 1
func ElementCount(shape []int64) (int, error) {
	n := 1
	for i, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("%w: dimension %d is %d", ErrInvalidDimension, i, d)
		}
		n *= int(d)
	}
	return n, nil
}

func (t *Tensor) DataType() DataType {
	return t.dtype
}

// Shape 返回形状副本
func (t *Tensor) Shape() []int64 {
	return slices.Clone(t.shape)
}

func (t *Tensor) Len() int {
	if t.dtype == Int64 {
		return len(t.i64)
	}
	return len(t.f32)
}

func (t *Tensor) Float32s() []float32 {
	return t.f32
}

func (t *Tensor) Int64s() []int64 {
	return t.i64
}

// HasShape 判断张量形状是否与给定维度一致
func (t *Tensor) HasShape(dims ...int64) bool {
	return slices.Equal(t.shape, dims)
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor[%s]%v", t.dtype, t.shape)
}

package ecc

import (
	"fmt"
	"strings"

	"github.com/crandmck/trustmark/model"
)

const (
	// PayloadBits 解码模型输出的比特数
	PayloadBits = 100
	// VersionBits 末尾的版本位，最后两位为 schema 编号
	VersionBits = 4

	codewordBits = PayloadBits - VersionBits
)

// Schema 数据位与纠错位的划分方式
type Schema int

const (
	BCHSuper Schema = iota
	BCH5
	BCH4
	BCH3
)

var schemaNames = [...]string{"BCH_SUPER", "BCH_5", "BCH_4", "BCH_3"}

func (s Schema) String() string {
	if s < 0 || int(s) >= len(schemaNames) {
		return fmt.Sprintf("Schema(%d)", int(s))
	}
	return schemaNames[s]
}

// DataBits 该 schema 下可携带的数据位数
func (s Schema) DataBits() int {
	return codewordBits - gfBits*s.T()
}

// T 该 schema 的纠错能力
func (s Schema) T() int {
	switch s {
	case BCHSuper:
		return 8
	case BCH5:
		return 5
	case BCH4:
		return 4
	default:
		return 3
	}
}

// Result ECC 解码结果
type Result struct {
	Valid bool
	// Data 数据位按高位在前打包
	Data []byte
	// Bits 数据位的 0/1 字符串
	Bits string
	// Schema 无法识别时为空
	Schema      string
	Corrected   int
	SoftBinding *model.SoftBindingInfo
}

// Engine 把比特向量解码为有效载荷
type Engine interface {
	Decode(bits []bool) Result
}

// DataLayer TrustMark 数据层：96 位 BCH 码字 + 4 位版本
type DataLayer struct {
	variant string
	codes   [len(schemaNames)]*bchCode
}

var _ Engine = (*DataLayer)(nil)

// NewDataLayer variant 为模型变体（如 Q），用于 soft-binding 算法名
func NewDataLayer(variant string) *DataLayer {
	d := &DataLayer{variant: variant}
	for s := range d.codes {
		d.codes[s] = newBCH(Schema(s).T())
	}
	return d
}

// Decode 读取版本位确定 schema，纠错后返回数据位。
// 全零数据视为无水印。
func (d *DataLayer) Decode(bits []bool) Result {
	if len(bits) != PayloadBits {
		return Result{}
	}

	schema := Schema(int(b2u(bits[PayloadBits-2]))<<1 | int(b2u(bits[PayloadBits-1])))
	result := Result{Schema: schema.String()}

	corrected, n, ok := d.codes[schema].decode(bits[:codewordBits])
	if !ok {
		return result
	}

	data := corrected[:schema.DataBits()]
	if !anySet(data) {
		return result
	}

	result.Valid = true
	result.Corrected = n
	result.Data = packBits(data)
	result.Bits = bitString(data)
	result.SoftBinding = &model.SoftBindingInfo{
		Alg: "com.adobe.trustmark." + d.variant,
		Blocks: []model.SoftBindingBlock{{
			Scope: map[string]any{},
			Value: fmt.Sprintf("%d*%s", int(schema), result.Bits),
		}},
	}
	return result
}

// Encode 生成 100 位的 数据+纠错+版本 比特向量
func (d *DataLayer) Encode(schema Schema, data []bool) ([]bool, error) {
	if schema < BCHSuper || schema > BCH3 {
		return nil, fmt.Errorf("unknown schema %v", schema)
	}
	if len(data) != schema.DataBits() {
		return nil, fmt.Errorf("schema %v carries %d data bits, got %d", schema, schema.DataBits(), len(data))
	}

	out := make([]bool, 0, PayloadBits)
	out = append(out, data...)
	out = append(out, d.codes[schema].encode(data)...)
	out = append(out, false, false, schema&2 != 0, schema&1 != 0)
	return out, nil
}

func packBits(bits []bool) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, bit := range bits {
		if bit {
			out[i/8] |= 0x80 >> (i % 8)
		}
	}
	return out
}

func bitString(bits []bool) string {
	var sb strings.Builder
	sb.Grow(len(bits))
	for _, bit := range bits {
		if bit {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

func anySet(bits []bool) bool {
	for _, bit := range bits {
		if bit {
			return true
		}
	}
	return false
}

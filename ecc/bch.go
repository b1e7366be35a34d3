package ecc

// GF(2^7)，本原多项式 x^7 + x^3 + 1
const (
	gfBits        = 7
	gfOrder       = 1<<gfBits - 1
	primitivePoly = 137
)

type field struct {
	exp [2 * gfOrder]uint8
	log [gfOrder + 1]int
}

var gf = newField()

func newField() *field {
	f := &field{}
	x := 1
	for i := 0; i < gfOrder; i++ {
		f.exp[i] = uint8(x)
		f.exp[i+gfOrder] = uint8(x)
		f.log[x] = i
		x <<= 1
		if x&(1<<gfBits) != 0 {
			x ^= primitivePoly
		}
	}
	return f
}

func (f *field) mul(a, b uint8) uint8 {
	if a == 0 || b == 0 {
		return 0
	}
	return f.exp[f.log[a]+f.log[b]]
}

// div 要求 b != 0
func (f *field) div(a, b uint8) uint8 {
	if a == 0 {
		return 0
	}
	return f.exp[f.log[a]-f.log[b]+gfOrder]
}

// pow 返回 α^e，e 可为负
func (f *field) pow(e int) uint8 {
	e %= gfOrder
	if e < 0 {
		e += gfOrder
	}
	return f.exp[e]
}

// bchCode 纠错能力为 t 的二元 BCH 码（缩短码，系统码形式：数据位在前，校验位在后）
type bchCode struct {
	t int
	// generator 生成多项式系数，下标为次数，均为 0 或 1
	generator []uint8
}

func newBCH(t int) *bchCode {
	g := []uint8{1}
	var seen [gfOrder]bool
	for i := 1; i <= 2*t; i++ {
		if seen[i] {
			continue
		}
		// α^i 的分圆陪集上所有根的乘积即其最小多项式
		for j := i; !seen[j]; j = j * 2 % gfOrder {
			seen[j] = true
			g = mulLinear(g, gf.pow(j))
		}
	}
	return &bchCode{t: t, generator: g}
}

// mulLinear 返回 p(x)·(x + root)
func mulLinear(p []uint8, root uint8) []uint8 {
	out := make([]uint8, len(p)+1)
	for k, c := range p {
		out[k+1] ^= c
		out[k] ^= gf.mul(root, c)
	}
	return out
}

func (c *bchCode) eccBits() int {
	return len(c.generator) - 1
}

// encode 计算 data(x)·x^r mod g(x)，按高次在前返回校验位
func (c *bchCode) encode(data []bool) []bool {
	r := c.eccBits()
	rem := make([]uint8, r)
	for _, bit := range data {
		feedback := b2u(bit) ^ rem[r-1]
		for d := r - 1; d > 0; d-- {
			rem[d] = rem[d-1] ^ (feedback & c.generator[d])
		}
		rem[0] = feedback & c.generator[0]
	}

	ecc := make([]bool, r)
	for e := range ecc {
		ecc[e] = rem[r-1-e] == 1
	}
	return ecc
}

// decode 纠正码字中最多 t 个比特错误，返回纠正后的码字与纠正的比特数
func (c *bchCode) decode(codeword []bool) ([]bool, int, bool) {
	n := len(codeword)
	syndromes, clean := c.syndromes(codeword)
	if clean {
		return append([]bool(nil), codeword...), 0, true
	}

	sigma, degree := berlekampMassey(syndromes)
	if degree > c.t {
		return nil, 0, false
	}

	corrected := append([]bool(nil), codeword...)
	found := 0
	for deg := 0; deg < n; deg++ {
		var sum uint8
		for i := 0; i <= degree && i < len(sigma); i++ {
			sum ^= gf.mul(sigma[i], gf.pow(-i*deg))
		}
		if sum == 0 {
			idx := n - 1 - deg
			corrected[idx] = !corrected[idx]
			found++
		}
	}
	if found != degree {
		return nil, 0, false
	}
	if _, clean := c.syndromes(corrected); !clean {
		return nil, 0, false
	}
	return corrected, found, true
}

// syndromes 计算 S_1..S_2t，码字第 j 位对应 x^(n-1-j)
func (c *bchCode) syndromes(codeword []bool) ([]uint8, bool) {
	n := len(codeword)
	s := make([]uint8, 2*c.t)
	clean := true
	for j := range s {
		var sum uint8
		for idx, bit := range codeword {
			if bit {
				sum ^= gf.pow((j + 1) * (n - 1 - idx))
			}
		}
		s[j] = sum
		if sum != 0 {
			clean = false
		}
	}
	return s, clean
}

// berlekampMassey 求错误位置多项式 σ(x) 及其次数
func berlekampMassey(s []uint8) ([]uint8, int) {
	sigma := []uint8{1}
	prev := []uint8{1}
	degree := 0
	shift := 1
	prevDiscrepancy := uint8(1)

	for n := range s {
		d := s[n]
		for i := 1; i <= degree && i < len(sigma); i++ {
			d ^= gf.mul(sigma[i], s[n-i])
		}
		if d == 0 {
			shift++
			continue
		}

		coef := gf.div(d, prevDiscrepancy)
		saved := append([]uint8(nil), sigma...)
		if need := len(prev) + shift; len(sigma) < need {
			sigma = append(sigma, make([]uint8, need-len(sigma))...)
		}
		for i, b := range prev {
			sigma[i+shift] ^= gf.mul(coef, b)
		}

		if 2*degree <= n {
			degree = n + 1 - degree
			prev = saved
			prevDiscrepancy = d
			shift = 1
		} else {
			shift++
		}
	}
	return sigma, degree
}

func b2u(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

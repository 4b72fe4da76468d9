package ixf

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// signPositive is the only sign nibble read as positive.
const signPositive = 0x0C

// packedLength is the byte length of a packed decimal of precision p.
func packedLength(precision int) int {
	return (precision + 2) / 2
}

// unpackDecimal decodes packed BCD. Every byte but the last holds two
// digits, the last holds one digit and the sign nibble.
func unpackDecimal(b []byte, scale int) (decimal.Decimal, error) {
	if len(b) == 0 {
		return decimal.Decimal{}, fmt.Errorf("empty packed decimal")
	}

	digits := 2*len(b) - 1
	last := b[len(b)-1]

	if digits <= 18 {
		var v int64
		for _, x := range b[:len(b)-1] {
			hi, lo := x>>4, x&0x0F
			if hi > 9 || lo > 9 {
				return decimal.Decimal{}, fmt.Errorf("invalid BCD byte 0x%02X", x)
			}
			v = v*100 + int64(hi)*10 + int64(lo)
		}
		if last>>4 > 9 {
			return decimal.Decimal{}, fmt.Errorf("invalid BCD byte 0x%02X", last)
		}
		v = v*10 + int64(last>>4)
		if last&0x0F != signPositive {
			v = -v
		}
		return decimal.New(v, int32(-scale)), nil
	}

	v := new(big.Int)
	hundred := big.NewInt(100)
	ten := big.NewInt(10)
	for _, x := range b[:len(b)-1] {
		hi, lo := x>>4, x&0x0F
		if hi > 9 || lo > 9 {
			return decimal.Decimal{}, fmt.Errorf("invalid BCD byte 0x%02X", x)
		}
		v.Mul(v, hundred)
		v.Add(v, big.NewInt(int64(hi)*10+int64(lo)))
	}
	if last>>4 > 9 {
		return decimal.Decimal{}, fmt.Errorf("invalid BCD byte 0x%02X", last)
	}
	v.Mul(v, ten)
	v.Add(v, big.NewInt(int64(last>>4)))
	if last&0x0F != signPositive {
		v.Neg(v)
	}
	return decimal.NewFromBigInt(v, int32(-scale)), nil
}

package binutil

import (
	"fmt"
	"math"

	"gwmodbus/pkg/runtime/constant"
)

// ParseUint16 reads a big-endian word.
func ParseUint16(b []byte) uint16 {
	return (uint16(b[0]) << 8) | uint16(b[1])
}

// ParseUint32 reads four bytes in network order (ABCD).
func ParseUint32(b []byte) uint32 {
	return (uint32(b[0]) << 24) |
		(uint32(b[1]) << 16) |
		(uint32(b[2]) << 8) |
		uint32(b[3])
}

// ParseUint64 reads eight bytes in network order (ABCD EFGH).
func ParseUint64(b []byte) uint64 {
	return (uint64(b[0]) << 56) |
		(uint64(b[1]) << 48) |
		(uint64(b[2]) << 40) |
		(uint64(b[3]) << 32) |
		(uint64(b[4]) << 24) |
		(uint64(b[5]) << 16) |
		(uint64(b[6]) << 8) |
		uint64(b[7])
}

func ParseFloat32(b []byte) float32 {
	return math.Float32frombits(ParseUint32(b))
}

func ParseFloat64(b []byte) float64 {
	return math.Float64frombits(ParseUint64(b))
}

func WriteUint16(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

func WriteUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func WriteUint64(b []byte, v uint64) {
	b[0] = byte(v >> 56)
	b[1] = byte(v >> 48)
	b[2] = byte(v >> 40)
	b[3] = byte(v >> 32)
	b[4] = byte(v >> 24)
	b[5] = byte(v >> 16)
	b[6] = byte(v >> 8)
	b[7] = byte(v)
}

func Uint16Bytes(v uint16) []byte {
	b := make([]byte, 2)
	WriteUint16(b, v)
	return b
}

func Uint32Bytes(v uint32) []byte {
	b := make([]byte, 4)
	WriteUint32(b, v)
	return b
}

func Uint64Bytes(v uint64) []byte {
	b := make([]byte, 8)
	WriteUint64(b, v)
	return b
}

// ByteFormatting rearranges a 4 or 8 byte value between network order and the
// given layout. Every layout is its own inverse, so the same call serves reads
// and writes. Values of any other length are returned unchanged.
//
//	ABCD  as is
//	BADC  bytes swapped inside each word
//	CDAB  word order reversed
//	DCBA  all bytes reversed
func ByteFormatting(b []byte, layout constant.MemoryLayout) []byte {
	out := Dup(b)
	if len(b) != 4 && len(b) != 8 {
		return out
	}
	switch layout {
	case constant.BADC:
		for i := 0; i+1 < len(out); i += 2 {
			out[i], out[i+1] = out[i+1], out[i]
		}
	case constant.CDAB:
		words := len(out) / 2
		for i := 0; i < words/2; i++ {
			j := words - 1 - i
			out[2*i], out[2*j] = out[2*j], out[2*i]
			out[2*i+1], out[2*j+1] = out[2*j+1], out[2*i+1]
		}
	case constant.DCBA:
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

// ExtractBits returns bits start..end of word, right-justified.
// With left set, positions count from the most significant bit (position 0 is
// bit 15). Otherwise positions count from the least significant bit and the
// selection comes out reversed: bit end lands in bit 0 of the result.
func ExtractBits(word uint16, start, end uint8, left bool) uint16 {
	if start > end || end > 15 {
		return 0
	}
	n := end - start + 1
	mask := uint32(1)<<n - 1
	if left {
		return uint16((uint32(word) >> (15 - end)) & mask)
	}
	var v uint16
	for k := uint8(0); k < n; k++ {
		if (word>>(end-k))&1 == 1 {
			v |= 1 << k
		}
	}
	return v
}

// HexString renders bytes as upper-case pairs separated by single spaces.
func HexString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return fmt.Sprintf("% X", b)
}

func Dup(p []byte) []byte {
	if p == nil {
		return nil
	}
	b := make([]byte, len(p))
	copy(b, p)
	return b
}

// ExpandBool unpacks coil status bytes, least significant bit first.
func ExpandBool(p []byte, count int) []bool {
	r := make([]bool, count)
	for i := 0; i < count && i/8 < len(p); i++ {
		r[i] = p[i/8]&(1<<(uint(i)%8)) != 0
	}
	return r
}

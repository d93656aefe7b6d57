package modbus

import (
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/exp/constraints"
)

// nativeIsLittleEndian reports whether the host reinterprets a byte buffer as
// little-endian. Word and byte reordering in this file reproduces the
// exact host-dependent reinterpretation the wire format was built
// against rather than a host-independent "most significant word first"
// composition; see SPEC_FULL.md §9, design note (a).
var nativeIsLittleEndian = func() bool {
	b := binary.NativeEndian.AppendUint16(nil, 1)
	return b[0] == 1
}()

// reverseWords returns a copy of words in reverse order.
func reverseWords(words []uint16) []uint16 {
	out := make([]uint16, len(words))
	for i, w := range words {
		out[len(words)-1-i] = w
	}
	return out
}

// wordsToBytes lays out words in wire order (reversed on little-endian
// hosts), each word contributing its low byte then its high byte, and
// returns the concatenated buffer for native-endian reinterpretation.
func wordsToBytes(words []uint16) []byte {
	ordered := words
	if nativeIsLittleEndian {
		ordered = reverseWords(words)
	}
	buf := make([]byte, 0, len(ordered)*2)
	for _, w := range ordered {
		buf = append(buf, byte(w), byte(w>>8))
	}
	return buf
}

// bytesToWords is the inverse of wordsToBytes: it regroups a native-endian
// byte buffer into words (low byte then high byte per word) and reverses
// the word order back into wire order on little-endian hosts.
func bytesToWords(buf []byte) []uint16 {
	words := make([]uint16, len(buf)/2)
	for i := range words {
		words[i] = uint16(buf[2*i]) | uint16(buf[2*i+1])<<8
	}
	if nativeIsLittleEndian {
		words = reverseWords(words)
	}
	return words
}

// allOnes reports whether every word equals the all-ones sentinel 0xFFFF,
// the unsigned "unset" marker described in §4.A.
func allOnes(words []uint16) bool {
	for _, w := range words {
		if w != 0xFFFF {
			return false
		}
	}
	return true
}

type wireUnsigned interface {
	~uint16 | ~uint32 | ~uint64
}

type wireSigned interface {
	~int16 | ~int32 | ~int64
}

type wireFloat interface {
	~float32 | ~float64
}

// decodeUnsigned decodes an unsigned integer of width len(words)*16 bits,
// applying the MAX-word sentinel rule.
func decodeUnsigned[T wireUnsigned](words []uint16) T {
	if allOnes(words) {
		return 0
	}
	buf := wordsToBytes(words)
	return readUint[T](buf)
}

// decodeSigned decodes a signed integer; the sentinel rule never applies
// to signed kinds (design note 9.c).
func decodeSigned[T wireSigned](words []uint16) T {
	buf := wordsToBytes(words)
	return readInt[T](buf)
}

// decodeFloat decodes an IEEE-754 float; no sentinel rule applies.
func decodeFloat[T wireFloat](words []uint16) T {
	buf := wordsToBytes(words)
	return readFloat[T](buf)
}

func readUint[T wireUnsigned](buf []byte) T {
	switch len(buf) {
	case 2:
		return T(binary.NativeEndian.Uint16(buf))
	case 4:
		return T(binary.NativeEndian.Uint32(buf))
	case 8:
		return T(binary.NativeEndian.Uint64(buf))
	default:
		panic(fmt.Sprintf("modbus: unsupported integer width %d bytes", len(buf)))
	}
}

func readInt[T wireSigned](buf []byte) T {
	switch len(buf) {
	case 2:
		return T(int16(binary.NativeEndian.Uint16(buf)))
	case 4:
		return T(int32(binary.NativeEndian.Uint32(buf)))
	case 8:
		return T(int64(binary.NativeEndian.Uint64(buf)))
	default:
		panic(fmt.Sprintf("modbus: unsupported integer width %d bytes", len(buf)))
	}
}

func readFloat[T wireFloat](buf []byte) T {
	switch len(buf) {
	case 4:
		bits := binary.NativeEndian.Uint32(buf)
		return T(math.Float32frombits(bits))
	case 8:
		bits := binary.NativeEndian.Uint64(buf)
		return T(math.Float64frombits(bits))
	default:
		panic(fmt.Sprintf("modbus: unsupported float width %d bytes", len(buf)))
	}
}

// encodeUnsigned packs an unsigned integer into wire words.
func encodeUnsigned[T wireUnsigned](v T, wordCount int) []uint16 {
	buf := writeUint(v, wordCount*2)
	return bytesToWords(buf)
}

func encodeSigned[T wireSigned](v T, wordCount int) []uint16 {
	buf := writeInt(v, wordCount*2)
	return bytesToWords(buf)
}

func encodeFloatWords[T wireFloat](v T, wordCount int) []uint16 {
	buf := writeFloat(v, wordCount*2)
	return bytesToWords(buf)
}

func writeUint[T wireUnsigned](v T, width int) []byte {
	buf := make([]byte, width)
	switch width {
	case 2:
		binary.NativeEndian.PutUint16(buf, uint16(v))
	case 4:
		binary.NativeEndian.PutUint32(buf, uint32(v))
	case 8:
		binary.NativeEndian.PutUint64(buf, uint64(v))
	}
	return buf
}

func writeInt[T wireSigned](v T, width int) []byte {
	buf := make([]byte, width)
	switch width {
	case 2:
		binary.NativeEndian.PutUint16(buf, uint16(int16(v)))
	case 4:
		binary.NativeEndian.PutUint32(buf, uint32(int32(v)))
	case 8:
		binary.NativeEndian.PutUint64(buf, uint64(int64(v)))
	}
	return buf
}

func writeFloat[T wireFloat](v T, width int) []byte {
	buf := make([]byte, width)
	switch width {
	case 4:
		binary.NativeEndian.PutUint32(buf, math.Float32bits(float32(v)))
	case 8:
		binary.NativeEndian.PutUint64(buf, math.Float64bits(float64(v)))
	}
	return buf
}

// wordsToStringBytes lays out words high-byte-first, independent of host
// endianness (§4.A string rule).
func wordsToStringBytes(words []uint16) []byte {
	buf := make([]byte, 0, len(words)*2)
	for _, w := range words {
		buf = append(buf, byte(w>>8), byte(w))
	}
	return buf
}

// stringBytesToWords is the inverse of wordsToStringBytes, padding an odd
// trailing byte with zero.
func stringBytesToWords(buf []byte) []uint16 {
	words := make([]uint16, (len(buf)+1)/2)
	for i := range words {
		hi := buf[2*i]
		var lo byte
		if 2*i+1 < len(buf) {
			lo = buf[2*i+1]
		}
		words[i] = uint16(hi)<<8 | uint16(lo)
	}
	return words
}

// clamp limits v to [lo, hi] (out-of-range values become the nearest
// bound) and converts it to T. Encode does not use it: its saturate
// helpers map out-of-range values to zero (§4.A encode contract).
func clamp[T constraints.Integer](v int64, lo, hi int64) T {
	if v < lo {
		v = lo
	}
	if v > hi {
		v = hi
	}
	return T(v)
}

package modbus

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDecodeU32WithMultiplier(t *testing.T) {
	// words [0x0000, 0x07D0] -> 2000 raw -> x0.1 -> 200.0
	kind := U32().WithMultiplier(decimal.NewFromFloat(0.1))
	v, err := Decode(kind, []uint16{0x0000, 0x07D0}, time.Now())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := decimal.NewFromFloat(200.0)
	if !v.Decimal.Equal(want) {
		t.Fatalf("got %s want %s", v.Decimal, want)
	}
}

func TestDecodeUnsignedSentinel(t *testing.T) {
	v, err := Decode(U16(), []uint16{0xFFFF}, time.Now())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !v.Decimal.Equal(decimal.Zero) {
		t.Fatalf("sentinel u16 should decode to zero, got %s", v.Decimal)
	}
}

func TestDecodeSignedSentinelNotApplied(t *testing.T) {
	v, err := Decode(S16(), []uint16{0xFFFF}, time.Now())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !v.Decimal.Equal(decimal.NewFromInt(-1)) {
		t.Fatalf("signed -1 must not be treated as sentinel, got %s", v.Decimal)
	}
}

func TestDecodeFloatSentinelNotApplied(t *testing.T) {
	words := encodeFloatWords(float32(-1), 2)
	// -1.0 as f32 is 0xBF800000, not the all-ones sentinel; Decode must
	// return it unchanged.
	v, err := Decode(F32(), words, time.Now())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	f, _ := v.Decimal.Float64()
	if f != -1 {
		t.Fatalf("got %v want -1", f)
	}
}

func TestEncodeDecodeRoundTripU16(t *testing.T) {
	words, err := Encode(U16(), decimal.NewFromInt(42))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	v, err := Decode(U16(), words, time.Now())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !v.Decimal.Equal(decimal.NewFromInt(42)) {
		t.Fatalf("got %s want 42", v.Decimal)
	}
}

func TestEncodeOutOfRangeSaturatesToZero(t *testing.T) {
	words, err := Encode(U16(), decimal.NewFromInt(1<<20))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if words[0] != 0 {
		t.Fatalf("got %d want 0 (saturate-to-zero, not clamp-to-max)", words[0])
	}

	words, err = Encode(S16(), decimal.NewFromInt(-1<<20))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if words[0] != 0 {
		t.Fatalf("got %d want 0 (saturate-to-zero, not clamp-to-min)", words[0])
	}
}

func TestStringRoundTripHighByteFirst(t *testing.T) {
	words := EncodeString("AB", 1)
	v, err := Decode(StringKind(1), words, time.Now())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.Text != "AB" {
		t.Fatalf("got %q want %q", v.Text, "AB")
	}
}

func TestRawRoundTrip(t *testing.T) {
	words := []uint16{0x1234, 0x5678}
	v, err := Decode(RawKind(2), words, time.Now())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(v.Words) != 2 || v.Words[0] != 0x1234 || v.Words[1] != 0x5678 {
		t.Fatalf("got %v", v.Words)
	}
}

func TestMultiplierOrdinaryCaseSucceeds(t *testing.T) {
	kind := U16().WithMultiplier(decimal.NewFromFloat(0.1))
	words, _ := Encode(U16(), decimal.NewFromInt(1))
	v, err := Decode(kind, words, time.Now())
	if err != nil {
		t.Fatalf("ordinary multiplier should not fail: %v", err)
	}
	if !v.Decimal.Equal(decimal.NewFromFloat(0.1)) {
		t.Fatalf("got %s", v.Decimal)
	}
}

func TestMultiplierOverflowIsParseError(t *testing.T) {
	kind := U64().WithMultiplier(decimal.New(1, 20))
	words := encodeUnsigned(uint64(1)<<63, 4)
	_, err := Decode(kind, words, time.Now())
	if err == nil {
		t.Fatal("expected overflow ParseError")
	}
	if _, ok := err.(*ParseError); !ok {
		t.Fatalf("got %T want *ParseError", err)
	}
}

func TestWidthMismatchIsParseError(t *testing.T) {
	_, err := Decode(U32(), []uint16{0x0001}, time.Now())
	if err == nil {
		t.Fatal("expected error for short word slice")
	}
	if _, ok := err.(*ParseError); !ok {
		t.Fatalf("got %T want *ParseError", err)
	}
}

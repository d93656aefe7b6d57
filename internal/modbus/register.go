package modbus

import (
	"encoding/json"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Tag discriminates the register shapes described in §3 of the spec. It is
// kept as a plain enum rather than an interface hierarchy so decode/encode
// dispatch lives in one place (design note 9).
type Tag int

const (
	TagU16 Tag = iota
	TagU32
	TagU64
	TagS16
	TagS32
	TagS64
	TagF32
	TagF64
	TagString
	TagRaw
)

func (t Tag) String() string {
	switch t {
	case TagU16:
		return "u16"
	case TagU32:
		return "u32"
	case TagU64:
		return "u64"
	case TagS16:
		return "s16"
	case TagS32:
		return "s32"
	case TagS64:
		return "s64"
	case TagF32:
		return "f32"
	case TagF64:
		return "f64"
	case TagString:
		return "string"
	case TagRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// RegisterKind is the declarative wire shape of a register: width, numeric
// interpretation and an optional fixed-point multiplier.
type RegisterKind struct {
	Tag        Tag
	Multiplier *decimal.Decimal // numeric kinds only; nil means 1
	Length     uint16           // words, String/Raw only
}

// Width returns the register's width in 16-bit words.
func (k RegisterKind) Width() uint16 {
	switch k.Tag {
	case TagU16, TagS16:
		return 1
	case TagU32, TagS32, TagF32:
		return 2
	case TagU64, TagS64, TagF64:
		return 4
	case TagString, TagRaw:
		return k.Length
	default:
		return 0
	}
}

func U16() RegisterKind  { return RegisterKind{Tag: TagU16} }
func U32() RegisterKind  { return RegisterKind{Tag: TagU32} }
func U64() RegisterKind  { return RegisterKind{Tag: TagU64} }
func S16() RegisterKind  { return RegisterKind{Tag: TagS16} }
func S32() RegisterKind  { return RegisterKind{Tag: TagS32} }
func S64() RegisterKind  { return RegisterKind{Tag: TagS64} }
func F32() RegisterKind  { return RegisterKind{Tag: TagF32} }
func F64() RegisterKind  { return RegisterKind{Tag: TagF64} }
func StringKind(lengthWords uint16) RegisterKind {
	return RegisterKind{Tag: TagString, Length: lengthWords}
}
func RawKind(lengthWords uint16) RegisterKind {
	return RegisterKind{Tag: TagRaw, Length: lengthWords}
}

// WithMultiplier returns a copy of k carrying the given decimal multiplier.
// Only meaningful for numeric kinds.
func (k RegisterKind) WithMultiplier(m decimal.Decimal) RegisterKind {
	k.Multiplier = &m
	return k
}

func (k RegisterKind) isNumeric() bool {
	switch k.Tag {
	case TagU16, TagU32, TagU64, TagS16, TagS32, TagS64, TagF32, TagF64:
		return true
	default:
		return false
	}
}

func (k RegisterKind) isUnsigned() bool {
	switch k.Tag {
	case TagU16, TagU32, TagU64:
		return true
	default:
		return false
	}
}

// RegisterValue is the decoded counterpart of RegisterKind (§3).
type RegisterValue struct {
	Tag       Tag
	Decimal   decimal.Decimal // numeric kinds
	Text      string          // TagString only
	Words     []uint16        // TagString (original wire words) and TagRaw
	Timestamp time.Time
}

// ParseError reports a decode failure: invalid UTF-8, a slice of the wrong
// width, or multiplier overflow (§4.A, §7).
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return fmt.Sprintf("modbus: parse error: %s", e.Reason) }

func parseErrorf(format string, args ...any) error {
	return &ParseError{Reason: fmt.Sprintf(format, args...)}
}

// Decode interprets words (whose length must equal k.Width()) as a
// RegisterValue per the §4.A decode contract.
func Decode(k RegisterKind, words []uint16, at time.Time) (RegisterValue, error) {
	if uint16(len(words)) != k.Width() {
		return RegisterValue{}, parseErrorf("expected %d words for %s, got %d", k.Width(), k.Tag, len(words))
	}

	switch k.Tag {
	case TagU16, TagU32, TagU64:
		return decodeUnsignedKind(k, words, at)
	case TagS16, TagS32, TagS64:
		return decodeSignedKind(k, words, at)
	case TagF32, TagF64:
		return decodeFloatKind(k, words, at)
	case TagString:
		return decodeStringKind(k, words, at)
	case TagRaw:
		raw := make([]uint16, len(words))
		copy(raw, words)
		return RegisterValue{Tag: TagRaw, Words: raw, Timestamp: at}, nil
	default:
		return RegisterValue{}, parseErrorf("unknown register tag %v", k.Tag)
	}
}

func decodeUnsignedKind(k RegisterKind, words []uint16, at time.Time) (RegisterValue, error) {
	var raw uint64
	switch k.Tag {
	case TagU16:
		raw = uint64(decodeUnsigned[uint16](words))
	case TagU32:
		raw = uint64(decodeUnsigned[uint32](words))
	case TagU64:
		raw = decodeUnsigned[uint64](words)
	}
	var d decimal.Decimal
	if allOnes(words) {
		d = decimal.Zero
	} else {
		d = decimal.NewFromBigInt(new(big.Int).SetUint64(raw), 0)
	}
	d, err := applyMultiplier(k, d)
	if err != nil {
		return RegisterValue{}, err
	}
	return RegisterValue{Tag: k.Tag, Decimal: d, Timestamp: at}, nil
}

func decodeSignedKind(k RegisterKind, words []uint16, at time.Time) (RegisterValue, error) {
	var raw int64
	switch k.Tag {
	case TagS16:
		raw = int64(decodeSigned[int16](words))
	case TagS32:
		raw = int64(decodeSigned[int32](words))
	case TagS64:
		raw = decodeSigned[int64](words)
	}
	d, err := applyMultiplier(k, decimal.NewFromInt(raw))
	if err != nil {
		return RegisterValue{}, err
	}
	return RegisterValue{Tag: k.Tag, Decimal: d, Timestamp: at}, nil
}

func decodeFloatKind(k RegisterKind, words []uint16, at time.Time) (RegisterValue, error) {
	var raw float64
	switch k.Tag {
	case TagF32:
		raw = float64(decodeFloat[float32](words))
	case TagF64:
		raw = decodeFloat[float64](words)
	}
	d, err := applyMultiplier(k, decimal.NewFromFloat(raw))
	if err != nil {
		return RegisterValue{}, err
	}
	return RegisterValue{Tag: k.Tag, Decimal: d, Timestamp: at}, nil
}

func decodeStringKind(k RegisterKind, words []uint16, at time.Time) (RegisterValue, error) {
	buf := wordsToStringBytes(words)
	if !utf8.Valid(buf) {
		return RegisterValue{}, parseErrorf("string register %d words is not valid utf-8", len(words))
	}
	raw := make([]uint16, len(words))
	copy(raw, words)
	return RegisterValue{Tag: TagString, Text: string(buf), Words: raw, Timestamp: at}, nil
}

// decimalMagnitudeLimit mirrors the 96-bit coefficient ceiling of the
// original fixed-precision decimal this wire format was built against
// (original_source's rust_decimal::Decimal, MAX ~= 7.9228e28): a checked
// multiply that would need more bits than that fails instead of growing
// arbitrarily, the way Decode's decimal multiplier is specified to fail on
// overflow (§4.A).
var decimalMagnitudeLimit = func() decimal.Decimal {
	d, err := decimal.NewFromString("79228162514264337593543950335")
	if err != nil {
		panic(err)
	}
	return d
}()

func applyMultiplier(k RegisterKind, d decimal.Decimal) (decimal.Decimal, error) {
	if k.Multiplier == nil {
		return d, nil
	}
	result := d.Mul(*k.Multiplier)
	if result.Abs().Cmp(decimalMagnitudeLimit) > 0 {
		return decimal.Decimal{}, parseErrorf("multiplier overflow for %s", k.Tag)
	}
	return result, nil
}

// Encode packs v into wire words for the declared kind (§4.A encode
// contract, the inverse of Decode).
func Encode(k RegisterKind, v decimal.Decimal) ([]uint16, error) {
	if k.Multiplier != nil && !k.Multiplier.IsZero() {
		v = v.Div(*k.Multiplier)
	}
	switch k.Tag {
	case TagU16:
		return encodeUnsigned(saturateDecimalUnsigned(v, 0xFFFF), 1), nil
	case TagU32:
		return encodeUnsigned(saturateDecimalUnsigned(v, 0xFFFFFFFF), 2), nil
	case TagU64:
		return encodeUnsigned(saturateDecimalUnsigned(v, ^uint64(0)), 4), nil
	case TagS16:
		return encodeSigned(saturateDecimalSigned[int16](v, -1<<15, 1<<15-1), 1), nil
	case TagS32:
		return encodeSigned(saturateDecimalSigned[int32](v, -1<<31, 1<<31-1), 2), nil
	case TagS64:
		return encodeSigned(saturateDecimalSigned[int64](v, minInt64, maxInt64), 4), nil
	case TagF32:
		f, _ := v.Float64()
		return encodeFloatWords(float32(f), 2), nil
	case TagF64:
		f, _ := v.Float64()
		return encodeFloatWords(f, 4), nil
	default:
		return nil, fmt.Errorf("modbus: cannot encode decimal into %s register", k.Tag)
	}
}

const minInt64 = -1 << 63
const maxInt64 = 1<<63 - 1

// saturateDecimalUnsigned resolves v to its wire value, saturating to zero
// (not the nearest representable bound) when v falls outside [0, max].
func saturateDecimalUnsigned(v decimal.Decimal, max uint64) uint64 {
	if v.IsNegative() {
		return 0
	}
	if v.Cmp(decimal.NewFromBigInt(new(big.Int).SetUint64(max), 0)) > 0 {
		return 0
	}
	return v.BigInt().Uint64()
}

// saturateDecimalSigned resolves v to its wire value, saturating to zero when
// v falls outside [lo, hi].
func saturateDecimalSigned[T wireSigned](v decimal.Decimal, lo, hi int64) T {
	i := v.IntPart()
	if i < lo || i > hi {
		return 0
	}
	return T(i)
}

// EncodeString packs s into lengthWords words, high byte first per word
// (§4.A), padding with zero when s is shorter than the declared length.
func EncodeString(s string, lengthWords uint16) []uint16 {
	buf := make([]byte, int(lengthWords)*2)
	copy(buf, s)
	return stringBytesToWords(buf)
}

// Display renders a RegisterValue the way §4.A's detect matcher and the
// device-id derivation (§3) compare against: numeric kinds use their plain
// decimal text, String and Raw use the hex-word form also used for Raw's
// JSON encoding (§6).
func (v RegisterValue) Display() string {
	if isNumericTag(v.Tag) {
		return v.Decimal.String()
	}
	return hexWords(v.Words)
}

func isNumericTag(t Tag) bool {
	switch t {
	case TagU16, TagU32, TagU64, TagS16, TagS32, TagS64, TagF32, TagF64:
		return true
	default:
		return false
	}
}

func hexWords(words []uint16) string {
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = fmt.Sprintf("0x%04X", w)
	}
	return strings.Join(parts, " ")
}

// MarshalJSON renders the §6 stream payload's typed value form: integers as
// numbers, floats as numbers, strings verbatim, Raw as a hex-word array.
func (v RegisterValue) MarshalJSON() ([]byte, error) {
	switch v.Tag {
	case TagString:
		return json.Marshal(v.Text)
	case TagRaw:
		parts := make([]string, len(v.Words))
		for i, w := range v.Words {
			parts[i] = fmt.Sprintf("0x%04X", w)
		}
		return json.Marshal(parts)
	case TagF32, TagF64:
		f, _ := v.Decimal.Float64()
		return json.Marshal(f)
	default:
		return json.Marshal(json.Number(v.Decimal.String()))
	}
}

// Matcher is a detect-register comparator: either an exact literal or a
// regular expression tested against Display() (§4.A).
type Matcher struct {
	Literal string
	Regex   *regexp.Regexp
}

func LiteralMatcher(s string) Matcher { return Matcher{Literal: s} }

func RegexMatcher(expr string) (Matcher, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Matcher{}, fmt.Errorf("modbus: invalid detect regex %q: %w", expr, err)
	}
	return Matcher{Regex: re}, nil
}

func (m Matcher) Matches(v RegisterValue) bool {
	display := v.Display()
	if m.Regex != nil {
		return m.Regex.MatchString(display)
	}
	return m.Literal == display
}

// DetectRegister classifies a device kind during discovery (§3, §4.F).
type DetectRegister struct {
	Address uint16
	Kind    RegisterKind
	Match   Matcher
}

func (r DetectRegister) Span() Span { return Span{Address: r.Address, Quantity: r.Kind.Width()} }

// IdRegister contributes to the stable device identifier (§3).
type IdRegister struct {
	Address uint16
	Kind    RegisterKind
}

func (r IdRegister) Span() Span { return Span{Address: r.Address, Quantity: r.Kind.Width()} }

// MeasurementRegister is a named, periodically sampled register (§3, §4.G).
type MeasurementRegister struct {
	Name    string
	Address uint16
	Kind    RegisterKind
}

func (r MeasurementRegister) Span() Span { return Span{Address: r.Address, Quantity: r.Kind.Width()} }

// ValueRegister carries a raw word payload for writes: configuration,
// daily/nightly tariff writes, and time-sync writes (§3, SPEC_FULL §3).
type ValueRegister struct {
	Address uint16
	Values  []uint16
}

func (r ValueRegister) Record() Record { return Record{Address: r.Address, Values: r.Values} }

// MakeID derives the stable device identifier from a kind name and its
// ordered id-register values: "{kind}-" + concat(display(values)) (§3).
func MakeID(kind string, values []RegisterValue) string {
	var b strings.Builder
	b.WriteString(kind)
	b.WriteByte('-')
	for _, v := range values {
		b.WriteString(v.Display())
	}
	return b.String()
}

package modbus

import "fmt"

// Span is a contiguous read interval on the 16-bit-word register space.
type Span struct {
	Address  uint16
	Quantity uint16
}

// End returns the exclusive upper bound of the span.
func (s Span) End() uint32 {
	return uint32(s.Address) + uint32(s.Quantity)
}

// Validate checks the [address, address+quantity) invariants a Span must satisfy
// before it can be sent over the wire: quantity in [1,125] and no 16-bit overflow.
func (s Span) Validate() error {
	if s.Quantity == 0 || s.Quantity > 125 {
		return fmt.Errorf("modbus: span quantity %d out of range [1,125]", s.Quantity)
	}
	if s.End() > 65536 {
		return fmt.Errorf("modbus: span %d+%d overflows the register space", s.Address, s.Quantity)
	}
	return nil
}

// Record pairs a Span with the words to be written at that address.
type Record struct {
	Address uint16
	Values  []uint16
}

// Span returns the Record's addressed interval.
func (r Record) Span() Span {
	return Span{Address: r.Address, Quantity: uint16(len(r.Values))}
}

// Validate checks write-side limits: quantity in [1,123].
func (r Record) Validate() error {
	if len(r.Values) == 0 || len(r.Values) > 123 {
		return fmt.Errorf("modbus: record quantity %d out of range [1,123]", len(r.Values))
	}
	if Span{Address: r.Address, Quantity: uint16(len(r.Values))}.End() > 65536 {
		return fmt.Errorf("modbus: record %d+%d overflows the register space", r.Address, len(r.Values))
	}
	return nil
}

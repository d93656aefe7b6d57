package modbus

import (
	"encoding/binary"
	"fmt"
)

// Function codes supported by this repo (§1 Non-goals: holding registers
// only, no coils, no discrete inputs, no diagnostics).
const (
	FuncReadHoldingRegisters  byte = 0x03
	FuncWriteMultipleHolding  byte = 0x10
	exceptionBit              byte = 0x80
)

// ExceptionError reports a Modbus exception response (function code with
// the high bit set plus a one-byte exception code).
type ExceptionError struct {
	Function byte
	Code     byte
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus: exception 0x%02X on function 0x%02X", e.Code, e.Function)
}

// buildReadRequest encodes an 0x03 request PDU.
func buildReadRequest(span Span) []byte {
	pdu := make([]byte, 5)
	pdu[0] = FuncReadHoldingRegisters
	binary.BigEndian.PutUint16(pdu[1:3], span.Address)
	binary.BigEndian.PutUint16(pdu[3:5], span.Quantity)
	return pdu
}

// parseReadResponse decodes an 0x03 response PDU into words.
func parseReadResponse(pdu []byte, expectQuantity uint16) ([]uint16, error) {
	if len(pdu) < 1 {
		return nil, fmt.Errorf("modbus: empty response pdu")
	}
	if pdu[0]&exceptionBit != 0 {
		code := byte(0)
		if len(pdu) > 1 {
			code = pdu[1]
		}
		return nil, &ExceptionError{Function: pdu[0] &^ exceptionBit, Code: code}
	}
	if pdu[0] != FuncReadHoldingRegisters {
		return nil, fmt.Errorf("modbus: unexpected function code 0x%02X in read response", pdu[0])
	}
	if len(pdu) < 2 {
		return nil, fmt.Errorf("modbus: truncated read response")
	}
	byteCount := int(pdu[1])
	if len(pdu) < 2+byteCount {
		return nil, fmt.Errorf("modbus: read response shorter than declared byte count")
	}
	if byteCount != int(expectQuantity)*2 {
		return nil, fmt.Errorf("modbus: read response byte count %d does not match requested quantity %d", byteCount, expectQuantity)
	}
	words := make([]uint16, expectQuantity)
	for i := range words {
		words[i] = binary.BigEndian.Uint16(pdu[2+2*i : 4+2*i])
	}
	return words, nil
}

// buildWriteRequest encodes an 0x10 request PDU.
func buildWriteRequest(rec Record) []byte {
	pdu := make([]byte, 6+len(rec.Values)*2)
	pdu[0] = FuncWriteMultipleHolding
	binary.BigEndian.PutUint16(pdu[1:3], rec.Address)
	binary.BigEndian.PutUint16(pdu[3:5], uint16(len(rec.Values)))
	pdu[5] = byte(len(rec.Values) * 2)
	for i, v := range rec.Values {
		binary.BigEndian.PutUint16(pdu[6+2*i:8+2*i], v)
	}
	return pdu
}

// parseWriteResponse validates an 0x10 response PDU.
func parseWriteResponse(pdu []byte, want Record) error {
	if len(pdu) < 1 {
		return fmt.Errorf("modbus: empty response pdu")
	}
	if pdu[0]&exceptionBit != 0 {
		code := byte(0)
		if len(pdu) > 1 {
			code = pdu[1]
		}
		return &ExceptionError{Function: pdu[0] &^ exceptionBit, Code: code}
	}
	if pdu[0] != FuncWriteMultipleHolding {
		return fmt.Errorf("modbus: unexpected function code 0x%02X in write response", pdu[0])
	}
	if len(pdu) < 5 {
		return fmt.Errorf("modbus: truncated write response")
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	qty := binary.BigEndian.Uint16(pdu[3:5])
	if addr != want.Address || int(qty) != len(want.Values) {
		return fmt.Errorf("modbus: write response echoed %d@%d, wanted %d@%d", qty, addr, len(want.Values), want.Address)
	}
	return nil
}

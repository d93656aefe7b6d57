package modbus

import "testing"

func TestBuildParseReadRoundTrip(t *testing.T) {
	span := Span{Address: 10, Quantity: 3}
	req := buildReadRequest(span)
	if req[0] != FuncReadHoldingRegisters {
		t.Fatalf("got function 0x%02X", req[0])
	}

	resp := []byte{FuncReadHoldingRegisters, 6, 0, 1, 0, 2, 0, 3}
	words, err := parseReadResponse(resp, span.Quantity)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(words) != 3 || words[0] != 1 || words[1] != 2 || words[2] != 3 {
		t.Fatalf("got %v", words)
	}
}

func TestParseReadResponseException(t *testing.T) {
	resp := []byte{FuncReadHoldingRegisters | exceptionBit, 0x02}
	_, err := parseReadResponse(resp, 1)
	exc, ok := err.(*ExceptionError)
	if !ok {
		t.Fatalf("got %T want *ExceptionError", err)
	}
	if exc.Code != 0x02 {
		t.Fatalf("got code 0x%02X", exc.Code)
	}
}

func TestBuildParseWriteRoundTrip(t *testing.T) {
	rec := Record{Address: 5, Values: []uint16{10, 20}}
	req := buildWriteRequest(rec)
	if req[0] != FuncWriteMultipleHolding {
		t.Fatalf("got function 0x%02X", req[0])
	}

	resp := []byte{FuncWriteMultipleHolding, 0, 5, 0, 2}
	if err := parseWriteResponse(resp, rec); err != nil {
		t.Fatalf("parse: %v", err)
	}
}

func TestParseWriteResponseMismatch(t *testing.T) {
	rec := Record{Address: 5, Values: []uint16{10, 20}}
	resp := []byte{FuncWriteMultipleHolding, 0, 5, 0, 1}
	if err := parseWriteResponse(resp, rec); err == nil {
		t.Fatal("expected mismatch error")
	}
}

package modbus

import (
	"encoding/binary"
	"fmt"
	"io"
)

// mbapHeader is the 7-byte MBAP header prefixing every TCP application data
// unit, grounded on the teacher pack's hand-rolled MBAP parsing (lachlan2k's
// ModbusMBAPHeader and the teacher's own internal/modbus/server.go).
type mbapHeader struct {
	TransactionID uint16
	ProtocolID    uint16
	Length        uint16
	UnitID        byte
}

func (h mbapHeader) marshal() []byte {
	buf := make([]byte, 7)
	binary.BigEndian.PutUint16(buf[0:2], h.TransactionID)
	binary.BigEndian.PutUint16(buf[2:4], h.ProtocolID)
	binary.BigEndian.PutUint16(buf[4:6], h.Length)
	buf[6] = h.UnitID
	return buf
}

func scanMBAPHeader(r io.Reader) (mbapHeader, error) {
	buf := make([]byte, 7)
	if _, err := io.ReadFull(r, buf); err != nil {
		return mbapHeader{}, err
	}
	h := mbapHeader{
		TransactionID: binary.BigEndian.Uint16(buf[0:2]),
		ProtocolID:    binary.BigEndian.Uint16(buf[2:4]),
		Length:        binary.BigEndian.Uint16(buf[4:6]),
		UnitID:        buf[6],
	}
	if h.ProtocolID != 0 {
		return mbapHeader{}, fmt.Errorf("modbus: unexpected MBAP protocol id %d", h.ProtocolID)
	}
	if h.Length < 2 {
		return mbapHeader{}, fmt.Errorf("modbus: MBAP length %d too short", h.Length)
	}
	return h, nil
}

// tcpADU frames a PDU over a persistent TCP stream (§4.C, §6).
type tcpADU struct{}

func (tcpADU) WriteRequest(w io.Writer, txID uint16, unit byte, pdu []byte) error {
	header := mbapHeader{
		TransactionID: txID,
		ProtocolID:    0,
		Length:        uint16(len(pdu) + 1),
		UnitID:        unit,
	}
	buf := append(header.marshal(), pdu...)
	_, err := w.Write(buf)
	return err
}

func (tcpADU) ReadResponse(r io.Reader) (txID uint16, unit byte, pdu []byte, err error) {
	header, err := scanMBAPHeader(r)
	if err != nil {
		return 0, 0, nil, err
	}
	pdu = make([]byte, int(header.Length)-1)
	if _, err := io.ReadFull(r, pdu); err != nil {
		return 0, 0, nil, err
	}
	return header.TransactionID, header.UnitID, pdu, nil
}

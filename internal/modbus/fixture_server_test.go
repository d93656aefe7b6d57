package modbus

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
)

// fixtureServer is a minimal Modbus TCP server used only by this package's
// tests, adapted from the teacher's mock TCP server to additionally serve
// function 0x10 (write multiple holding registers) alongside 0x03.
type fixtureServer struct {
	listener  net.Listener
	wg        sync.WaitGroup
	quit      chan struct{}
	closeOnce sync.Once

	mu               sync.RWMutex
	holdingRegisters []uint16
}

var (
	fixtureErrOutOfRange    = errors.New("out of range")
	fixtureErrInvalidQty    = errors.New("invalid quantity")
	fixtureErrInvalidPDULen = errors.New("invalid pdu length")
)

func newFixtureServer() *fixtureServer {
	return &fixtureServer{
		holdingRegisters: make([]uint16, 65536),
		quit:             make(chan struct{}),
	}
}

func (s *fixtureServer) Listen(address string) (string, error) {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return "", err
	}
	s.listener = l
	s.wg.Add(1)
	go s.acceptLoop()
	return l.Addr().String(), nil
}

func (s *fixtureServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				continue
			}
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *fixtureServer) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.quit:
			conn.Close()
		case <-done:
		}
	}()

	header := make([]byte, 7)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		length := binary.BigEndian.Uint16(header[4:6])
		if length < 1 {
			continue
		}
		pdu := make([]byte, int(length)-1)
		if _, err := io.ReadFull(conn, pdu); err != nil {
			return
		}
		unitID := header[6]
		response := s.handlePDU(pdu)
		if len(response) == 0 {
			continue
		}
		binary.BigEndian.PutUint16(header[2:4], 0)
		binary.BigEndian.PutUint16(header[4:6], uint16(len(response)+1))
		header[6] = unitID
		if _, err := conn.Write(header); err != nil {
			return
		}
		if _, err := conn.Write(response); err != nil {
			return
		}
	}
}

func (s *fixtureServer) handlePDU(pdu []byte) []byte {
	if len(pdu) == 0 {
		return fixtureException(0, exceptionBit|FuncReadHoldingRegisters)
	}
	function := pdu[0]
	switch function {
	case FuncReadHoldingRegisters:
		data, err := s.readHolding(pdu)
		if err != nil {
			return fixtureException(function, fixtureErrToCode(err))
		}
		return append([]byte{function, byte(len(data))}, data...)
	case FuncWriteMultipleHolding:
		addr, qty, err := s.writeHolding(pdu)
		if err != nil {
			return fixtureException(function, fixtureErrToCode(err))
		}
		resp := make([]byte, 5)
		resp[0] = function
		binary.BigEndian.PutUint16(resp[1:3], addr)
		binary.BigEndian.PutUint16(resp[3:5], qty)
		return resp
	default:
		return fixtureException(function, 0x01)
	}
}

func (s *fixtureServer) readHolding(pdu []byte) ([]byte, error) {
	if len(pdu) < 5 {
		return nil, fixtureErrInvalidPDULen
	}
	start := binary.BigEndian.Uint16(pdu[1:3])
	quantity := binary.BigEndian.Uint16(pdu[3:5])
	if quantity == 0 || quantity > 125 {
		return nil, fixtureErrInvalidQty
	}
	end := int(start) + int(quantity)
	if end > len(s.holdingRegisters) {
		return nil, fixtureErrOutOfRange
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]byte, quantity*2)
	for i := 0; i < int(quantity); i++ {
		binary.BigEndian.PutUint16(result[i*2:(i+1)*2], s.holdingRegisters[int(start)+i])
	}
	return result, nil
}

func (s *fixtureServer) writeHolding(pdu []byte) (addr, qty uint16, err error) {
	if len(pdu) < 6 {
		return 0, 0, fixtureErrInvalidPDULen
	}
	addr = binary.BigEndian.Uint16(pdu[1:3])
	qty = binary.BigEndian.Uint16(pdu[3:5])
	byteCount := pdu[5]
	if qty == 0 || qty > 123 || int(byteCount) != int(qty)*2 {
		return 0, 0, fixtureErrInvalidQty
	}
	if len(pdu) < 6+int(byteCount) {
		return 0, 0, fixtureErrInvalidPDULen
	}
	end := int(addr) + int(qty)
	if end > len(s.holdingRegisters) {
		return 0, 0, fixtureErrOutOfRange
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	body := pdu[6:]
	for i := 0; i < int(qty); i++ {
		s.holdingRegisters[int(addr)+i] = binary.BigEndian.Uint16(body[i*2 : (i+1)*2])
	}
	return addr, qty, nil
}

func fixtureException(function byte, code byte) []byte {
	if function == 0 {
		return []byte{exceptionBit | FuncReadHoldingRegisters, code}
	}
	return []byte{function | exceptionBit, code}
}

func fixtureErrToCode(err error) byte {
	switch {
	case errors.Is(err, fixtureErrOutOfRange):
		return 0x02
	case errors.Is(err, fixtureErrInvalidQty), errors.Is(err, fixtureErrInvalidPDULen):
		return 0x03
	default:
		return 0x01
	}
}

func (s *fixtureServer) SetHoldingRegister(address, value uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holdingRegisters[address] = value
}

func (s *fixtureServer) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
		if s.listener != nil {
			s.listener.Close()
		}
	})
	s.wg.Wait()
}

package modbus

import (
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goburrow/serial"
)

// frameReply is one decoded response PDU (or the error that stands in for
// one) handed from the receiver loop to whichever call registered for it.
type frameReply struct {
	pdu []byte
	err error
}

// rtuWaiter is the single outstanding RTU call, if any. RTU framing has no
// transaction id to demultiplex on, so at most one call can be registered
// at a time; that matches how the worker already serializes calls onto a
// Connection (§4.C, §4.D).
type rtuWaiter struct {
	payloadLen int
	reply      chan frameReply
}

// Connection owns a single transport handle and the persistent receiver
// goroutine that reads off it for the handle's entire lifetime (§4.C).
// Grounded on lachlan2k's internal/modbus/client.go receiver/waiter-map
// shape: the receiver is the only goroutine that ever reads from the
// socket, so a call that gives up waiting on timeout simply deregisters
// itself instead of a second goroutine racing the receiver for bytes.
type Connection struct {
	destination Destination
	txID        uint32

	connMu sync.Mutex
	conn   io.ReadWriteCloser

	waitersMu sync.Mutex
	waiters   map[uint16]chan frameReply // TCP, keyed by transaction id
	rtu       *rtuWaiter
}

func NewConnection(dest Destination) *Connection {
	return &Connection{
		destination: dest,
		waiters:     make(map[uint16]chan frameReply),
	}
}

// EnsureConnected dials and starts the receiver loop if no live handle is
// held.
func (c *Connection) EnsureConnected() error {
	if c.destination.Slave != nil {
		if err := ValidateSlave(*c.destination.Slave); err != nil {
			return err
		}
	}
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		return nil
	}
	conn, err := dial(c.destination.Transport)
	if err != nil {
		return &ConnectError{Err: err}
	}
	c.conn = conn
	go c.receiveLoop(conn)
	return nil
}

func dial(t Transport) (io.ReadWriteCloser, error) {
	switch t.Kind {
	case TransportTCP:
		addr := fmt.Sprintf("%s:%d", t.Host, t.Port)
		return net.DialTimeout("tcp", addr, 5*time.Second)
	case TransportSerial:
		cfg := &serial.Config{
			Address:  t.SerialPath,
			BaudRate: t.BaudRate,
			DataBits: 8,
			StopBits: 1,
			Parity:   "N",
			Timeout:  5 * time.Second,
		}
		return serial.Open(cfg)
	default:
		return nil, fmt.Errorf("modbus: unknown transport kind %v", t.Kind)
	}
}

// failConnection closes conn, if it is still the handle this Connection
// holds, and fails every waiter still registered. Called from the
// receiver loop on a read error and from call() on a write error — never
// from a timeout, which must leave the receiver as the wire's sole reader.
func (c *Connection) failConnection(conn io.ReadWriteCloser, err error) {
	c.connMu.Lock()
	if c.conn == conn {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()
	c.failAllWaiters(err)
}

// forceDrop unconditionally closes the held connection, used when a
// response fails to parse and the wire can no longer be trusted (§4.C).
// Timeouts must never call this.
func (c *Connection) forceDrop() {
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Connection) unit() byte {
	if c.destination.Slave != nil {
		return *c.destination.Slave
	}
	return 0
}

// receiveLoop owns conn for as long as it stays the live handle: it reads
// one frame at a time and delivers it to whichever call is still waiting,
// dropping frames nobody claimed (because the call already timed out)
// without leaving them on the wire to desync the next frame.
func (c *Connection) receiveLoop(conn io.ReadWriteCloser) {
	for {
		if c.destination.Framing == FramingTCP {
			txID, _, pdu, err := tcpADU{}.ReadResponse(conn)
			if err != nil {
				c.failConnection(conn, err)
				return
			}
			c.deliverTCP(txID, frameReply{pdu: pdu})
			continue
		}

		_, pdu, err := rtuADU{}.ReadResponse(conn, c.currentRTUPayloadLen())
		if err != nil {
			c.failConnection(conn, err)
			return
		}
		c.deliverRTU(frameReply{pdu: pdu})
	}
}

func (c *Connection) currentRTUPayloadLen() int {
	c.waitersMu.Lock()
	defer c.waitersMu.Unlock()
	if c.rtu == nil {
		return 0
	}
	return c.rtu.payloadLen
}

func (c *Connection) registerTCP(txID uint16) chan frameReply {
	reply := make(chan frameReply, 1)
	c.waitersMu.Lock()
	c.waiters[txID] = reply
	c.waitersMu.Unlock()
	return reply
}

func (c *Connection) unregisterTCP(txID uint16) {
	c.waitersMu.Lock()
	delete(c.waiters, txID)
	c.waitersMu.Unlock()
}

func (c *Connection) deliverTCP(txID uint16, r frameReply) {
	c.waitersMu.Lock()
	reply, ok := c.waiters[txID]
	delete(c.waiters, txID)
	c.waitersMu.Unlock()
	if !ok {
		return // the call that sent this request already gave up
	}
	reply <- r
}

func (c *Connection) registerRTU(payloadLen int) chan frameReply {
	reply := make(chan frameReply, 1)
	c.waitersMu.Lock()
	c.rtu = &rtuWaiter{payloadLen: payloadLen, reply: reply}
	c.waitersMu.Unlock()
	return reply
}

func (c *Connection) unregisterRTU() {
	c.waitersMu.Lock()
	c.rtu = nil
	c.waitersMu.Unlock()
}

func (c *Connection) deliverRTU(r frameReply) {
	c.waitersMu.Lock()
	w := c.rtu
	c.rtu = nil
	c.waitersMu.Unlock()
	if w == nil {
		return // the call that sent this request already gave up
	}
	w.reply <- r
}

func (c *Connection) failAllWaiters(err error) {
	c.waitersMu.Lock()
	waiters := c.waiters
	c.waiters = make(map[uint16]chan frameReply)
	rtu := c.rtu
	c.rtu = nil
	c.waitersMu.Unlock()

	for _, reply := range waiters {
		reply <- frameReply{err: err}
	}
	if rtu != nil {
		rtu.reply <- frameReply{err: err}
	}
}

var errCallTimeout = fmt.Errorf("modbus: call timed out")

// call sends pdu and waits for the matching reply or for timeout to
// elapse. On timeout it deregisters itself and returns without touching
// the connection — receiveLoop remains the only goroutine reading the
// wire (§4.C).
func (c *Connection) call(pdu []byte, timeout time.Duration) ([]byte, error) {
	txID := uint16(atomic.AddUint32(&c.txID, 1))

	var reply chan frameReply
	if c.destination.Framing == FramingTCP {
		reply = c.registerTCP(txID)
	} else {
		reply = c.registerRTU(len(pdu))
	}
	unregister := func() {
		if c.destination.Framing == FramingTCP {
			c.unregisterTCP(txID)
		} else {
			c.unregisterRTU()
		}
	}

	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		unregister()
		return nil, fmt.Errorf("modbus: connection closed before send")
	}

	var sendErr error
	if c.destination.Framing == FramingTCP {
		sendErr = tcpADU{}.WriteRequest(conn, txID, c.unit(), pdu)
	} else {
		sendErr = rtuADU{}.WriteRequest(conn, txID, c.unit(), pdu)
	}
	if sendErr != nil {
		unregister()
		c.failConnection(conn, sendErr)
		return nil, sendErr
	}

	select {
	case r := <-reply:
		return r.pdu, r.err
	case <-time.After(timeout):
		unregister()
		return nil, errCallTimeout
	}
}

// Read performs a single read-holding-registers call (§4.C).
func (c *Connection) Read(span Span, timeout time.Duration) ([]uint16, time.Time, error) {
	if err := span.Validate(); err != nil {
		return nil, time.Time{}, &ReadError{Err: err}
	}
	if err := c.EnsureConnected(); err != nil {
		if ce, ok := err.(*ConnectError); ok {
			return nil, time.Time{}, &ReadError{Connection: ce}
		}
		return nil, time.Time{}, &ReadError{Err: err}
	}

	respPDU, err := c.call(buildReadRequest(span), timeout)
	if err == errCallTimeout {
		return nil, time.Time{}, &ReadError{Timeout: true}
	}
	if err != nil {
		return nil, time.Time{}, &ReadError{Err: err}
	}

	completedAt := time.Now()
	words, err := parseReadResponse(respPDU, span.Quantity)
	if err != nil {
		c.forceDrop()
		return nil, time.Time{}, &ReadError{Err: err}
	}
	return words, completedAt, nil
}

// Write performs a single write-multiple-holding-registers call (§4.C).
func (c *Connection) Write(rec Record, timeout time.Duration) error {
	if err := rec.Validate(); err != nil {
		return &WriteError{Err: err}
	}
	if err := c.EnsureConnected(); err != nil {
		if ce, ok := err.(*ConnectError); ok {
			return &WriteError{Connection: ce}
		}
		return &WriteError{Err: err}
	}

	respPDU, err := c.call(buildWriteRequest(rec), timeout)
	if err == errCallTimeout {
		return &WriteError{Timeout: true}
	}
	if err != nil {
		return &WriteError{Err: err}
	}

	if err := parseWriteResponse(respPDU, rec); err != nil {
		c.forceDrop()
		return &WriteError{Err: err}
	}
	return nil
}

// Copyright ©2020 Steve Merrony

// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.

// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package transport owns the ZNP serial port: a single reader Goroutine,
// synchronous SREQ/SRSP pairing, and AREQ indication dispatch.
package transport

import (
	"log"
	"sync"
	"time"

	"github.com/SMerrony/homehub/cerrors"
	"github.com/SMerrony/homehub/zigbee/znp"
	"go.bug.st/serial"
)

// IndicationFunc is invoked for every AREQ frame the reader observes.
type IndicationFunc func(*znp.Frame)

// Transport owns the serial port and a single reader task.
type Transport struct {
	port     string
	baudRate int

	mu        sync.Mutex // guards serialPort, open/closed state
	serialPort serial.Port
	closed    bool
	lastErr   error

	rxMu  sync.Mutex
	rxBuf []byte

	// Synchronous request/response state: only one outstanding request
	// is permitted at a time, enforced by reqMu.
	reqMu         sync.Mutex
	waitMu        sync.Mutex
	waiting       bool
	expectedCmd0  byte
	expectedCmd1  byte
	responseChan  chan *znp.Frame

	indicationMu sync.RWMutex
	indication   IndicationFunc

	stopChans []chan bool
	stopMu    sync.Mutex
}

// New constructs a Transport for the given serial device path. Call Open
// to start the reader task.
func New(port string, baudRate int) *Transport {
	if baudRate == 0 {
		baudRate = 115200
	}
	return &Transport{port: port, baudRate: baudRate}
}

func (t *Transport) addStopChan() int {
	t.stopMu.Lock()
	defer t.stopMu.Unlock()
	t.stopChans = append(t.stopChans, make(chan bool))
	return len(t.stopChans) - 1
}

// Open opens the serial port at the configured baud rate (115200 unless New
// was given another), 8N1, and starts the reader task.
func (t *Transport) Open() error {
	mode := &serial.Mode{
		BaudRate: t.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(t.port, mode)
	if err != nil {
		return cerrors.Wrap(cerrors.KindIoError, "transport.Open", "opening serial port", err)
	}

	t.mu.Lock()
	t.serialPort = port
	t.closed = false
	t.lastErr = nil
	t.mu.Unlock()

	log.Printf("INFO: ZNP transport opened on %s\n", t.port)
	go t.readerTask()
	return nil
}

// Close stops the reader task and closes the serial port.
func (t *Transport) Close() {
	t.stopMu.Lock()
	chans := t.stopChans
	t.stopMu.Unlock()
	for _, ch := range chans {
		select {
		case ch <- true:
		default: // task already gone (e.g. after a read error)
		}
	}
	t.mu.Lock()
	if t.serialPort != nil {
		t.serialPort.Close()
	}
	t.closed = true
	t.mu.Unlock()
	log.Println("DEBUG: ZNP transport closed")
}

// IsOpen reports whether the serial port is open and the transport has not
// entered the broken (TransportClosed) state.
func (t *Transport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.serialPort != nil && !t.closed
}

// SetIndicationCallback registers the function invoked for AREQ frames. A
// later call replaces any previous registration.
func (t *Transport) SetIndicationCallback(fn IndicationFunc) {
	t.indicationMu.Lock()
	defer t.indicationMu.Unlock()
	t.indication = fn
}

// Send transmits frame without waiting for a response.
func (t *Transport) Send(frame *znp.Frame) error {
	wire, err := frame.Serialize()
	if err != nil {
		return err
	}
	t.mu.Lock()
	port := t.serialPort
	closed := t.closed
	t.mu.Unlock()
	if closed || port == nil {
		return cerrors.New(cerrors.KindTransportClosed, "transport.Send", "serial port not open")
	}
	_, err = port.Write(wire)
	if err != nil {
		t.fail(err)
		return cerrors.Wrap(cerrors.KindIoError, "transport.Send", "writing frame", err)
	}
	return nil
}

// Request sends an SREQ frame and blocks until the matching SRSP (same
// cmd0|cmd1) arrives or timeout elapses. Only one request may be
// outstanding at a time; concurrent callers serialize on reqMu.
func (t *Transport) Request(frame *znp.Frame, timeout time.Duration) (*znp.Frame, error) {
	t.reqMu.Lock()
	defer t.reqMu.Unlock()

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return nil, cerrors.New(cerrors.KindTransportClosed, "transport.Request", "transport is closed")
	}

	respChan := make(chan *znp.Frame, 1)
	t.waitMu.Lock()
	t.waiting = true
	t.expectedCmd0 = (frame.Cmd0() &^ byte(znp.SREQ)) | byte(znp.SRSP)
	t.expectedCmd1 = frame.Command
	t.responseChan = respChan
	t.waitMu.Unlock()

	if err := t.Send(frame); err != nil {
		t.waitMu.Lock()
		t.waiting = false
		t.waitMu.Unlock()
		return nil, err
	}

	select {
	case resp := <-respChan:
		return resp, nil
	case <-time.After(timeout):
		t.waitMu.Lock()
		t.waiting = false
		t.waitMu.Unlock()
		return nil, cerrors.New(cerrors.KindTimeout, "transport.Request", "no SRSP within timeout")
	}
}

// ResetCoordinator toggles DTR/RTS per the CC2652P bootloader reset
// convention: RTS low, DTR pulsed, RTS released.
func (t *Transport) ResetCoordinator() error {
	t.mu.Lock()
	port := t.serialPort
	t.mu.Unlock()
	if port == nil {
		return cerrors.New(cerrors.KindTransportClosed, "transport.ResetCoordinator", "serial port not open")
	}
	if err := port.SetRTS(false); err != nil {
		return cerrors.Wrap(cerrors.KindIoError, "transport.ResetCoordinator", "set RTS low", err)
	}
	if err := port.SetDTR(true); err != nil {
		return cerrors.Wrap(cerrors.KindIoError, "transport.ResetCoordinator", "set DTR high", err)
	}
	time.Sleep(250 * time.Millisecond)
	if err := port.SetDTR(false); err != nil {
		return cerrors.Wrap(cerrors.KindIoError, "transport.ResetCoordinator", "set DTR low", err)
	}
	if err := port.SetRTS(true); err != nil {
		return cerrors.Wrap(cerrors.KindIoError, "transport.ResetCoordinator", "release RTS", err)
	}
	return nil
}

// LastError returns the error that most recently broke the transport, if any.
func (t *Transport) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

func (t *Transport) fail(err error) {
	t.mu.Lock()
	t.closed = true
	t.lastErr = err
	t.mu.Unlock()
	log.Printf("ERROR: ZNP transport failed: %v\n", err)
}

// readerTask buffers incoming bytes, repeatedly applies znp.FindFrame, and
// for each complete frame either wakes the synchronous waiter or invokes
// the indication callback.
func (t *Transport) readerTask() {
	sc := t.addStopChan()
	t.stopMu.Lock()
	stopChan := t.stopChans[sc]
	t.stopMu.Unlock()

	t.mu.Lock()
	port := t.serialPort
	t.mu.Unlock()

	readBuf := make([]byte, 256)
	for {
		select {
		case <-stopChan:
			return
		default:
		}

		n, err := port.Read(readBuf)
		if err != nil {
			t.fail(err)
			return
		}
		if n == 0 {
			continue
		}

		t.rxMu.Lock()
		t.rxBuf = append(t.rxBuf, readBuf[:n]...)
		t.processReceived()
		t.rxMu.Unlock()
	}
}

// processReceived must be called with rxMu held.
func (t *Transport) processReceived() {
	for {
		start, length, ok := znp.FindFrame(t.rxBuf)
		if !ok {
			// Either no SOF yet, or a valid SOF with incomplete data:
			// in both cases wait for more bytes. Drop any leading
			// garbage before the first SOF candidate to bound
			// buffer growth.
			if idx := indexOfFirstPossibleSOF(t.rxBuf); idx > 0 {
				t.rxBuf = t.rxBuf[idx:]
			}
			return
		}
		frame, err := znp.Parse(t.rxBuf[start : start+length])
		t.rxBuf = t.rxBuf[start+length:]
		if err != nil {
			log.Printf("WARNING: ZNP transport parse error: %v\n", err)
			continue
		}
		t.dispatch(frame)
	}
}

func indexOfFirstPossibleSOF(buf []byte) int {
	const sofByte = 0xFE
	for i := 0; i < len(buf); i++ {
		if buf[i] == sofByte {
			return i
		}
	}
	return 0
}

func (t *Transport) dispatch(frame *znp.Frame) {
	if frame.IsIndication() {
		t.indicationMu.RLock()
		cb := t.indication
		t.indicationMu.RUnlock()
		if cb != nil {
			cb(frame)
		}
		return
	}

	t.waitMu.Lock()
	waiting := t.waiting
	matches := waiting && frame.Cmd0() == t.expectedCmd0 && frame.Command == t.expectedCmd1
	var ch chan *znp.Frame
	if matches {
		ch = t.responseChan
		t.waiting = false
	}
	t.waitMu.Unlock()

	if matches {
		ch <- frame
		return
	}
	log.Printf("WARNING: ZNP transport: orphaned response %s dropped\n", frame)
}

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

package transport

import (
	"testing"
	"time"

	"github.com/SMerrony/homehub/cerrors"
	"github.com/SMerrony/homehub/zigbee/znp"
)

func TestProcessReceivedDispatchesIndication(t *testing.T) {
	tr := &Transport{}
	var got *znp.Frame
	tr.SetIndicationCallback(func(f *znp.Frame) { got = f })

	f := znp.New(znp.AREQ, znp.ZDO, 0xC1)
	f.AppendByte(0x01)
	wire, _ := f.Serialize()

	tr.rxMu.Lock()
	tr.rxBuf = wire
	tr.processReceived()
	tr.rxMu.Unlock()

	if got == nil {
		t.Fatal("indication callback was not invoked")
	}
	if got.Command != 0xC1 || got.Subsystem != znp.ZDO {
		t.Errorf("dispatched frame mismatch: %+v", got)
	}
	if len(tr.rxBuf) != 0 {
		t.Errorf("rxBuf not drained, left %d bytes", len(tr.rxBuf))
	}
}

func TestProcessReceivedBuffersIncompleteFrame(t *testing.T) {
	tr := &Transport{}
	f := znp.New(znp.SRSP, znp.SYS, 0x02)
	f.AppendBytes([]byte{1, 2, 3, 4, 5})
	wire, _ := f.Serialize()

	tr.rxMu.Lock()
	tr.rxBuf = append([]byte(nil), wire[:len(wire)-2]...)
	tr.processReceived()
	remaining := len(tr.rxBuf)
	tr.rxMu.Unlock()

	if remaining == 0 {
		t.Fatal("incomplete frame bytes were discarded instead of buffered")
	}
}

func TestRequestMatchesExpectedSRSP(t *testing.T) {
	tr := &Transport{}
	tr.waitMu.Lock()
	tr.waiting = true
	tr.expectedCmd0 = byte(znp.SRSP) | byte(znp.SYS)
	tr.expectedCmd1 = 0x02
	respChan := make(chan *znp.Frame, 1)
	tr.responseChan = respChan
	tr.waitMu.Unlock()

	reply := znp.New(znp.SRSP, znp.SYS, 0x02)
	reply.AppendByte(0x00)
	tr.dispatch(reply)

	select {
	case got := <-respChan:
		if got.Command != 0x02 {
			t.Errorf("got command %#x, want 0x02", got.Command)
		}
	case <-time.After(time.Second):
		t.Fatal("dispatch did not deliver matching SRSP to waiter")
	}
}

func TestRequestOnClosedTransportFailsFast(t *testing.T) {
	tr := &Transport{closed: true}
	_, err := tr.Request(znp.New(znp.SREQ, znp.SYS, 0x02), time.Second)
	if !cerrors.Is(err, cerrors.KindTransportClosed) {
		t.Errorf("expected KindTransportClosed, got %v", err)
	}
}

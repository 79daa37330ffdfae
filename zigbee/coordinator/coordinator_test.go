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

package coordinator

import (
	"testing"

	"github.com/SMerrony/homehub/zigbee/znp"
)

func newTestCoordinator() *Coordinator {
	return &Coordinator{
		devices:       make(map[uint64]*DeviceInfo),
		nwkToIEEE:     make(map[uint16]uint64),
		stateChangeCh: make(chan znp.DeviceState, 16),
	}
}

func TestHandleStateChangeUpdatesState(t *testing.T) {
	c := newTestCoordinator()
	f := znp.New(znp.AREQ, znp.ZDO, zdoStateChangeInd)
	f.AppendByte(byte(znp.StateZBCoord))
	c.handleStateChange(f)

	if c.State() != znp.StateZBCoord {
		t.Errorf("State() = %v, want ZB_COORD", c.State())
	}
	select {
	case got := <-c.stateChangeCh:
		if got != znp.StateZBCoord {
			t.Errorf("stateChangeCh delivered %v, want ZB_COORD", got)
		}
	default:
		t.Fatal("state change was not pushed to stateChangeCh")
	}
}

func TestDeviceLeavePurgesBothIndices(t *testing.T) {
	c := newTestCoordinator()
	var leftAddr uint64
	c.SetOnDeviceLeft(func(ieee uint64) { leftAddr = ieee })

	c.devMu.Lock()
	c.devices[0x0011223344556677] = &DeviceInfo{IEEEAddress: 0x0011223344556677, NetworkAddress: 0xBEEF}
	c.nwkToIEEE[0xBEEF] = 0x0011223344556677
	c.devMu.Unlock()

	f := znp.New(znp.AREQ, znp.ZDO, zdoLeaveInd)
	f.AppendQWord(0x0011223344556677)
	c.handleDeviceLeave(f)

	if leftAddr != 0x0011223344556677 {
		t.Errorf("onDeviceLeft fired with %#x, want 0x0011223344556677", leftAddr)
	}
	if _, ok := c.GetDevice(0x0011223344556677); ok {
		t.Error("device record was not purged")
	}
	c.devMu.RLock()
	_, stillIndexed := c.nwkToIEEE[0xBEEF]
	c.devMu.RUnlock()
	if stillIndexed {
		t.Error("nwk->ieee secondary index was not purged")
	}
}

func TestHandleAttributeReportOnOff(t *testing.T) {
	c := newTestCoordinator()
	var got AttributeValue
	var nwk uint16
	c.SetOnAttributeReport(func(nwkAddr uint16, attr AttributeValue) {
		nwk = nwkAddr
		got = attr
	})

	// attrId=0x0000 dataType=0x10 (BOOLEAN) value=0x01
	payload := []byte{0x00, 0x00, 0x10, 0x01}
	c.handleAttributeReport(0x1234, 1, 0x0006, payload, false)

	if nwk != 0x1234 {
		t.Errorf("nwkAddr = %#x, want 0x1234", nwk)
	}
	if got.ClusterID != 0x0006 || got.AttributeID != 0 || !got.AsBool() {
		t.Errorf("attribute mismatch: %+v", got)
	}
}

func TestHandleAttributeReportMultiRecord(t *testing.T) {
	c := newTestCoordinator()
	var reports []AttributeValue
	c.SetOnAttributeReport(func(_ uint16, attr AttributeValue) {
		reports = append(reports, attr)
	})

	// Two UINT8 records back to back.
	payload := []byte{0x00, 0x00, 0x20, 0x05, 0x01, 0x00, 0x20, 0x07}
	c.handleAttributeReport(0x1234, 1, 0x0402, payload, false)

	if len(reports) != 2 {
		t.Fatalf("got %d reports, want 2", len(reports))
	}
	if reports[0].AsUint8() != 5 || reports[1].AsUint8() != 7 {
		t.Errorf("record values = %d, %d, want 5, 7", reports[0].AsUint8(), reports[1].AsUint8())
	}
}

func TestHandleReadAttributesRspSkipsFailedRecords(t *testing.T) {
	c := newTestCoordinator()
	var reports []AttributeValue
	c.SetOnAttributeReport(func(_ uint16, attr AttributeValue) {
		reports = append(reports, attr)
	})

	// First record: attr 0x0000, status UNSUPPORTED_ATTRIBUTE (no data).
	// Second record: attr 0x0001, status SUCCESS, UINT8 value 9.
	payload := []byte{0x00, 0x00, 0x86, 0x01, 0x00, 0x00, 0x20, 0x09}
	c.handleAttributeReport(0x1234, 1, 0x0006, payload, true)

	if len(reports) != 1 {
		t.Fatalf("got %d reports, want 1 (failed record must be skipped)", len(reports))
	}
	if reports[0].AttributeID != 1 || reports[0].AsUint8() != 9 {
		t.Errorf("surviving record = %+v, want attr 1 value 9", reports[0])
	}
}

func TestNextTransactionSeqWrapsModulo256(t *testing.T) {
	c := newTestCoordinator()
	c.seq = 254
	if got := c.nextTransactionSeq(); got != 255 {
		t.Errorf("first call = %d, want 255", got)
	}
	if got := c.nextTransactionSeq(); got != 0 {
		t.Errorf("second call = %d, want 0 (wrap)", got)
	}
}

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

package device

import (
	"log"
	"net"
)

// discoveryPort is the UDP port Tuya devices broadcast unencrypted (pre-3.2)
// and encrypted (3.3+) "I'm here" announcements on.
const discoveryPort = 6666

// DiscoveryListener listens for Tuya's broadcast discovery announcements.
// The announcement payload is encrypted with a fixed vendor key; this
// listener does not attempt to decrypt it and limits itself to logging
// the announcing source address.
type DiscoveryListener struct {
	conn *net.UDPConn
	done chan struct{}
}

// ListenDiscovery opens the UDP broadcast listener and starts a background
// task that logs each sender it hears from. Call Close to stop it.
func ListenDiscovery() (*DiscoveryListener, error) {
	addr := &net.UDPAddr{Port: discoveryPort}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	dl := &DiscoveryListener{conn: conn, done: make(chan struct{})}
	go dl.loop()
	return dl, nil
}

func (dl *DiscoveryListener) loop() {
	buf := make([]byte, 2048)
	for {
		n, src, err := dl.conn.ReadFromUDP(buf)
		select {
		case <-dl.done:
			return
		default:
		}
		if err != nil {
			return
		}
		log.Printf("DEBUG: tuya udp discovery: %d bytes from %s\n", n, src.IP)
	}
}

// Close stops the listener and releases the socket.
func (dl *DiscoveryListener) Close() error {
	close(dl.done)
	return dl.conn.Close()
}

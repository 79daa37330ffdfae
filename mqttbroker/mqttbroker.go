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

// Package mqttbroker wraps the Paho MQTT client the hub uses to reach its
// broker: connect, publish, and per-topic subscription with automatic
// re-subscription on reconnect. It is not itself a protocol.Handler; the
// MQTT Discovery manager and the WiFi composite handler sit on top of it.
package mqttbroker

import (
	"fmt"
	"log"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MessageFunc handles one inbound message on a subscribed topic.
type MessageFunc func(topic string, payload []byte)

// Broker owns one Paho client and remembers its subscriptions so it can
// restore them after a reconnect.
type Broker struct {
	client mqtt.Client

	mu   sync.RWMutex
	subs map[string]MessageFunc
}

// New constructs a Broker and connects to tcp://host:port with the given
// client id. The returned Broker re-subscribes every registered topic
// whenever the underlying connection is re-established.
func New(host string, port int, clientID string) (*Broker, error) {
	b := &Broker{subs: make(map[string]MessageFunc)}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", host, port))
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.OnConnect = func(mqtt.Client) {
		log.Println("DEBUG: mqttbroker: connected, resubscribing")
		b.resubscribeAll()
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Printf("WARNING: mqttbroker: connection lost: %v\n", err)
	}

	b.client = mqtt.NewClient(opts)
	if token := b.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return b, nil
}

// Publish sends payload to topic at the given QoS.
func (b *Broker) Publish(topic string, qos byte, retained bool, payload interface{}) error {
	token := b.client.Publish(topic, qos, retained, payload)
	token.Wait()
	return token.Error()
}

// Subscribe registers fn for topic at the given QoS. Re-subscribing the
// same topic replaces the previous handler.
func (b *Broker) Subscribe(topic string, qos byte, fn MessageFunc) error {
	b.mu.Lock()
	b.subs[topic] = fn
	b.mu.Unlock()
	return b.doSubscribe(topic, qos, fn)
}

func (b *Broker) doSubscribe(topic string, qos byte, fn MessageFunc) error {
	token := b.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		fn(msg.Topic(), msg.Payload())
	})
	token.Wait()
	return token.Error()
}

func (b *Broker) resubscribeAll() {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for topic, fn := range b.subs {
		if err := b.doSubscribe(topic, 0, fn); err != nil {
			log.Printf("WARNING: mqttbroker: resubscribe to %s failed: %v\n", topic, err)
		}
	}
}

// Disconnect closes the connection, waiting up to quiesceMs for in-flight
// work to finish.
func (b *Broker) Disconnect(quiesceMs uint) {
	b.client.Disconnect(quiesceMs)
}

// IsConnected reports whether the underlying client currently has a live
// connection to the broker.
func (b *Broker) IsConnected() bool {
	return b.client.IsConnected()
}

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

// Package influx records device state changes from the event bus into an
// InfluxDB bucket. It is an optional observer wired in by hubd when an
// influx.toml is present; the core never depends on it.
package influx

import (
	"log"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxAPI "github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/SMerrony/homehub/devicemanager"
	"github.com/SMerrony/homehub/events"
)

const defaultMeasurement = "device_state"

// Recorder subscribes to DeviceStateEvent traffic and writes one point per
// observed property change.
type Recorder struct {
	Bucket, Org, Token, URL string
	Measurement             string

	client   influxdb2.Client
	writeAPI influxAPI.WriteAPI
	subID    int
}

// LoadConfig reads a Recorder's connection details from the given TOML file.
func LoadConfig(path string) (*Recorder, error) {
	confBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Recorder
	if err := toml.Unmarshal(confBytes, &r); err != nil {
		log.Println("ERROR: Could not parse Influx configuration ", err.Error())
		return nil, err
	}
	if r.Measurement == "" {
		r.Measurement = defaultMeasurement
	}
	return &r, nil
}

// Start connects the Influx client and subscribes to state events on bus.
func (r *Recorder) Start(bus *events.Bus) {
	r.client = influxdb2.NewClient(r.URL, r.Token)
	r.writeAPI = r.client.WriteAPI(r.Org, r.Bucket)
	r.subID = bus.Subscribe(devicemanager.EventDeviceState, r.record)
	log.Printf("INFO: Influx recorder writing to bucket %s at %s\n", r.Bucket, r.URL)
}

// Stop unsubscribes from bus, flushes pending writes and closes the client.
func (r *Recorder) Stop(bus *events.Bus) {
	bus.Unsubscribe(r.subID)
	if r.writeAPI != nil {
		r.writeAPI.Flush()
	}
	if r.client != nil {
		r.client.Close()
	}
}

func (r *Recorder) record(ev events.Event) {
	payload, ok := ev.Payload.(devicemanager.DeviceStatePayload)
	if !ok {
		return
	}
	field, ok := fieldValue(payload.Value)
	if !ok {
		log.Printf("DEBUG: Influx recorder skipping non-scalar value for %s/%s\n", payload.DeviceID, payload.Property)
		return
	}
	point := influxdb2.NewPoint(r.Measurement,
		map[string]string{"device": payload.DeviceID, "property": payload.Property},
		map[string]interface{}{"value": field},
		time.Now())
	r.writeAPI.WritePoint(point)
}

// fieldValue keeps only scalar shapes Influx fields accept; booleans map to
// 0/1 so a single field type serves every property.
func fieldValue(v interface{}) (interface{}, bool) {
	switch n := v.(type) {
	case bool:
		if n {
			return 1.0, true
		}
		return 0.0, true
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		return n, true
	default:
		return nil, false
	}
}

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

// Package devicemodel holds the protocol-agnostic device types shared by every
// Integration: identity, capability sets, a JSON-shaped property store, and
// availability tracking.
package devicemodel

// Type is the closed set of device classes the hub understands.
type Type int

const (
	Unknown Type = iota
	Light
	Switch
	Outlet
	Dimmer
	ColorLight
	Sensor
	TemperatureSensor
	MotionSensor
	MultiSensor
	Thermostat
	Lock
)

func (t Type) String() string {
	switch t {
	case Light:
		return "Light"
	case Switch:
		return "Switch"
	case Outlet:
		return "Outlet"
	case Dimmer:
		return "Dimmer"
	case ColorLight:
		return "ColorLight"
	case Sensor:
		return "Sensor"
	case TemperatureSensor:
		return "TemperatureSensor"
	case MotionSensor:
		return "MotionSensor"
	case MultiSensor:
		return "MultiSensor"
	case Thermostat:
		return "Thermostat"
	case Lock:
		return "Lock"
	default:
		return "Unknown"
	}
}

// Capability names a feature a Device's property store may carry.
type Capability int

const (
	OnOff Capability = iota
	Brightness
	ColorTemperature
	ColorRGB
	ColorHSV
	Temperature
	Humidity
	Motion
	Occupancy
	Illuminance
	Battery
)

func (c Capability) String() string {
	switch c {
	case OnOff:
		return "OnOff"
	case Brightness:
		return "Brightness"
	case ColorTemperature:
		return "ColorTemperature"
	case ColorRGB:
		return "ColorRGB"
	case ColorHSV:
		return "ColorHSV"
	case Temperature:
		return "Temperature"
	case Humidity:
		return "Humidity"
	case Motion:
		return "Motion"
	case Occupancy:
		return "Occupancy"
	case Illuminance:
		return "Illuminance"
	case Battery:
		return "Battery"
	default:
		return "Unknown"
	}
}

// Availability is the observable online/offline status of a Device.
type Availability int

const (
	AvailabilityUnknown Availability = iota
	Online
	Offline
)

func (a Availability) String() string {
	switch a {
	case Online:
		return "Online"
	case Offline:
		return "Offline"
	default:
		return "Unknown"
	}
}

// defaultCapabilities returns the capability set a freshly constructed
// Device of the given Type carries. Sub-types may be supersets of this,
// never subsets.
func defaultCapabilities(t Type) []Capability {
	switch t {
	case Light, Switch, Outlet:
		return []Capability{OnOff}
	case Dimmer:
		return []Capability{OnOff, Brightness}
	case ColorLight:
		return []Capability{OnOff, Brightness, ColorTemperature, ColorRGB, ColorHSV}
	case TemperatureSensor:
		return []Capability{Temperature, Battery}
	case MotionSensor:
		return []Capability{Motion, Occupancy, Battery}
	case MultiSensor:
		return []Capability{Temperature, Humidity, Motion, Occupancy, Illuminance, Battery}
	case Thermostat:
		return []Capability{Temperature}
	case Lock:
		return []Capability{OnOff}
	default:
		return nil
	}
}

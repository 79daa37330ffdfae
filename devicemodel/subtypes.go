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

package devicemodel

// The constructors below are design-level specializations: they initialize
// a specific capability set and expose typed convenience accessors, but do
// not otherwise extend the Device contract.

// SwitchDevice constructs a Device of Type Switch.
func SwitchDevice(id, name, protocol, address string) *Device {
	return New(id, name, Switch, protocol, address)
}

// DimmerDevice constructs a Device of Type Dimmer.
func DimmerDevice(id, name, protocol, address string) *Device {
	return New(id, name, Dimmer, protocol, address)
}

// ColorLightDevice constructs a Device of Type ColorLight.
func ColorLightDevice(id, name, protocol, address string) *Device {
	return New(id, name, ColorLight, protocol, address)
}

// NewTemperatureSensor constructs a Device of Type TemperatureSensor.
func NewTemperatureSensor(id, name, protocol, address string) *Device {
	return New(id, name, TemperatureSensor, protocol, address)
}

// NewMotionSensor constructs a Device of Type MotionSensor.
func NewMotionSensor(id, name, protocol, address string) *Device {
	return New(id, name, MotionSensor, protocol, address)
}

// On reports the device's "on" property as a bool (false if absent or of
// the wrong type). Valid for any device with the OnOff capability.
func (d *Device) On() bool {
	v, ok := d.GetProperty("on")
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// SetOn is shorthand for SetState("on", on).
func (d *Device) SetOn(on bool) { d.SetState("on", on) }

// BrightnessPct reports the device's "brightness" property (0-100).
func (d *Device) BrightnessPct() int {
	v, ok := d.GetProperty("brightness")
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

// SetBrightnessPct is shorthand for SetState("brightness", pct).
func (d *Device) SetBrightnessPct(pct int) { d.SetState("brightness", pct) }

// Temperature reports the device's "temperature" property in degrees
// Celsius, or 0 if absent.
func (d *Device) Temperature() float64 {
	v, ok := d.GetProperty("temperature")
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}

// MotionDetected reports the device's "motion" property.
func (d *Device) MotionDetected() bool {
	v, ok := d.GetProperty("motion")
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

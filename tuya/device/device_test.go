// Copyright ©2020 Steve Merrony

package device

import "testing"

func TestPropertyForDPMappings(t *testing.T) {
	cases := []struct {
		name     string
		dp       DataPoint
		property string
		value    interface{}
	}{
		{"on true", DataPoint{ID: 1, Value: true}, "on", true},
		{"on false", DataPoint{ID: 1, Value: false}, "on", false},
		{"brightness midpoint", DataPoint{ID: 2, Value: 500.0}, "brightness", 50},
		{"color temp passthrough", DataPoint{ID: 3, Value: 370.0}, "color_temp", 370.0},
		{"unmapped id", DataPoint{ID: 9, Value: "raw"}, "dp9", "raw"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			property, value := propertyForDP(tc.dp)
			if property != tc.property || value != tc.value {
				t.Fatalf("propertyForDP(%+v) = (%q, %v), want (%q, %v)", tc.dp, property, value, tc.property, tc.value)
			}
		})
	}
}

func TestDpForPropertyRoundTrip(t *testing.T) {
	id, value, err := dpForProperty("brightness", 50.0)
	if err != nil {
		t.Fatalf("dpForProperty: %v", err)
	}
	if id != 2 || value != 500 {
		t.Fatalf("dpForProperty(brightness, 50) = (%d, %v), want (2, 500)", id, value)
	}

	property, recovered := propertyForDP(DataPoint{ID: id, Value: float64(value.(int))})
	if property != "brightness" || recovered != 50 {
		t.Fatalf("round trip via propertyForDP = (%q, %v), want (\"brightness\", 50)", property, recovered)
	}
}

func TestDpForPropertyUnknown(t *testing.T) {
	if _, _, err := dpForProperty("frobnicate", 1); err == nil {
		t.Fatalf("dpForProperty should reject an unknown property")
	}
}

func TestDpForPropertyWrongType(t *testing.T) {
	if _, _, err := dpForProperty("on", "not-a-bool"); err == nil {
		t.Fatalf("dpForProperty(\"on\", ...) should require a bool value")
	}
}

func TestHandleStatusPayloadFiresCallback(t *testing.T) {
	dev := &Device{cfg: Config{DeviceID: "test"}, dps: make(map[uint8]DataPoint)}

	var gotProperty string
	var gotValue interface{}
	dev.SetStateCallback(func(property string, value interface{}) {
		gotProperty = property
		gotValue = value
	})

	dev.handleStatusPayload([]byte(`{"dps":{"1":true}}`))

	if gotProperty != "on" || gotValue != true {
		t.Fatalf("state callback got (%q, %v), want (\"on\", true)", gotProperty, gotValue)
	}
	if dp, ok := dev.DataPoints()[1]; !ok || dp.Value != true {
		t.Fatalf("DataPoints()[1] = %+v, ok=%v, want {Value: true}", dp, ok)
	}
}

func TestHandleStatusPayloadIgnoresEmpty(t *testing.T) {
	dev := &Device{cfg: Config{DeviceID: "test"}, dps: make(map[uint8]DataPoint)}
	called := false
	dev.SetStateCallback(func(string, interface{}) { called = true })
	dev.handleStatusPayload(nil)
	if called {
		t.Fatalf("handleStatusPayload should not fire the callback for an empty payload")
	}
}

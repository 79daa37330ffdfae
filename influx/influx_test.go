// Copyright ©2020 Steve Merrony

package influx

import "testing"

func TestFieldValueScalars(t *testing.T) {
	cases := []struct {
		name string
		in   interface{}
		want interface{}
		ok   bool
	}{
		{"bool true", true, 1.0, true},
		{"bool false", false, 0.0, true},
		{"float", 21.5, 21.5, true},
		{"int", 42, 42.0, true},
		{"string", "ON", "ON", true},
		{"map rejected", map[string]interface{}{"x": 1}, nil, false},
		{"nil rejected", nil, nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := fieldValue(tc.in)
			if ok != tc.ok {
				t.Fatalf("fieldValue(%v) ok = %v, want %v", tc.in, ok, tc.ok)
			}
			if ok && got != tc.want {
				t.Fatalf("fieldValue(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/influx.toml"); err == nil {
		t.Fatal("LoadConfig should fail for a missing file")
	}
}

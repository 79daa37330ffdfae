// Copyright ©2020 Steve Merrony

package shelly

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewWithClient(srv.Client()), srv
}

func hostOf(srv *httptest.Server) string {
	return srv.Listener.Addr().String()
}

func TestProbeGen1Fallback(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rpc":
			http.Error(w, "not found", http.StatusNotFound)
		case "/status":
			w.Write([]byte(`{"relays":[{}],"lights":[],"mac":"AABBCCDDEEFF","type":"SHSW-1"}`))
		default:
			http.NotFound(w, r)
		}
	})

	info, err := c.Probe(hostOf(srv))
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if info.Generation != Gen1 || info.ID != "AABBCCDDEEFF" || info.NumOutputs != 1 {
		t.Fatalf("Probe = %+v, want Gen1 AABBCCDDEEFF with 1 output", info)
	}
}

func TestProbeGen2(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rpc" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"result":{"id":"shellyplus1-AABBCC","model":"SNSW-001X16EU"}}`))
	})

	info, err := c.Probe(hostOf(srv))
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if info.Generation != Gen2 || info.ID != "shellyplus1-AABBCC" {
		t.Fatalf("Probe = %+v, want Gen2 shellyplus1-AABBCC", info)
	}
}

func TestPollGen1PowerConversion(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"relays":[{"ison":true}],"meters":[{"power":12.5,"total":6000}]}`))
	})

	states, err := c.pollGen1(Info{IPAddress: hostOf(srv), Generation: Gen1})
	if err != nil {
		t.Fatalf("pollGen1: %v", err)
	}
	if len(states) != 1 {
		t.Fatalf("pollGen1 returned %d states, want 1", len(states))
	}
	s := states[0]
	if !s.On || s.PowerW != 12.5 {
		t.Fatalf("state = %+v, want On=true PowerW=12.5", s)
	}
	if s.EnergyKWh != 0.1 {
		t.Fatalf("EnergyKWh = %v, want 0.1 (6000 Wmin -> kWh)", s.EnergyKWh)
	}
}

func TestPollGen2EnergyConversion(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"switch:0":{"output":true,"apower":30.2,"aenergy":{"total":2500}}}}`))
	})

	states, err := c.pollGen2(Info{IPAddress: hostOf(srv), Generation: Gen2, NumOutputs: 1})
	if err != nil {
		t.Fatalf("pollGen2: %v", err)
	}
	if len(states) != 1 {
		t.Fatalf("pollGen2 returned %d states, want 1", len(states))
	}
	s := states[0]
	if !s.On || s.PowerW != 30.2 {
		t.Fatalf("state = %+v, want On=true PowerW=30.2", s)
	}
	if s.EnergyKWh != 2.5 {
		t.Fatalf("EnergyKWh = %v, want 2.5 (2500 Wh -> kWh)", s.EnergyKWh)
	}
}

func TestSetRelayGen1UsesQueryTurn(t *testing.T) {
	var gotPath string
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
	})
	if err := c.SetRelay(Info{IPAddress: hostOf(srv), Generation: Gen1}, 0, true); err != nil {
		t.Fatalf("SetRelay: %v", err)
	}
	if gotPath != "/relay/0?turn=on" {
		t.Fatalf("SetRelay hit %q, want /relay/0?turn=on", gotPath)
	}
}

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

// Package shelly talks to Shelly Gen1 (REST) and Gen2 (JSON-RPC) devices:
// discovery probing, status polling, and relay/light control.
package shelly

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/SMerrony/homehub/cerrors"
)

// PollInterval is the cadence the WiFi handler drives Shelly polling at.
const PollInterval = 30 * time.Second

const requestTimeout = 5 * time.Second

// Generation distinguishes the Gen1 REST API from the Gen2 JSON-RPC one.
type Generation int

const (
	Gen1 Generation = 1
	Gen2 Generation = 2
)

// Info describes a discovered Shelly device.
type Info struct {
	ID         string
	Type       string
	IPAddress  string
	Generation Generation
	NumOutputs int
}

// OutputState is one relay/light channel's last-polled status.
type OutputState struct {
	Channel    int
	On         bool
	Brightness int     // 0-100, -1 if not applicable
	PowerW     float64 // instantaneous power, watts
	EnergyKWh  float64 // cumulative energy, kWh
}

// Client is a thin HTTP client wrapper; callers may substitute their own
// *http.Client (e.g. with a custom transport) via NewWithClient.
type Client struct {
	http *http.Client
}

// New constructs a Client with a requestTimeout deadline per call.
func New() *Client { return &Client{http: &http.Client{Timeout: requestTimeout}} }

// NewWithClient builds a Client around an existing *http.Client.
func NewWithClient(hc *http.Client) *Client { return &Client{http: hc} }

// Probe attempts the Gen2 RPC first, then falls back to the Gen1 REST API.
func (c *Client) Probe(ip string) (Info, error) {
	if info, err := c.probeGen2(ip); err == nil {
		return info, nil
	}
	return c.probeGen1(ip)
}

func (c *Client) probeGen2(ip string) (Info, error) {
	result, err := c.rpcCall(ip, "Shelly.GetDeviceInfo", nil)
	if err != nil {
		return Info{}, err
	}
	id, _ := result["id"].(string)
	typ, _ := result["model"].(string)
	return Info{ID: id, Type: typ, IPAddress: ip, Generation: Gen2, NumOutputs: 1}, nil
}

func (c *Client) probeGen1(ip string) (Info, error) {
	var status struct {
		Relays []struct{} `json:"relays"`
		Lights []struct{} `json:"lights"`
		MAC    string     `json:"mac"`
		Type   string     `json:"type"`
	}
	if err := c.getJSON(fmt.Sprintf("http://%s/status", ip), &status); err != nil {
		return Info{}, err
	}
	outputs := len(status.Relays)
	if len(status.Lights) > outputs {
		outputs = len(status.Lights)
	}
	return Info{ID: status.MAC, Type: status.Type, IPAddress: ip, Generation: Gen1, NumOutputs: outputs}, nil
}

func (c *Client) getJSON(url string, out interface{}) error {
	resp, err := c.http.Get(url)
	if err != nil {
		return cerrors.Wrap(cerrors.KindIoError, "shelly.getJSON", "GET "+url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return cerrors.Wrap(cerrors.KindIoError, "shelly.getJSON", "reading response body", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return cerrors.Wrap(cerrors.KindParseError, "shelly.getJSON", "decoding JSON", err)
	}
	return nil
}

func (c *Client) rpcCall(ip, method string, params map[string]interface{}) (map[string]interface{}, error) {
	req := map[string]interface{}{"id": 1, "method": method}
	if params != nil {
		req["params"] = params
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindInternal, "shelly.rpcCall", "marshalling request", err)
	}
	resp, err := c.http.Post(fmt.Sprintf("http://%s/rpc", ip), "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindIoError, "shelly.rpcCall", "POST /rpc", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindIoError, "shelly.rpcCall", "reading response body", err)
	}
	var envelope struct {
		Result map[string]interface{} `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, cerrors.Wrap(cerrors.KindParseError, "shelly.rpcCall", "decoding RPC envelope", err)
	}
	if envelope.Error != nil {
		return nil, cerrors.New(cerrors.KindProtocolError, "shelly.rpcCall", envelope.Error.Message)
	}
	return envelope.Result, nil
}

// PollStatus fetches the device's current output states.
func (c *Client) PollStatus(info Info) ([]OutputState, error) {
	if info.Generation == Gen2 {
		return c.pollGen2(info)
	}
	return c.pollGen1(info)
}

func (c *Client) pollGen1(info Info) ([]OutputState, error) {
	var status struct {
		Relays []struct {
			Ison bool `json:"ison"`
		} `json:"relays"`
		Lights []struct {
			Ison       bool `json:"ison"`
			Brightness int  `json:"brightness"`
		} `json:"lights"`
		Meters []struct {
			Power float64 `json:"power"`
			Total float64 `json:"total"` // watt-minutes
		} `json:"meters"`
	}
	if err := c.getJSON(fmt.Sprintf("http://%s/status", info.IPAddress), &status); err != nil {
		return nil, err
	}

	out := make([]OutputState, 0, len(status.Relays)+len(status.Lights))
	for i, r := range status.Relays {
		s := OutputState{Channel: i, On: r.Ison, Brightness: -1}
		if i < len(status.Meters) {
			s.PowerW = status.Meters[i].Power
			s.EnergyKWh = status.Meters[i].Total / 60000.0 // Wmin -> kWh
		}
		out = append(out, s)
	}
	for i, l := range status.Lights {
		out = append(out, OutputState{Channel: i, On: l.Ison, Brightness: l.Brightness})
	}
	return out, nil
}

func (c *Client) pollGen2(info Info) ([]OutputState, error) {
	result, err := c.rpcCall(info.IPAddress, "Shelly.GetStatus", nil)
	if err != nil {
		return nil, err
	}
	var out []OutputState
	for i := 0; i < info.NumOutputs || i == 0; i++ {
		if sw, ok := result[fmt.Sprintf("switch:%d", i)].(map[string]interface{}); ok {
			s := OutputState{Channel: i, Brightness: -1}
			s.On, _ = sw["output"].(bool)
			s.PowerW, _ = sw["apower"].(float64)
			if aenergy, ok := sw["aenergy"].(map[string]interface{}); ok {
				if total, ok := aenergy["total"].(float64); ok {
					s.EnergyKWh = total / 1000.0 // Wh -> kWh
				}
			}
			out = append(out, s)
			continue
		}
		if lt, ok := result[fmt.Sprintf("light:%d", i)].(map[string]interface{}); ok {
			s := OutputState{Channel: i}
			s.On, _ = lt["output"].(bool)
			if b, ok := lt["brightness"].(float64); ok {
				s.Brightness = int(b)
			}
			out = append(out, s)
			continue
		}
		break
	}
	return out, nil
}

// SetRelay turns a relay channel on or off (Gen1 REST or Gen2 Switch.Set).
func (c *Client) SetRelay(info Info, channel int, on bool) error {
	if info.Generation == Gen2 {
		_, err := c.rpcCall(info.IPAddress, "Switch.Set", map[string]interface{}{"id": channel, "on": on})
		return err
	}
	state := "off"
	if on {
		state = "on"
	}
	resp, err := c.http.Get(fmt.Sprintf("http://%s/relay/%d?turn=%s", info.IPAddress, channel, state))
	if err != nil {
		return cerrors.Wrap(cerrors.KindIoError, "shelly.SetRelay", "GET /relay", err)
	}
	resp.Body.Close()
	return nil
}

// ToggleRelay flips a relay channel's state.
func (c *Client) ToggleRelay(info Info, channel int) error {
	if info.Generation == Gen2 {
		_, err := c.rpcCall(info.IPAddress, "Switch.Toggle", map[string]interface{}{"id": channel})
		return err
	}
	resp, err := c.http.Get(fmt.Sprintf("http://%s/relay/%d?turn=toggle", info.IPAddress, channel))
	if err != nil {
		return cerrors.Wrap(cerrors.KindIoError, "shelly.ToggleRelay", "GET /relay", err)
	}
	resp.Body.Close()
	return nil
}

// SetBrightness sets a dimmer/light channel's brightness, 0-100.
func (c *Client) SetBrightness(info Info, channel, pct int) error {
	if info.Generation == Gen2 {
		_, err := c.rpcCall(info.IPAddress, "Light.Set", map[string]interface{}{"id": channel, "brightness": pct, "on": pct > 0})
		return err
	}
	resp, err := c.http.Get(fmt.Sprintf("http://%s/light/%d?brightness=%d", info.IPAddress, channel, pct))
	if err != nil {
		return cerrors.Wrap(cerrors.KindIoError, "shelly.SetBrightness", "GET /light", err)
	}
	resp.Body.Close()
	return nil
}

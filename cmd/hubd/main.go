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

// Command hubd is the composition root: it loads the main and per-protocol
// TOML configuration, builds the Zigbee and WiFi (MQTT/Shelly/Tuya)
// protocol.Handlers, wires them into a Device Manager, and runs the poll
// loop until interrupted. It exposes no HTTP or WebSocket API; that surface
// is explicitly out of scope.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/SMerrony/homehub/config"
	"github.com/SMerrony/homehub/devicemanager"
	"github.com/SMerrony/homehub/events"
	"github.com/SMerrony/homehub/influx"
	"github.com/SMerrony/homehub/postgres"
	"github.com/SMerrony/homehub/protocol"
	tuyacloud "github.com/SMerrony/homehub/tuya/cloud"
	tuyadevice "github.com/SMerrony/homehub/tuya/device"
	"github.com/SMerrony/homehub/wifi"
	zigbeehandler "github.com/SMerrony/homehub/zigbee/handler"
)

var configFlag = flag.String("configdir", "", "directory containing configuration files")

// pollPeriod is the cadence hubd drives Manager.Poll at; individual
// handlers (e.g. wifi) further gate their own polling on a longer interval.
const pollPeriod = 5 * time.Second

func main() {
	flag.Parse()
	if *configFlag == "" {
		log.Fatalln("ERROR: You must supply a -configdir")
	}

	if err := config.CheckMainConfig(*configFlag); err != nil {
		log.Fatalln("ERROR: main configuration check failed: " + err.Error())
	}

	conf, err := config.LoadMainConfig(*configFlag)
	if err != nil {
		log.Fatalf("ERROR: failed to load main config file: %s\n", err.Error())
	}

	bus := events.New(conf.LogEvents)
	registry := protocol.NewRegistry()
	registerFactories(registry)

	var sink devicemanager.PersistenceSink
	if pg, err := postgres.LoadConfig(*configFlag + "/postgres.toml"); err == nil {
		if err := pg.Connect(); err != nil {
			log.Printf("WARNING: Postgres persistence disabled: %s\n", err.Error())
		} else {
			defer pg.Close()
			sink = pg
		}
	}

	dm := devicemanager.New(bus, registry, sink, stdLog{})
	if sink != nil {
		if err := dm.LoadPersistedDevices(); err != nil {
			log.Printf("WARNING: could not restore persisted devices: %s\n", err.Error())
		}
	}

	if rec, err := influx.LoadConfig(*configFlag + "/influx.toml"); err == nil {
		rec.Start(bus)
		defer rec.Stop(bus)
	}

	for _, name := range conf.Protocols {
		protoConfig, err := config.LoadProtocolConfig(conf.ConfigDir, name)
		if err != nil {
			log.Fatalf("ERROR: loading config for protocol %q: %s\n", name, err.Error())
		}
		if err := dm.LoadProtocol(name, protoConfig); err != nil {
			log.Fatalf("ERROR: loading protocol %q: %s\n", name, err.Error())
		}
	}

	log.Printf("INFO: %s started, %d protocol(s) loaded\n", conf.SystemName, len(conf.Protocols))

	ticker := time.NewTicker(pollPeriod)
	defer ticker.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)

	for {
		select {
		case <-ticker.C:
			dm.Poll()
			bus.Drain()
		case <-sigChan:
			log.Println("INFO: shutting down")
			dm.Shutdown()
			return
		}
	}
}

// registerFactories wires every protocol.Handler this build knows how to
// construct into the registry, translating the generic TOML-derived
// config map into each handler's own Config shape.
func registerFactories(registry *protocol.Registry) {
	must(registry.Register(protocol.Registration{
		Name:        "zigbee",
		Version:     "1.0.0",
		Description: "Zigbee protocol handler via CC2652P coordinator",
		Factory: func(bus *events.Bus, cfg map[string]interface{}) (protocol.Handler, error) {
			port, _ := cfg["port"].(string)
			baud := 115200
			if b, ok := cfg["baudRate"]; ok {
				baud = toInt(b)
			}
			h := zigbeehandler.New(port, baud)
			if f, ok := cfg["deviceClassFile"].(string); ok && f != "" {
				if err := h.LoadDeviceClasses(f); err != nil {
					return nil, err
				}
			}
			return h, nil
		},
	}))

	must(registry.Register(protocol.Registration{
		Name:        "tuya-cloud",
		Version:     "1.0.0",
		Description: "Tuya cloud API handler for account-bound lamps",
		Factory: func(bus *events.Bus, cfg map[string]interface{}) (protocol.Handler, error) {
			return tuyacloud.New(tuyaCloudConfigFromMap(cfg)), nil
		},
	}))

	must(registry.Register(protocol.Registration{
		Name:        "wifi",
		Version:     "1.0.0",
		Description: "WiFi device handler (MQTT discovery / Shelly / Tuya local)",
		Factory: func(bus *events.Bus, cfg map[string]interface{}) (protocol.Handler, error) {
			return wifi.New(wifiConfigFromMap(cfg)), nil
		},
	}))
}

func wifiConfigFromMap(cfg map[string]interface{}) wifi.Config {
	var out wifi.Config
	out.MQTTBroker, _ = cfg["mqttBroker"].(string)
	out.MQTTPort = toInt(cfg["mqttPort"])
	out.MQTTClientID, _ = cfg["mqttClientID"].(string)
	out.DiscoveryPrefix, _ = cfg["discoveryPrefix"].(string)

	if raw, ok := cfg["shellyAddresses"].([]interface{}); ok {
		for _, a := range raw {
			if s, ok := a.(string); ok {
				out.ShellyAddresses = append(out.ShellyAddresses, s)
			}
		}
	}

	if raw, ok := cfg["tuyaDevices"].([]interface{}); ok {
		for _, item := range raw {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			tc := tuyadevice.Config{}
			tc.DeviceID, _ = m["deviceId"].(string)
			tc.IP, _ = m["ip"].(string)
			tc.Port = toInt(m["port"])
			tc.LocalKey, _ = m["localKey"].(string)
			tc.Version, _ = m["version"].(string)
			out.TuyaDevices = append(out.TuyaDevices, tc)
		}
	}
	return out
}

func tuyaCloudConfigFromMap(cfg map[string]interface{}) tuyacloud.Config {
	var out tuyacloud.Config
	switch region, _ := cfg["region"].(string); region {
	case "cn":
		out.Region = tuyacloud.RegionCN
	case "eu":
		out.Region = tuyacloud.RegionEU
	case "in":
		out.Region = tuyacloud.RegionIN
	case "us":
		out.Region = tuyacloud.RegionUS
	}
	out.APIID, _ = cfg["apiID"].(string)
	out.APIKey, _ = cfg["apiKey"].(string)

	if raw, ok := cfg["lamps"].([]interface{}); ok {
		for _, item := range raw {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			lamp := tuyacloud.LampConfig{}
			lamp.DeviceID, _ = m["deviceId"].(string)
			lamp.Label, _ = m["label"].(string)
			lamp.Dimmable, _ = m["dimmable"].(bool)
			lamp.Colour, _ = m["colour"].(bool)
			lamp.Temperature, _ = m["temperature"].(bool)
			out.Lamps = append(out.Lamps, lamp)
		}
	}
	return out
}

// toInt normalizes go-toml's int64/float64 representations to int.
func toInt(v interface{}) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

func must(err error) {
	if err != nil {
		log.Fatalln("ERROR: " + err.Error())
	}
}

// stdLog adapts the standard library logger to devicemanager.LogSink,
// matching the DEBUG/INFO/WARNING/ERROR prefix convention used throughout.
type stdLog struct{}

func (stdLog) Debug(format string, args ...interface{})   { log.Printf("DEBUG: "+format+"\n", args...) }
func (stdLog) Info(format string, args ...interface{})    { log.Printf("INFO: "+format+"\n", args...) }
func (stdLog) Warning(format string, args ...interface{}) { log.Printf("WARNING: "+format+"\n", args...) }
func (stdLog) Error(format string, args ...interface{})   { log.Printf("ERROR: "+format+"\n", args...) }

// Copyright ©2021 Steve Merrony

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

// Package postgres provides a PostgreSQL-backed implementation of the
// Device Manager's persistence sink. The core never depends on this
// package; hubd wires it in when a postgres.toml is present.
package postgres

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/SMerrony/homehub/devicemanager"
	"github.com/SMerrony/homehub/devicemodel"
)

// Sink implements devicemanager.PersistenceSink on a pgx connection pool.
type Sink struct {
	PgHost     string
	PgPort     string
	PgUser     string
	PgPassword string
	PgDatabase string

	dbpool *pgxpool.Pool
}

// LoadConfig reads a Sink's connection details from the given TOML file.
func LoadConfig(path string) (*Sink, error) {
	confBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Sink
	if err := toml.Unmarshal(confBytes, &s); err != nil {
		log.Println("ERROR: Could not parse Postgres configuration ", err.Error())
		return nil, err
	}
	return &s, nil
}

// Connect opens the connection pool and ensures the schema exists.
func (s *Sink) Connect() error {
	dbURL := "postgresql://" + s.PgUser + ":" + s.PgPassword + "@" + s.PgHost + ":" + s.PgPort + "/" + s.PgDatabase
	pool, err := pgxpool.Connect(context.Background(), dbURL)
	if err != nil {
		log.Printf("WARNING: Postgres sink failed to connect with %s - %s\n", dbURL, err.Error())
		return err
	}
	s.dbpool = pool
	return s.ensureSchema()
}

func (s *Sink) ensureSchema() error {
	ctx := context.Background()
	if _, err := s.dbpool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS devices (
			id TEXT PRIMARY KEY,
			name TEXT,
			type INTEGER,
			protocol TEXT,
			address TEXT,
			room TEXT,
			config JSONB
		)`); err != nil {
		return err
	}
	_, err := s.dbpool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS device_states (
			ts TIMESTAMPTZ NOT NULL,
			device_id TEXT NOT NULL,
			property TEXT NOT NULL,
			value JSONB
		)`)
	return err
}

// Close releases the connection pool.
func (s *Sink) Close() {
	if s.dbpool != nil {
		s.dbpool.Close()
	}
}

// PersistDevice upserts one device row.
func (s *Sink) PersistDevice(id, name string, typ devicemodel.Type, protocolName, address, room string, configJSON []byte) error {
	_, err := s.dbpool.Exec(context.Background(),
		`INSERT INTO devices (id, name, type, protocol, address, room, config)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, type = EXCLUDED.type, protocol = EXCLUDED.protocol,
			address = EXCLUDED.address, room = EXCLUDED.room, config = EXCLUDED.config`,
		id, name, int(typ), protocolName, address, room, nullableJSON(configJSON))
	return err
}

// PersistState appends one state observation.
func (s *Sink) PersistState(id, property string, value interface{}, timestamp time.Time) error {
	valueJSON, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = s.dbpool.Exec(context.Background(),
		`INSERT INTO device_states (ts, device_id, property, value) VALUES ($1, $2, $3, $4)`,
		timestamp, id, property, valueJSON)
	return err
}

// LoadDevices returns every persisted device with its most recent state
// snapshot folded into StateJSON.
func (s *Sink) LoadDevices() ([]devicemanager.PersistedDevice, error) {
	ctx := context.Background()
	rows, err := s.dbpool.Query(ctx,
		`SELECT id, name, type, protocol, address, room FROM devices`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []devicemanager.PersistedDevice
	for rows.Next() {
		var d devicemanager.PersistedDevice
		var typ int
		if err := rows.Scan(&d.ID, &d.Name, &typ, &d.Protocol, &d.Address, &d.Room); err != nil {
			return nil, err
		}
		d.Type = devicemodel.Type(typ)
		out = append(out, d)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	for i := range out {
		state, err := s.latestState(ctx, out[i].ID)
		if err != nil {
			log.Printf("WARNING: Postgres sink: loading state for %s: %v\n", out[i].ID, err)
			continue
		}
		out[i].StateJSON = state
	}
	return out, nil
}

// latestState folds the newest value per property into one JSON object.
func (s *Sink) latestState(ctx context.Context, deviceID string) ([]byte, error) {
	rows, err := s.dbpool.Query(ctx,
		`SELECT DISTINCT ON (property) property, value
		 FROM device_states WHERE device_id = $1
		 ORDER BY property, ts DESC`, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	state := make(map[string]json.RawMessage)
	for rows.Next() {
		var property string
		var value []byte
		if err := rows.Scan(&property, &value); err != nil {
			return nil, err
		}
		state[property] = json.RawMessage(value)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	if len(state) == 0 {
		return nil, nil
	}
	return json.Marshal(state)
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

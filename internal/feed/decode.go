// Package feed fetches aircraft state snapshots from upstream providers.
//
// Every source returns the same thing: a Snapshot of loosely typed records
// whose field names and value types belong to the upstream feed. Mapping
// them onto the canonical model is the normalizer's job, not this package's.
package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable marks a snapshot that could not be fetched or decoded.
// It is fatal for an ingestion run.
var ErrUnavailable = errors.New("feed unavailable")

// Record is one upstream object as decoded from the payload.
type Record = map[string]any

// Snapshot is one batch of observations fetched in a single call.
type Snapshot struct {
	Records      []Record
	Raw          []byte     // Payload as received, kept for archiving.
	UpstreamTime *time.Time // Feed-reported snapshot time, if any.
	FetchedAt    time.Time
	Source       string
}

// StateVectorFields names the positions of an OpenSky state vector array.
// Trailing positions missing from a vector are simply absent from the record.
var StateVectorFields = []string{
	"icao24",
	"callsign",
	"origin_country",
	"time_position",
	"last_contact",
	"longitude",
	"latitude",
	"baro_altitude",
	"on_ground",
	"velocity",
	"true_track",
	"vertical_rate",
	"sensors",
	"geo_altitude",
	"squawk",
	"spi",
	"position_source",
	"category",
}

// envelope is the OpenSky /states/all response shape.
type envelope struct {
	Time   json.Number     `json:"time"`
	States json.RawMessage `json:"states"`
}

// Decode parses a snapshot payload. Three shapes are accepted:
//
//  1. OpenSky:        {"time": 1700000000, "states": [[...], ...]}
//  2. Object states:  {"states": [{"icao24": ...}, ...]}
//  3. Bare array:     [{"icao24": ...}, ...]
//
// Within "states", each element may be a positional vector or an object.
// A null "states" is an empty snapshot; a missing one, like anything else
// malformed, is reported as ErrUnavailable.
func Decode(raw []byte) (Snapshot, error) {
	snap := Snapshot{Raw: raw}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return snap, fmt.Errorf("%w: empty payload", ErrUnavailable)
	}

	var states json.RawMessage
	switch trimmed[0] {
	case '[':
		states = trimmed
	case '{':
		var env envelope
		if err := decodeUseNumber(trimmed, &env); err != nil {
			return snap, fmt.Errorf("%w: decode envelope: %v", ErrUnavailable, err)
		}
		if env.States == nil {
			return snap, fmt.Errorf("%w: payload has no states field", ErrUnavailable)
		}
		if env.Time != "" {
			if sec, err := env.Time.Int64(); err == nil && sec > 0 {
				ts := time.Unix(sec, 0).UTC()
				snap.UpstreamTime = &ts
			}
		}
		states = env.States
	default:
		return snap, fmt.Errorf("%w: unexpected payload starting with %q", ErrUnavailable, trimmed[0])
	}

	states = bytes.TrimSpace(states)
	if len(states) == 0 || bytes.Equal(states, []byte("null")) {
		return snap, nil
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(states, &elems); err != nil {
		return snap, fmt.Errorf("%w: decode states: %v", ErrUnavailable, err)
	}

	snap.Records = make([]Record, 0, len(elems))
	for i, elem := range elems {
		rec, err := decodeRecord(elem)
		if err != nil {
			return snap, fmt.Errorf("%w: state %d: %v", ErrUnavailable, i, err)
		}
		if rec != nil {
			snap.Records = append(snap.Records, rec)
		}
	}
	return snap, nil
}

func decodeRecord(elem json.RawMessage) (Record, error) {
	elem = bytes.TrimSpace(elem)
	if len(elem) == 0 || bytes.Equal(elem, []byte("null")) {
		return nil, nil
	}

	switch elem[0] {
	case '{':
		var rec Record
		if err := decodeUseNumber(elem, &rec); err != nil {
			return nil, err
		}
		return rec, nil
	case '[':
		var vec []any
		if err := decodeUseNumber(elem, &vec); err != nil {
			return nil, err
		}
		rec := make(Record, len(vec))
		for i, v := range vec {
			if i >= len(StateVectorFields) {
				break
			}
			rec[StateVectorFields[i]] = v
		}
		return rec, nil
	default:
		return nil, fmt.Errorf("unexpected element starting with %q", elem[0])
	}
}

// decodeUseNumber keeps numbers as json.Number so large epoch values and
// numeric strings survive untouched until normalization.
func decodeUseNumber(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// Package normalize maps upstream aircraft records of any shape onto the
// canonical state.EntityState.
//
// Upstream feeds rename, add and drop fields between revisions, and send the
// same value as a number in one version and a string in the next. All of that
// is absorbed here through a single alias table and tolerant scalar
// coercion; the rest of the pipeline only ever sees canonical rows.
package normalize

import (
	"math"
	"strings"
	"time"

	"flight_tracker/internal/state"
)

// DropReason says why a record was excluded. Drops are counted, not errors.
type DropReason string

const (
	DropNone            DropReason = ""
	DropMissingEntityID DropReason = "missing_entity_id"
	DropMissingPosition DropReason = "missing_position"
	DropInvalidPosition DropReason = "invalid_position"
)

// Stats summarises one NormalizeAll call.
type Stats struct {
	Input   int
	Output  int
	Dropped map[DropReason]int
}

// TotalDropped returns the number of excluded records.
func (s Stats) TotalDropped() int {
	n := 0
	for _, c := range s.Dropped {
		n += c
	}
	return n
}

// Normalizer is a pure transform; it is safe for concurrent use.
type Normalizer struct {
	aliases map[Field][]string
}

// New returns a Normalizer using DefaultAliases.
func New() *Normalizer {
	return &Normalizer{aliases: mergeAliases(DefaultAliases, nil)}
}

// NewWithAliases returns a Normalizer whose table is DefaultAliases extended
// with extra. Extra names are tried after the defaults.
func NewWithAliases(extra map[Field][]string) *Normalizer {
	return &Normalizer{aliases: mergeAliases(DefaultAliases, extra)}
}

// NormalizeAll maps every record, dropping the invalid ones.
func (n *Normalizer) NormalizeAll(records []map[string]any) ([]state.EntityState, Stats) {
	stats := Stats{Input: len(records), Dropped: make(map[DropReason]int)}
	out := make([]state.EntityState, 0, len(records))
	for _, rec := range records {
		row, reason := n.Normalize(rec)
		if reason != DropNone {
			stats.Dropped[reason]++
			continue
		}
		out = append(out, row)
	}
	stats.Output = len(out)
	return out, stats
}

// Normalize maps one record. A non-empty DropReason means the record must be
// excluded. Ingestion stamps (IngestedAt, RunID, Seq) are left zero.
func (n *Normalizer) Normalize(rec map[string]any) (state.EntityState, DropReason) {
	var row state.EntityState

	id, _ := n.strField(rec, FieldEntityID)
	row.EntityID = strings.ToLower(strings.TrimSpace(id))
	if row.EntityID == "" {
		return state.EntityState{}, DropMissingEntityID
	}

	lat, okLat := n.floatField(rec, FieldLatitude)
	lon, okLon := n.floatField(rec, FieldLongitude)
	if !okLat || !okLon {
		return state.EntityState{}, DropMissingPosition
	}
	if math.Abs(lat) > 90 || math.Abs(lon) > 180 {
		return state.EntityState{}, DropInvalidPosition
	}
	row.Latitude, row.Longitude = lat, lon

	if cs, ok := n.strField(rec, FieldCallsign); ok {
		if cs = strings.TrimSpace(cs); cs != "" {
			row.Callsign = &cs
		}
	}
	row.OriginLabel = cleanOrigin(n.strField(rec, FieldOriginLabel))

	row.Altitude = n.floatPtrField(rec, FieldAltitude)
	row.Velocity = n.floatPtrField(rec, FieldVelocity)
	row.Heading = n.floatPtrField(rec, FieldHeading)
	row.VerticalRate = n.floatPtrField(rec, FieldVerticalRate)

	if g, ok := n.boolField(rec, FieldGroundFlag); ok {
		row.OnGround = g
	}
	if sc, ok := n.strField(rec, FieldStatusCode); ok {
		if sc = strings.TrimSpace(sc); sc != "" {
			row.StatusCode = &sc
		}
	}
	if ts, ok := n.timeField(rec, FieldSourceTimestamp); ok {
		ts = ts.Truncate(time.Millisecond)
		row.SourceTimestamp = &ts
	}

	return row, DropNone
}

// cleanOrigin never returns an empty label.
func cleanOrigin(s string, ok bool) string {
	s = strings.TrimSpace(s)
	if !ok || s == "" || strings.EqualFold(s, "unknown") || strings.EqualFold(s, "null") {
		return state.UnknownOrigin
	}
	return s
}

// The accessors below try each alias in order and return the first value
// that converts to the wanted type. Blank strings count as absent.

func (n *Normalizer) strField(rec map[string]any, f Field) (string, bool) {
	for _, name := range n.aliases[f] {
		if v, ok := lookup(rec, name); ok {
			if s, ok := asString(v); ok && strings.TrimSpace(s) != "" {
				return s, true
			}
		}
	}
	return "", false
}

func (n *Normalizer) floatField(rec map[string]any, f Field) (float64, bool) {
	for _, name := range n.aliases[f] {
		if v, ok := lookup(rec, name); ok {
			if x, ok := asFloat(v); ok {
				return x, true
			}
		}
	}
	return 0, false
}

func (n *Normalizer) floatPtrField(rec map[string]any, f Field) *float64 {
	if x, ok := n.floatField(rec, f); ok {
		return &x
	}
	return nil
}

func (n *Normalizer) boolField(rec map[string]any, f Field) (bool, bool) {
	for _, name := range n.aliases[f] {
		if v, ok := lookup(rec, name); ok {
			if b, ok := asBool(v); ok {
				return b, true
			}
		}
	}
	return false, false
}

func (n *Normalizer) timeField(rec map[string]any, f Field) (time.Time, bool) {
	for _, name := range n.aliases[f] {
		if v, ok := lookup(rec, name); ok {
			if ts, ok := asTime(v); ok {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}

// Package state holds the canonical aircraft state model and the pure
// reduction from an append-only history to the latest state per aircraft.
package state

import (
	"sort"
	"time"
)

// UnknownOrigin replaces a missing or "unknown" provenance label so that
// grouping and sorting never meet a null string.
const UnknownOrigin = "Unknown"

// EntityState is one observation of one tracked aircraft at one instant.
// Rows are immutable once appended; corrections arrive as newer rows.
type EntityState struct {
	EntityID        string     `json:"entity_id"` // Transponder code (ICAO 24-bit hex), lower case.
	Callsign        *string    `json:"callsign,omitempty"`
	OriginLabel     string     `json:"origin_label"`
	Latitude        float64    `json:"latitude"`
	Longitude       float64    `json:"longitude"`
	Altitude        *float64   `json:"altitude,omitempty"`      // Metres.
	Velocity        *float64   `json:"velocity,omitempty"`      // Ground speed, m/s.
	Heading         *float64   `json:"heading,omitempty"`       // True track, degrees.
	VerticalRate    *float64   `json:"vertical_rate,omitempty"` // m/s.
	OnGround        bool       `json:"ground_flag"`
	StatusCode      *string    `json:"status_code,omitempty"` // Squawk.
	SourceTimestamp *time.Time `json:"source_timestamp,omitempty"`

	// Stamped by the ingestion run.
	IngestedAt time.Time `json:"ingested_at"`
	RunID      string    `json:"run_id,omitempty"`
	Seq        int       `json:"seq"` // Position within the run's batch.
}

// CallsignOr returns the callsign or fallback when none is known.
func (e EntityState) CallsignOr(fallback string) string {
	if e.Callsign == nil || *e.Callsign == "" {
		return fallback
	}
	return *e.Callsign
}

// SnapshotView maps each aircraft to its single freshest observation.
// GeneratedAt is the highest IngestedAt among the included rows and is nil
// for an empty view.
type SnapshotView struct {
	Entities    map[string]EntityState `json:"entities"`
	GeneratedAt *time.Time             `json:"generated_at"`
}

// EmptyView returns a view with no entities and no watermark.
func EmptyView() SnapshotView {
	return SnapshotView{Entities: map[string]EntityState{}}
}

// Len returns the number of aircraft in the view.
func (v SnapshotView) Len() int {
	return len(v.Entities)
}

// Get returns the current state of one aircraft.
func (v SnapshotView) Get(entityID string) (EntityState, bool) {
	e, ok := v.Entities[entityID]
	return e, ok
}

// Sorted returns the entities ordered by entity id.
func (v SnapshotView) Sorted() []EntityState {
	out := make([]EntityState, 0, len(v.Entities))
	for _, e := range v.Entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

// Filter returns a new view holding only the entities keep accepts. The
// watermark is recomputed over the remaining rows.
func (v SnapshotView) Filter(keep func(EntityState) bool) SnapshotView {
	out := EmptyView()
	for id, e := range v.Entities {
		if !keep(e) {
			continue
		}
		out.Entities[id] = e
		if out.GeneratedAt == nil || e.IngestedAt.After(*out.GeneratedAt) {
			ts := e.IngestedAt
			out.GeneratedAt = &ts
		}
	}
	return out
}

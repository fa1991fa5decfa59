package api

import (
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"flight_tracker/internal/snapshot"
	"flight_tracker/internal/state"
)

// Placeholders for values a marker cannot render without.
const (
	missingCallsign = "N/A"
	missingNumber   = 0.0
)

// SnapshotResponse is the JSON response for snapshot queries.
type SnapshotResponse struct {
	Available   bool                `json:"available"`
	Stale       bool                `json:"stale"`
	Diagnostic  string              `json:"diagnostic,omitempty"`
	GeneratedAt *time.Time          `json:"generated_at"` // newest ingested_at in the view
	FetchedAt   *time.Time          `json:"fetched_at"`   // when the cache resolved it
	Count       int                 `json:"count"`
	Entities    []state.EntityState `json:"entities"`
}

// EntityResponse is the JSON response for a single aircraft.
type EntityResponse struct {
	Entity    state.EntityState `json:"entity"`
	Stale     bool              `json:"stale"`
	FetchedAt *time.Time        `json:"fetched_at"`
}

// FiltersResponse lists the values the dashboard offers as filters.
// Callsigns are restricted to the selected origin.
type FiltersResponse struct {
	Origins   []string `json:"origins"`
	Callsigns []string `json:"callsigns"`
}

// Marker is a render-ready aircraft position. Missing values are replaced by
// placeholders and the longitude is wrapped into [-180, 180).
type Marker struct {
	EntityID   string    `json:"entity_id"`
	Callsign   string    `json:"callsign"`
	Origin     string    `json:"origin_label"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Altitude   float64   `json:"altitude"`
	Velocity   float64   `json:"velocity"`
	Heading    float64   `json:"heading"`
	OnGround   bool      `json:"ground_flag"`
	IngestedAt time.Time `json:"ingested_at"`
}

// MarkersResponse wraps markers with the same freshness flags as snapshots.
type MarkersResponse struct {
	Available   bool       `json:"available"`
	Stale       bool       `json:"stale"`
	Diagnostic  string     `json:"diagnostic,omitempty"`
	GeneratedAt *time.Time `json:"generated_at"`
	Markers     []Marker   `json:"markers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// current fetches the cached view. Failures are already folded into the
// Result, so they are only logged here.
func (s *Server) current(r *http.Request) snapshot.Result {
	res, err := s.snapshots.Get(r.Context())
	if err != nil {
		s.logger.Warn("serving empty snapshot", "error", err)
	}
	return res
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	res := s.current(r)
	view := res.View.Filter(queryFilter(r))

	entities := view.Sorted()
	writeJSON(w, http.StatusOK, SnapshotResponse{
		Available:   res.Available,
		Stale:       res.Stale,
		Diagnostic:  res.Diagnostic,
		GeneratedAt: view.GeneratedAt,
		FetchedAt:   fetchedAt(res),
		Count:       len(entities),
		Entities:    entities,
	})
}

func (s *Server) handleEntity(w http.ResponseWriter, r *http.Request) {
	id := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "entity_id")))
	if id == "" {
		writeError(w, http.StatusBadRequest, "entity_id is required")
		return
	}

	res := s.current(r)
	e, ok := res.View.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "No current state for aircraft")
		return
	}
	writeJSON(w, http.StatusOK, EntityResponse{Entity: e, Stale: res.Stale, FetchedAt: fetchedAt(res)})
}

func (s *Server) handleFilters(w http.ResponseWriter, r *http.Request) {
	res := s.current(r)
	origin := strings.TrimSpace(r.URL.Query().Get("origin"))

	origins := map[string]bool{}
	callsigns := map[string]bool{}
	for _, e := range res.View.Entities {
		origins[e.OriginLabel] = true
		if origin != "" && e.OriginLabel != origin {
			continue
		}
		if e.Callsign != nil && *e.Callsign != "" {
			callsigns[*e.Callsign] = true
		}
	}

	writeJSON(w, http.StatusOK, FiltersResponse{
		Origins:   sortedKeys(origins),
		Callsigns: sortedKeys(callsigns),
	})
}

func (s *Server) handleMarkers(w http.ResponseWriter, r *http.Request) {
	res := s.current(r)
	view := res.View.Filter(queryFilter(r))

	markers := make([]Marker, 0, view.Len())
	for _, e := range view.Sorted() {
		markers = append(markers, toMarker(e))
	}
	writeJSON(w, http.StatusOK, MarkersResponse{
		Available:   res.Available,
		Stale:       res.Stale,
		Diagnostic:  res.Diagnostic,
		GeneratedAt: view.GeneratedAt,
		Markers:     markers,
	})
}

// queryFilter builds the cascading origin then callsign filter. Callsigns
// compare case-insensitively.
func queryFilter(r *http.Request) func(state.EntityState) bool {
	q := r.URL.Query()
	origin := strings.TrimSpace(q.Get("origin"))
	callsign := strings.TrimSpace(q.Get("callsign"))

	return func(e state.EntityState) bool {
		if origin != "" && e.OriginLabel != origin {
			return false
		}
		if callsign != "" && !strings.EqualFold(e.CallsignOr(""), callsign) {
			return false
		}
		return true
	}
}

func toMarker(e state.EntityState) Marker {
	return Marker{
		EntityID:   e.EntityID,
		Callsign:   e.CallsignOr(missingCallsign),
		Origin:     e.OriginLabel,
		Latitude:   e.Latitude,
		Longitude:  wrapLongitude(e.Longitude),
		Altitude:   orPlaceholder(e.Altitude),
		Velocity:   orPlaceholder(e.Velocity),
		Heading:    orPlaceholder(e.Heading),
		OnGround:   e.OnGround,
		IngestedAt: e.IngestedAt,
	}
}

// wrapLongitude maps any longitude into [-180, 180).
func wrapLongitude(lon float64) float64 {
	w := math.Mod(lon+180, 360)
	if w < 0 {
		w += 360
	}
	return w - 180
}

func orPlaceholder(v *float64) float64 {
	if v == nil {
		return missingNumber
	}
	return *v
}

func fetchedAt(res snapshot.Result) *time.Time {
	if res.FetchedAt.IsZero() {
		return nil
	}
	ts := res.FetchedAt
	return &ts
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

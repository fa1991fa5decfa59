package state

// Latest reduces an append-only history to the freshest row per aircraft.
//
// Rows are grouped by EntityID and the row with the highest IngestedAt wins.
// Two rows of one aircraft can share an IngestedAt when a single run reported
// the aircraft twice; Newer breaks that tie deterministically, so the result
// never depends on input order.
//
// The selection is per entity. An aircraft missing from the most recent run
// keeps its last known row; comparing every row against the single global
// maximum IngestedAt would silently drop it.
func Latest(rows []EntityState) SnapshotView {
	view := EmptyView()
	for _, row := range rows {
		if row.EntityID == "" {
			continue
		}
		cur, ok := view.Entities[row.EntityID]
		if ok && !Newer(row, cur) {
			continue
		}
		view.Entities[row.EntityID] = row
	}

	for _, e := range view.Entities {
		if view.GeneratedAt == nil || e.IngestedAt.After(*view.GeneratedAt) {
			ts := e.IngestedAt
			view.GeneratedAt = &ts
		}
	}
	return view
}

// Newer reports whether a supersedes b as the current state of an aircraft.
// Order: IngestedAt, then SourceTimestamp (a missing one loses), then Seq,
// then RunID.
func Newer(a, b EntityState) bool {
	if !a.IngestedAt.Equal(b.IngestedAt) {
		return a.IngestedAt.After(b.IngestedAt)
	}

	switch {
	case a.SourceTimestamp != nil && b.SourceTimestamp == nil:
		return true
	case a.SourceTimestamp == nil && b.SourceTimestamp != nil:
		return false
	case a.SourceTimestamp != nil && !a.SourceTimestamp.Equal(*b.SourceTimestamp):
		return a.SourceTimestamp.After(*b.SourceTimestamp)
	}

	if a.Seq != b.Seq {
		return a.Seq > b.Seq
	}
	return a.RunID > b.RunID
}

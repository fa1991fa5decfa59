package normalize

// Field is a canonical EntityState field name.
type Field string

const (
	FieldEntityID        Field = "entity_id"
	FieldCallsign        Field = "callsign"
	FieldOriginLabel     Field = "origin_label"
	FieldLatitude        Field = "latitude"
	FieldLongitude       Field = "longitude"
	FieldAltitude        Field = "altitude"
	FieldVelocity        Field = "velocity"
	FieldHeading         Field = "heading"
	FieldVerticalRate    Field = "vertical_rate"
	FieldGroundFlag      Field = "ground_flag"
	FieldStatusCode      Field = "status_code"
	FieldSourceTimestamp Field = "source_timestamp"
)

// DefaultAliases lists, per canonical field, the upstream names accepted for
// it in lookup order. The canonical name is always first so that a canonical
// row normalizes to itself. Dotted names walk nested objects.
//
// Supporting a new upstream revision means extending this table.
var DefaultAliases = map[Field][]string{
	FieldEntityID: {
		"entity_id", "icao24", "icao", "icao_hex", "hex", "hex_ident", "transponder",
		"aircraft.icao24", "aircraft.hex",
	},
	FieldCallsign: {
		"callsign", "call_sign", "flight", "ident",
	},
	FieldOriginLabel: {
		"origin_label", "origin_country", "country", "origin",
	},
	FieldLatitude: {
		"latitude", "lat", "position.lat", "position.latitude",
	},
	FieldLongitude: {
		"longitude", "lon", "lng", "long", "position.lon", "position.lng", "position.longitude",
	},
	FieldAltitude: {
		"altitude", "baro_altitude", "alt_baro", "baroaltitude", "geo_altitude", "geoaltitude", "alt_geom", "position.alt",
	},
	FieldVelocity: {
		"velocity", "groundspeed", "ground_speed", "gs", "speed",
	},
	FieldHeading: {
		"heading", "true_track", "track", "track_heading",
	},
	FieldVerticalRate: {
		"vertical_rate", "baro_rate", "vert_rate", "geom_rate", "verticalrate",
	},
	FieldGroundFlag: {
		"ground_flag", "on_ground", "onground", "ground",
	},
	FieldStatusCode: {
		"status_code", "squawk", "status",
	},
	FieldSourceTimestamp: {
		"source_timestamp", "time_position", "timestamp", "timestamp_utc",
		"last_position", "last_contact", "seen_at",
	},
}

// mergeAliases returns base with extra appended per field, skipping names
// already present.
func mergeAliases(base, extra map[Field][]string) map[Field][]string {
	out := make(map[Field][]string, len(base))
	for f, names := range base {
		out[f] = append([]string(nil), names...)
	}
	for f, names := range extra {
		seen := make(map[string]bool, len(out[f]))
		for _, n := range out[f] {
			seen[n] = true
		}
		for _, n := range names {
			if !seen[n] {
				out[f] = append(out[f], n)
				seen[n] = true
			}
		}
	}
	return out
}

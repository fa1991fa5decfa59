// Package main provides the flight_tracker command.
//
// flight_tracker ingests periodic snapshots of aircraft state vectors into an
// append-only store and serves the latest state per aircraft to a map
// dashboard.
//
// Usage:
//
//	flight_tracker ingest      Fetch one snapshot and append it (run from a scheduler).
//	flight_tracker serve       Serve the cached latest-state view over HTTP.
//	flight_tracker snapshot    Resolve the latest-state view once and print it as JSON.
//
// Configuration comes from the environment:
//
//	FLIGHT_TRACKER_STORE_DSN        Store DSN (required): clickhouse://, postgres://, sqlite:// or file:
//	FLIGHT_TRACKER_STORE_TIMEOUT    Upper bound for one store read (default 15s)
//	FLIGHT_TRACKER_FEED_URL         OpenSky REST URL, nats://host:port/subject, or a file path
//	FLIGHT_TRACKER_FEED_TOKEN       Bearer token for the feed
//	FLIGHT_TRACKER_FEED_TIMEOUT     Upper bound for one fetch (default 30s)
//	FLIGHT_TRACKER_FEED_BBOX        lamin,lomin,lamax,lomax
//	FLIGHT_TRACKER_CACHE_TTL        Snapshot cache lifetime (default 60s)
//	FLIGHT_TRACKER_HTTP_ADDR        Listen address (default :8081)
//	FLIGHT_TRACKER_ARCHIVE_S3_*     Raw payload archive (bucket, prefix, region, endpoint, keys)
//	FLIGHT_TRACKER_PUSHGATEWAY_URL  Pushgateway for ingest metrics
//	FLIGHT_TRACKER_LOG_LEVEL        debug, info, warn or error
//	FLIGHT_TRACKER_LOG_FORMAT       text or json
//
// API Endpoints:
//
//	GET /api/v1/health
//	GET /api/v1/snapshot?origin=&callsign=
//	GET /api/v1/snapshot/{entity_id}
//	GET /api/v1/filters?origin=
//	GET /api/v1/markers?origin=&callsign=
//	GET /metrics
//
// Exit status is 1 for configuration and other permanent errors and 2 when
// the feed or the store was unavailable.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "flight_tracker: %v\n", err)
		os.Exit(exitCode(err))
	}
}

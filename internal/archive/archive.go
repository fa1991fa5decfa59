// Package archive keeps the raw upstream payload of every ingestion run in
// object storage, zstd-compressed, so a run can be inspected or replayed.
package archive

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Entry is one raw feed payload.
type Entry struct {
	RunID        string
	Source       string
	FetchedAt    time.Time
	UpstreamTime *time.Time // Snapshot time reported by the feed, if any.
	Raw          []byte
}

// Archiver stores raw payloads. Implementations return the object key.
type Archiver interface {
	Archive(ctx context.Context, e Entry) (string, error)
}

// Key builds prefix/YYYY/MM/DD/<unix-ms>_<run>.json.zst from the fetch time.
func Key(prefix string, e Entry) string {
	ts := e.FetchedAt.UTC()
	name := fmt.Sprintf("%d_%s.json.zst", ts.UnixMilli(), e.RunID)
	return path.Join(prefix, ts.Format("2006/01/02"), name)
}

// Encoder and decoder are safe for concurrent use and reused across calls.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("archive: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("archive: zstd decoder initialization failed: " + err.Error())
	}
}

// Compress zstd-encodes data.
func Compress(data []byte) []byte {
	return zstdEncoder.EncodeAll(data, nil)
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return out, nil
}

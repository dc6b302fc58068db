package persistence

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/streamcore/roundtable/pkg/chunk"
)

// Overflow is the append-only, day-rotated fallback log a Pipeline
// writes to when its durable Store is unavailable or its write queue is
// saturated, so no chunk is ever silently lost even under store outage.
// The format is hand-rolled on os/encoding/binary/hash/crc32 rather than
// an embedded-KV or WAL library, matching the project's own file-based
// append log rather than pulling in a dependency with no other use here.
//
// Record format (length-prefixed, CRC-checked):
//
//	uint32 length | uint32 crc32(payload) | payload bytes
//
// where payload is the JSON encoding of a chunk.PersistedChunk.
type Overflow struct {
	mu      sync.Mutex
	dir     string
	current *os.File
	day     string
}

// NewOverflow opens (creating if needed) the overflow directory dir.
func NewOverflow(dir string) (*Overflow, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("overflow: mkdir: %w", err)
	}
	return &Overflow{dir: dir}, nil
}

// Append writes one record to today's log file, rotating to a new file
// if the day has changed since the last write.
func (o *Overflow) Append(payload []byte, now time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	day := now.UTC().Format("2006-01-02")
	if o.current == nil || day != o.day {
		if o.current != nil {
			o.current.Close()
		}
		f, err := os.OpenFile(filepath.Join(o.dir, day+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("overflow: open %s: %w", day, err)
		}
		o.current = f
		o.day = day
	}

	header := make([]byte, 8)
	binary.BigEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(header[4:8], crc32.ChecksumIEEE(payload))

	if _, err := o.current.Write(header); err != nil {
		return fmt.Errorf("overflow: write header: %w", err)
	}
	if _, err := o.current.Write(payload); err != nil {
		return fmt.Errorf("overflow: write payload: %w", err)
	}
	return nil
}

// Close closes the currently open log file, if any.
func (o *Overflow) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return nil
	}
	err := o.current.Close()
	o.current = nil
	return err
}

// ReadFile decodes every valid record from the overflow log at path,
// skipping (and counting) any record whose CRC does not match — used at
// startup to recover chunks written while the durable store was down.
func ReadFile(path string) ([]chunk.PersistedChunk, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}

	var out []chunk.PersistedChunk
	corrupt := 0
	offset := 0
	for offset+8 <= len(data) {
		length := binary.BigEndian.Uint32(data[offset : offset+4])
		wantCRC := binary.BigEndian.Uint32(data[offset+4 : offset+8])
		offset += 8

		if offset+int(length) > len(data) {
			break
		}
		payload := data[offset : offset+int(length)]
		offset += int(length)

		if crc32.ChecksumIEEE(payload) != wantCRC {
			corrupt++
			continue
		}

		var c chunk.PersistedChunk
		if err := decodePersistedChunk(payload, &c); err != nil {
			corrupt++
			continue
		}
		out = append(out, c)
	}

	return out, corrupt, nil
}

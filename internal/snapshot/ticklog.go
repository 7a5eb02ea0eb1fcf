package snapshot

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/vmihailenco/msgpack/v5"
)

// TickLogger appends each committed tick as a msgpack record to a flat
// file — cheaper than a sqlite insert per tick, meant for a fast streaming
// replay or for shipping to a downstream consumer. Grounded on the
// msgpack-framed IPC bridge-go uses to talk to the router process, using
// vmihailenco/msgpack/v5 directly (already in go.mod) rather than the
// net-rpc codec bridge-go wraps it in, since there is no RPC call here —
// just an append-only record stream.
type TickLogger struct {
	f *os.File
	enc *msgpack.Encoder
}

// TickRecord is one frame in the log.
type TickRecord struct {
	RunID    string  `msgpack:"run_id"`
	Node     string  `msgpack:"node"`
	DateUnix int64   `msgpack:"date_unix"`
	Price    float64 `msgpack:"price"`
	Value    float64 `msgpack:"value"`
	Cash     float64 `msgpack:"cash"`
	Fee      float64 `msgpack:"fee"`
	Position float64 `msgpack:"position"`
}

// OpenTickLogger opens path for append, creating it if necessary.
func OpenTickLogger(path string) (*TickLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("snapshot: opening tick log: %w", err)
	}
	return &TickLogger{f: f, enc: msgpack.NewEncoder(f)}, nil
}

// Append writes one record to the log.
func (l *TickLogger) Append(r TickRecord) error {
	if err := l.enc.Encode(&r); err != nil {
		return fmt.Errorf("snapshot: encoding tick record: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (l *TickLogger) Close() error { return l.f.Close() }

// ReadAll decodes every record in a tick log file, in order.
func ReadAll(path string) ([]TickRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: opening tick log for read: %w", err)
	}
	defer f.Close()

	dec := msgpack.NewDecoder(f)
	var out []TickRecord
	for {
		var r TickRecord
		if err := dec.Decode(&r); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return out, fmt.Errorf("snapshot: decoding tick record: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

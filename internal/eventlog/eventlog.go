// Package eventlog is an append-only, sequence-numbered record store.
package eventlog

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/Klingon-tech/klingnet-vault/internal/storage"
)

// MaxRange caps the number of records Range returns in one call.
const MaxRange = 1000

var keyNext = []byte("seq")

// Log stores records under their 8-byte big-endian sequence number.
type Log struct {
	mu   sync.Mutex
	db   storage.DB
	next uint64
}

// Open loads the log stored in db.
func Open(db storage.DB) (*Log, error) {
	l := &Log{db: db}
	raw, err := db.Get(keyNext)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load event sequence: %w", err)
	case len(raw) != 8:
		return nil, fmt.Errorf("load event sequence: malformed value %x", raw)
	default:
		l.next = binary.BigEndian.Uint64(raw)
	}
	return l, nil
}

// Len returns the number of records appended so far.
func (l *Log) Len() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.next
}

// Append stores v as JSON and returns its sequence number. setSeq, when
// non-nil, is called with the assigned sequence before encoding.
func (l *Log) Append(v any, setSeq func(seq uint64)) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq := l.next
	if setSeq != nil {
		setSeq(seq)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("marshal record: %w", err)
	}

	var next [8]byte
	binary.BigEndian.PutUint64(next[:], seq+1)
	b := storage.NewBatch(l.db)
	if err := b.Put(seqKey(seq), data); err != nil {
		return 0, err
	}
	if err := b.Put(keyNext, next[:]); err != nil {
		return 0, err
	}
	if err := b.Commit(); err != nil {
		return 0, fmt.Errorf("append record %d: %w", seq, err)
	}
	l.next = seq + 1
	return seq, nil
}

// Range calls fn for up to limit records starting at sequence from.
func (l *Log) Range(from uint64, limit int, fn func(seq uint64, data []byte) error) error {
	if limit <= 0 || limit > MaxRange {
		limit = MaxRange
	}
	end := l.Len()
	for seq := from; seq < end && limit > 0; seq++ {
		data, err := l.db.Get(seqKey(seq))
		if err != nil {
			return fmt.Errorf("load record %d: %w", seq, err)
		}
		if err := fn(seq, data); err != nil {
			return err
		}
		limit--
	}
	return nil
}

func seqKey(seq uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], seq)
	return k[:]
}

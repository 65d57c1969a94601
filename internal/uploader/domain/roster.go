package domain

import (
	"encoding/json"
	"errors"
)

var ErrDuplicateID = errors.New("duplicate file record id")

// Position selects where newly admitted records enter the roster.
type Position int

const (
	// PositionHead surfaces the newest file first.
	PositionHead Position = iota
	PositionTail
)

// Roster is an immutable, ordered snapshot of file records. Every mutator returns
// a new Roster and leaves the receiver untouched, so a snapshot handed to a
// reader never changes underneath it.
type Roster struct {
	records []FileRecord
	version uint64
}

// NewRoster builds a roster from records, rejecting duplicate ids.
func NewRoster(records []FileRecord) (Roster, error) {
	seen := make(map[string]struct{}, len(records))
	out := make([]FileRecord, 0, len(records))
	for _, rec := range records {
		if _, dup := seen[rec.ID]; dup {
			return Roster{}, ErrDuplicateID
		}
		seen[rec.ID] = struct{}{}
		out = append(out, rec)
	}
	return Roster{records: out}, nil
}

// Len returns the number of records.
func (r Roster) Len() int { return len(r.records) }

// Version increases by one on every committed mutation.
func (r Roster) Version() uint64 { return r.version }

// Records returns a copy of the records in roster order.
func (r Roster) Records() []FileRecord {
	out := make([]FileRecord, len(r.records))
	copy(out, r.records)
	return out
}

// Get looks up a record by id.
func (r Roster) Get(id string) (FileRecord, bool) {
	if i := r.indexOf(id); i >= 0 {
		return r.records[i], true
	}
	return FileRecord{}, false
}

// Insert returns a roster with rec added at pos.
func (r Roster) Insert(rec FileRecord, pos Position) (Roster, error) {
	if r.indexOf(rec.ID) >= 0 {
		return r, ErrDuplicateID
	}
	next := make([]FileRecord, 0, len(r.records)+1)
	if pos == PositionTail {
		next = append(next, r.records...)
		next = append(next, rec)
	} else {
		next = append(next, rec)
		next = append(next, r.records...)
	}
	return Roster{records: next, version: r.version + 1}, nil
}

// Update replaces the record with the given id by fn(record), keeping its
// position. It reports false, and returns r unchanged, when id is absent.
func (r Roster) Update(id string, fn func(FileRecord) FileRecord) (Roster, FileRecord, bool) {
	i := r.indexOf(id)
	if i < 0 {
		return r, FileRecord{}, false
	}
	next := make([]FileRecord, len(r.records))
	copy(next, r.records)
	updated := fn(next[i])
	updated.ID = id
	next[i] = updated
	return Roster{records: next, version: r.version + 1}, updated, true
}

// Remove returns a roster without the record with the given id.
func (r Roster) Remove(id string) (Roster, FileRecord, bool) {
	i := r.indexOf(id)
	if i < 0 {
		return r, FileRecord{}, false
	}
	removed := r.records[i]
	next := make([]FileRecord, 0, len(r.records)-1)
	next = append(next, r.records[:i]...)
	next = append(next, r.records[i+1:]...)
	return Roster{records: next, version: r.version + 1}, removed, true
}

func (r Roster) MarshalJSON() ([]byte, error) {
	if r.records == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r.records)
}

func (r Roster) indexOf(id string) int {
	for i := range r.records {
		if r.records[i].ID == id {
			return i
		}
	}
	return -1
}

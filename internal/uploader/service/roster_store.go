package service

import (
	"sync"
	"sync/atomic"

	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/domain"
)

// rosterStore owns the roster. Writers serialize on mu and publish a new
// immutable snapshot; readers load the current snapshot without locking.
type rosterStore struct {
	mu      sync.Mutex
	current atomic.Pointer[domain.Roster]
	pos     domain.Position

	nextSub int
	subs    map[int]chan domain.Roster
}

func newRosterStore(initial domain.Roster, pos domain.Position) *rosterStore {
	s := &rosterStore{pos: pos, subs: make(map[int]chan domain.Roster)}
	s.current.Store(&initial)
	return s
}

func (s *rosterStore) snapshot() domain.Roster {
	return *s.current.Load()
}

func (s *rosterStore) insert(rec domain.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.snapshot().Insert(rec, s.pos)
	if err != nil {
		return err
	}
	s.commitLocked(next)
	return nil
}

// update applies fn to the record with id. fn returns false to leave the
// roster untouched. The returned record is the committed value.
func (s *rosterStore) update(id string, fn func(domain.FileRecord) (domain.FileRecord, bool)) (domain.FileRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snapshot()
	rec, ok := cur.Get(id)
	if !ok {
		return domain.FileRecord{}, false
	}
	changed, apply := fn(rec)
	if !apply {
		return domain.FileRecord{}, false
	}
	next, committed, _ := cur.Update(id, func(domain.FileRecord) domain.FileRecord { return changed })
	s.commitLocked(next)
	return committed, true
}

func (s *rosterStore) remove(id string) (domain.FileRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, removed, ok := s.snapshot().Remove(id)
	if !ok {
		return domain.FileRecord{}, false
	}
	s.commitLocked(next)
	return removed, true
}

func (s *rosterStore) subscribe() (<-chan domain.Roster, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan domain.Roster, 1)
	ch <- s.snapshot()
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

func (s *rosterStore) commitLocked(next domain.Roster) {
	s.current.Store(&next)
	for _, ch := range s.subs {
		// keep only the latest snapshot for slow readers
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- next:
		default:
		}
	}
}

package idgen

import (
	"errors"
	"strconv"
	"sync"

	"github.com/spaolacci/murmur3"
)

// 64-bit layout: 41 bits of milliseconds since Epoch, 10 bits of node id,
// 12 bits of per-millisecond sequence.
const (
	nodeBits     = 10
	sequenceBits = 12

	MaxNodeID   = -1 ^ (-1 << nodeBits)
	maxSequence = -1 ^ (-1 << sequenceBits)

	nodeShift      = sequenceBits
	timestampShift = sequenceBits + nodeBits

	// Epoch is 2025-01-01 00:00:00 UTC in milliseconds.
	Epoch = 1735689600000
)

var (
	ErrNodeIDOutOfRange = errors.New("node ID out of range")
	ErrClockMovedBack   = errors.New("clock moved backwards")
)

// Snowflake generates unique, time-ordered record ids.
type Snowflake struct {
	mu       sync.Mutex
	clock    Clock
	nodeID   int64
	lastTime int64
	sequence int64
}

// New creates a generator for nodeID. A nil clock uses the local system time.
func New(nodeID int64, clock Clock) (*Snowflake, error) {
	if nodeID < 0 || nodeID > MaxNodeID {
		return nil, ErrNodeIDOutOfRange
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Snowflake{clock: clock, nodeID: nodeID, lastTime: -1}, nil
}

// NodeIDFromName maps a stable name, such as a hostname, onto the node id space.
func NodeIDFromName(name string) int64 {
	return int64(murmur3.Sum32([]byte(name)) % (MaxNodeID + 1))
}

// Next returns the next id. Ids from one generator are strictly increasing.
func (s *Snowflake) Next() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now, err := s.clock.Now()
	if err != nil {
		return 0, err
	}
	if now < s.lastTime {
		return 0, ErrClockMovedBack
	}

	if now == s.lastTime {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			// sequence exhausted for this millisecond
			for now <= s.lastTime {
				if now, err = s.clock.Now(); err != nil {
					return 0, err
				}
			}
		}
	} else {
		s.sequence = 0
	}
	s.lastTime = now

	return ((now - Epoch) << timestampShift) | (s.nodeID << nodeShift) | s.sequence, nil
}

// NextString returns Next formatted in base 36.
func (s *Snowflake) NextString() (string, error) {
	id, err := s.Next()
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 36), nil
}

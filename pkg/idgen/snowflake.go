package idgen

import (
	"fmt"
	"sync"
	"time"
)

// Snowflake layout: 41 bits of milliseconds since epoch, 10 bits of worker id,
// 12 bits of per-millisecond sequence.
const (
	epoch          = int64(1704067200000) // 2024-01-01T00:00:00Z
	workerIDBits   = 10
	sequenceBits   = 12
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
}

func NewSnowflake(workerID int64) (*Snowflake, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, fmt.Errorf("worker id must be within 0-%d", maxWorkerID)
	}
	return &Snowflake{workerID: workerID}, nil
}

var (
	defaultGenerator *Snowflake
	once             sync.Once
)

// Init sets the worker id of the package generator. Only the first call wins.
func Init(workerID int64) error {
	var err error
	once.Do(func() {
		defaultGenerator, err = NewSnowflake(workerID)
	})
	return err
}

func NextID() int64 {
	once.Do(func() {
		defaultGenerator, _ = NewSnowflake(1)
	})
	return defaultGenerator.Generate()
}

func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}
	s.timestamp = now

	return ((now - epoch) << timestampShift) | (s.workerID << workerIDShift) | s.sequence
}

// GenerateEntryNo returns a ledger entry number: LE + the full snowflake id.
func GenerateEntryNo() string {
	return fmt.Sprintf("LE%d", NextID())
}

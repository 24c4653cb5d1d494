package kafka

import (
	"sync"

	kafka "github.com/segmentio/kafka-go"
)

// offsetTracker releases commits in fetch order per partition. Workers
// settle messages out of order; a partition's committed offset only moves
// past a message once every earlier fetched message has settled too.
type offsetTracker struct {
	mu      sync.Mutex
	pending map[int][]int64
	settled map[int]map[int64]kafka.Message
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{
		pending: make(map[int][]int64),
		settled: make(map[int]map[int64]kafka.Message),
	}
}

// track records a fetched message before it is handed to a worker.
func (t *offsetTracker) track(msg kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[msg.Partition] = append(t.pending[msg.Partition], msg.Offset)
}

// settle marks msg finished and returns the highest message that can now be
// committed for its partition. ok is false while an earlier message is
// still outstanding. Untracked messages are returned as is.
func (t *offsetTracker) settle(msg kafka.Message) (commit kafka.Message, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	queue := t.pending[msg.Partition]
	if !containsOffset(queue, msg.Offset) {
		return msg, true
	}

	done := t.settled[msg.Partition]
	if done == nil {
		done = make(map[int64]kafka.Message)
		t.settled[msg.Partition] = done
	}
	done[msg.Offset] = msg

	for len(queue) > 0 {
		head, found := done[queue[0]]
		if !found {
			break
		}
		delete(done, queue[0])
		queue = queue[1:]
		commit, ok = head, true
	}
	t.pending[msg.Partition] = queue
	return commit, ok
}

// outstanding returns the number of tracked messages not yet committable.
func (t *offsetTracker) outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, queue := range t.pending {
		n += len(queue)
	}
	return n
}

func containsOffset(queue []int64, offset int64) bool {
	for _, o := range queue {
		if o == offset {
			return true
		}
	}
	return false
}

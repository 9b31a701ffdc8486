package facesort

import (
	"sync"
	"sync/atomic"
)

// barrier is a reusable group-wide barrier for a fixed number of lanes.
type barrier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	lanes   int
	waiting int
	gen     uint64
}

func newBarrier(lanes int) *barrier {
	b := &barrier{lanes: lanes}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// wait blocks until every lane of the group has reached the barrier.
func (b *barrier) wait() {
	b.mu.Lock()
	defer b.mu.Unlock()

	gen := b.gen
	b.waiting++
	if b.waiting == b.lanes {
		b.waiting = 0
		b.gen++
		b.cond.Broadcast()
		return
	}
	for gen == b.gen {
		b.cond.Wait()
	}
}

// shared is the local memory of one work-group.
type shared struct {
	totalNum       [Bands]atomic.Int32
	totalDistance  [Bands]atomic.Int32
	totalMappedNum [MappedBands]atomic.Int32
	min10          atomic.Int32
	renderPris     []int32
}

func newShared(faces int) *shared {
	return &shared{renderPris: make([]int32, faces)}
}

func (s *shared) reset() {
	s.min10.Store(min10Init)
	for i := range s.totalNum {
		s.totalNum[i].Store(0)
		s.totalDistance[i].Store(0)
	}
	for i := range s.totalMappedNum {
		s.totalMappedNum[i].Store(0)
	}
}

func (s *shared) atomicMin10(d int32) {
	for {
		cur := s.min10.Load()
		if d >= cur || s.min10.CompareAndSwap(cur, d) {
			return
		}
	}
}

// prioOffset is the number of faces in mapped bands before band.
func (s *shared) prioOffset(band int32) int32 {
	var off int32
	for i := int32(0); i < band; i++ {
		off += s.totalMappedNum[i].Load()
	}
	return off
}

func (s *shared) averages() (avg1, avg2, avg3 int32) {
	var num, dist [Bands]int32
	for i := range num {
		num[i] = s.totalNum[i].Load()
		dist[i] = s.totalDistance[i].Load()
	}
	return BandAverages(&num, &dist)
}

// Package reassembly rebuilds multi-part messages from interleaved frames
// inside a fixed number of slots.
package reassembly

import "github.com/skobkin/sensornet/internal/frame"

const (
	DefaultCapacity = 8
	DefaultSlotSize = 32
)

// Slot is an index handle into a Pool. Handles are only meaningful for the
// pool that issued them and become stale once the slot is drained or evicted.
type Slot int

const NoSlot Slot = -1

type slot struct {
	buf      []byte
	n        int
	source   uint8
	msgID    uint8
	received uint8
	total    uint8
	age      uint32
	locked   bool
	ready    bool
}

func (s *slot) clear() {
	s.n = 0
	s.source = 0
	s.msgID = 0
	s.received = 0
	s.total = 0
	s.age = 0
	s.locked = false
	s.ready = false
}

// Stats counts pool activity since creation or the last Reset.
type Stats struct {
	Admitted  uint64
	Restarted uint64
	Completed uint64
	Drained   uint64
	Evicted   uint64
	Rejected  uint64
	Overflowed uint64
}

// Admission describes the outcome of AdmitFirst.
type Admission struct {
	Slot          Slot
	Evicted       bool
	EvictedSource uint8
	EvictedID     uint8
	Restarted     bool
}

// Pool is a fixed arena of reassembly slots. It is not safe for concurrent
// use; the owning driver serializes access.
type Pool struct {
	slots    []slot
	slotSize int
	stats    Stats
}

func New(capacity, slotSize int) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if slotSize <= 0 {
		slotSize = DefaultSlotSize
	}

	p := &Pool{
		slots:    make([]slot, capacity),
		slotSize: slotSize,
	}
	for i := range p.slots {
		p.slots[i].buf = make([]byte, slotSize)
	}

	return p
}

func (p *Pool) Capacity() int { return len(p.slots) }

func (p *Pool) SlotSize() int { return p.slotSize }

// AdmitFirst claims a slot for part 0 of a new message. Every locked slot
// passed over during the search is aged. When nothing is free the locked
// slot with the highest age is cleared and reused, ties going to the lowest
// index. A still-accumulating slot holding the same (source, msgID) pair is
// restarted instead, so a pair is never locked twice.
func (p *Pool) AdmitFirst(source, msgID, total uint8) Admission {
	free, dup := NoSlot, NoSlot
	for i := range p.slots {
		s := &p.slots[i]
		if !s.locked {
			if free == NoSlot {
				free = Slot(i)
			}
			continue
		}
		if !s.ready && s.source == source && s.msgID == msgID {
			dup = Slot(i)
			continue
		}
		s.age++
	}

	adm := Admission{}
	switch {
	case dup != NoSlot:
		adm.Slot = dup
		adm.Restarted = true
		p.stats.Restarted++
	case free != NoSlot:
		adm.Slot = free
	default:
		victim := 0
		for i := 1; i < len(p.slots); i++ {
			if p.slots[i].age > p.slots[victim].age {
				victim = i
			}
		}
		adm.Slot = Slot(victim)
		adm.Evicted = true
		adm.EvictedSource = p.slots[victim].source
		adm.EvictedID = p.slots[victim].msgID
		p.stats.Evicted++
	}

	s := &p.slots[adm.Slot]
	s.clear()
	s.locked = true
	s.source = source
	s.msgID = msgID
	s.total = total
	p.stats.Admitted++

	return adm
}

// AdmitContinuation finds the slot expecting part from (source, msgID).
// Out-of-order, duplicate and unknown continuations get NoSlot and leave
// every slot untouched.
func (p *Pool) AdmitContinuation(source, part, msgID uint8) (Slot, bool) {
	for i := range p.slots {
		s := &p.slots[i]
		if s.locked && !s.ready && s.source == source && s.msgID == msgID && s.received == part {
			return Slot(i), true
		}
	}
	p.stats.Rejected++

	return NoSlot, false
}

// Append copies data into the slot and counts one received part. It
// reports whether the message is now complete. A part that does not fit the
// slot drops the whole message and frees the slot; the buffer never grows.
func (p *Pool) Append(h Slot, data []byte) bool {
	ready, _ := p.appendPart(h, data)

	return ready
}

func (p *Pool) appendPart(h Slot, data []byte) (ready, overflow bool) {
	if h < 0 || int(h) >= len(p.slots) {
		return false, false
	}
	s := &p.slots[h]
	if !s.locked || s.ready {
		return false, false
	}

	if len(data) > len(s.buf)-s.n {
		s.clear()
		p.stats.Overflowed++

		return false, true
	}
	s.n += copy(s.buf[s.n:], data)
	s.received++
	if s.received >= s.total {
		s.ready = true
		p.stats.Completed++
	}

	return s.ready, false
}

// Ingest runs one decoded frame through admission and append.
func (p *Pool) Ingest(h frame.Header, data []byte) IngestResult {
	res := IngestResult{Slot: NoSlot}
	if h.Part == 0 {
		adm := p.AdmitFirst(h.Source, h.MessageID, h.Total)
		res.Slot = adm.Slot
		res.Admission = adm
	} else {
		slot, ok := p.AdmitContinuation(h.Source, h.Part, h.MessageID)
		if !ok {
			return res
		}
		res.Slot = slot
	}
	res.Accepted = true
	res.Ready, res.Overflow = p.appendPart(res.Slot, data)

	return res
}

// IngestResult reports what Ingest did with a frame.
type IngestResult struct {
	Slot      Slot
	Accepted  bool
	Ready     bool
	// Overflow is set when the message outgrew its slot and was dropped.
	Overflow  bool
	Admission Admission
}

func (p *Pool) HasReady() bool {
	for i := range p.slots {
		if p.slots[i].ready {
			return true
		}
	}

	return false
}

// DrainReady copies the lowest-indexed ready message into dst and frees its
// slot. At most one message is returned per call.
func (p *Pool) DrainReady(dst []byte) (int, bool) {
	for i := range p.slots {
		s := &p.slots[i]
		if !s.ready {
			continue
		}
		n := copy(dst, s.buf[:s.n])
		s.clear()
		p.stats.Drained++

		return n, true
	}

	return 0, false
}

// InFlight returns the number of locked slots.
func (p *Pool) InFlight() int {
	n := 0
	for i := range p.slots {
		if p.slots[i].locked {
			n++
		}
	}

	return n
}

// Age exposes a slot's eviction age.
func (p *Pool) Age(h Slot) uint32 {
	if h < 0 || int(h) >= len(p.slots) {
		return 0
	}

	return p.slots[h].age
}

func (p *Pool) Stats() Stats { return p.stats }

// Reset frees every slot and zeroes the counters.
func (p *Pool) Reset() {
	for i := range p.slots {
		p.slots[i].clear()
	}
	p.stats = Stats{}
}

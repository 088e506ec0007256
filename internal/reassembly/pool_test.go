package reassembly

import (
	"bytes"
	"testing"

	"github.com/skobkin/sensornet/internal/frame"
)

func feed(t *testing.T, p *Pool, frames []frame.Raw) {
	t.Helper()
	for _, f := range frames {
		h, err := frame.Decode(f.ID)
		if err != nil {
			t.Fatalf("decode 0x%08X: %v", f.ID, err)
		}
		p.Ingest(h, f.Payload())
	}
}

func TestRoundTripAllLengths(t *testing.T) {
	p := New(4, frame.MaxPayload)
	for n := 0; n <= frame.MaxPayload; n++ {
		payload := make([]byte, n)
		for i := range payload {
			payload[i] = byte(i*7 + n)
		}
		frames, err := frame.Fragment(9, 0, uint8(n%8), false, payload)
		if err != nil {
			t.Fatalf("fragment %d: %v", n, err)
		}
		feed(t, p, frames)

		buf := make([]byte, frame.MaxPayload)
		got, ok := p.DrainReady(buf)
		if !ok {
			t.Fatalf("length %d: no ready message", n)
		}
		if !bytes.Equal(buf[:got], payload) {
			t.Fatalf("length %d: got %x want %x", n, buf[:got], payload)
		}
		if p.InFlight() != 0 {
			t.Fatalf("length %d: slot not freed after drain", n)
		}
	}
}

func TestScenarioTwentyBytesInThreeParts(t *testing.T) {
	payload := []byte("twenty-byte-payload!")
	frames, err := frame.Fragment(5, 0, 2, false, payload)
	if err != nil {
		t.Fatalf("fragment: %v", err)
	}
	wantLens := []uint8{8, 8, 4}
	for i, f := range frames {
		if f.Len != wantLens[i] {
			t.Fatalf("part %d len = %d, want %d", i, f.Len, wantLens[i])
		}
	}

	p := New(4, 32)
	feed(t, p, frames)

	buf := make([]byte, 32)
	n, ok := p.DrainReady(buf)
	if !ok || !bytes.Equal(buf[:n], payload) {
		t.Fatalf("unexpected drain result ok=%t data=%q", ok, buf[:n])
	}
	if _, ok := p.DrainReady(buf); ok {
		t.Fatalf("expected a single message")
	}
}

func TestInterleavedSendersDoNotMix(t *testing.T) {
	a := bytes.Repeat([]byte{0xAA}, 20)
	b := bytes.Repeat([]byte{0xBB}, 17)
	fa, _ := frame.Fragment(1, 0, 4, false, a)
	fb, _ := frame.Fragment(2, 0, 4, false, b)

	p := New(4, 32)
	feed(t, p, []frame.Raw{fa[0], fb[0], fa[1], fb[1], fb[2], fa[2]})

	buf := make([]byte, 32)
	got := map[int][]byte{}
	for {
		n, ok := p.DrainReady(buf)
		if !ok {
			break
		}
		got[n] = append([]byte(nil), buf[:n]...)
	}
	if !bytes.Equal(got[20], a) || !bytes.Equal(got[17], b) {
		t.Fatalf("messages mixed up: %x", got)
	}
}

func TestEvictionPicksOldestSlot(t *testing.T) {
	p := New(4, 32)
	for src := uint8(1); src <= 4; src++ {
		adm := p.AdmitFirst(src, 0, 2)
		if adm.Evicted {
			t.Fatalf("unexpected eviction while admitting sender %d", src)
		}
		p.Append(adm.Slot, []byte{src})
	}

	adm := p.AdmitFirst(5, 0, 2)
	if !adm.Evicted {
		t.Fatalf("expected eviction on full pool")
	}
	if adm.Slot != 0 || adm.EvictedSource != 1 {
		t.Fatalf("evicted slot %d (source %d), want slot 0 (source 1)", adm.Slot, adm.EvictedSource)
	}
	if p.Stats().Evicted != 1 {
		t.Fatalf("expected one eviction in stats, got %d", p.Stats().Evicted)
	}
	p.Append(adm.Slot, []byte{5})

	if _, ok := p.AdmitContinuation(1, 1, 0); ok {
		t.Fatalf("evicted message must not accept continuations")
	}
	for src := uint8(2); src <= 5; src++ {
		slot, ok := p.AdmitContinuation(src, 1, 0)
		if !ok {
			t.Fatalf("sender %d lost its slot", src)
		}
		p.Append(slot, []byte{src})
	}

	buf := make([]byte, 32)
	for {
		n, ok := p.DrainReady(buf)
		if !ok {
			break
		}
		if buf[0] == 1 {
			t.Fatalf("evicted message was drained: %x", buf[:n])
		}
	}
}

func TestEvictionTieGoesToLowestIndex(t *testing.T) {
	p := New(3, 32)
	for src := uint8(1); src <= 3; src++ {
		p.AdmitFirst(src, 0, 4)
	}
	// Ages are now 2, 1, 0. Force a tie between slots 0 and 1.
	p.slots[1].age = p.slots[0].age

	adm := p.AdmitFirst(9, 0, 4)
	if adm.Slot != 0 {
		t.Fatalf("tie resolved to slot %d, want 0", adm.Slot)
	}
}

func TestOutOfOrderContinuationIsDropped(t *testing.T) {
	payload := bytes.Repeat([]byte{0x11}, 24)
	frames, _ := frame.Fragment(3, 0, 1, false, payload)

	p := New(2, 32)
	feed(t, p, frames[:1])
	before := p.slots[0]
	beforeBuf := append([]byte(nil), before.buf...)

	h, _ := frame.Decode(frames[2].ID)
	res := p.Ingest(h, frames[2].Payload())
	if res.Accepted {
		t.Fatalf("skipped part must be rejected")
	}
	// part 0 never matches a continuation
	if _, ok := p.AdmitContinuation(3, 0, 1); ok {
		t.Fatalf("part index 0 is never a continuation")
	}

	after := p.slots[0]
	if after.n != before.n || after.received != before.received || after.ready != before.ready || !bytes.Equal(after.buf, beforeBuf) {
		t.Fatalf("rejected frame mutated slot")
	}
	if p.Stats().Rejected != 2 {
		t.Fatalf("expected 2 rejections, got %d", p.Stats().Rejected)
	}
}

func TestUnknownSourceContinuationIsDropped(t *testing.T) {
	p := New(2, 32)
	p.AdmitFirst(1, 0, 3)
	if _, ok := p.AdmitContinuation(2, 1, 0); ok {
		t.Fatalf("continuation from another source accepted")
	}
	if _, ok := p.AdmitContinuation(1, 1, 5); ok {
		t.Fatalf("continuation with another message id accepted")
	}
}

func TestAppendDropsMessageLargerThanSlot(t *testing.T) {
	p := New(1, 10)
	adm := p.AdmitFirst(1, 0, 2)
	if p.Append(adm.Slot, bytes.Repeat([]byte{1}, 8)) {
		t.Fatalf("message complete after one of two parts")
	}
	if p.Append(adm.Slot, bytes.Repeat([]byte{2}, 8)) {
		t.Fatalf("oversized message reported complete")
	}

	buf := make([]byte, 32)
	if n, ok := p.DrainReady(buf); ok {
		t.Fatalf("oversized message drained with %d bytes", n)
	}
	if p.InFlight() != 0 {
		t.Fatalf("slot still locked after overflow")
	}
	if p.Stats().Overflowed != 1 {
		t.Fatalf("expected overflow to be counted, got %+v", p.Stats())
	}
}

func TestIngestReportsOverflow(t *testing.T) {
	p := New(2, 16)
	frames, err := frame.Fragment(3, 0, 1, false, bytes.Repeat([]byte{9}, 20))
	if err != nil {
		t.Fatalf("fragment: %v", err)
	}

	var overflowed bool
	for _, f := range frames {
		h, err := frame.Decode(f.ID)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		res := p.Ingest(h, f.Payload())
		if res.Ready {
			t.Fatalf("truncated message reported ready")
		}
		overflowed = overflowed || res.Overflow
	}
	if !overflowed {
		t.Fatalf("overflow not reported")
	}
	if p.HasReady() {
		t.Fatalf("pool holds a ready message after overflow")
	}
}

func TestRepeatedFirstPartRestartsSlot(t *testing.T) {
	p := New(2, 32)
	first := p.AdmitFirst(7, 3, 2)
	p.Append(first.Slot, []byte("stale"))

	again := p.AdmitFirst(7, 3, 2)
	if !again.Restarted || again.Slot != first.Slot {
		t.Fatalf("expected restart of slot %d, got %+v", first.Slot, again)
	}
	if p.InFlight() != 1 {
		t.Fatalf("pair locked twice: %d slots in flight", p.InFlight())
	}
}

func TestStalledSlotOnlyAgesUnderPressure(t *testing.T) {
	p := New(2, 32)
	stalled := p.AdmitFirst(1, 0, 3)
	for i := 0; i < 5; i++ {
		if p.Age(stalled.Slot) != uint32(i) {
			t.Fatalf("unexpected age %d after %d admissions", p.Age(stalled.Slot), i)
		}
		adm := p.AdmitFirst(2, uint8(i), 1)
		p.Append(adm.Slot, nil)
		buf := make([]byte, 8)
		p.DrainReady(buf)
	}
	if p.InFlight() != 1 {
		t.Fatalf("stalled slot should stay locked until evicted")
	}
}

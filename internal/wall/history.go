package wall

import "github.com/quantfeed/wallwatch/internal/domain"

// eventHistory is a fixed-capacity ring buffer of wall events shared across
// all walls on a tracker. When full, the oldest entry is overwritten
// regardless of which wall it belongs to.
type eventHistory struct {
	buf   []domain.WallEvent
	head  int
	count int
}

func newEventHistory(capacity int) *eventHistory {
	if capacity <= 0 {
		capacity = 1
	}
	return &eventHistory{buf: make([]domain.WallEvent, capacity)}
}

func (h *eventHistory) Append(ev domain.WallEvent) {
	tail := (h.head + h.count) % len(h.buf)
	h.buf[tail] = ev
	if h.count < len(h.buf) {
		h.count++
		return
	}
	h.head = (h.head + 1) % len(h.buf)
}

// Events returns the retained events oldest-first.
func (h *eventHistory) Events() []domain.WallEvent {
	out := make([]domain.WallEvent, 0, h.count)
	for i := 0; i < h.count; i++ {
		out = append(out, h.buf[(h.head+i)%len(h.buf)])
	}
	return out
}

func (h *eventHistory) Len() int {
	return h.count
}

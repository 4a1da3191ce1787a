package stats

// LabelHistory is a FIFO of categorical labels bounded by count.
type LabelHistory struct {
	capacity int
	buf      []string
}

func NewLabelHistory(capacity int) *LabelHistory {
	if capacity <= 0 {
		capacity = 1
	}
	return &LabelHistory{capacity: capacity, buf: make([]string, 0, capacity)}
}

func (h *LabelHistory) Push(label string) {
	if len(h.buf) < h.capacity {
		h.buf = append(h.buf, label)
		return
	}
	copy(h.buf, h.buf[1:])
	h.buf[len(h.buf)-1] = label
}

func (h *LabelHistory) Len() int {
	return len(h.buf)
}

func (h *LabelHistory) Values() []string {
	out := make([]string, len(h.buf))
	copy(out, h.buf)
	return out
}

// TransitionRate is the fraction of adjacent pairs whose labels differ.
func (h *LabelHistory) TransitionRate() float64 {
	if len(h.buf) < 2 {
		return 0
	}
	changes := 0
	for i := 1; i < len(h.buf); i++ {
		if h.buf[i] != h.buf[i-1] {
			changes++
		}
	}
	return float64(changes) / float64(len(h.buf)-1)
}

func (h *LabelHistory) Reset() {
	h.buf = h.buf[:0]
}

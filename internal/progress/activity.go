package progress

// ActivityLog is a fixed-capacity ring buffer of activities. When full, the
// oldest entry is overwritten. It is not safe for concurrent use; the
// Monitor guards it.
type ActivityLog struct {
	buf   []Activity
	start int
	n     int
}

// NewActivityLog creates a log holding at most capacity entries.
// Capacities below 1 are raised to 1.
func NewActivityLog(capacity int) *ActivityLog {
	if capacity < 1 {
		capacity = 1
	}
	return &ActivityLog{buf: make([]Activity, capacity)}
}

// Add appends a, evicting the oldest entry if the log is full.
func (l *ActivityLog) Add(a Activity) {
	if l.n < len(l.buf) {
		l.buf[(l.start+l.n)%len(l.buf)] = a
		l.n++
		return
	}
	l.buf[l.start] = a
	l.start = (l.start + 1) % len(l.buf)
}

// Len returns the number of entries held.
func (l *ActivityLog) Len() int { return l.n }

// Cap returns the capacity.
func (l *ActivityLog) Cap() int { return len(l.buf) }

// Entries returns the entries, oldest first.
func (l *ActivityLog) Entries() []Activity {
	out := make([]Activity, l.n)
	for i := 0; i < l.n; i++ {
		out[i] = l.buf[(l.start+i)%len(l.buf)]
	}
	return out
}

package progress

// EventKind distinguishes the stages of a job's lifecycle that the
// supervisor reports to the UI layer.
type EventKind int

const (
	// EventStarted is published when a worker picks up a job.
	EventStarted EventKind = iota
	// EventProgress carries an incremental percent-complete update.
	EventProgress
	// EventSucceeded is published when a job completes successfully.
	EventSucceeded
	// EventFailed is published when a job fails terminally.
	EventFailed
)

// Event is a single progress update for one job, published by a worker and
// consumed by a UI layer. The core's correctness never depends on the
// consumer draining the queue.
type Event struct {
	WorkerID int
	JobKey   string
	Kind     EventKind
	Percent  int    // 0..100, meaningful for EventProgress
	Err      error  // set for EventFailed
	Phase    string // "copy" or "archive"
}

// defaultEventQueueSize bounds the buffered channel; once it is full,
// Publish drops further events instead of blocking the worker, which is
// acceptable since the core's correctness never depends on the queue being
// drained.
const defaultEventQueueSize = 1000

// Bus is a many-producer, single-consumer event queue. Workers publish
// through Publish; a UI layer drains Events.
type Bus struct {
	events chan Event
}

// NewBus creates an event bus with a bounded buffer.
func NewBus() *Bus {
	return &Bus{events: make(chan Event, defaultEventQueueSize)}
}

// Publish sends an event, dropping it if the queue is full rather than
// blocking the worker indefinitely.
func (b *Bus) Publish(e Event) {
	select {
	case b.events <- e:
	default:
	}
}

// Events returns the channel UI layers should range over.
func (b *Bus) Events() <-chan Event { return b.events }

// Close signals that no further events will be published. Callers must
// ensure all producers have stopped before calling Close.
func (b *Bus) Close() { close(b.events) }

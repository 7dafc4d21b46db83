package adapter

// Adapter defines the interface for printer communication adapters
type Adapter interface {
	// Open opens the connection to the printer
	Open() error

	// Write sends data to the printer
	Write(data []byte) (int, error)

	// Read reads status bytes from the printer
	Read(buf []byte) (int, error)

	// Close closes the connection to the printer. The adapter can be opened again.
	Close() error

	// IsOpen returns whether the connection is open
	IsOpen() bool
}

// EventType represents device events
type EventType int

const (
	EventConnect EventType = iota
	EventDetach
	EventData
	EventClose
)

func (t EventType) String() string {
	switch t {
	case EventConnect:
		return "connect"
	case EventDetach:
		return "detach"
	case EventData:
		return "data"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// Event represents a device event
type Event struct {
	Type  EventType
	Data  []byte
	Error error
}

// Notifier is implemented by adapters that report device events
type Notifier interface {
	On(eventType EventType, handler func(Event))
}

// listeners is an embeddable event fan-out
type listeners struct {
	handlers map[EventType][]func(Event)
}

func (l *listeners) add(eventType EventType, handler func(Event)) {
	if l.handlers == nil {
		l.handlers = make(map[EventType][]func(Event))
	}
	l.handlers[eventType] = append(l.handlers[eventType], handler)
}

func (l *listeners) snapshot(eventType EventType) []func(Event) {
	return append(([]func(Event))(nil), l.handlers[eventType]...)
}

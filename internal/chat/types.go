// Package chat defines the message, room, and connection types shared by the
// history loader, the live channel, and the room session controller.
package chat

// Origin records where a Message entered the log.
type Origin int

const (
	// OriginHistory marks a message returned by the history backlog.
	OriginHistory Origin = iota
	// OriginLive marks a message received over the live channel.
	OriginLive
)

func (o Origin) String() string {
	switch o {
	case OriginHistory:
		return "history"
	case OriginLive:
		return "live"
	default:
		return "unknown"
	}
}

// Message is a single chat line. Messages are immutable once appended to a log.
type Message struct {
	Sender  string
	Content string
	Origin  Origin
}

// RoomRef identifies the room a user selected. A RoomRef is replaced
// wholesale when the user picks another room, never edited in place.
type RoomRef struct {
	RoomID      string `validate:"required"`
	RoomName    string
	ServerID    string
	Description string
}

// Server is an entry of the server directory.
type Server struct {
	ID   string
	Name string
}

// ConnectionState is the lifecycle state of a live channel.
type ConnectionState int

const (
	Idle ConnectionState = iota
	Connecting
	Open
	Closed
	Errored
)

func (s ConnectionState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

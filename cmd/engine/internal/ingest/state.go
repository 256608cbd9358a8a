package ingest

// State is the ingestion loop's position in its connection lifecycle
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateConsuming
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateConsuming:
		return "consuming"
	default:
		return "unknown"
	}
}

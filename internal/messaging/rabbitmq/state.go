package rabbitmq

// State описывает фазу жизненного цикла consumer.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConsuming
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConsuming:
		return "consuming"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

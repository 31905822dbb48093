package tail

// TerminalKind identifies the single final event of a session.
type TerminalKind int

const (
	// Stopped means the session was cancelled by Stop, StopAll or a replacing Start.
	Stopped TerminalKind = iota
	// Truncated means the file shrank or disappeared since it was last observed.
	Truncated
	// ReadError means a read or stat on the open file failed.
	ReadError
	// ListenerFault means the read-and-deliver step panicked.
	ListenerFault
)

func (k TerminalKind) String() string {
	switch k {
	case Stopped:
		return "stopped"
	case Truncated:
		return "truncated"
	case ReadError:
		return "read-error"
	case ListenerFault:
		return "listener-fault"
	default:
		return "unknown"
	}
}

// Observer receives the output of one session. Calls for a given session
// never overlap; they must not block indefinitely.
type Observer interface {
	// OnLine is called once per complete line, without its terminator.
	// The observer owns line.
	OnLine(id string, line []byte)
	// OnTerminal is called exactly once when the session ends.
	OnTerminal(id string, kind TerminalKind, message string)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Line     func(id string, line []byte)
	Terminal func(id string, kind TerminalKind, message string)
}

func (o ObserverFuncs) OnLine(id string, line []byte) {
	if o.Line != nil {
		o.Line(id, line)
	}
}

func (o ObserverFuncs) OnTerminal(id string, kind TerminalKind, message string) {
	if o.Terminal != nil {
		o.Terminal(id, kind, message)
	}
}

package mutation

import "fmt"

// Kind discriminates mutation failures for the caller.
type Kind int

// Failure kinds.
const (
	KindNone Kind = iota
	KindValidation
	KindNotFound
	KindBusy
	KindNetwork
	KindClient
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "ok"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindBusy:
		return "busy"
	case KindNetwork:
		return "network"
	case KindClient:
		return "client"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

// Error is returned by Create and Delete.
type Error struct {
	Op   string
	ID   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s note %s: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("%s note: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

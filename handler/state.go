package handler

// State is the lifecycle state of a façade. It only changes under the façade lock.
type State uint8

const (
	Uninitialized State = iota
	Initializing
	Ready
	Failed
	Deinitialized
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	case Deinitialized:
		return "deinitialized"
	default:
		return "unknown"
	}
}

// Driver is the contract a device driver satisfies to be owned by a façade.
// A driver is built from exactly one adapter and never owns it.
type Driver interface {
	Initialize() error
}

// Deinitializer is implemented by drivers that must reach a safe output state
// before they are dropped.
type Deinitializer interface {
	Deinitialize() error
}

// Package browser drives the headless browser session used to operate
// the debrid manager web UI.
package browser

// Status classifies the result of a DOM query. A selector that is
// absent right now and a selector that never appeared within its wait
// window are different signals and callers branch on them differently.
type Status int

const (
	// StatusFound means the element was present and the operation ran.
	StatusFound Status = iota
	// StatusNotFound means the element is not in the DOM.
	StatusNotFound
	// StatusTimedOut means the wait window elapsed before the element
	// reached the requested state.
	StatusTimedOut
)

func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusNotFound:
		return "not_found"
	case StatusTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Outcome carries a DOM query result together with its status. Value
// is only meaningful when Status is StatusFound.
type Outcome[T any] struct {
	Status Status
	Value  T
	Err    error
}

// Hit wraps a successful query result.
func Hit[T any](v T) Outcome[T] {
	return Outcome[T]{Status: StatusFound, Value: v}
}

// Miss marks the element as absent.
func Miss[T any]() Outcome[T] {
	return Outcome[T]{Status: StatusNotFound}
}

// Expired marks the wait window as elapsed.
func Expired[T any](err error) Outcome[T] {
	return Outcome[T]{Status: StatusTimedOut, Err: err}
}

// Found reports whether the query produced a value.
func (o Outcome[T]) Found() bool { return o.Status == StatusFound }

// TimedOut reports whether the wait window elapsed.
func (o Outcome[T]) TimedOut() bool { return o.Status == StatusTimedOut }

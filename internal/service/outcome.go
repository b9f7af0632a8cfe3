package service

// Outcome carries the result of a step that calls an unreliable collaborator.
// Fallback is set when Value came from the deterministic default instead.
type Outcome[T any] struct {
	Value    T
	Fallback bool
	Reason   string
}

func succeeded[T any](v T) Outcome[T] {
	return Outcome[T]{Value: v}
}

func fellBack[T any](v T, reason string) Outcome[T] {
	return Outcome[T]{Value: v, Fallback: true, Reason: reason}
}

package types

// CompletionTracker records scenario completions and PASSIVE open/close so the process knows when it may exit.
type CompletionTracker interface {
	MarkScenarioCompleted(eqpID string)
	// MarkPassiveOpened is called once the handshake of a PASSIVE connection succeeded.
	MarkPassiveOpened(eqpID string)
	// MarkPassiveClosed is called when the TC closes a PASSIVE connection.
	MarkPassiveClosed(eqpID string)
}

type noopTracker struct{}

func (noopTracker) MarkScenarioCompleted(string) {}
func (noopTracker) MarkPassiveOpened(string)     {}
func (noopTracker) MarkPassiveClosed(string)     {}

// NoopTracker ignores every event. Handy for tests and one-off runs.
var NoopTracker CompletionTracker = noopTracker{}

// EventSink receives observable simulator events (frames, scenario progress).
// The web hub implements it; nil sinks are allowed everywhere.
type EventSink interface {
	PublishEqpEvent(ev *EqpEvent)
}

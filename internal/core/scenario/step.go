package scenario

import "time"

// Step is one executable line of a scenario file.
type Step interface {
	Kind() string
}

// WaitCmd blocks until the TC sends a frame whose CMD equals ExpectedCmd.
type WaitCmd struct {
	ExpectedCmd string // upper-cased
	// Timeout overrides the EQP wait timeout when > 0.
	Timeout time.Duration
}

// Send writes one payload template and continues immediately.
type Send struct {
	Payload string
}

type EmitMode string

const (
	EmitInterval EmitMode = "INTERVAL"
	EmitWindow   EmitMode = "WINDOW"
)

// Emit repeatedly sends a payload, either every Period or Count times spread randomly over a window.
type Emit struct {
	Mode    EmitMode
	Period  time.Duration // interval for INTERVAL, window length for WINDOW
	Count   int
	Forever bool
	Payload string
	Jitter  time.Duration // INTERVAL only
}

type Sleep struct {
	Duration time.Duration
}

type Label struct {
	Name string
}

type Goto struct {
	Label string
}

// Loop jumps back to Label until it has done so Count times, then falls through.
type Loop struct {
	Count int
	Label string
}

type FaultType string

const (
	FaultDelay      FaultType = "DELAY"
	FaultFragment   FaultType = "FRAGMENT"
	FaultDrop       FaultType = "DROP"
	FaultCorrupt    FaultType = "CORRUPT"
	FaultDisconnect FaultType = "DISCONNECT"
	FaultClear      FaultType = "CLEAR"
)

type FaultScope string

const (
	ScopeDuration FaultScope = "DURATION"
	ScopeNext     FaultScope = "NEXT"
)

// Fault installs or clears a network fault on the outbound path.
// Only the fields relevant to Type are set.
type Fault struct {
	Type  FaultType
	Scope FaultScope

	Duration  time.Duration // ScopeDuration
	NextCount int           // ScopeNext

	Delay  time.Duration
	Jitter time.Duration

	MinParts int
	MaxParts int

	Rate           float64
	ProtectFraming bool

	After time.Duration
	Down  time.Duration
}

func (WaitCmd) Kind() string { return "WAIT" }
func (Send) Kind() string    { return "SEND" }
func (Emit) Kind() string    { return "EMIT" }
func (Sleep) Kind() string   { return "SLEEP" }
func (Label) Kind() string   { return "LABEL" }
func (Goto) Kind() string    { return "GOTO" }
func (Loop) Kind() string    { return "LOOP" }
func (Fault) Kind() string   { return "FAULT" }

package scenario

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func parseString(t *testing.T, src string) (*Plan, error) {
	t.Helper()
	return Parse(strings.NewReader(src), "test.md")
}

func mustParse(t *testing.T, src string) *Plan {
	t.Helper()
	plan, err := parseString(t, src)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return plan
}

func TestParseBasicScenario(t *testing.T) {
	plan := mustParse(t, `
# comment
[Sim] label=MAIN
[TcToEqp] CMD=PING
[EqpToTc] CMD=PONG EQPID={eqpid}
[EqpToTc] every=1s count=2 CMD=EV
[Sim] sleep=10ms
[Sim] loop=count=2 goto=MAIN
[Sim] fault=drop rate=0.1 count=5
`)

	if len(plan.Steps) != 7 {
		t.Fatalf("Expected 7 steps, but got %d", len(plan.Steps))
	}
	if idx, ok := plan.LabelStep("MAIN"); !ok || idx != 0 {
		t.Errorf("Expected label MAIN at 0, but got %d (found=%v)", idx, ok)
	}

	wait, ok := plan.Steps[1].(WaitCmd)
	if !ok || wait.ExpectedCmd != "PING" || wait.Timeout != 0 {
		t.Errorf("Expected WAIT PING without override, but got %#v", plan.Steps[1])
	}
	send, ok := plan.Steps[2].(Send)
	if !ok || send.Payload != "CMD=PONG EQPID={eqpid}" {
		t.Errorf("Expected SEND payload, but got %#v", plan.Steps[2])
	}
	emit, ok := plan.Steps[3].(Emit)
	if !ok || emit.Mode != EmitInterval || emit.Period != time.Second || emit.Count != 2 || emit.Payload != "CMD=EV" {
		t.Errorf("Unexpected EMIT step: %#v", plan.Steps[3])
	}
	if sl, ok := plan.Steps[4].(Sleep); !ok || sl.Duration != 10*time.Millisecond {
		t.Errorf("Expected SLEEP 10ms, but got %#v", plan.Steps[4])
	}
	loop, ok := plan.Steps[5].(Loop)
	if !ok || loop.Count != 2 || loop.Label != "MAIN" {
		t.Errorf("Expected LOOP count=2 goto=MAIN, but got %#v", plan.Steps[5])
	}
	fault, ok := plan.Steps[6].(Fault)
	if !ok || fault.Type != FaultDrop || fault.Scope != ScopeNext || fault.NextCount != 5 || fault.Rate != 0.1 {
		t.Errorf("Unexpected FAULT step: %#v", plan.Steps[6])
	}
}

func TestParseLoopIsNotTreatedAsGoto(t *testing.T) {
	plan := mustParse(t, "[Sim] label=A\n[Sim] loop=3 goto=A\n[Sim] goto=A\n")

	if _, ok := plan.Steps[1].(Loop); !ok {
		t.Fatalf("Expected loop line to parse as Loop, but got %T", plan.Steps[1])
	}
	if _, ok := plan.Steps[2].(Goto); !ok {
		t.Fatalf("Expected goto line to parse as Goto, but got %T", plan.Steps[2])
	}
}

func TestParseNumberPrefixAndCase(t *testing.T) {
	plan := mustParse(t, "1) [tctoeqp] cmd=initialize_ack timeout=15s\n(2) [EQPTOTC] CMD=X\n")

	wait := plan.Steps[0].(WaitCmd)
	if wait.ExpectedCmd != "INITIALIZE_ACK" {
		t.Errorf("Expected INITIALIZE_ACK, but got %s", wait.ExpectedCmd)
	}
	if wait.Timeout != 15*time.Second {
		t.Errorf("Expected 15s timeout, but got %v", wait.Timeout)
	}
	if len(plan.Steps) != 2 {
		t.Errorf("Expected 2 steps, but got %d", len(plan.Steps))
	}
}

func TestParseEmitVariants(t *testing.T) {
	plan := mustParse(t, `[EqpToTc] every=500ms count=forever jitter=-5ms CMD=A V={var.x}
[EqpToTc] CMD=B window=10 COUNT=3 EXTRA=1
`)

	forever := plan.Steps[0].(Emit)
	if !forever.Forever || forever.Period != 500*time.Millisecond || forever.Jitter != 0 {
		t.Errorf("Unexpected forever emit: %#v", forever)
	}
	if forever.Payload != "CMD=A V={var.x}" {
		t.Errorf("Expected control tokens to be stripped, but got '%s'", forever.Payload)
	}

	window := plan.Steps[1].(Emit)
	if window.Mode != EmitWindow || window.Period != 10*time.Second || window.Count != 3 {
		t.Errorf("Unexpected window emit: %#v", window)
	}
	if window.Payload != "CMD=B EXTRA=1" {
		t.Errorf("Expected 'CMD=B EXTRA=1', but got '%s'", window.Payload)
	}
}

func TestParseFaults(t *testing.T) {
	plan := mustParse(t, `[Sim] fault=delay ms=200ms jitter=50ms duration=30s
[Sim] fault=fragment minParts=2 maxParts=4 count=3
[Sim] fault=corrupt rate=1 count=1
[Sim] fault=corrupt rate=0.5 protectFraming=false duration=1s
[Sim] fault=disconnect after=2s down=5s count=1
[Sim] fault=clear count=1
`)

	delay := plan.Steps[0].(Fault)
	if delay.Scope != ScopeDuration || delay.Duration != 30*time.Second ||
		delay.Delay != 200*time.Millisecond || delay.Jitter != 50*time.Millisecond {
		t.Errorf("Unexpected delay fault: %#v", delay)
	}
	frag := plan.Steps[1].(Fault)
	if frag.MinParts != 2 || frag.MaxParts != 4 || frag.NextCount != 3 {
		t.Errorf("Unexpected fragment fault: %#v", frag)
	}
	if c := plan.Steps[2].(Fault); !c.ProtectFraming || c.Rate != 1 {
		t.Errorf("Expected protectFraming to default to true, but got %#v", c)
	}
	if c := plan.Steps[3].(Fault); c.ProtectFraming {
		t.Errorf("Expected protectFraming=false, but got %#v", c)
	}
	disc := plan.Steps[4].(Fault)
	if disc.After != 2*time.Second || disc.Down != 5*time.Second {
		t.Errorf("Unexpected disconnect fault: %#v", disc)
	}
	if c := plan.Steps[5].(Fault); c.Type != FaultClear {
		t.Errorf("Expected CLEAR, but got %s", c.Type)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"no tag", "CMD=A"},
		{"tag not at start", "x [Sim] sleep=1"},
		{"empty tag", "[] CMD=A"},
		{"unknown tag", "[Foo] CMD=A"},
		{"wait without cmd", "[TcToEqp] timeout=5s"},
		{"sub second timeout", "[TcToEqp] CMD=A timeout=500ms"},
		{"blank send", "[EqpToTc]"},
		{"emit without count", "[EqpToTc] every=1s CMD=A"},
		{"emit bad count", "[EqpToTc] every=1s count=abc CMD=A"},
		{"emit zero interval", "[EqpToTc] every=0 count=1 CMD=A"},
		{"emit blank payload", "[EqpToTc] every=1s count=1"},
		{"window forever", "[EqpToTc] window=1s count=forever CMD=A"},
		{"blank sim", "[Sim]"},
		{"unknown sim", "[Sim] jump=A"},
		{"bad sleep", "[Sim] sleep=abc"},
		{"loop zero", "[Sim] label=A\n[Sim] loop=count=0 goto=A"},
		{"loop without goto", "[Sim] label=A\n[Sim] loop=2"},
		{"duplicate label", "[Sim] label=A\n[Sim] label=A"},
		{"missing goto label", "[Sim] goto=NOPE"},
		{"missing loop label", "[Sim] loop=2 goto=NOPE"},
		{"bad fault type", "[Sim] fault=explode count=1"},
		{"fault without scope", "[Sim] fault=drop rate=0.1"},
		{"fault zero count", "[Sim] fault=drop rate=0.1 count=0"},
		{"delay without ms", "[Sim] fault=delay count=1"},
		{"fragment bad parts", "[Sim] fault=fragment minParts=3 maxParts=2 count=1"},
		{"drop without rate", "[Sim] fault=drop count=1"},
		{"disconnect without after", "[Sim] fault=disconnect count=1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseString(t, tt.src); err == nil {
				t.Fatalf("Expected error for %q, but got nil", tt.src)
			}
		})
	}
}

func TestParseErrorCarriesLocation(t *testing.T) {
	_, err := parseString(t, "# header\n\n[Sim] sleep=1\n[Nope] x\n")
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("Expected *ParseError, but got %v", err)
	}
	if perr.Line != 4 || perr.File != "test.md" {
		t.Errorf("Expected test.md:4, but got %s:%d", perr.File, perr.Line)
	}
	if !strings.Contains(err.Error(), "test.md:4") {
		t.Errorf("Expected error text to contain location, but got '%s'", err.Error())
	}
}

func TestParseDuration(t *testing.T) {
	tests := map[string]time.Duration{
		"250ms": 250 * time.Millisecond,
		"3s":    3 * time.Second,
		"7":     7 * time.Second,
		" 2S ":  2 * time.Second,
		"10MS":  10 * time.Millisecond,
	}
	for in, want := range tests {
		got, err := ParseDuration(in)
		if err != nil || got != want {
			t.Errorf("ParseDuration(%q): Expected %v, but got %v (err=%v)", in, want, got, err)
		}
	}
	if _, err := ParseDuration("soon"); err == nil {
		t.Error("Expected error for 'soon', but got nil")
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.md")
	if err := os.WriteFile(path, []byte("[TcToEqp] CMD=PING\n[EqpToTc] CMD=PONG\n"), 0644); err != nil {
		t.Fatal(err)
	}
	plan, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}
	if plan.SourceFile != path || len(plan.Steps) != 2 {
		t.Errorf("Unexpected plan: %+v", plan)
	}

	if _, err := ParseFile(filepath.Join(t.TempDir(), "missing.md")); err == nil {
		t.Error("Expected error for missing file, but got nil")
	}
}

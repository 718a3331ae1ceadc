package scenario

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"tc_eqpsim/internal/shared/protocol"
)

// numberPrefix matches list numbering such as "1) " or "(12) " in front of a step.
var numberPrefix = regexp.MustCompile(`^\(?\d+\)?\s*\)\s*`)

var emitControlKeys = map[string]struct{}{
	"every":  {},
	"window": {},
	"count":  {},
	"jitter": {},
}

// ParseError reports a scenario syntax error together with its location.
type ParseError struct {
	File string
	Line int // 0 when the error is not bound to a line
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s at %s:%d", e.Msg, e.File, e.Line)
	}
	return fmt.Sprintf("%s in %s", e.Msg, e.File)
}

// ParseFile reads and parses a markdown scenario file.
func ParseFile(path string) (*Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("scenario file not found: %s", path)
		}
		return nil, err
	}
	defer f.Close()
	return Parse(f, path)
}

// Parse parses scenario lines from r. source names the input in error messages.
func Parse(r io.Reader, source string) (*Plan, error) {
	p := &parser{file: source}

	plan := &Plan{SourceFile: source, LabelIndex: make(map[string]int)}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		p.line++
		raw := scanner.Text()
		line := preprocessLine(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		rb := strings.IndexByte(line, ']')
		if line[0] != '[' || rb <= 1 {
			return nil, p.errorf("invalid step tag -> %s", raw)
		}
		tag := strings.TrimSpace(line[1:rb])
		body := strings.TrimSpace(line[rb+1:])

		var (
			step Step
			err  error
		)
		switch {
		case strings.EqualFold(tag, "TcToEqp"):
			step, err = p.parseWait(body)
		case strings.EqualFold(tag, "EqpToTc"):
			step, err = p.parseEqpToTc(body)
		case strings.EqualFold(tag, "Sim"):
			step, err = p.parseSim(body)
		default:
			return nil, p.errorf("unknown tag [%s]", tag)
		}
		if err != nil {
			return nil, err
		}

		if l, ok := step.(Label); ok {
			if _, dup := plan.LabelIndex[l.Name]; dup {
				return nil, p.errorf("duplicate label '%s'", l.Name)
			}
			plan.LabelIndex[l.Name] = len(plan.Steps)
		}
		plan.Steps = append(plan.Steps, step)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read scenario %s: %w", source, err)
	}

	for _, st := range plan.Steps {
		switch s := st.(type) {
		case Goto:
			if _, ok := plan.LabelIndex[s.Label]; !ok {
				return nil, &ParseError{File: source, Msg: "goto label not found: " + s.Label}
			}
		case Loop:
			if _, ok := plan.LabelIndex[s.Label]; !ok {
				return nil, &ParseError{File: source, Msg: "loop goto label not found: " + s.Label}
			}
		}
	}
	return plan, nil
}

type parser struct {
	file string
	line int
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return &ParseError{File: p.file, Line: p.line, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) parseWait(body string) (Step, error) {
	m := protocol.ParseToUpperKeyMap(body)
	cmd := strings.TrimSpace(m["CMD"])
	if cmd == "" {
		return nil, p.errorf("WAIT step requires CMD=...")
	}
	step := WaitCmd{ExpectedCmd: strings.ToUpper(cmd)}

	if ts := strings.TrimSpace(m["TIMEOUT"]); ts != "" {
		d, err := p.duration("timeout", ts)
		if err != nil {
			return nil, err
		}
		// timeouts are whole seconds
		sec := d / time.Second
		if sec <= 0 {
			return nil, p.errorf("timeout must be >0")
		}
		step.Timeout = sec * time.Second
	}
	return step, nil
}

func (p *parser) parseEqpToTc(body string) (Step, error) {
	m := protocol.ParseToUpperKeyMap(body)
	_, hasEvery := m["EVERY"]
	_, hasWindow := m["WINDOW"]
	if hasEvery || hasWindow {
		return p.parseEmit(body, m)
	}
	if body == "" {
		return nil, p.errorf("SEND step payload is blank")
	}
	return Send{Payload: body}, nil
}

func (p *parser) parseEmit(body string, m map[string]string) (Step, error) {
	countStr := strings.TrimSpace(m["COUNT"])
	if countStr == "" {
		return nil, p.errorf("EMIT requires count=...")
	}

	var step Emit
	if strings.EqualFold(countStr, "forever") {
		step.Forever = true
	} else {
		c, err := strconv.Atoi(countStr)
		if err != nil {
			return nil, p.errorf("invalid count -> %s", countStr)
		}
		if c <= 0 {
			return nil, p.errorf("count must be > 0")
		}
		step.Count = c
	}

	var err error
	if every, ok := m["EVERY"]; ok {
		step.Mode = EmitInterval
		step.Period, err = p.duration("every", every)
	} else {
		step.Mode = EmitWindow
		step.Period, err = p.duration("window", m["WINDOW"])
	}
	if err != nil {
		return nil, err
	}
	if step.Period <= 0 {
		return nil, p.errorf("interval/window must be > 0")
	}
	if step.Mode == EmitWindow && step.Forever {
		return nil, p.errorf("window emit does not support count=forever")
	}

	if js := strings.TrimSpace(m["JITTER"]); js != "" {
		j, err := p.duration("jitter", js)
		if err != nil {
			return nil, err
		}
		if j < 0 {
			j = 0
		}
		step.Jitter = j
	}

	step.Payload = stripControlTokens(body)
	if step.Payload == "" {
		return nil, p.errorf("EMIT payload is blank")
	}
	return step, nil
}

func (p *parser) parseSim(body string) (Step, error) {
	if body == "" {
		return nil, p.errorf("[Sim] step body blank")
	}
	m := protocol.ParseToUpperKeyMap(body)

	if v, ok := m["SLEEP"]; ok {
		d, err := p.duration("sleep", v)
		if err != nil {
			return nil, err
		}
		if d < 0 {
			return nil, p.errorf("sleep must be >= 0")
		}
		return Sleep{Duration: d}, nil
	}
	if v := strings.TrimSpace(m["LABEL"]); v != "" {
		return Label{Name: v}, nil
	}
	// loop lines carry a goto= token as well, so LOOP has to be matched first
	if v, ok := m["LOOP"]; ok {
		count, err := p.loopCount(v)
		if err != nil {
			return nil, err
		}
		target := strings.TrimSpace(m["GOTO"])
		if target == "" {
			return nil, p.errorf("loop requires goto=LABEL")
		}
		return Loop{Count: count, Label: target}, nil
	}
	if v := strings.TrimSpace(m["GOTO"]); v != "" {
		return Goto{Label: v}, nil
	}
	if _, ok := m["FAULT"]; ok {
		return p.parseFault(m)
	}
	return nil, p.errorf("unknown [Sim] command -> %s", body)
}

func (p *parser) loopCount(value string) (int, error) {
	v := strings.TrimSpace(value)
	if strings.HasPrefix(strings.ToLower(v), "count=") {
		v = strings.TrimSpace(v[len("count="):])
	}
	c, err := strconv.Atoi(v)
	if err != nil || c <= 0 {
		return 0, p.errorf("invalid loop count -> %s", value)
	}
	return c, nil
}

func (p *parser) parseFault(m map[string]string) (Step, error) {
	typeStr := strings.ToUpper(strings.TrimSpace(m["FAULT"]))
	f := Fault{Type: FaultType(typeStr)}
	switch f.Type {
	case FaultDelay, FaultFragment, FaultDrop, FaultCorrupt, FaultDisconnect, FaultClear:
	default:
		return nil, p.errorf("invalid fault type -> %s", m["FAULT"])
	}

	if ds := strings.TrimSpace(m["DURATION"]); ds != "" {
		d, err := p.duration("duration", ds)
		if err != nil {
			return nil, err
		}
		if d <= 0 {
			return nil, p.errorf("duration must be > 0")
		}
		f.Scope = ScopeDuration
		f.Duration = d
	} else {
		cs := strings.TrimSpace(m["COUNT"])
		if cs == "" {
			return nil, p.errorf("fault requires duration=... OR count=... (next scope)")
		}
		n, err := strconv.Atoi(cs)
		if err != nil {
			return nil, p.errorf("invalid fault count -> %s", cs)
		}
		if n <= 0 {
			return nil, p.errorf("fault count must be > 0")
		}
		f.Scope = ScopeNext
		f.NextCount = n
	}

	var err error
	switch f.Type {
	case FaultDelay:
		ms, ok := m["MS"]
		if !ok {
			return nil, p.errorf("fault=delay requires ms=...")
		}
		if f.Delay, err = p.duration("ms", ms); err != nil {
			return nil, err
		}
		if j, ok := m["JITTER"]; ok {
			if f.Jitter, err = p.duration("jitter", j); err != nil {
				return nil, err
			}
		}
		if f.Delay < 0 || f.Jitter < 0 {
			return nil, p.errorf("delay and jitter must be >= 0")
		}
	case FaultFragment:
		minStr, okMin := m["MINPARTS"]
		maxStr, okMax := m["MAXPARTS"]
		if !okMin || !okMax {
			return nil, p.errorf("fault=fragment requires minParts=.. maxParts=..")
		}
		minParts, err1 := strconv.Atoi(strings.TrimSpace(minStr))
		maxParts, err2 := strconv.Atoi(strings.TrimSpace(maxStr))
		if err1 != nil || err2 != nil || minParts <= 0 || maxParts < minParts {
			return nil, p.errorf("invalid fragment parts")
		}
		f.MinParts, f.MaxParts = minParts, maxParts
	case FaultDrop, FaultCorrupt:
		rateStr, ok := m["RATE"]
		if !ok {
			return nil, p.errorf("fault=%s requires rate=..", strings.ToLower(typeStr))
		}
		if f.Rate, err = strconv.ParseFloat(strings.TrimSpace(rateStr), 64); err != nil {
			return nil, p.errorf("invalid rate -> %s", rateStr)
		}
		if f.Type == FaultCorrupt {
			f.ProtectFraming = true
			if v, ok := m["PROTECTFRAMING"]; ok {
				f.ProtectFraming = strings.EqualFold(strings.TrimSpace(v), "true")
			}
		}
	case FaultDisconnect:
		after, ok := m["AFTER"]
		if !ok {
			return nil, p.errorf("fault=disconnect requires after=..")
		}
		if f.After, err = p.duration("after", after); err != nil {
			return nil, err
		}
		if down, ok := m["DOWN"]; ok {
			if f.Down, err = p.duration("down", down); err != nil {
				return nil, err
			}
		}
	}
	return f, nil
}

func (p *parser) duration(name, value string) (time.Duration, error) {
	d, err := ParseDuration(value)
	if err != nil {
		return 0, p.errorf("invalid %s -> %s", name, value)
	}
	return d, nil
}

// ParseDuration accepts "<n>ms", "<n>s" or a bare "<n>" in seconds.
func ParseDuration(s string) (time.Duration, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	unit := time.Second
	switch {
	case strings.HasSuffix(v, "ms"):
		v, unit = v[:len(v)-2], time.Millisecond
	case strings.HasSuffix(v, "s"):
		v = v[:len(v)-1]
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * unit, nil
}

func preprocessLine(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	return strings.TrimSpace(numberPrefix.ReplaceAllString(s, ""))
}

func stripControlTokens(body string) string {
	var kept []string
	for _, t := range strings.Fields(body) {
		if eq := strings.IndexByte(t, '='); eq > 0 {
			if _, ok := emitControlKeys[strings.ToLower(strings.TrimSpace(t[:eq]))]; ok {
				continue
			}
		}
		kept = append(kept, t)
	}
	return strings.Join(kept, " ")
}

package scenario

// Plan is a parsed scenario. It is shared by every connection using the same profile and must not be modified.
type Plan struct {
	SourceFile string
	Steps      []Step
	LabelIndex map[string]int
}

// LabelStep returns the step index of a label.
func (p *Plan) LabelStep(name string) (int, bool) {
	idx, ok := p.LabelIndex[name]
	return idx, ok
}

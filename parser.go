package eisfit

import (
	"fmt"
	"strings"
)

// ParseError reports a malformed circuit description string. Pos is a byte
// offset into the whitespace-stripped circuit string.
type ParseError struct {
	Circuit string
	Pos     int
	Msg     string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %q at offset %d: %s", e.Circuit, e.Pos, e.Msg)
}

// MissingValueError reports a circuit parameter absent from the supplied
// value map.
type MissingValueError struct {
	Name string
}

func (e *MissingValueError) Error() string {
	return fmt.Sprintf("no value given for %s", e.Name)
}

// Circuit is a compiled circuit description: the ordered parameter
// descriptors required by the circuit plus a pure impedance evaluator.
// A Circuit is immutable and safe to reuse across fits and goroutines.
//
// The description grammar is
//
//	circuit  = element { "-" element }
//	element  = component | parallel
//	parallel = "p(" circuit { "," circuit } ")"
//
// where a component token is the symbol of a registered element kind
// optionally followed by a single digit to tell instances apart, e.g.
// "R0-p(R1,C1)-p(R2,C2)".
type Circuit struct {
	Code   string
	Params []Parameter

	root node
}

// node is one subtree of the parsed circuit: either an element leaf or a
// series/parallel composition of children.
type node struct {
	comp     Component // leaf only
	name     string    // leaf only
	parallel bool
	children []node
}

// ParseCircuit compiles a circuit description string. Whitespace is
// insignificant. The returned parameter descriptors appear in first-seen
// order; declaring the same instance name twice is an error.
func ParseCircuit(code string) (*Circuit, error) {
	stripped := strings.ReplaceAll(code, " ", "")
	p := &parser{input: stripped}

	if stripped == "" {
		return nil, p.errorf(0, "empty circuit")
	}

	root, err := p.circuit()
	if err != nil {
		return nil, err
	}
	if p.pos != len(stripped) {
		return nil, p.errorf(p.pos, "unexpected %q", stripped[p.pos:])
	}

	seen := make(map[string]bool, len(p.params))
	for _, param := range p.params {
		if seen[param.Name] {
			return nil, p.errorf(0, "duplicate parameter %s", param.Name)
		}
		seen[param.Name] = true
	}

	return &Circuit{Code: code, Params: p.params, root: root}, nil
}

// parser consumes the circuit string from the left, collecting parameter
// descriptors in encounter order.
type parser struct {
	input  string
	pos    int
	params []Parameter
}

func (p *parser) errorf(pos int, format string, args ...interface{}) error {
	return &ParseError{Circuit: p.input, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) rest() string { return p.input[p.pos:] }

// circuit = element { "-" element }
func (p *parser) circuit() (node, error) {
	elem, err := p.element()
	if err != nil {
		return node{}, err
	}
	children := []node{elem}
	for strings.HasPrefix(p.rest(), "-") {
		p.pos++
		elem, err = p.element()
		if err != nil {
			return node{}, err
		}
		children = append(children, elem)
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return node{children: children}, nil
}

// element = component | parallel
func (p *parser) element() (node, error) {
	if strings.HasPrefix(p.rest(), "p(") {
		return p.parallelGroup()
	}
	return p.component()
}

// parallel = "p(" circuit { "," circuit } ")"
func (p *parser) parallelGroup() (node, error) {
	open := p.pos
	p.pos += 2
	var children []node
	for {
		if p.pos >= len(p.input) {
			return node{}, p.errorf(open, "unmatched parenthesis")
		}
		child, err := p.circuit()
		if err != nil {
			return node{}, err
		}
		children = append(children, child)
		if strings.HasPrefix(p.rest(), ",") {
			p.pos++
			continue
		}
		break
	}
	if !strings.HasPrefix(p.rest(), ")") {
		return node{}, p.errorf(open, "unmatched parenthesis")
	}
	p.pos++
	return node{parallel: true, children: children}, nil
}

// component = letters [ digit ]
func (p *parser) component() (node, error) {
	start := p.pos
	for p.pos < len(p.input) && isLetter(p.input[p.pos]) {
		p.pos++
	}
	symbol := p.input[start:p.pos]
	if symbol == "" {
		return node{}, p.errorf(start, "expected component")
	}
	name := symbol
	if p.pos < len(p.input) && isDigit(p.input[p.pos]) {
		name += string(p.input[p.pos])
		p.pos++
	}

	comp, ok := lookupComponent(symbol)
	if !ok {
		return node{}, p.errorf(start, "unknown component %q", symbol)
	}
	p.params = append(p.params, comp.Params(name)...)
	return node{comp: comp, name: name}, nil
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// Impedance evaluates the circuit at the given frequencies (Hz). The value
// map must contain at least every parameter named in Params; extra entries
// are ignored. The call is pure and shares no state between invocations.
func (c *Circuit) Impedance(values map[string]float64, freqs []float64) []complex128 {
	return c.root.eval(values, freqs)
}

// MissingValues returns the parameter names absent from values, in
// descriptor order.
func (c *Circuit) MissingValues(values map[string]float64) []string {
	var missing []string
	for _, p := range c.Params {
		if _, ok := values[p.Name]; !ok {
			missing = append(missing, p.Name)
		}
	}
	return missing
}

// Elements returns the component instances of the circuit in encounter
// order, as (kind, instance name) pairs.
func (c *Circuit) Elements() []Element {
	var out []Element
	c.root.elements(&out)
	return out
}

// Element is a single component instance within a parsed circuit.
type Element struct {
	Component Component
	Name      string
}

func (n *node) elements(out *[]Element) {
	if n.comp != nil {
		*out = append(*out, Element{Component: n.comp, Name: n.name})
		return
	}
	for i := range n.children {
		n.children[i].elements(out)
	}
}

// eval interprets the expression tree: series children sum, parallel
// children combine as the reciprocal of the sum of reciprocals.
func (n *node) eval(values map[string]float64, freqs []float64) []complex128 {
	if n.comp != nil {
		return n.comp.Impedance(values, n.name, freqs)
	}
	acc := n.children[0].eval(values, freqs)
	if n.parallel {
		for i := range acc {
			acc[i] = 1 / acc[i]
		}
		for _, child := range n.children[1:] {
			z := child.eval(values, freqs)
			for i := range acc {
				acc[i] += 1 / z[i]
			}
		}
		for i := range acc {
			acc[i] = 1 / acc[i]
		}
		return acc
	}
	for _, child := range n.children[1:] {
		z := child.eval(values, freqs)
		for i := range acc {
			acc[i] += z[i]
		}
	}
	return acc
}

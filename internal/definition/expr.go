package definition

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
)

var (
	// ErrDivisionByZero is returned when an expression divides by zero.
	ErrDivisionByZero = errors.New("division by zero")

	// ErrNonFinite is returned when an expression evaluates to ±Inf or NaN.
	ErrNonFinite = errors.New("non-finite result")
)

// Expr is a compiled arithmetic expression over named float64 values.
type Expr struct {
	src     string
	inputs  []string
	names   []string
	program *vm.Program
}

type function struct {
	min, max int // max < 0: variadic
	call     func(args []float64) (float64, error)
}

// div and mod back the / and % operators so division by zero is an error
// instead of an infinity.
var functions = map[string]function{
	"min": {min: 1, max: -1, call: func(a []float64) (float64, error) {
		out := a[0]
		for _, v := range a[1:] {
			out = math.Min(out, v)
		}
		return out, nil
	}},
	"max": {min: 1, max: -1, call: func(a []float64) (float64, error) {
		out := a[0]
		for _, v := range a[1:] {
			out = math.Max(out, v)
		}
		return out, nil
	}},
	"abs": {min: 1, max: 1, call: func(a []float64) (float64, error) {
		return math.Abs(a[0]), nil
	}},
	"sqrt": {min: 1, max: 1, call: func(a []float64) (float64, error) {
		if a[0] < 0 {
			return 0, fmt.Errorf("sqrt of negative value %v", a[0])
		}
		return math.Sqrt(a[0]), nil
	}},
	"div": {min: 2, max: 2, call: func(a []float64) (float64, error) {
		if a[1] == 0 {
			return 0, ErrDivisionByZero
		}
		return a[0] / a[1], nil
	}},
	"mod": {min: 2, max: 2, call: func(a []float64) (float64, error) {
		if a[1] == 0 {
			return 0, ErrDivisionByZero
		}
		return math.Mod(a[0], a[1]), nil
	}},
}

var operatorFuncs = map[string]string{"/": "div", "%": "mod"}

// ParseExpr compiles src with only inputs in scope. Supported: + - * / %,
// unary minus, parentheses, numeric literals, input names and the
// functions min, max, abs, sqrt.
func ParseExpr(src string, inputs []string) (*Expr, error) {
	if strings.TrimSpace(src) == "" {
		return nil, errors.New("empty expression")
	}
	tree, err := parser.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("expression %q: %v", src, err)
	}
	chk := &checker{reads: make(map[string]int)}
	ast.Walk(&tree.Node, chk)
	if chk.err != nil {
		return nil, fmt.Errorf("expression %q: %v", src, chk.err)
	}

	allowed := make(map[string]struct{}, len(inputs))
	env := make(map[string]any, len(inputs))
	for _, name := range inputs {
		allowed[name] = struct{}{}
		env[name] = float64(0)
	}
	names := chk.names()
	for _, name := range names {
		if _, ok := allowed[name]; !ok {
			return nil, fmt.Errorf("expression %q reads %q which is not an input", src, name)
		}
	}

	opts := []expr.Option{
		expr.Env(env),
		expr.DisableAllBuiltins(),
		expr.Patch(operatorPatcher{}),
	}
	for name, fn := range functions {
		opts = append(opts, expr.Function(name, fn.adapt(name)))
	}
	program, err := expr.Compile(src, opts...)
	if err != nil {
		return nil, fmt.Errorf("expression %q: %v", src, err)
	}

	return &Expr{
		src:     src,
		inputs:  append([]string(nil), inputs...),
		names:   names,
		program: program,
	}, nil
}

// String returns the source text.
func (e *Expr) String() string {
	return e.src
}

// Names returns the distinct input names the expression reads, sorted.
func (e *Expr) Names() []string {
	return append([]string(nil), e.names...)
}

// Eval evaluates the expression. lookup resolves input names. A result of
// ±Inf or NaN is an error wrapping ErrNonFinite.
func (e *Expr) Eval(lookup func(name string) (float64, bool)) (float64, error) {
	env := make(map[string]any, len(e.inputs))
	for _, name := range e.inputs {
		v, ok := lookup(name)
		if !ok {
			return 0, fmt.Errorf("unknown name %q", name)
		}
		env[name] = v
	}

	out, err := expr.Run(e.program, env)
	if err != nil {
		return 0, err
	}
	v, err := toFloat(out)
	if err != nil {
		return 0, err
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("%w: %v", ErrNonFinite, v)
	}
	return v, nil
}

func (f function) adapt(name string) func(params ...any) (any, error) {
	return func(params ...any) (any, error) {
		args := make([]float64, len(params))
		for i, p := range params {
			v, err := toFloat(p)
			if err != nil {
				return nil, fmt.Errorf("%s: %v", name, err)
			}
			args[i] = v
		}
		return f.call(args)
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("%v (%T) is not a number", v, v)
}

// checker restricts the tree to arithmetic over names and known
// functions, and counts the names read.
type checker struct {
	reads map[string]int
	err   error
}

func (c *checker) Visit(node *ast.Node) {
	if c.err != nil {
		return
	}
	switch n := (*node).(type) {
	case *ast.IntegerNode, *ast.FloatNode:
	case *ast.IdentifierNode:
		c.reads[n.Value]++
	case *ast.UnaryNode:
		if n.Operator != "-" && n.Operator != "+" {
			c.err = fmt.Errorf("unsupported operator %q", n.Operator)
		}
	case *ast.BinaryNode:
		switch n.Operator {
		case "+", "-", "*", "/", "%":
		default:
			c.err = fmt.Errorf("unsupported operator %q", n.Operator)
		}
	case *ast.CallNode:
		callee, ok := n.Callee.(*ast.IdentifierNode)
		if !ok {
			c.err = errors.New("unsupported call")
			return
		}
		c.reads[callee.Value]--
		c.call(callee.Value, len(n.Arguments))
	case *ast.BuiltinNode:
		c.call(n.Name, len(n.Arguments))
	default:
		c.err = fmt.Errorf("unsupported syntax %T", n)
	}
}

func (c *checker) call(name string, args int) {
	fn, ok := functions[name]
	if !ok {
		c.err = fmt.Errorf("unknown function %q", name)
		return
	}
	if args < fn.min || (fn.max >= 0 && args > fn.max) {
		c.err = fmt.Errorf("%s: wrong number of arguments (%d)", name, args)
	}
}

func (c *checker) names() []string {
	out := make([]string, 0, len(c.reads))
	for name, n := range c.reads {
		if n > 0 {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// operatorPatcher routes / and % through div and mod.
type operatorPatcher struct{}

func (operatorPatcher) Visit(node *ast.Node) {
	b, ok := (*node).(*ast.BinaryNode)
	if !ok {
		return
	}
	fn, ok := operatorFuncs[b.Operator]
	if !ok {
		return
	}
	*node = &ast.CallNode{
		Callee:    &ast.IdentifierNode{Value: fn},
		Arguments: []ast.Node{b.Left, b.Right},
	}
}

// Package rates evaluates rate-constant expressions such as
// "p_CO*1e8*exp(-E/(kB*T))" against a parameter table.
//
// Expressions are Go expressions over float64 parameters. The shorthands exp,
// log, sqrt, pow and abs are available, as is the math package.
package rates

import (
	"errors"
	"fmt"
	"go/scanner"
	"go/token"
	"maps"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/kmc-sim/kmc-sim/sim/model"
)

var (
	// ErrUnknownParameter is returned when an expression or an override
	// names a parameter that is not defined.
	ErrUnknownParameter = errors.New("unknown parameter")
	// ErrInvalidExpression is returned when an expression does not evaluate
	// to a finite number.
	ErrInvalidExpression = errors.New("invalid rate expression")
)

// Evaluator computes the value of a rate expression.
type Evaluator interface {
	Evaluate(expr string, params map[string]float64) (float64, error)
}

// shorthands maps the function names usable without the math. prefix.
var shorthands = map[string]string{
	"exp":  "math.Exp",
	"log":  "math.Log",
	"sqrt": "math.Sqrt",
	"pow":  "math.Pow",
	"abs":  "math.Abs",
}

// Interpreter evaluates expressions with an embedded Go interpreter. The
// interpreter is rebuilt only when the parameter table changes. Safe for
// concurrent use.
type Interpreter struct {
	mu     sync.Mutex
	in     *interp.Interpreter
	key    string
	cached map[string]float64
}

// NewInterpreter returns an Interpreter with no parameters loaded.
func NewInterpreter() *Interpreter {
	return &Interpreter{cached: make(map[string]float64)}
}

// Evaluate returns the value of expr. Plain numbers bypass the interpreter.
func (e *Interpreter) Evaluate(expr string, params map[string]float64) (float64, error) {
	expr = strings.TrimSpace(expr)
	if v, err := strconv.ParseFloat(expr, 64); err == nil {
		return checkFinite(expr, v)
	}
	if err := checkIdentifiers(expr, params); err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.load(params); err != nil {
		return 0, err
	}
	if v, ok := e.cached[expr]; ok {
		return v, nil
	}
	res, err := e.in.Eval("float64(" + expr + ")")
	if err != nil {
		return 0, fmt.Errorf("%w %q: %v", ErrInvalidExpression, expr, err)
	}
	if !res.IsValid() || res.Kind() != reflect.Float64 {
		return 0, fmt.Errorf("%w %q: not a number", ErrInvalidExpression, expr)
	}
	v, err := checkFinite(expr, res.Float())
	if err != nil {
		return 0, err
	}
	e.cached[expr] = v
	return v, nil
}

// load rebuilds the interpreter when params differ from the loaded table.
func (e *Interpreter) load(params map[string]float64) error {
	names := slices.Sorted(maps.Keys(params))
	var key strings.Builder
	for _, n := range names {
		fmt.Fprintf(&key, "%s=%s;", n, strconv.FormatFloat(params[n], 'g', -1, 64))
	}
	if e.in != nil && key.String() == e.key {
		return nil
	}

	in := interp.New(interp.Options{})
	if err := in.Use(stdlib.Symbols); err != nil {
		return fmt.Errorf("loading stdlib: %w", err)
	}
	var src strings.Builder
	src.WriteString("import \"math\"\n")
	for _, n := range names {
		fmt.Fprintf(&src, "var %s float64 = %s\n", n, strconv.FormatFloat(params[n], 'g', -1, 64))
	}
	for _, short := range slices.Sorted(maps.Keys(shorthands)) {
		if _, shadowed := params[short]; !shadowed {
			fmt.Fprintf(&src, "var %s = %s\n", short, shorthands[short])
		}
	}
	if _, err := in.Eval(src.String()); err != nil {
		return fmt.Errorf("loading parameters: %w", err)
	}
	logrus.Debugf("rate interpreter loaded with %d parameters", len(names))

	e.in = in
	e.key = key.String()
	clear(e.cached)
	return nil
}

// checkIdentifiers rejects names that are neither parameters nor shorthands,
// and anything that is not an expression over them.
func checkIdentifiers(expr string, params map[string]float64) error {
	fset := token.NewFileSet()
	file := fset.AddFile("", fset.Base(), len(expr))
	var s scanner.Scanner
	var scanErr error
	s.Init(file, []byte(expr), func(_ token.Position, msg string) {
		if scanErr == nil {
			scanErr = fmt.Errorf("%w %q: %s", ErrInvalidExpression, expr, msg)
		}
	}, 0)

	prev := token.ILLEGAL
	for {
		_, tok, lit := s.Scan()
		if tok == token.EOF {
			break
		}
		switch {
		case tok == token.IDENT && prev == token.PERIOD:
			// selector on math
		case tok == token.IDENT:
			_, isParam := params[lit]
			_, isShort := shorthands[lit]
			if !isParam && !isShort && lit != "math" {
				return fmt.Errorf("%w %q in %q", ErrUnknownParameter, lit, expr)
			}
		case tok.IsKeyword(), tok == token.SEMICOLON && lit == ";", tok == token.DEFINE, tok == token.ASSIGN:
			return fmt.Errorf("%w %q: only expressions are allowed", ErrInvalidExpression, expr)
		}
		prev = tok
	}
	return scanErr
}

func checkFinite(expr string, v float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w %q: evaluates to %v", ErrInvalidExpression, expr, v)
	}
	return v, nil
}

// Resolve evaluates the rate constant of every rule of m with params.
func Resolve(ev Evaluator, m *model.Model, params map[string]float64) ([]float64, error) {
	rules := m.Rules()
	out := make([]float64, len(rules))
	for i, r := range rules {
		v, err := ev.Evaluate(r.RateConstant, params)
		if err != nil {
			return nil, fmt.Errorf("process %s: %w", r.Name, err)
		}
		out[i] = v
	}
	return out, nil
}

// Override returns a copy of base with the values of overrides applied.
// Every override must name a parameter of base.
func Override(base, overrides map[string]float64) (map[string]float64, error) {
	out := maps.Clone(base)
	if out == nil {
		out = make(map[string]float64)
	}
	for _, name := range slices.Sorted(maps.Keys(overrides)) {
		if _, ok := base[name]; !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownParameter, name)
		}
		out[name] = overrides[name]
	}
	return out, nil
}

// ParseAssignments parses "NAME=VALUE" pairs.
func ParseAssignments(pairs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(pairs))
	for _, kv := range pairs {
		name, value, ok := strings.Cut(kv, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid assignment %q: want NAME=VALUE", kv)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid assignment %q: %w", kv, err)
		}
		out[name] = v
	}
	return out, nil
}

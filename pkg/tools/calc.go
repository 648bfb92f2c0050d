package tools

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

var (
	errDivByZero = errors.New("division by zero")
	errDomain    = errors.New("math domain error")

	percentOf = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*%\s*of\s*(\d+(?:\.\d+)?)`)
)

// Calculate evaluates an arithmetic expression and phrases the answer.
func Calculate(expr string) (string, error) {
	v, err := Evaluate(expr)
	if err != nil {
		return "", fmt.Errorf("Calculation error: %v", err)
	}
	return fmt.Sprintf("The result of %s is %s", strings.TrimSpace(expr), formatNumber(v)), nil
}

// Evaluate computes the value of expr. It understands + - * / % and ^ (or
// **), parentheses, the constants pi and e, the functions sin cos tan sqrt
// abs ln and log (base 10), and phrases like "15% of 200".
func Evaluate(expr string) (float64, error) {
	src := percentOf.ReplaceAllString(expr, "($1/100*$2)")
	src = strings.NewReplacer("π", "pi", "√", "sqrt", "×", "*", "÷", "/", "**", "^").Replace(src)

	p := &parser{src: src}
	p.next()
	v, err := p.expr()
	if err != nil {
		return 0, err
	}
	if p.tok.kind != tokEOF {
		return 0, fmt.Errorf("unexpected %q", p.tok.text)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errDomain
	}
	return v, nil
}

type tokKind int

const (
	tokEOF tokKind = iota
	tokNum
	tokIdent
	tokOp
)

type token struct {
	kind tokKind
	text string
	num  float64
}

type parser struct {
	src string
	pos int
	tok token
	err error
}

func (p *parser) next() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
	if p.pos >= len(p.src) {
		p.tok = token{kind: tokEOF}
		return
	}
	start := p.pos
	c := p.src[p.pos]
	switch {
	case c >= '0' && c <= '9' || c == '.':
		for p.pos < len(p.src) && (isDigit(p.src[p.pos]) || p.src[p.pos] == '.') {
			p.pos++
		}
		text := p.src[start:p.pos]
		n, err := strconv.ParseFloat(text, 64)
		if err != nil && p.err == nil {
			p.err = fmt.Errorf("bad number %q", text)
		}
		p.tok = token{kind: tokNum, text: text, num: n}
	case isLetter(c):
		for p.pos < len(p.src) && (isLetter(p.src[p.pos]) || isDigit(p.src[p.pos])) {
			p.pos++
		}
		p.tok = token{kind: tokIdent, text: strings.ToLower(p.src[start:p.pos])}
	default:
		p.pos++
		p.tok = token{kind: tokOp, text: string(c)}
	}
}

func (p *parser) is(op string) bool {
	return p.tok.kind == tokOp && p.tok.text == op
}

// expr := term (("+" | "-") term)*
func (p *parser) expr() (float64, error) {
	v, err := p.term()
	for err == nil && (p.is("+") || p.is("-")) {
		op := p.tok.text
		p.next()
		var r float64
		if r, err = p.term(); err == nil {
			if op == "+" {
				v += r
			} else {
				v -= r
			}
		}
	}
	return v, err
}

// term := unary (("*" | "/" | "%") unary)*
func (p *parser) term() (float64, error) {
	v, err := p.unary()
	for err == nil && (p.is("*") || p.is("/") || p.is("%")) {
		op := p.tok.text
		p.next()
		var r float64
		if r, err = p.unary(); err != nil {
			break
		}
		switch op {
		case "*":
			v *= r
		case "/":
			if r == 0 {
				return 0, errDivByZero
			}
			v /= r
		case "%":
			if r == 0 {
				return 0, errDivByZero
			}
			v = v - r*math.Floor(v/r)
		}
	}
	return v, err
}

// unary := ("+" | "-") unary | power
func (p *parser) unary() (float64, error) {
	switch {
	case p.is("-"):
		p.next()
		v, err := p.unary()
		return -v, err
	case p.is("+"):
		p.next()
		return p.unary()
	}
	return p.power()
}

// power := primary ("^" unary)?
func (p *parser) power() (float64, error) {
	base, err := p.primary()
	if err != nil || !p.is("^") {
		return base, err
	}
	p.next()
	exp, err := p.unary()
	if err != nil {
		return 0, err
	}
	return math.Pow(base, exp), nil
}

func (p *parser) primary() (float64, error) {
	if p.err != nil {
		return 0, p.err
	}
	switch p.tok.kind {
	case tokNum:
		v := p.tok.num
		p.next()
		return v, p.err
	case tokIdent:
		name := p.tok.text
		p.next()
		switch name {
		case "pi":
			return math.Pi, nil
		case "e":
			return math.E, nil
		}
		fn, ok := functions[name]
		if !ok {
			return 0, fmt.Errorf("unknown name %q", name)
		}
		if !p.is("(") {
			return 0, fmt.Errorf("%s needs parentheses", name)
		}
		arg, err := p.group()
		if err != nil {
			return 0, err
		}
		return fn(arg)
	case tokOp:
		if p.is("(") {
			return p.group()
		}
		return 0, fmt.Errorf("unexpected %q", p.tok.text)
	}
	return 0, errors.New("unexpected end of expression")
}

func (p *parser) group() (float64, error) {
	p.next()
	v, err := p.expr()
	if err != nil {
		return 0, err
	}
	if !p.is(")") {
		return 0, errors.New("missing closing parenthesis")
	}
	p.next()
	return v, nil
}

var functions = map[string]func(float64) (float64, error){
	"sin": func(x float64) (float64, error) { return math.Sin(x), nil },
	"cos": func(x float64) (float64, error) { return math.Cos(x), nil },
	"tan": func(x float64) (float64, error) { return math.Tan(x), nil },
	"abs": func(x float64) (float64, error) { return math.Abs(x), nil },
	"sqrt": func(x float64) (float64, error) {
		if x < 0 {
			return 0, errDomain
		}
		return math.Sqrt(x), nil
	},
	"log": func(x float64) (float64, error) {
		if x <= 0 {
			return 0, errDomain
		}
		return math.Log10(x), nil
	},
	"ln": func(x float64) (float64, error) {
		if x <= 0 {
			return 0, errDomain
		}
		return math.Log(x), nil
	},
}

func isDigit(c byte) bool  { return c >= '0' && c <= '9' }
func isLetter(c byte) bool { return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_' }

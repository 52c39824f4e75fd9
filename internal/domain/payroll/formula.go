package payroll

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

const (
	maxFormulaLength = 512
	maxFormulaDepth  = 32
)

const (
	VarBaseSalary     = "baseSalary"
	VarGrossTotal     = "grossTotal"
	VarYearsOfService = "yearsOfService"
)

// formulaAliases maps every accepted identifier to its canonical variable.
var formulaAliases = map[string]string{
	VarBaseSalary:       VarBaseSalary,
	VarGrossTotal:       VarGrossTotal,
	VarYearsOfService:   VarYearsOfService,
	"salaire_base":      VarBaseSalary,
	"total_brut":        VarGrossTotal,
	"anciennete_annees": VarYearsOfService,
}

// FormulaVars are the only values a rubric formula can read.
type FormulaVars struct {
	BaseSalary     decimal.Decimal
	GrossTotal     decimal.Decimal
	YearsOfService int
}

func (v FormulaVars) lookup(name string) decimal.Decimal {
	switch name {
	case VarBaseSalary:
		return v.BaseSalary
	case VarGrossTotal:
		return v.GrossTotal
	case VarYearsOfService:
		return decimal.NewFromInt(int64(v.YearsOfService))
	}
	return zero
}

// Formula is a compiled arithmetic expression over FormulaVars.
// Supported: decimal literals, variables, + - * / %, unary minus,
// parentheses and comparisons yielding 1 or 0.
type Formula struct {
	src  string
	root formulaNode
}

func (f *Formula) String() string { return f.src }

func (f *Formula) Eval(vars FormulaVars) (decimal.Decimal, error) {
	return f.root.eval(vars)
}

// CompileFormula parses src. Unknown identifiers fail with ErrUnknownVariable;
// anything outside the grammar fails with ErrMalformedFormula or ErrDisallowedSyntax.
func CompileFormula(src string) (*Formula, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrMalformedFormula)
	}
	if len(src) > maxFormulaLength {
		return nil, fmt.Errorf("%w: expression longer than %d characters", ErrMalformedFormula, maxFormulaLength)
	}
	tokens, err := lexFormula(src)
	if err != nil {
		return nil, err
	}
	p := &formulaParser{tokens: tokens}
	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, fmt.Errorf("%w: unexpected %q at offset %d", ErrMalformedFormula, tok.text, tok.pos)
	}
	return &Formula{src: src, root: root}, nil
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokOp
	tokLParen
	tokRParen
)

type formulaToken struct {
	kind tokenKind
	text string
	pos  int
	num  decimal.Decimal
}

var twoCharOps = map[string]bool{"<=": true, ">=": true, "==": true, "!=": true}

func lexFormula(src string) ([]formulaToken, error) {
	var tokens []formulaToken
	runes := []rune(src)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case unicode.IsDigit(r) || (r == '.' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			start := i
			dots := 0
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				if runes[i] == '.' {
					dots++
				}
				i++
			}
			text := string(runes[start:i])
			if dots > 1 {
				return nil, fmt.Errorf("%w: invalid number %q", ErrMalformedFormula, text)
			}
			num, err := decimal.NewFromString(text)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid number %q", ErrMalformedFormula, text)
			}
			tokens = append(tokens, formulaToken{kind: tokNumber, text: text, pos: start, num: num})
		case r == '_' || unicode.IsLetter(r):
			start := i
			for i < len(runes) && (runes[i] == '_' || unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i])) {
				i++
			}
			tokens = append(tokens, formulaToken{kind: tokIdent, text: string(runes[start:i]), pos: start})
		case r == '(':
			tokens = append(tokens, formulaToken{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')':
			tokens = append(tokens, formulaToken{kind: tokRParen, text: ")", pos: i})
			i++
		case r == '.':
			return nil, fmt.Errorf("%w: attribute access at offset %d", ErrDisallowedSyntax, i)
		default:
			if i+1 < len(runes) && twoCharOps[string(runes[i:i+2])] {
				tokens = append(tokens, formulaToken{kind: tokOp, text: string(runes[i : i+2]), pos: i})
				i += 2
				continue
			}
			if strings.ContainsRune("+-*/%<>", r) {
				tokens = append(tokens, formulaToken{kind: tokOp, text: string(r), pos: i})
				i++
				continue
			}
			return nil, fmt.Errorf("%w: character %q at offset %d", ErrDisallowedSyntax, r, i)
		}
	}
	return append(tokens, formulaToken{kind: tokEOF, pos: len(runes)}), nil
}

type formulaParser struct {
	tokens []formulaToken
	pos    int
	depth  int
}

func (p *formulaParser) peek() formulaToken { return p.tokens[p.pos] }

func (p *formulaParser) next() formulaToken {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *formulaParser) enter() error {
	p.depth++
	if p.depth > maxFormulaDepth {
		return fmt.Errorf("%w: nesting deeper than %d", ErrMalformedFormula, maxFormulaDepth)
	}
	return nil
}

func (p *formulaParser) leave() { p.depth-- }

func (p *formulaParser) parseExpr() (formulaNode, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind == tokOp && isComparison(tok.text) {
		p.next()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		if nxt := p.peek(); nxt.kind == tokOp && isComparison(nxt.text) {
			return nil, fmt.Errorf("%w: chained comparison at offset %d", ErrMalformedFormula, nxt.pos)
		}
		return binaryNode{op: tok.text, left: left, right: right}, nil
	}
	return left, nil
}

func (p *formulaParser) parseAdditive() (formulaNode, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokOp || (tok.text != "+" && tok.text != "-") {
			return left, nil
		}
		p.next()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: tok.text, left: left, right: right}
	}
}

func (p *formulaParser) parseTerm() (formulaNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokOp || (tok.text != "*" && tok.text != "/" && tok.text != "%") {
			return left, nil
		}
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: tok.text, left: left, right: right}
	}
}

func (p *formulaParser) parseUnary() (formulaNode, error) {
	tok := p.peek()
	if tok.kind == tokOp && (tok.text == "-" || tok.text == "+") {
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if tok.text == "+" {
			return operand, nil
		}
		return negNode{operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *formulaParser) parsePrimary() (formulaNode, error) {
	tok := p.next()
	switch tok.kind {
	case tokNumber:
		return numberNode{value: tok.num}, nil
	case tokIdent:
		if p.peek().kind == tokLParen {
			return nil, fmt.Errorf("%w: function call %q", ErrDisallowedSyntax, tok.text)
		}
		name, ok := formulaAliases[tok.text]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownVariable, tok.text)
		}
		return varNode{name: name}, nil
	case tokLParen:
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, fmt.Errorf("%w: missing closing parenthesis at offset %d", ErrMalformedFormula, closing.pos)
		}
		return inner, nil
	case tokEOF:
		return nil, fmt.Errorf("%w: unexpected end of expression", ErrMalformedFormula)
	}
	return nil, fmt.Errorf("%w: unexpected %q at offset %d", ErrMalformedFormula, tok.text, tok.pos)
}

func isComparison(op string) bool {
	switch op {
	case "<", "<=", ">", ">=", "==", "!=":
		return true
	}
	return false
}

type formulaNode interface {
	eval(vars FormulaVars) (decimal.Decimal, error)
}

type numberNode struct{ value decimal.Decimal }

func (n numberNode) eval(FormulaVars) (decimal.Decimal, error) { return n.value, nil }

type varNode struct{ name string }

func (n varNode) eval(vars FormulaVars) (decimal.Decimal, error) { return vars.lookup(n.name), nil }

type negNode struct{ operand formulaNode }

func (n negNode) eval(vars FormulaVars) (decimal.Decimal, error) {
	v, err := n.operand.eval(vars)
	if err != nil {
		return zero, err
	}
	return v.Neg(), nil
}

type binaryNode struct {
	op          string
	left, right formulaNode
}

func (n binaryNode) eval(vars FormulaVars) (decimal.Decimal, error) {
	l, err := n.left.eval(vars)
	if err != nil {
		return zero, err
	}
	r, err := n.right.eval(vars)
	if err != nil {
		return zero, err
	}
	switch n.op {
	case "+":
		return l.Add(r), nil
	case "-":
		return l.Sub(r), nil
	case "*":
		return l.Mul(r), nil
	case "/":
		if r.IsZero() {
			return zero, ErrDivisionByZero
		}
		return l.Div(r), nil
	case "%":
		if r.IsZero() {
			return zero, ErrDivisionByZero
		}
		return l.Mod(r), nil
	case "<":
		return boolDecimal(l.LessThan(r)), nil
	case "<=":
		return boolDecimal(l.LessThanOrEqual(r)), nil
	case ">":
		return boolDecimal(l.GreaterThan(r)), nil
	case ">=":
		return boolDecimal(l.GreaterThanOrEqual(r)), nil
	case "==":
		return boolDecimal(l.Equal(r)), nil
	case "!=":
		return boolDecimal(!l.Equal(r)), nil
	}
	return zero, fmt.Errorf("%w: operator %q", ErrDisallowedSyntax, n.op)
}

func boolDecimal(b bool) decimal.Decimal {
	if b {
		return decimal.NewFromInt(1)
	}
	return zero
}

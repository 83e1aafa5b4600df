// Copyright (c) 2025 The Viper Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.
package il

import (
	"fmt"
	"strconv"
	"strings"
)

// ------------------------------------------------------------------------------
// IL text parser
//
// The textual form is line oriented:
//
//   global @msg = "hello"
//   func @add {
//   add(%0:i64, %1:i64):
//     %2:i64 = add %0, %1
//     ret %2
//   }
//
// Terminators reference blocks by bare name; block arguments ride in
// parentheses, e.g. "br next(%2)" or "cbr %3, then, else".

type parser struct {
	lines []string
	pos   int
	// kinds maps SSA ids to their kind, built from params and results.
	kinds map[int]Kind
}

// ParseModule parses the textual IL form into a Module.
func ParseModule(src string) (*Module, error) {
	p := &parser{lines: strings.Split(src, "\n")}
	mod := &Module{}
	for !p.eof() {
		line := p.peek()
		switch {
		case line == "" || strings.HasPrefix(line, "#"):
			p.next()
		case strings.HasPrefix(line, "global "):
			g, err := p.parseGlobal()
			if err != nil {
				return nil, err
			}
			mod.Globals = append(mod.Globals, g)
		case strings.HasPrefix(line, "func "):
			fn, err := p.parseFunc()
			if err != nil {
				return nil, err
			}
			mod.Funcs = append(mod.Funcs, *fn)
		default:
			return nil, p.errorf("unexpected top-level line %q", line)
		}
	}
	return mod, nil
}

func (p *parser) eof() bool {
	return p.pos >= len(p.lines)
}

func (p *parser) peek() string {
	return strings.TrimSpace(p.lines[p.pos])
}

func (p *parser) next() string {
	line := p.peek()
	p.pos++
	return line
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("line %d: %s", p.pos+1, fmt.Sprintf(format, args...))
}

func (p *parser) parseGlobal() (Global, error) {
	line := p.next()
	rest := strings.TrimPrefix(line, "global ")
	name, value, ok := strings.Cut(rest, "=")
	if !ok {
		return Global{}, p.errorf("malformed global %q", line)
	}
	name = strings.TrimPrefix(strings.TrimSpace(name), "@")
	value = strings.TrimSpace(value)
	data, err := strconv.Unquote(value)
	if err != nil {
		return Global{}, p.errorf("malformed global data %q", value)
	}
	return Global{Name: name, Data: data}, nil
}

func (p *parser) parseFunc() (*Function, error) {
	header := p.next()
	header = strings.TrimPrefix(header, "func ")
	header = strings.TrimSuffix(strings.TrimSpace(header), "{")
	header = strings.TrimSpace(header)
	fn := &Function{}
	if strings.HasSuffix(header, "vararg") {
		fn.IsVarArg = true
		header = strings.TrimSpace(strings.TrimSuffix(header, "vararg"))
	}
	fn.Name = strings.TrimPrefix(header, "@")
	if fn.Name == "" {
		return nil, p.errorf("function without a name")
	}

	p.kinds = make(map[int]Kind)
	var block *Block
	for {
		if p.eof() {
			return nil, p.errorf("unterminated function %q", fn.Name)
		}
		line := p.next()
		switch {
		case line == "" || strings.HasPrefix(line, "#"):
			continue
		case line == "}":
			if block != nil {
				fn.Blocks = append(fn.Blocks, *block)
			}
			if len(fn.Blocks) == 0 {
				return nil, p.errorf("function %q has no blocks", fn.Name)
			}
			return fn, nil
		case strings.HasSuffix(line, ":") || (strings.Contains(line, "(") && strings.HasSuffix(line, "):")):
			if block != nil {
				fn.Blocks = append(fn.Blocks, *block)
			}
			b, err := p.parseBlockHeader(line)
			if err != nil {
				return nil, err
			}
			block = b
		default:
			if block == nil {
				return nil, p.errorf("instruction outside block: %q", line)
			}
			if err := p.parseInstr(block, line); err != nil {
				return nil, err
			}
		}
	}
}

func (p *parser) parseBlockHeader(line string) (*Block, error) {
	line = strings.TrimSuffix(line, ":")
	b := &Block{}
	name, params, hasParams := strings.Cut(line, "(")
	b.Name = strings.TrimSpace(name)
	if hasParams {
		params = strings.TrimSuffix(params, ")")
		for _, param := range splitArgs(params) {
			ref, kind, err := parseTypedRef(param)
			if err != nil {
				return nil, p.errorf("bad block parameter %q", param)
			}
			b.ParamIds = append(b.ParamIds, ref)
			b.ParamKinds = append(b.ParamKinds, kind)
			p.kinds[ref] = kind
		}
	}
	return b, nil
}

func (p *parser) parseInstr(block *Block, line string) error {
	instr := Instr{ResultId: -1}
	body := line
	if lhs, rhs, ok := strings.Cut(line, "="); ok && strings.HasPrefix(strings.TrimSpace(lhs), "%") {
		id, kind, err := parseTypedRef(strings.TrimSpace(lhs))
		if err != nil {
			return p.errorf("bad result %q", lhs)
		}
		instr.ResultId = id
		instr.ResultKind = kind
		p.kinds[id] = kind
		body = strings.TrimSpace(rhs)
	}

	opcode, rest, _ := strings.Cut(body, " ")
	instr.Opcode = opcode
	rest = strings.TrimSpace(rest)

	switch opcode {
	case "br":
		return p.parseBranch(block, &instr, rest)
	case "cbr":
		return p.parseCondBranch(block, &instr, rest)
	case "call", "call.indirect":
		return p.parseCall(block, &instr, rest)
	default:
		for _, tok := range splitArgs(rest) {
			val, err := p.parseValue(tok)
			if err != nil {
				return err
			}
			instr.Ops = append(instr.Ops, val)
		}
		block.Instrs = append(block.Instrs, instr)
		return nil
	}
}

func (p *parser) parseBranch(block *Block, instr *Instr, rest string) error {
	target, argIds, err := p.parseEdgeTarget(rest)
	if err != nil {
		return err
	}
	instr.Ops = append(instr.Ops, LabelRef(target))
	block.Instrs = append(block.Instrs, *instr)
	block.Edges = append(block.Edges, Edge{To: target, ArgIds: argIds})
	return nil
}

func (p *parser) parseCondBranch(block *Block, instr *Instr, rest string) error {
	parts := splitArgs(rest)
	if len(parts) != 3 {
		return p.errorf("cbr expects cond and two targets, got %q", rest)
	}
	cond, err := p.parseValue(parts[0])
	if err != nil {
		return err
	}
	instr.Ops = append(instr.Ops, cond)
	for _, part := range parts[1:] {
		target, argIds, err := p.parseEdgeTarget(part)
		if err != nil {
			return err
		}
		instr.Ops = append(instr.Ops, LabelRef(target))
		block.Edges = append(block.Edges, Edge{To: target, ArgIds: argIds})
	}
	block.Instrs = append(block.Instrs, *instr)
	return nil
}

func (p *parser) parseCall(block *Block, instr *Instr, rest string) error {
	callee, args, hasArgs := strings.Cut(rest, "(")
	callee = strings.TrimSpace(callee)
	if instr.Opcode == "call" {
		instr.Ops = append(instr.Ops, LabelRef(strings.TrimPrefix(callee, "@")))
	} else {
		val, err := p.parseValue(callee)
		if err != nil {
			return err
		}
		instr.Ops = append(instr.Ops, val)
	}
	if hasArgs {
		args = strings.TrimSuffix(strings.TrimSpace(args), ")")
		for _, tok := range splitArgs(args) {
			val, err := p.parseValue(tok)
			if err != nil {
				return err
			}
			instr.Ops = append(instr.Ops, val)
		}
	}
	block.Instrs = append(block.Instrs, *instr)
	return nil
}

// parseEdgeTarget decodes "label" or "label(%1, %2)".
func (p *parser) parseEdgeTarget(s string) (string, []int, error) {
	s = strings.TrimSpace(s)
	name, args, hasArgs := strings.Cut(s, "(")
	if !hasArgs {
		return name, nil, nil
	}
	args = strings.TrimSuffix(args, ")")
	var ids []int
	for _, tok := range splitArgs(args) {
		tok = strings.TrimSpace(tok)
		if !strings.HasPrefix(tok, "%") {
			return "", nil, p.errorf("edge argument must be a value reference, got %q", tok)
		}
		id, err := strconv.Atoi(tok[1:])
		if err != nil {
			return "", nil, p.errorf("bad edge argument %q", tok)
		}
		ids = append(ids, id)
	}
	return name, ids, nil
}

func (p *parser) parseValue(tok string) (Value, error) {
	tok = strings.TrimSpace(tok)
	switch {
	case strings.HasPrefix(tok, "%"):
		id, err := strconv.Atoi(tok[1:])
		if err != nil {
			return Value{}, p.errorf("bad value reference %q", tok)
		}
		kind, ok := p.kinds[id]
		if !ok {
			return Value{}, p.errorf("use of undefined value %q", tok)
		}
		return ValueRef(id, kind), nil
	case strings.HasPrefix(tok, "\""):
		s, err := strconv.Unquote(tok)
		if err != nil {
			return Value{}, p.errorf("bad string literal %q", tok)
		}
		return ImmStr(s), nil
	case strings.HasPrefix(tok, "@"):
		return LabelRef(tok[1:]), nil
	case strings.ContainsAny(tok, ".eE") && !strings.HasPrefix(tok, "."):
		f, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return Value{}, p.errorf("bad float literal %q", tok)
		}
		return ImmF64(f), nil
	default:
		i, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			// Fall back to a bare label reference (branch targets etc).
			return LabelRef(tok), nil
		}
		return ImmI64(i), nil
	}
}

// parseTypedRef decodes "%3:i64" into id and kind.
func parseTypedRef(s string) (int, Kind, error) {
	s = strings.TrimSpace(s)
	ref, kindName, ok := strings.Cut(s, ":")
	if !ok || !strings.HasPrefix(ref, "%") {
		return 0, I64, fmt.Errorf("malformed typed reference %q", s)
	}
	id, err := strconv.Atoi(ref[1:])
	if err != nil {
		return 0, I64, err
	}
	kind, err := kindByName(strings.TrimSpace(kindName))
	if err != nil {
		return 0, I64, err
	}
	return id, kind, nil
}

func kindByName(name string) (Kind, error) {
	switch name {
	case "i64":
		return I64, nil
	case "f64":
		return F64, nil
	case "i1":
		return I1, nil
	case "ptr":
		return Ptr, nil
	case "label":
		return Label, nil
	case "str":
		return Str, nil
	}
	return I64, fmt.Errorf("unknown kind %q", name)
}

// splitArgs splits on commas that are not inside parentheses or quotes.
func splitArgs(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var parts []string
	depth := 0
	inStr := false
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			if i == 0 || s[i-1] != '\\' {
				inStr = !inStr
			}
		case '(':
			if !inStr {
				depth++
			}
		case ')':
			if !inStr {
				depth--
			}
		case ',':
			if depth == 0 && !inStr {
				parts = append(parts, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	parts = append(parts, strings.TrimSpace(s[start:]))
	return parts
}

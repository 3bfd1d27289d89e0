package main

import (
	"fmt"
	"strconv"
	"strings"
)

// Opcode tags the instruction kinds. Programs are parsed once at process
// construction into typed instructions; Text keeps the authored form for
// log display.
type Opcode int

const (
	// Auto-generated program opcodes. These drive the accumulator X and
	// the randomized variants.
	OpVarX Opcode = iota
	OpAddX
	OpPrintRaw
	OpDeclareRand
	OpSubtractRand
	OpSleepRand
	OpFor

	// Custom program opcodes (screen -c). OpPrint expands variables at
	// execution; OpPrintRaw logs its text verbatim.
	OpPrint
	OpDeclare
	OpAdd
	OpSubtract
	OpSleep
	OpWrite
	OpRead
)

// Instruction is one typed program step.
type Instruction struct {
	Op   Opcode
	Text string

	// OpVarX / OpAddX
	Value int32

	// OpDeclare / OpSleep
	Literal uint16

	// Operand names: Dst for DECLARE/ADD/SUBTRACT/READ targets, A/B for
	// ADD/SUBTRACT operands, Addr for WRITE/READ.
	Dst  string
	A    string
	B    string
	Addr string
}

// StepResult reports what one interpreter step did.
type StepResult struct {
	Executed bool
	LogText  string
	// ShowX appends the accumulator to the log line (auto ADD/VAR);
	// XValue carries it.
	ShowX  bool
	XValue int32
}

// forPrintBatchMax bounds how many PRINTs a FOR expansion inserts.
const forPrintBatchMax = 4

// step advances the interpreter one instruction on process p. It assumes
// the sleep and busy-wait gates were already cleared by the caller.
func step(p *Process) StepResult {
	if p.Finished() {
		return StepResult{}
	}
	ins := p.program[p.executed]
	res := StepResult{Executed: true, LogText: ins.Text}

	switch ins.Op {
	case OpVarX:
		p.X = ins.Value
		res.ShowX = true
		res.XValue = p.X

	case OpAddX:
		p.X += ins.Value
		res.ShowX = true
		res.XValue = p.X

	case OpPrintRaw:
		// Auto-generated PRINT logs its authored text.

	case OpPrint:
		res.LogText = p.expandPrint(ins.Text)

	case OpDeclareRand:
		p.setVar("x", uint16(p.rng.Intn(1<<16)))

	case OpSubtractRand:
		val := p.val("x")
		dec := uint16(p.rng.Intn(10))
		if dec > val {
			val = 0
		} else {
			val -= dec
		}
		p.setVar("x", val)

	case OpSleepRand:
		p.sleep = 1 + p.rng.Intn(3)

	case OpFor:
		p.advance()
		p.expandFor(1 + p.rng.Intn(forPrintBatchMax))
		return res

	case OpDeclare:
		p.setVar(ins.Dst, ins.Literal)

	case OpAdd:
		p.setVar(ins.Dst, p.operand(ins.A)+p.operand(ins.B))

	case OpSubtract:
		a, b := p.operand(ins.A), p.operand(ins.B)
		if b > a {
			p.setVar(ins.Dst, 0)
		} else {
			p.setVar(ins.Dst, a-b)
		}

	case OpSleep:
		n := int(ins.Literal)
		if n < 1 {
			n = 1
		}
		p.sleep = n

	case OpWrite:
		p.mem[ins.Addr] = p.operand(ins.A)

	case OpRead:
		p.setVar(ins.Dst, p.mem[ins.Addr])

	default:
		// Unknown instructions never reach execution in custom mode
		// (dropped at parse); auto mode silently skips.
		res.LogText = ""
	}

	p.advance()
	return res
}

// ParseProgram turns semicolon-separated custom instructions into typed
// form. Unknown or malformed instructions are warned about and dropped.
func ParseProgram(src string) []Instruction {
	parts := strings.Split(src, ";")
	out := make([]Instruction, 0, len(parts))
	for _, part := range parts {
		text := strings.TrimSpace(part)
		if text == "" {
			continue
		}
		ins, err := parseInstruction(text)
		if err != nil {
			GetLogger().Warnf("dropping instruction %q: %v", text, err)
			continue
		}
		out = append(out, ins)
	}
	return out
}

func parseInstruction(text string) (Instruction, error) {
	fields := strings.Fields(text)
	op := strings.ToUpper(fields[0])
	ins := Instruction{Text: text}

	switch op {
	case "DECLARE":
		if len(fields) != 3 {
			return ins, fmt.Errorf("DECLARE wants <var> <u16>")
		}
		v, err := strconv.ParseUint(fields[2], 10, 16)
		if err != nil {
			return ins, fmt.Errorf("DECLARE value: %w", err)
		}
		ins.Op = OpDeclare
		ins.Dst = fields[1]
		ins.Literal = uint16(v)

	case "ADD", "SUBTRACT":
		if len(fields) != 4 {
			return ins, fmt.Errorf("%s wants <dst> <a> <b>", op)
		}
		if op == "ADD" {
			ins.Op = OpAdd
		} else {
			ins.Op = OpSubtract
		}
		ins.Dst = fields[1]
		ins.A = fields[2]
		ins.B = fields[3]

	case "SLEEP":
		if len(fields) != 2 {
			return ins, fmt.Errorf("SLEEP wants <n>")
		}
		v, err := strconv.ParseUint(fields[1], 10, 16)
		if err != nil {
			return ins, fmt.Errorf("SLEEP cycles: %w", err)
		}
		ins.Op = OpSleep
		ins.Literal = uint16(v)

	case "WRITE":
		if len(fields) != 3 {
			return ins, fmt.Errorf("WRITE wants <addr> <var>")
		}
		ins.Op = OpWrite
		ins.Addr = fields[1]
		ins.A = fields[2]

	case "READ":
		if len(fields) != 3 {
			return ins, fmt.Errorf("READ wants <var> <addr>")
		}
		ins.Op = OpRead
		ins.Dst = fields[1]
		ins.Addr = fields[2]

	case "PRINT":
		ins.Op = OpPrint
		rest := strings.TrimSpace(strings.TrimPrefix(text, fields[0]))
		ins.Text = rest
		if rest == "" {
			return ins, fmt.Errorf("PRINT wants text")
		}

	default:
		return ins, fmt.Errorf("unknown instruction %q", op)
	}
	return ins, nil
}

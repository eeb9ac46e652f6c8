// Package dis provides a disassembler for compiled Petrel functions.
package dis

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/cloudcmds/petrel/bytecode"
	"github.com/cloudcmds/petrel/op"
)

// Instruction is one decoded instruction.
type Instruction struct {
	Offset   int
	Opcode   op.Code
	Name     string
	Operands []int
}

// Disassemble decodes the instruction stream of a function.
func Disassemble(fn *bytecode.Function) ([]Instruction, error) {
	var instructions []Instruction
	count := fn.InstructionCount()
	for offset := 0; offset < count; {
		opcode := fn.OpcodeAt(offset)
		info := op.GetInfo(opcode)
		if info.Name == "" {
			return nil, fmt.Errorf("unknown opcode %d at offset %d", opcode, offset)
		}
		if offset+1+info.OperandCount > count {
			return nil, fmt.Errorf("truncated operands for %s at offset %d", info.Name, offset)
		}
		operands := make([]int, info.OperandCount)
		for i := 0; i < info.OperandCount; i++ {
			operands[i] = int(fn.OpcodeAt(offset + 1 + i))
		}
		instructions = append(instructions, Instruction{
			Offset:   offset,
			Opcode:   opcode,
			Name:     info.Name,
			Operands: operands,
		})
		offset += 1 + info.OperandCount
	}
	return instructions, nil
}

// Print writes a disassembly listing, annotated with the function's
// exception-handler table and call-preparation regions.
func Print(fn *bytecode.Function, instructions []Instruction, w io.Writer) {
	heading := color.New(color.FgCyan).SprintFunc()
	opName := color.New(color.FgYellow).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()

	name := fn.Name()
	if name == "" {
		name = "<anonymous>"
	}
	if fn.ClassName() != "" {
		name = fn.ClassName() + "::" + name
	}
	fmt.Fprintf(w, "%s\n", heading(name))

	for _, instr := range instructions {
		fmt.Fprintf(w, "%6d  %s", instr.Offset, opName(instr.Name))
		for _, operand := range instr.Operands {
			fmt.Fprintf(w, " %d", operand)
		}
		fmt.Fprintln(w)
	}

	if fn.HandlerCount() > 0 {
		fmt.Fprintf(w, "%s\n", heading("exception handlers"))
		for i := 0; i < fn.HandlerCount(); i++ {
			h := fn.HandlerAt(i)
			parent := "-"
			if h.ParentIndex != bytecode.NoParent {
				parent = fmt.Sprintf("%d", h.ParentIndex)
			}
			fmt.Fprintf(w, "%6d  %s [%d,%d) handler=%d parent=%s\n",
				i, h.Kind.String(), h.Base, h.Past, h.HandlerOffset, parent)
		}
	}

	if fn.CallPrepCount() > 0 {
		fmt.Fprintf(w, "%s\n", heading("call-prep regions"))
		for i := 0; i < fn.CallPrepCount(); i++ {
			r := fn.CallPrepRegionAt(i)
			fmt.Fprintf(w, "%6d  prep=%d call=%d\n", i, r.PrepOffset, r.CallOffset)
		}
	}

	fmt.Fprintf(w, "%s\n", dim(fmt.Sprintf(
		"locals=%d slots=%d clsrefs=%d", fn.NumLocals(), fn.NumSlotsInFrame(), fn.NumClsRefSlots())))
}

package chunk

import (
	"fmt"
	"io"
	"math"

	"loxvm/internal/span"
	"loxvm/internal/value"
)

// Chunk is an ordered, append-only-during-construction sequence of
// instructions paired 1:1 with source spans, plus a deduplicated
// constant pool. Once built it is read-only.
type Chunk struct {
	Instructions []Instruction
	Spans        []span.Span
	Constants    []value.Value
}

// Len reports the number of instructions in the chunk.
func (c *Chunk) Len() int {
	return len(c.Instructions)
}

// dedupKey identifies a constant-pool entry for deduplication purposes:
// Number compares by raw bit pattern and String by content, exactly as
// the invariant in the data model requires - independent of Value's own
// runtime Equal, which uses an epsilon for Numbers.
type dedupKey struct {
	kind value.Type
	bits uint64
	str  string
}

// ChunkBuilder accumulates instructions, spans, and a deduplicated
// constant pool during compilation. Build freezes the result into an
// immutable Chunk.
type ChunkBuilder struct {
	instructions []Instruction
	spans        []span.Span
	constants    []value.Value
	dedup        map[dedupKey]int
	lastSpan     span.Span
}

// NewBuilder returns an empty ChunkBuilder.
func NewBuilder() *ChunkBuilder {
	return &ChunkBuilder{dedup: make(map[dedupKey]int)}
}

// Len reports how many instructions have been written so far - the
// index the next Write/Append call will land at, and the value loop
// targets backpatch against.
func (b *ChunkBuilder) Len() int {
	return len(b.instructions)
}

// Write appends an instruction with an explicit span.
func (b *ChunkBuilder) Write(instr Instruction, s span.Span) int {
	b.instructions = append(b.instructions, instr)
	b.spans = append(b.spans, s)
	b.lastSpan = s
	return len(b.instructions) - 1
}

// Append writes an instruction using the most recently written span -
// a convenience for the common case of several instructions in a row
// that all belong to the same source construct.
func (b *ChunkBuilder) Append(instr Instruction) int {
	return b.Write(instr, b.lastSpan)
}

// Backpatcher is a handle to a placeholder jump instruction, returned
// by AppendBackpatch, that can be patched once the jump target is
// known.
type Backpatcher struct {
	builder *ChunkBuilder
	index   int
}

// AppendBackpatch emits instr (which must be Jump or JumpIfFalse) with
// a placeholder zero operand and returns a handle to fill it in later.
func (b *ChunkBuilder) AppendBackpatch(instr Instruction) Backpatcher {
	switch instr.Op {
	case Jump, JumpIfFalse:
	default:
		panic("chunk: only Jump and JumpIfFalse are patchable")
	}
	index := b.Append(instr)
	return Backpatcher{builder: b, index: index}
}

// Backpatch sets the jump's offset so it lands at the current end of
// the instruction stream: offset = len(instructions) - index.
func (p Backpatcher) Backpatch() {
	p.BackpatchBy(p.builder.Len())
}

// BackpatchBy sets the jump's offset so it lands at target:
// offset = target - index. Used for backward jumps (loop heads) where
// the target is already known rather than "here".
func (p Backpatcher) BackpatchBy(target int) {
	p.builder.instructions[p.index].Operand = target - p.index
}

// Define interns value into the constant pool, returning its index.
// Repeated calls with an equal value (Number compared by bit pattern,
// String by content) return the same index instead of growing the
// pool.
func (b *ChunkBuilder) Define(v value.Value) int {
	key, dedupable := dedupKeyOf(v)
	if dedupable {
		if idx, ok := b.dedup[key]; ok {
			return idx
		}
	}
	b.constants = append(b.constants, v)
	idx := len(b.constants) - 1
	if dedupable {
		b.dedup[key] = idx
	}
	return idx
}

func dedupKeyOf(v value.Value) (dedupKey, bool) {
	switch v.Type() {
	case value.Number:
		return dedupKey{kind: value.Number, bits: math.Float64bits(v.AsNumber())}, true
	case value.String:
		return dedupKey{kind: value.String, str: *v.AsString().Deref()}, true
	case value.Nil:
		return dedupKey{kind: value.Nil}, true
	case value.Boolean:
		bits := uint64(0)
		if v.AsBool() {
			bits = 1
		}
		return dedupKey{kind: value.Boolean, bits: bits}, true
	default:
		// Functions are never deduplicated: each compiled function is
		// its own distinct constant.
		return dedupKey{}, false
	}
}

// Build freezes the builder into an immutable Chunk.
func (b *ChunkBuilder) Build() *Chunk {
	return &Chunk{
		Instructions: b.instructions,
		Spans:        b.spans,
		Constants:    b.constants,
	}
}

// Disassemble writes a human-readable listing of name's chunk to w, one
// line per instruction, in the teacher's disassembler style.
func (c *Chunk) Disassemble(name string, w io.Writer) {
	fmt.Fprintf(w, "== %s ==\n", name)
	for offset, instr := range c.Instructions {
		c.disassembleInstruction(w, offset, instr)
	}
}

func (c *Chunk) disassembleInstruction(w io.Writer, offset int, instr Instruction) {
	fmt.Fprintf(w, "%04d ", offset)
	if instr.Op.hasOperand() {
		switch instr.Op {
		case LoadConstant:
			fmt.Fprintf(w, "%-14s %4d '%s'\n", instr.Op, instr.Operand, value.Display(c.Constants[instr.Operand]))
		case Jump, JumpIfFalse:
			fmt.Fprintf(w, "%-14s %4d -> %d\n", instr.Op, instr.Operand, offset+instr.Operand)
		default:
			fmt.Fprintf(w, "%-14s %4d\n", instr.Op, instr.Operand)
		}
		return
	}
	fmt.Fprintf(w, "%s\n", instr.Op)
}

// DisassembleAll disassembles this chunk and every nested function
// chunk reachable through its constant pool.
func (c *Chunk) DisassembleAll(name string, w io.Writer) {
	c.Disassemble(name, w)
	for _, constant := range c.Constants {
		if constant.Type() != value.FunctionVal {
			continue
		}
		fn := constant.AsFunction().Deref()
		if nested, ok := fn.Chunk.(*Chunk); ok {
			fmt.Fprintln(w)
			nested.DisassembleAll(fn.Name, w)
		}
	}
}

// Package vm implements the stack-based interpreter: fetch-decode-
// execute over a Chunk's instructions, with a fixed-capacity value
// stack, a fixed-capacity call-frame stack, a globals map, and the
// PrepareInvoke/Invoke calling convention.
package vm

import (
	"fmt"
	"io"
	"time"

	"loxvm/internal/chunk"
	"loxvm/internal/diag"
	"loxvm/internal/span"
	"loxvm/internal/value"
)

// Recommended minimums from the data model.
const (
	DefaultStackCapacity = 8192
	DefaultFrameCapacity = 128
)

// NativeFunc is the callee-reads-its-own-arity contract a native
// function implements: it reads argc arguments off the VM's value
// stack itself and returns the value to push in their place.
type NativeFunc func(vm *VM, argc int) (value.Value, *diag.Diagnostic)

// frame is a pending call: the function executing, its chunk (cached
// to avoid repeated type assertions), the program counter, and the
// stack position its locals begin at.
type frame struct {
	fn    *value.Function
	chunk *chunk.Chunk
	ip    int
	base  int
}

// VM owns every resource a single run() needs: the value stack, the
// call-frame stack, the heap, globals, and the tables Invoke dispatches
// through.
type VM struct {
	stack        []value.Value
	frames       []frame
	pendingBases []int
	peakStack    int

	heap      *value.Heap
	globals   map[string]value.Value
	functions map[string]*value.Function
	natives   map[string]NativeFunc

	out   io.Writer
	start time.Time
}

// New returns a VM ready to run scripts compiled against heap. natives
// is consulted first on Invoke, then functions; callers typically pass
// the function table Compile returned alongside the same heap the
// compiler interned its constants into.
func New(heap *value.Heap, functions map[string]*value.Function, out io.Writer) *VM {
	vm := &VM{
		stack:     make([]value.Value, 0, DefaultStackCapacity),
		frames:    make([]frame, 0, DefaultFrameCapacity),
		heap:      heap,
		globals:   make(map[string]value.Value),
		functions: functions,
		natives:   make(map[string]NativeFunc),
		out:       out,
		start:     time.Now(),
	}
	vm.natives["clock"] = nativeClock
	return vm
}

// DefineNative registers or overrides a native function by name.
func (vm *VM) DefineNative(name string, fn NativeFunc) {
	vm.natives[name] = fn
}

// PeakStackDepth reports the highest number of values the value stack
// has held at once across every Run call made on this VM so far.
func (vm *VM) PeakStackDepth() int {
	return vm.peakStack
}

func nativeClock(vm *VM, argc int) (value.Value, *diag.Diagnostic) {
	return value.NewNumber(float64(time.Since(vm.start).Milliseconds())), nil
}

// Run executes entry to completion, returning nil on success or the
// diagnostic that ended execution.
func (vm *VM) Run(entry *value.Function) *diag.Diagnostic {
	vm.frames = vm.frames[:0]
	vm.frames = append(vm.frames, frame{fn: entry, chunk: entry.Chunk.(*chunk.Chunk)})
	return vm.loop()
}

func (vm *VM) loop() *diag.Diagnostic {
	for {
		f := &vm.frames[len(vm.frames)-1]
		instr := f.chunk.Instructions[f.ip]
		s := f.chunk.Spans[f.ip]

		switch instr.Op {
		case chunk.LoadConstant:
			if d := vm.push(f.chunk.Constants[instr.Operand], s); d != nil {
				return d
			}
			f.ip++

		case chunk.Add:
			r, d := vm.pop(s)
			if d != nil {
				return d
			}
			l, d := vm.pop(s)
			if d != nil {
				return d
			}
			result, d := vm.add(l, r, s)
			if d != nil {
				return d
			}
			if d := vm.push(result, s); d != nil {
				return d
			}
			f.ip++

		case chunk.Subtract:
			if d := vm.binaryArith(s, func(a, b float64) float64 { return a - b }); d != nil {
				return d
			}
			f.ip++

		case chunk.Multiply:
			if d := vm.binaryArith(s, func(a, b float64) float64 { return a * b }); d != nil {
				return d
			}
			f.ip++

		case chunk.Divide:
			if d := vm.binaryArith(s, func(a, b float64) float64 { return a / b }); d != nil {
				return d
			}
			f.ip++

		case chunk.Negate:
			v, d := vm.pop(s)
			if d != nil {
				return d
			}
			if v.Type() != value.Number {
				return diag.New("E0008", s)
			}
			if d := vm.push(value.NewNumber(-v.AsNumber()), s); d != nil {
				return d
			}
			f.ip++

		case chunk.Not:
			v, d := vm.pop(s)
			if d != nil {
				return d
			}
			if d := vm.push(value.NewBool(!value.Truthy(v)), s); d != nil {
				return d
			}
			f.ip++

		case chunk.Greater:
			if d := vm.binaryRelational(s, func(a, b float64) bool { return a > b }); d != nil {
				return d
			}
			f.ip++

		case chunk.Less:
			if d := vm.binaryRelational(s, func(a, b float64) bool { return a < b }); d != nil {
				return d
			}
			f.ip++

		case chunk.Equal:
			r, d := vm.pop(s)
			if d != nil {
				return d
			}
			l, d := vm.pop(s)
			if d != nil {
				return d
			}
			if d := vm.push(value.NewBool(value.Equal(l, r)), s); d != nil {
				return d
			}
			f.ip++

		case chunk.True:
			if d := vm.push(value.NewBool(true), s); d != nil {
				return d
			}
			f.ip++

		case chunk.False:
			if d := vm.push(value.NewBool(false), s); d != nil {
				return d
			}
			f.ip++

		case chunk.Nil:
			if d := vm.push(value.NewNil(), s); d != nil {
				return d
			}
			f.ip++

		case chunk.Print:
			v, d := vm.pop(s)
			if d != nil {
				return d
			}
			fmt.Fprintln(vm.out, value.Display(v))
			f.ip++

		case chunk.Pop:
			if _, d := vm.pop(s); d != nil {
				return d
			}
			f.ip++

		case chunk.DefineGlobal:
			name, d := vm.popName(s)
			if d != nil {
				return d
			}
			v, d := vm.pop(s)
			if d != nil {
				return d
			}
			if _, exists := vm.globals[name]; exists {
				return diag.New("E0011", s)
			}
			vm.globals[name] = v
			f.ip++

		case chunk.GetGlobal:
			name, d := vm.popName(s)
			if d != nil {
				return d
			}
			v, ok := vm.globals[name]
			if !ok {
				return diag.New("E0012", s)
			}
			if d := vm.push(v, s); d != nil {
				return d
			}
			f.ip++

		case chunk.SetGlobal:
			name, d := vm.popName(s)
			if d != nil {
				return d
			}
			if _, ok := vm.globals[name]; !ok {
				return diag.New("E0012", s)
			}
			top, d := vm.peek(s)
			if d != nil {
				return d
			}
			vm.globals[name] = top
			f.ip++

		case chunk.GetLocal:
			if d := vm.push(vm.stack[f.base+instr.Operand], s); d != nil {
				return d
			}
			f.ip++

		case chunk.SetLocal:
			top, d := vm.peek(s)
			if d != nil {
				return d
			}
			vm.stack[f.base+instr.Operand] = top
			f.ip++

		case chunk.JumpIfFalse:
			top, d := vm.peek(s)
			if d != nil {
				return d
			}
			if !value.Truthy(top) {
				f.ip += instr.Operand
			} else {
				f.ip++
			}

		case chunk.Jump:
			f.ip += instr.Operand

		case chunk.PrepareInvoke:
			vm.pendingBases = append(vm.pendingBases, len(vm.stack))
			f.ip++

		case chunk.Invoke:
			if d := vm.invoke(f, s); d != nil {
				return d
			}

		case chunk.Return:
			result, d := vm.pop(s)
			if d != nil {
				return d
			}
			vm.stack = vm.stack[:f.base]
			vm.frames = vm.frames[:len(vm.frames)-1]
			if len(vm.frames) == 0 {
				return nil
			}
			if d := vm.push(result, s); d != nil {
				return d
			}

		default:
			return diag.New("E0005", s)
		}
	}
}

// invoke implements the PrepareInvoke/Invoke handshake: pop the callee
// name, dispatch to a native (which consumes its own arguments off the
// stack) or push a new frame for a user function.
func (vm *VM) invoke(f *frame, s span.Span) *diag.Diagnostic {
	name, d := vm.popName(s)
	if d != nil {
		return d
	}
	if len(vm.pendingBases) == 0 {
		return diag.New("E0010", s)
	}
	base := vm.pendingBases[len(vm.pendingBases)-1]
	vm.pendingBases = vm.pendingBases[:len(vm.pendingBases)-1]
	argc := len(vm.stack) - base

	if native, ok := vm.natives[name]; ok {
		f.ip++
		result, d := native(vm, argc)
		if d != nil {
			return d
		}
		vm.stack = vm.stack[:base]
		return vm.push(result, s)
	}

	fn, ok := vm.functions[name]
	if !ok {
		return diag.New("E0015", s)
	}
	if argc != fn.Arity {
		return diag.New("E0016", s)
	}
	if len(vm.frames) >= cap(vm.frames) {
		return diag.New("E0006", s)
	}
	f.ip++
	vm.frames = append(vm.frames, frame{fn: fn, chunk: fn.Chunk.(*chunk.Chunk), ip: 0, base: base})
	return nil
}

// add is the only arithmetic opcode with two valid operand shapes:
// Number+Number or String+String, producing a freshly interned
// concatenation for the latter.
func (vm *VM) add(l, r value.Value, s span.Span) (value.Value, *diag.Diagnostic) {
	if l.Type() == value.Number && r.Type() == value.Number {
		return value.NewNumber(l.AsNumber() + r.AsNumber()), nil
	}
	if l.Type() == value.String && r.Type() == value.String {
		concat := *l.AsString().Deref() + *r.AsString().Deref()
		return value.NewString(vm.heap.SpawnString(concat)), nil
	}
	return value.Value{}, diag.New("E0009", s)
}

func (vm *VM) binaryArith(s span.Span, op func(a, b float64) float64) *diag.Diagnostic {
	r, d := vm.pop(s)
	if d != nil {
		return d
	}
	l, d := vm.pop(s)
	if d != nil {
		return d
	}
	if l.Type() != value.Number || r.Type() != value.Number {
		return diag.New("E0008", s)
	}
	return vm.push(value.NewNumber(op(l.AsNumber(), r.AsNumber())), s)
}

func (vm *VM) binaryRelational(s span.Span, op func(a, b float64) bool) *diag.Diagnostic {
	r, d := vm.pop(s)
	if d != nil {
		return d
	}
	l, d := vm.pop(s)
	if d != nil {
		return d
	}
	if l.Type() != value.Number || r.Type() != value.Number {
		return diag.New("E0008", s)
	}
	return vm.push(value.NewBool(op(l.AsNumber(), r.AsNumber())), s)
}

// popName pops the top of the stack and requires it to be a String,
// the identifier-through-stack protocol every Define/Get/Set/Invoke
// relies on.
func (vm *VM) popName(s span.Span) (string, *diag.Diagnostic) {
	v, d := vm.pop(s)
	if d != nil {
		return "", d
	}
	if v.Type() != value.String {
		return "", diag.New("E0010", s)
	}
	return *v.AsString().Deref(), nil
}

func (vm *VM) push(v value.Value, s span.Span) *diag.Diagnostic {
	if len(vm.stack) >= cap(vm.stack) {
		return diag.New("E0006", s)
	}
	vm.stack = append(vm.stack, v)
	if len(vm.stack) > vm.peakStack {
		vm.peakStack = len(vm.stack)
	}
	return nil
}

func (vm *VM) pop(s span.Span) (value.Value, *diag.Diagnostic) {
	if len(vm.stack) == 0 {
		return value.Value{}, diag.New("E0007", s)
	}
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v, nil
}

func (vm *VM) peek(s span.Span) (value.Value, *diag.Diagnostic) {
	if len(vm.stack) == 0 {
		return value.Value{}, diag.New("E0007", s)
	}
	return vm.stack[len(vm.stack)-1], nil
}

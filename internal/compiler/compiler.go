// Package compiler lowers a declaration tree into bytecode: a single
// pass over the AST that tracks lexical scope, backpatches forward
// jumps, and interns constants through the heap.
package compiler

import (
	"loxvm/internal/ast"
	"loxvm/internal/chunk"
	"loxvm/internal/diag"
	"loxvm/internal/span"
	"loxvm/internal/value"
)

// Local is a tracked local variable: its name and the scope depth it
// was declared at. Its slot index is its position in the owning
// funcState's locals slice.
type Local struct {
	Name  string
	Depth int
}

// funcState is the per-function compilation context: its own builder,
// its own flat locals list, and its own scope depth. Functions do not
// close over their enclosing scope in this language, so funcState
// forms a simple stack rather than a chain of lexical parents.
type funcState struct {
	builder   *chunk.ChunkBuilder
	locals    []Local
	scopeDepth int
	arity     int
	name      string
	enclosing *funcState
}

// Compiler lowers one program into a script Function plus the flat
// table of every named function declared anywhere in it - the
// realization of "the script's compiled function set" that Invoke
// looks names up in at runtime.
type Compiler struct {
	heap    *value.Heap
	current *funcState
	functions map[string]*value.Function
}

// New returns a Compiler that interns string constants through heap.
func New(heap *value.Heap) *Compiler {
	return &Compiler{heap: heap, functions: make(map[string]*value.Function)}
}

// Compile lowers decls into the script's entry Function. The returned
// functions map contains every named "fun" declaration compiled along
// the way, keyed by name, for the VM's Invoke dispatch.
func Compile(heap *value.Heap, decls []ast.Declaration) (*value.Function, map[string]*value.Function, *diag.Diagnostic) {
	c := New(heap)
	c.current = &funcState{builder: chunk.NewBuilder(), name: "<script>"}

	for _, decl := range decls {
		if d := c.compileDeclaration(decl); d != nil {
			return nil, nil, d
		}
	}
	c.current.builder.Append(chunk.Instruction{Op: chunk.Nil})
	c.current.builder.Append(chunk.Instruction{Op: chunk.Return})

	entry := &value.Function{Name: "<script>", Arity: 0, Chunk: c.current.builder.Build()}
	return entry, c.functions, nil
}

func (c *Compiler) compileDeclaration(d ast.Declaration) *diag.Diagnostic {
	switch decl := d.(type) {
	case *ast.ClassDecl:
		return unsupported(decl.Name.Span)
	case *ast.FunctionDecl:
		return c.compileFunctionDecl(decl)
	case *ast.VarDecl:
		return c.compileVarDecl(decl)
	case ast.Statement:
		return c.compileStatement(decl)
	default:
		panic("compiler: unknown declaration node")
	}
}

// unsupported reports the one open question the spec leaves as a
// choice: class declarations and property access are parsed, per the
// grammar, but have no defined bytecode semantics, so lowering them is
// a compile-time error rather than silently skipped.
func unsupported(s span.Span) *diag.Diagnostic {
	return diag.New("E0005", s, "class declarations and property access have no bytecode lowering in this build")
}

func (c *Compiler) compileFunctionDecl(fd *ast.FunctionDecl) *diag.Diagnostic {
	enclosing := c.current
	c.current = &funcState{
		builder:   chunk.NewBuilder(),
		name:      fd.Name.Value,
		arity:     len(fd.Params),
		enclosing: enclosing,
	}
	c.beginScope()
	for _, param := range fd.Params {
		c.addLocal(param.Value)
	}
	for _, bodyDecl := range fd.Body.Decls {
		if d := c.compileDeclaration(bodyDecl); d != nil {
			c.current = enclosing
			return d
		}
	}
	c.current.builder.Append(chunk.Instruction{Op: chunk.Nil})
	c.current.builder.Append(chunk.Instruction{Op: chunk.Return})

	fn := &value.Function{Name: fd.Name.Value, Arity: len(fd.Params), Chunk: c.current.builder.Build()}
	ref := value.Spawn(c.heap, *fn)
	c.current = enclosing
	c.current.builder.Define(value.NewFunction(ref))
	c.functions[fd.Name.Value] = fn
	return nil
}

func (c *Compiler) compileVarDecl(v *ast.VarDecl) *diag.Diagnostic {
	if v.Init != nil {
		if d := c.compileExpression(v.Init); d != nil {
			return d
		}
	} else {
		c.current.builder.Write(chunk.Instruction{Op: chunk.Nil}, v.Name.Span)
	}

	if c.current.scopeDepth == 0 {
		nameIdx := c.current.builder.Define(value.NewString(c.heap.SpawnString(v.Name.Value)))
		c.current.builder.Append(chunk.Instruction{Op: chunk.LoadConstant, Operand: nameIdx})
		c.current.builder.Append(chunk.Instruction{Op: chunk.DefineGlobal})
		return nil
	}
	c.addLocal(v.Name.Value)
	return nil
}

func (c *Compiler) compileStatement(s ast.Statement) *diag.Diagnostic {
	switch stmt := s.(type) {
	case *ast.ExprStmt:
		if d := c.compileExpression(stmt.Expr); d != nil {
			return d
		}
		c.current.builder.Append(chunk.Instruction{Op: chunk.Pop})
		return nil
	case *ast.PrintStmt:
		if d := c.compileExpression(stmt.Expr); d != nil {
			return d
		}
		c.current.builder.Append(chunk.Instruction{Op: chunk.Print})
		return nil
	case *ast.BlockStmt:
		c.beginScope()
		for _, decl := range stmt.Decls {
			if d := c.compileDeclaration(decl); d != nil {
				return d
			}
		}
		c.endScope()
		return nil
	case *ast.IfStmt:
		return c.compileIf(stmt)
	case *ast.WhileStmt:
		return c.compileWhile(stmt)
	case *ast.ForStmt:
		return c.compileFor(stmt)
	case *ast.ReturnStmt:
		if stmt.Value != nil {
			if d := c.compileExpression(stmt.Value); d != nil {
				return d
			}
		} else {
			c.current.builder.Write(chunk.Instruction{Op: chunk.Nil}, stmt.Keyword)
		}
		c.current.builder.Append(chunk.Instruction{Op: chunk.Return})
		return nil
	default:
		panic("compiler: unknown statement node")
	}
}

func (c *Compiler) compileIf(stmt *ast.IfStmt) *diag.Diagnostic {
	if d := c.compileExpression(stmt.Cond); d != nil {
		return d
	}
	elseJump := c.current.builder.AppendBackpatch(chunk.Instruction{Op: chunk.JumpIfFalse})
	c.current.builder.Append(chunk.Instruction{Op: chunk.Pop})
	if d := c.compileStatement(stmt.Then); d != nil {
		return d
	}
	endJump := c.current.builder.AppendBackpatch(chunk.Instruction{Op: chunk.Jump})
	elseJump.Backpatch()
	c.current.builder.Append(chunk.Instruction{Op: chunk.Pop})
	if stmt.Else != nil {
		if d := c.compileStatement(stmt.Else); d != nil {
			return d
		}
	}
	endJump.Backpatch()
	return nil
}

func (c *Compiler) compileWhile(stmt *ast.WhileStmt) *diag.Diagnostic {
	top := c.current.builder.Len()
	if d := c.compileExpression(stmt.Cond); d != nil {
		return d
	}
	exitJump := c.current.builder.AppendBackpatch(chunk.Instruction{Op: chunk.JumpIfFalse})
	c.current.builder.Append(chunk.Instruction{Op: chunk.Pop})
	if d := c.compileStatement(stmt.Body); d != nil {
		return d
	}
	loop := c.current.builder.AppendBackpatch(chunk.Instruction{Op: chunk.Jump})
	loop.BackpatchBy(top)
	exitJump.Backpatch()
	c.current.builder.Append(chunk.Instruction{Op: chunk.Pop})
	return nil
}

func (c *Compiler) compileFor(stmt *ast.ForStmt) *diag.Diagnostic {
	c.beginScope()
	if stmt.Init != nil {
		if d := c.compileDeclaration(stmt.Init); d != nil {
			return d
		}
	}

	top := c.current.builder.Len()
	var exitJump *chunk.Backpatcher
	if stmt.Cond != nil {
		if d := c.compileExpression(stmt.Cond); d != nil {
			return d
		}
		jump := c.current.builder.AppendBackpatch(chunk.Instruction{Op: chunk.JumpIfFalse})
		exitJump = &jump
		c.current.builder.Append(chunk.Instruction{Op: chunk.Pop})
	}

	if d := c.compileStatement(stmt.Body); d != nil {
		return d
	}

	if stmt.Incr != nil {
		if d := c.compileExpression(stmt.Incr); d != nil {
			return d
		}
		c.current.builder.Append(chunk.Instruction{Op: chunk.Pop})
	}

	loop := c.current.builder.AppendBackpatch(chunk.Instruction{Op: chunk.Jump})
	loop.BackpatchBy(top)

	if exitJump != nil {
		exitJump.Backpatch()
		c.current.builder.Append(chunk.Instruction{Op: chunk.Pop})
	}
	c.endScope()
	return nil
}

func (c *Compiler) compileExpression(e ast.Expression) *diag.Diagnostic {
	switch expr := e.(type) {
	case *ast.LiteralExpr:
		return c.compileLiteral(expr)
	case *ast.UnaryExpr:
		return c.compileUnary(expr)
	case *ast.BinaryExpr:
		return c.compileBinary(expr)
	case *ast.AssignExpr:
		return c.compileAssign(expr)
	case *ast.CallExpr:
		return c.compileCall(expr)
	case *ast.PropertyExpr:
		return unsupported(expr.Span())
	default:
		panic("compiler: unknown expression node")
	}
}

func (c *Compiler) compileLiteral(expr *ast.LiteralExpr) *diag.Diagnostic {
	lit := expr.Value.Value
	s := expr.Value.Span
	switch lit.Kind {
	case ast.LitNil:
		c.current.builder.Write(chunk.Instruction{Op: chunk.Nil}, s)
	case ast.LitTrue:
		c.current.builder.Write(chunk.Instruction{Op: chunk.True}, s)
	case ast.LitFalse:
		c.current.builder.Write(chunk.Instruction{Op: chunk.False}, s)
	case ast.LitNumber:
		idx := c.current.builder.Define(value.NewNumber(lit.Number))
		c.current.builder.Write(chunk.Instruction{Op: chunk.LoadConstant, Operand: idx}, s)
	case ast.LitString:
		idx := c.current.builder.Define(value.NewString(c.heap.SpawnString(lit.Text)))
		c.current.builder.Write(chunk.Instruction{Op: chunk.LoadConstant, Operand: idx}, s)
	case ast.LitIdentifier:
		if slot, ok := c.resolveLocal(lit.Text); ok {
			c.current.builder.Write(chunk.Instruction{Op: chunk.GetLocal, Operand: slot}, s)
			return nil
		}
		idx := c.current.builder.Define(value.NewString(c.heap.SpawnString(lit.Text)))
		c.current.builder.Write(chunk.Instruction{Op: chunk.LoadConstant, Operand: idx}, s)
		c.current.builder.Write(chunk.Instruction{Op: chunk.GetGlobal}, s)
	}
	return nil
}

func (c *Compiler) compileUnary(expr *ast.UnaryExpr) *diag.Diagnostic {
	if d := c.compileExpression(expr.Expr); d != nil {
		return d
	}
	switch expr.Op.Value {
	case ast.OpNegate:
		c.current.builder.Write(chunk.Instruction{Op: chunk.Negate}, expr.Op.Span)
	case ast.OpNot:
		c.current.builder.Write(chunk.Instruction{Op: chunk.Not}, expr.Op.Span)
	}
	return nil
}

func (c *Compiler) compileBinary(expr *ast.BinaryExpr) *diag.Diagnostic {
	switch expr.Op.Value {
	case ast.OpAnd:
		return c.compileAnd(expr)
	case ast.OpOr:
		return c.compileOr(expr)
	}

	if d := c.compileExpression(expr.Lhs); d != nil {
		return d
	}
	if d := c.compileExpression(expr.Rhs); d != nil {
		return d
	}
	s := expr.Op.Span
	switch expr.Op.Value {
	case ast.OpAdd:
		c.current.builder.Write(chunk.Instruction{Op: chunk.Add}, s)
	case ast.OpSubtract:
		c.current.builder.Write(chunk.Instruction{Op: chunk.Subtract}, s)
	case ast.OpMultiply:
		c.current.builder.Write(chunk.Instruction{Op: chunk.Multiply}, s)
	case ast.OpDivide:
		c.current.builder.Write(chunk.Instruction{Op: chunk.Divide}, s)
	case ast.OpGreater:
		c.current.builder.Write(chunk.Instruction{Op: chunk.Greater}, s)
	case ast.OpLess:
		c.current.builder.Write(chunk.Instruction{Op: chunk.Less}, s)
	case ast.OpEqual:
		c.current.builder.Write(chunk.Instruction{Op: chunk.Equal}, s)
	case ast.OpNotEqual:
		c.current.builder.Write(chunk.Instruction{Op: chunk.Equal}, s)
		c.current.builder.Append(chunk.Instruction{Op: chunk.Not})
	case ast.OpGreaterEqual:
		c.current.builder.Write(chunk.Instruction{Op: chunk.Less}, s)
		c.current.builder.Append(chunk.Instruction{Op: chunk.Not})
	case ast.OpLessEqual:
		c.current.builder.Write(chunk.Instruction{Op: chunk.Greater}, s)
		c.current.builder.Append(chunk.Instruction{Op: chunk.Not})
	case ast.OpPropertyAccess:
		return unsupported(s)
	}
	return nil
}

// compileAnd: lhs; JumpIfFalse(END); Pop; rhs; END:
func (c *Compiler) compileAnd(expr *ast.BinaryExpr) *diag.Diagnostic {
	if d := c.compileExpression(expr.Lhs); d != nil {
		return d
	}
	end := c.current.builder.AppendBackpatch(chunk.Instruction{Op: chunk.JumpIfFalse})
	c.current.builder.Append(chunk.Instruction{Op: chunk.Pop})
	if d := c.compileExpression(expr.Rhs); d != nil {
		return d
	}
	end.Backpatch()
	return nil
}

// compileOr: lhs; JumpIfFalse(RHS); Jump(END); RHS: Pop; rhs; END:
func (c *Compiler) compileOr(expr *ast.BinaryExpr) *diag.Diagnostic {
	if d := c.compileExpression(expr.Lhs); d != nil {
		return d
	}
	toRHS := c.current.builder.AppendBackpatch(chunk.Instruction{Op: chunk.JumpIfFalse})
	end := c.current.builder.AppendBackpatch(chunk.Instruction{Op: chunk.Jump})
	toRHS.Backpatch()
	c.current.builder.Append(chunk.Instruction{Op: chunk.Pop})
	if d := c.compileExpression(expr.Rhs); d != nil {
		return d
	}
	end.Backpatch()
	return nil
}

func (c *Compiler) compileAssign(expr *ast.AssignExpr) *diag.Diagnostic {
	target, ok := expr.Lhs.(*ast.LiteralExpr)
	if !ok || target.Value.Value.Kind != ast.LitIdentifier {
		return diag.New("E0013", expr.Lhs.Span())
	}
	if d := c.compileExpression(expr.Rhs); d != nil {
		return d
	}
	name := target.Value.Value.Text
	if slot, ok := c.resolveLocal(name); ok {
		c.current.builder.Write(chunk.Instruction{Op: chunk.SetLocal, Operand: slot}, expr.Equal)
		return nil
	}
	idx := c.current.builder.Define(value.NewString(c.heap.SpawnString(name)))
	c.current.builder.Write(chunk.Instruction{Op: chunk.LoadConstant, Operand: idx}, expr.Equal)
	c.current.builder.Append(chunk.Instruction{Op: chunk.SetGlobal})
	return nil
}

func (c *Compiler) compileCall(expr *ast.CallExpr) *diag.Diagnostic {
	callee, ok := expr.Callee.(*ast.LiteralExpr)
	if !ok || callee.Value.Value.Kind != ast.LitIdentifier {
		return diag.New("E0014", expr.Callee.Span())
	}
	c.current.builder.Write(chunk.Instruction{Op: chunk.PrepareInvoke}, expr.Callee.Span())
	for _, arg := range expr.Args {
		if d := c.compileExpression(arg); d != nil {
			return d
		}
	}
	idx := c.current.builder.Define(value.NewString(c.heap.SpawnString(callee.Value.Value.Text)))
	c.current.builder.Write(chunk.Instruction{Op: chunk.LoadConstant, Operand: idx}, expr.ClosingAt)
	c.current.builder.Append(chunk.Instruction{Op: chunk.Invoke})
	return nil
}

// --- Scope and local-variable bookkeeping ---

func (c *Compiler) beginScope() {
	c.current.scopeDepth++
}

func (c *Compiler) endScope() {
	c.current.scopeDepth--
	locals := c.current.locals
	for len(locals) > 0 && locals[len(locals)-1].Depth > c.current.scopeDepth {
		locals = locals[:len(locals)-1]
		c.current.builder.Append(chunk.Instruction{Op: chunk.Pop})
	}
	c.current.locals = locals
}

func (c *Compiler) addLocal(name string) {
	c.current.locals = append(c.current.locals, Local{Name: name, Depth: c.current.scopeDepth})
}

// resolveLocal scans from the innermost declaration backward, per the
// shadowing rule, but the slot index returned is its position from the
// bottom of the slice - stable regardless of which scope shadowed it.
func (c *Compiler) resolveLocal(name string) (int, bool) {
	for i := len(c.current.locals) - 1; i >= 0; i-- {
		if c.current.locals[i].Name == name {
			return i, true
		}
	}
	return 0, false
}

package engine

import (
	"context"
	"time"

	"github.com/wrtgo/wrtgo/internal/safemem"
	"github.com/wrtgo/wrtgo/internal/wasm"
	"github.com/wrtgo/wrtgo/internal/wrterr"
)

// execFrame pairs a StacklessFrame with the function/instance it is
// executing, letting runFrames dispatch without knowing which instance or
// function owns the frame beneath the current one.
type execFrame struct {
	*StacklessFrame
	inst  *wasm.Instance
	fn    *wasm.Function
	jt    jumpTargets
	arity uint32 // function result arity, charged against the outermost implicit block
	// calledFrame is true for every frame pushed by call()/callIndirect()
	// rather than CallFunction's own root frame; only those frames have a
	// matching shadow-stack PushReturn to balance in popFrame.
	calledFrame bool
}

// CallFunction invokes inst.Functions[funcIdx] to completion. Host imports
// are called directly (they are leaves, not part of the Wasm call-depth
// budget); module-defined functions run on an explicit frame stack so
// nested Wasm-to-Wasm calls never grow the host goroutine stack per Wasm
// call depth (spec 4.J, "stackless").
func (e *Engine) CallFunction(ctx context.Context, inst *wasm.Instance, funcIdx uint32, args []wasm.Value) ([]wasm.Value, error) {
	if int(funcIdx) >= len(inst.Functions) {
		return nil, wrterr.New(wrterr.KindIndexOutOfBounds, "function index %d out of range", funcIdx)
	}
	fi := inst.Functions[funcIdx]
	e.Stats.AddFunctionCalls(1)
	if fi.IsHost {
		return fi.Host.Call(ctx, args)
	}

	start := time.Now()
	defer func() { e.Stats.AddExecutionTimeUs(uint64(time.Since(start).Microseconds())) }()

	root, err := e.pushFrame(inst, fi, funcIdx, args)
	if err != nil {
		return nil, err
	}
	stack := []*execFrame{root}
	e.Stats.ObserveCallDepth(1)
	defer func() {
		for _, f := range stack {
			_ = f.Close()
		}
	}()

	instructionsSinceCheck := 0
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.PC >= uint32(len(top.fn.Body)) {
			results, rerr := e.popFrame(top)
			if rerr != nil {
				return nil, rerr
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return results, nil
			}
			if err := pushValues(stack[len(stack)-1], results); err != nil {
				return nil, err
			}
			continue
		}

		instructionsSinceCheck++
		if instructionsSinceCheck >= timeoutCheckStride {
			instructionsSinceCheck = 0
			select {
			case <-ctx.Done():
				return nil, wrterr.New(wrterr.KindTimeout, "execution cancelled")
			default:
			}
		}

		in := top.fn.Body[top.PC]
		cost := e.costs.Cost(in.Op, e.level)
		if remaining := e.fuel.Add(-int64(cost)); remaining < 0 {
			e.fuel.Add(int64(cost)) // refund: the charge never happened
			return nil, wrterr.New(wrterr.KindOutOfFuel, "fuel exhausted executing %v", in.Op)
		}
		e.Stats.AddInstructions(1)
		e.Stats.AddFuelConsumed(cost)

		next, pushed, err := e.step(top, &stack, in)
		if err != nil {
			return nil, err
		}
		if pushed {
			e.Stats.ObserveCallDepth(uint32(len(stack)))
			continue // a new frame was pushed by OpCall; resume at its PC 0
		}
		top.PC = next
	}
	return nil, wrterr.New(wrterr.KindUnreachable, "frame stack emptied without returning")
}

func (e *Engine) pushFrame(inst *wasm.Instance, fi *wasm.FunctionInstance, funcIdx uint32, args []wasm.Value) (*execFrame, error) {
	fn := fi.Defined
	locals := make([]wasm.Value, 0, len(fn.LocalTypes)+len(args))
	locals = append(locals, args...)
	for _, t := range fn.LocalTypes {
		locals = append(locals, zeroValueFor(t))
	}

	sf, err := NewStacklessFrame(e.memCtx, e.crate, e.level, inst.ID, funcIdx, locals, uint32(len(fn.Body)))
	if err != nil {
		return nil, err
	}
	// The function body is itself the outermost implicit block.
	if err := sf.Controls.Push(ControlFrame{Kind: BlockKindBlock, Arity: uint32(len(fi.Type.Results)), Height: 0, EndPC: uint32(len(fn.Body)), ElsePC: noElse}); err != nil {
		_ = sf.Close()
		return nil, err
	}
	return &execFrame{StacklessFrame: sf, inst: inst, fn: fn, jt: e.jumpTargetsFor(fn), arity: uint32(len(fi.Type.Results))}, nil
}

// popFrame drains the top arity operand values (the function's results) and
// closes the frame's bounded containers. It also balances call()'s
// PushReturn for every frame call()/callIndirect() pushed (spec 4.P); the
// root frame CallFunction itself pushes was never recorded on the shadow
// stack, so it skips the matching pop.
func (e *Engine) popFrame(f *execFrame) ([]wasm.Value, error) {
	results := make([]wasm.Value, f.arity)
	for i := int(f.arity) - 1; i >= 0; i-- {
		v, err := f.Operands.Pop()
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		results[i] = v
	}
	if f.calledFrame {
		if err := e.shadow.PopReturn(f.FuncIdx); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	err := f.Close()
	return results, err
}

func pushValues(f *execFrame, vs []wasm.Value) error {
	for _, v := range vs {
		if err := f.Operands.Push(v); err != nil {
			return err
		}
	}
	return nil
}

func zeroValueFor(t wasm.ValueType) wasm.Value {
	switch t {
	case wasm.ValueTypeI64:
		return wasm.I64(0)
	case wasm.ValueTypeF32:
		return wasm.F32(0)
	case wasm.ValueTypeF64:
		return wasm.F64(0)
	case wasm.ValueTypeFuncRef:
		return wasm.NullFuncRef()
	case wasm.ValueTypeExternRef:
		return wasm.NullExternRef()
	default:
		return wasm.I32(0)
	}
}

// step executes exactly one instruction of the top frame. It returns the
// next PC for the top frame, and whether a new frame was pushed onto
// *stack (in which case the caller must resume the loop at the new top
// rather than advance top's PC).
func (e *Engine) step(top *execFrame, stack *[]*execFrame, in wasm.Instruction) (nextPC uint32, pushed bool, err error) {
	switch in.Op {
	case wasm.OpUnreachable:
		return 0, false, wrterr.New(wrterr.KindUnreachable, "unreachable instruction executed")
	case wasm.OpNop:
		return top.PC + 1, false, nil

	case wasm.OpBlock, wasm.OpLoop:
		end := top.jt.end[top.PC]
		kind := BlockKindBlock
		if in.Op == wasm.OpLoop {
			kind = BlockKindLoop
		}
		if err := top.Controls.Push(ControlFrame{Kind: kind, Arity: uint32(in.Imm[0]), Height: top.Operands.Len(), EndPC: end, ElsePC: noElse}); err != nil {
			return 0, false, err
		}
		return top.PC + 1, false, nil

	case wasm.OpIf:
		cond, err := top.Operands.Pop()
		if err != nil {
			return 0, false, err
		}
		end := top.jt.end[top.PC]
		elseIdx := top.jt.els[top.PC]
		if err := top.Controls.Push(ControlFrame{Kind: BlockKindIf, Arity: uint32(in.Imm[0]), Height: top.Operands.Len(), EndPC: end, ElsePC: elseIdx}); err != nil {
			return 0, false, err
		}
		if cond.I32() != 0 {
			return top.PC + 1, false, nil
		}
		if elseIdx == noElse {
			return end + 1, false, nil // condition false, no else: skip straight past End
		}
		return elseIdx + 1, false, nil

	case wasm.OpElse:
		// Reached by falling off the then-branch: skip to this block's End.
		cf, err := top.Controls.Peek()
		if err != nil {
			return 0, false, err
		}
		return cf.EndPC, false, nil

	case wasm.OpEnd:
		if _, err := top.Controls.Pop(); err != nil {
			return 0, false, err
		}
		return top.PC + 1, false, nil

	case wasm.OpBr:
		return e.branch(top, uint32(in.Imm[0]))

	case wasm.OpBrIf:
		cond, err := top.Operands.Pop()
		if err != nil {
			return 0, false, err
		}
		if cond.I32() == 0 {
			return top.PC + 1, false, nil
		}
		return e.branch(top, uint32(in.Imm[0]))

	case wasm.OpBrTable:
		idxVal, err := top.Operands.Pop()
		if err != nil {
			return 0, false, err
		}
		sel := idxVal.U32()
		targets := in.Imm[:len(in.Imm)-1]
		def := uint32(in.Imm[len(in.Imm)-1])
		depth := def
		if sel < uint32(len(targets)) {
			depth = uint32(targets[sel])
		}
		return e.branch(top, depth)

	case wasm.OpReturn:
		// Unwind every control frame; the function-level End handling in
		// the main loop (PC >= len(body)) drains the result values.
		top.PC = uint32(len(top.fn.Body))
		return top.PC, false, nil

	case wasm.OpCall:
		return e.call(top, stack, uint32(in.Imm[0]))

	case wasm.OpCallIndirect:
		return e.callIndirect(top, stack, uint32(in.Imm[0]), uint32(in.Imm[1]))

	case wasm.OpDrop:
		_, err := top.Operands.Pop()
		return top.PC + 1, false, err

	case wasm.OpSelect:
		cond, err := top.Operands.Pop()
		if err != nil {
			return 0, false, err
		}
		b, err := top.Operands.Pop()
		if err != nil {
			return 0, false, err
		}
		a, err := top.Operands.Pop()
		if err != nil {
			return 0, false, err
		}
		if cond.I32() != 0 {
			err = top.Operands.Push(a)
		} else {
			err = top.Operands.Push(b)
		}
		return top.PC + 1, false, err

	case wasm.OpLocalGet:
		idx := in.Imm[0]
		if idx >= uint64(len(top.Locals)) {
			return 0, false, wrterr.New(wrterr.KindIndexOutOfBounds, "local.get index %d out of range", idx)
		}
		return top.PC + 1, false, top.Operands.Push(top.Locals[idx])
	case wasm.OpLocalSet:
		v, err := top.Operands.Pop()
		if err != nil {
			return 0, false, err
		}
		idx := in.Imm[0]
		if idx >= uint64(len(top.Locals)) {
			return 0, false, wrterr.New(wrterr.KindIndexOutOfBounds, "local.set index %d out of range", idx)
		}
		top.Locals[idx] = v
		return top.PC + 1, false, nil
	case wasm.OpLocalTee:
		v, err := top.Operands.Peek()
		if err != nil {
			return 0, false, err
		}
		idx := in.Imm[0]
		if idx >= uint64(len(top.Locals)) {
			return 0, false, wrterr.New(wrterr.KindIndexOutOfBounds, "local.tee index %d out of range", idx)
		}
		top.Locals[idx] = v
		return top.PC + 1, false, nil

	case wasm.OpGlobalGet:
		idx := in.Imm[0]
		if idx >= uint64(len(top.inst.Globals)) {
			return 0, false, wrterr.New(wrterr.KindIndexOutOfBounds, "global.get index %d out of range", idx)
		}
		return top.PC + 1, false, top.Operands.Push(top.inst.Globals[idx].Get())
	case wasm.OpGlobalSet:
		v, err := top.Operands.Pop()
		if err != nil {
			return 0, false, err
		}
		idx := in.Imm[0]
		if idx >= uint64(len(top.inst.Globals)) {
			return 0, false, wrterr.New(wrterr.KindIndexOutOfBounds, "global.set index %d out of range", idx)
		}
		return top.PC + 1, false, top.inst.Globals[idx].Set(v)

	case wasm.OpI32Const:
		return top.PC + 1, false, top.Operands.Push(wasm.I32(int32(uint32(in.Imm[0]))))
	case wasm.OpI64Const:
		return top.PC + 1, false, top.Operands.Push(wasm.I64(int64(in.Imm[0])))
	case wasm.OpF32Const:
		return top.PC + 1, false, top.Operands.Push(wasm.FromBits(wasm.ValueTypeF32, in.Imm[0]))
	case wasm.OpF64Const:
		return top.PC + 1, false, top.Operands.Push(wasm.FromBits(wasm.ValueTypeF64, in.Imm[0]))

	case wasm.OpI32Load, wasm.OpI64Load, wasm.OpF32Load, wasm.OpF64Load:
		return e.load(top, in)
	case wasm.OpI32Store, wasm.OpI64Store, wasm.OpF32Store, wasm.OpF64Store:
		return e.store(top, in)
	case wasm.OpMemorySize:
		return top.PC + 1, false, top.Operands.Push(wasm.I32(int32(top.inst.Memories[0].Size())))
	case wasm.OpMemoryGrow:
		delta, err := top.Operands.Pop()
		if err != nil {
			return 0, false, err
		}
		prev, growErr := top.inst.Memories[0].Grow(delta.U32())
		if growErr != nil {
			return top.PC + 1, false, top.Operands.Push(wasm.I32(-1))
		}
		e.Stats.ObservePeakMemory(top.inst.Memories[0].ByteSize())
		return top.PC + 1, false, top.Operands.Push(wasm.I32(int32(prev)))
	case wasm.OpMemoryCopy:
		n, err1 := top.Operands.Pop()
		src, err2 := top.Operands.Pop()
		dst, err3 := top.Operands.Pop()
		if err1 != nil {
			return 0, false, err1
		}
		if err2 != nil {
			return 0, false, err2
		}
		if err3 != nil {
			return 0, false, err3
		}
		return top.PC + 1, false, memoryCopy(top.inst, dst.U32(), src.U32(), n.U32())
	case wasm.OpMemoryFill:
		n, err1 := top.Operands.Pop()
		val, err2 := top.Operands.Pop()
		dst, err3 := top.Operands.Pop()
		if err1 != nil {
			return 0, false, err1
		}
		if err2 != nil {
			return 0, false, err2
		}
		if err3 != nil {
			return 0, false, err3
		}
		return top.PC + 1, false, top.inst.Memories[0].Fill(uint64(dst.U32()), byte(val.U32()), uint64(n.U32()))

	case wasm.OpTableGet:
		idx, err := top.Operands.Pop()
		if err != nil {
			return 0, false, err
		}
		v, gerr := top.inst.Tables[in.Imm[0]].Get(idx.U32())
		if gerr != nil {
			return 0, false, gerr
		}
		return top.PC + 1, false, top.Operands.Push(v)
	case wasm.OpTableSet:
		v, err := top.Operands.Pop()
		if err != nil {
			return 0, false, err
		}
		idx, err := top.Operands.Pop()
		if err != nil {
			return 0, false, err
		}
		return top.PC + 1, false, top.inst.Tables[in.Imm[0]].Set(idx.U32(), v)

	default:
		return e.arithmetic(top, in)
	}
}

// branch implements Br's behavior: pop N control frames (spec 4.K, "Br N");
// a branch to a Loop jumps to its start (re-running the loop), any other
// target jumps past its matching End. Operand stack height is restored to
// the target frame's entry height plus its arity before the jump.
func (e *Engine) branch(top *execFrame, depth uint32) (uint32, bool, error) {
	var target ControlFrame
	for i := uint32(0); i <= depth; i++ {
		cf, err := top.Controls.Pop()
		if err != nil {
			return 0, false, err
		}
		target = cf
	}

	// A branch to a Loop re-enters at its start carrying no values (this
	// engine's block_type models only a result arity, not param types, so
	// loop-carried state flows through locals rather than the stack). A
	// branch out of a Block/If carries its result arity with it.
	carryArity := target.Arity
	if target.Kind == BlockKindLoop {
		carryArity = 0
	}
	carried := make([]wasm.Value, carryArity)
	for i := int(carryArity) - 1; i >= 0; i-- {
		v, err := top.Operands.Pop()
		if err != nil {
			return 0, false, err
		}
		carried[i] = v
	}
	if err := top.Operands.Truncate(target.Height); err != nil {
		return 0, false, err
	}
	for _, v := range carried {
		if err := top.Operands.Push(v); err != nil {
			return 0, false, err
		}
	}

	if target.Kind == BlockKindLoop {
		if err := top.Controls.Push(target); err != nil {
			return 0, false, err
		}
		return findLoopStart(top, target), false, nil
	}
	return target.EndPC + 1, false, nil
}

// findLoopStart locates the Loop instruction owning target by scanning the
// jump-target table's End mapping; cheap relative to execution cost and
// only paid on a taken backward branch.
func findLoopStart(top *execFrame, target ControlFrame) uint32 {
	for start, end := range top.jt.end {
		if end == target.EndPC {
			return start + 1
		}
	}
	return target.EndPC + 1
}

func (e *Engine) call(top *execFrame, stack *[]*execFrame, funcIdx uint32) (uint32, bool, error) {
	if int(funcIdx) >= len(top.inst.Functions) {
		return 0, false, wrterr.New(wrterr.KindIndexOutOfBounds, "call target %d out of range", funcIdx)
	}
	callee := top.inst.Functions[funcIdx]
	sig := callee.Type
	args := make([]wasm.Value, len(sig.Params))
	for i := len(sig.Params) - 1; i >= 0; i-- {
		v, err := top.Operands.Pop()
		if err != nil {
			return 0, false, err
		}
		args[i] = v
	}
	if callee.IsHost {
		results, err := callee.Host.Call(context.Background(), args)
		if err != nil {
			return 0, false, err
		}
		if err := pushResults(top, results); err != nil {
			return 0, false, err
		}
		return top.PC + 1, false, nil
	}
	if uint32(len(*stack)) >= e.maxFrames {
		return 0, false, wrterr.New(wrterr.KindStackOverflow, "call depth exceeds %d", e.maxFrames)
	}
	if err := e.shadow.PushReturn(funcIdx); err != nil {
		return 0, false, err
	}
	nf, err := e.pushFrame(top.inst, callee, funcIdx, args)
	if err != nil {
		return 0, false, err
	}
	nf.calledFrame = true
	top.PC++ // resume here once the callee returns
	*stack = append(*stack, nf)
	return 0, true, nil
}

func pushResults(top *execFrame, results []wasm.Value) error {
	for _, v := range results {
		if err := top.Operands.Push(v); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) callIndirect(top *execFrame, stack *[]*execFrame, tableIdx, typeIdx uint32) (uint32, bool, error) {
	idxVal, err := top.Operands.Pop()
	if err != nil {
		return 0, false, err
	}
	tbl := top.inst.Tables[tableIdx]
	elem, err := tbl.Get(idxVal.U32())
	if err != nil {
		return 0, false, err
	}
	funcIdx, ok := elem.FuncIndex()
	if !ok {
		return 0, false, wrterr.New(wrterr.KindUninitializedElement, "call_indirect to uninitialized element %d", idxVal.U32())
	}
	if int(funcIdx) >= len(top.inst.Functions) {
		return 0, false, wrterr.New(wrterr.KindIndexOutOfBounds, "call_indirect target %d out of range", funcIdx)
	}
	want := &top.inst.Module.Types[typeIdx]
	if !top.inst.Functions[funcIdx].Type.Equals(want) {
		return 0, false, wrterr.New(wrterr.KindSignatureMismatch, "call_indirect signature mismatch at table index %d", idxVal.U32())
	}
	return e.call(top, stack, funcIdx)
}

func (e *Engine) load(top *execFrame, in wasm.Instruction) (uint32, bool, error) {
	addr, err := top.Operands.Pop()
	if err != nil {
		return 0, false, err
	}
	offset := uint64(addr.U32()) + in.Imm[0]
	mem := top.inst.Memories[0]
	var buf [8]byte
	switch in.Op {
	case wasm.OpI32Load:
		if err := mem.Read(offset, buf[:4]); err != nil {
			return 0, false, err
		}
		return top.PC + 1, false, top.Operands.Push(wasm.I32(int32(leUint32(buf[:4]))))
	case wasm.OpF32Load:
		if err := mem.Read(offset, buf[:4]); err != nil {
			return 0, false, err
		}
		return top.PC + 1, false, top.Operands.Push(wasm.FromBits(wasm.ValueTypeF32, uint64(leUint32(buf[:4]))))
	case wasm.OpI64Load:
		if err := mem.Read(offset, buf[:8]); err != nil {
			return 0, false, err
		}
		return top.PC + 1, false, top.Operands.Push(wasm.I64(int64(leUint64(buf[:8]))))
	default: // OpF64Load
		if err := mem.Read(offset, buf[:8]); err != nil {
			return 0, false, err
		}
		return top.PC + 1, false, top.Operands.Push(wasm.FromBits(wasm.ValueTypeF64, leUint64(buf[:8])))
	}
}

func (e *Engine) store(top *execFrame, in wasm.Instruction) (uint32, bool, error) {
	v, err := top.Operands.Pop()
	if err != nil {
		return 0, false, err
	}
	addr, err := top.Operands.Pop()
	if err != nil {
		return 0, false, err
	}
	offset := uint64(addr.U32()) + in.Imm[0]
	mem := top.inst.Memories[0]
	switch in.Op {
	case wasm.OpI32Store, wasm.OpF32Store:
		var buf [4]byte
		putLeUint32(buf[:], uint32(v.Bits()))
		return top.PC + 1, false, mem.Write(offset, buf[:])
	default: // OpI64Store, OpF64Store
		var buf [8]byte
		putLeUint64(buf[:], v.Bits())
		return top.PC + 1, false, mem.Write(offset, buf[:])
	}
}

func memoryCopy(inst *wasm.Instance, dst, src, n uint32) error {
	mem := inst.Memories[0]
	return safemem.CopyWithinOrBetween(mem, uint64(dst), mem, uint64(src), uint64(n))
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func leUint64(b []byte) uint64 {
	return uint64(leUint32(b[:4])) | uint64(leUint32(b[4:]))<<32
}
func putLeUint32(b []byte, v uint32) {
	b[0], b[1], b[2], b[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
}
func putLeUint64(b []byte, v uint64) {
	putLeUint32(b[:4], uint32(v))
	putLeUint32(b[4:], uint32(v>>32))
}

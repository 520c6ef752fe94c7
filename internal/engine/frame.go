package engine

import (
	"encoding/binary"
	"math"

	"github.com/wrtgo/wrtgo/internal/bound"
	"github.com/wrtgo/wrtgo/internal/memref"
	"github.com/wrtgo/wrtgo/internal/verify"
	"github.com/wrtgo/wrtgo/internal/wasm"
)

// BlockKind distinguishes the three structured-control shapes (spec 4.J).
type BlockKind byte

const (
	BlockKindBlock BlockKind = iota
	BlockKindLoop
	BlockKindIf
)

// noElse marks a ControlFrame with no else branch (an If without an Else,
// or a Block/Loop, which never has one).
const noElse = math.MaxUint32

// ControlFrame is one entry of a StacklessFrame's control stack: enough to
// resolve br/br_if/br_table targets and restore operand-stack height without
// re-walking the function body (spec 4.J).
type ControlFrame struct {
	Kind   BlockKind
	Arity  uint32 // result arity; a branch to a Loop targets its start and carries no values
	Height uint32 // operand stack height when this frame was entered
	EndPC  uint32 // instruction index of this block's matching End
	ElsePC uint32 // instruction index of the matching Else, or noElse
}

// controlFrameCodec serializes ControlFrame as a fixed 17-byte record so
// the control stack can be a bound.Vec like every other piece of engine
// state (spec 4.D discipline applied to spec 4.J).
type controlFrameCodec struct{}

func (controlFrameCodec) Size() uint32 { return 17 }

func (controlFrameCodec) Encode(f ControlFrame, dst []byte) {
	dst[0] = byte(f.Kind)
	binary.LittleEndian.PutUint32(dst[1:5], f.Arity)
	binary.LittleEndian.PutUint32(dst[5:9], f.Height)
	binary.LittleEndian.PutUint32(dst[9:13], f.EndPC)
	binary.LittleEndian.PutUint32(dst[13:17], f.ElsePC)
}

func (controlFrameCodec) Decode(src []byte) ControlFrame {
	return ControlFrame{
		Kind:   BlockKind(src[0]),
		Arity:  binary.LittleEndian.Uint32(src[1:5]),
		Height: binary.LittleEndian.Uint32(src[5:9]),
		EndPC:  binary.LittleEndian.Uint32(src[9:13]),
		ElsePC: binary.LittleEndian.Uint32(src[13:17]),
	}
}

// StacklessFrame is one activation record. Unlike a recursive-descent
// interpreter, the engine never grows the Go call stack per Wasm call depth
// — CallFunction iterates a frame list instead of recursing through this
// struct, which is what "stackless" names in spec 4.J.
type StacklessFrame struct {
	InstanceID uint32
	FuncIdx    uint32
	Locals     []wasm.Value
	Operands   *bound.Stack[wasm.Value]
	Controls   *bound.Stack[ControlFrame]
	PC         uint32
	Returned   bool
}

// NewStacklessFrame allocates a frame sized for one function activation:
// a control stack bounded by the body's instruction count (no single frame
// can need more control-frame nesting than it has instructions) and an
// operand stack bounded by four times that count.
func NewStacklessFrame(ctx *memref.Context, crate memref.CrateId, level verify.Level, instanceID, funcIdx uint32, locals []wasm.Value, bodyLen uint32) (*StacklessFrame, error) {
	if bodyLen == 0 {
		bodyLen = 1
	}
	operands, err := bound.NewStack[wasm.Value](ctx, crate, bodyLen*4, wasm.ValueCodec{}, level)
	if err != nil {
		return nil, err
	}
	controls, err := bound.NewStack[ControlFrame](ctx, crate, bodyLen, controlFrameCodec{}, level)
	if err != nil {
		_ = operands.Close()
		return nil, err
	}
	return &StacklessFrame{
		InstanceID: instanceID,
		FuncIdx:    funcIdx,
		Locals:     locals,
		Operands:   operands,
		Controls:   controls,
	}, nil
}

// Close releases the frame's bounded containers. Called when the frame is
// popped, whether by normal return or by a propagating trap.
func (f *StacklessFrame) Close() error {
	err1 := f.Operands.Close()
	err2 := f.Controls.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// jumpTargets is the one-pass pre-scan result for a function body: for
// every Block/Loop/If instruction index, the index of its matching End (and
// for If, its matching Else if present). Computed once per function the
// first time it is called and reused across every activation (spec 4.J,
// "one-pass pre-scan to cache jump targets").
type jumpTargets struct {
	end  map[uint32]uint32
	els  map[uint32]uint32
}

func scanJumpTargets(body []wasm.Instruction) jumpTargets {
	jt := jumpTargets{end: make(map[uint32]uint32), els: make(map[uint32]uint32)}
	type open struct {
		start   uint32
		isIf    bool
		elseIdx uint32
	}
	var stack []open
	for i, in := range body {
		switch in.Op {
		case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
			stack = append(stack, open{start: uint32(i), isIf: in.Op == wasm.OpIf, elseIdx: noElse})
		case wasm.OpElse:
			if len(stack) > 0 {
				stack[len(stack)-1].elseIdx = uint32(i)
			}
		case wasm.OpEnd:
			if len(stack) == 0 {
				continue
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			jt.end[top.start] = uint32(i)
			if top.isIf {
				jt.els[top.start] = top.elseIdx
			}
		}
	}
	return jt
}

package bound

import (
	"github.com/wrtgo/wrtgo/internal/memref"
	"github.com/wrtgo/wrtgo/internal/verify"
	"github.com/wrtgo/wrtgo/internal/wrterr"
)

// Stack is a LIFO bounded container. It is a thin view over Vec, which
// already grows/shrinks only at its tail.
type Stack[T any] struct {
	vec *Vec[T]
}

// NewStack allocates a Stack of the given capacity.
func NewStack[T any](ctx *memref.Context, crate memref.CrateId, cap uint32, codec Codec[T], level verify.Level) (*Stack[T], error) {
	v, err := NewVec(ctx, crate, cap, codec, level)
	if err != nil {
		return nil, err
	}
	return &Stack[T]{vec: v}, nil
}

func (s *Stack[T]) Close() error  { return s.vec.Close() }
func (s *Stack[T]) Len() uint32   { return s.vec.Len() }
func (s *Stack[T]) Cap() uint32   { return s.vec.Cap() }
func (s *Stack[T]) Push(v T) error { return s.vec.Push(v) }
func (s *Stack[T]) Pop() (T, error) { return s.vec.Pop() }

// Peek returns the top element without removing it.
func (s *Stack[T]) Peek() (T, error) {
	var zero T
	if s.vec.Len() == 0 {
		return zero, wrterr.New(wrterr.KindIndexOutOfBounds, "peek on empty stack")
	}
	return s.vec.Get(s.vec.Len() - 1)
}

// Truncate shrinks the stack to height elements, discarding the top of the
// stack above it. Used by the engine to restore operand-stack height on
// branch (spec 4.K, "Br N").
func (s *Stack[T]) Truncate(height uint32) error { return s.vec.Truncate(height) }

// Get returns the element at absolute index i (0 = bottom of stack).
func (s *Stack[T]) Get(i uint32) (T, error) { return s.vec.Get(i) }

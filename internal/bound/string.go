package bound

import (
	"unicode/utf8"

	"github.com/wrtgo/wrtgo/internal/memref"
	"github.com/wrtgo/wrtgo/internal/verify"
	"github.com/wrtgo/wrtgo/internal/wrterr"
)

// String is a BoundedVec<u8> with a UTF-8 invariant enforced at push
// boundaries (spec 4.D).
type String struct {
	vec *Vec[byte]
}

// NewString allocates a String with room for cap bytes.
func NewString(ctx *memref.Context, crate memref.CrateId, cap uint32, level verify.Level) (*String, error) {
	v, err := NewVec[byte](ctx, crate, cap, ByteCodec{}, level)
	if err != nil {
		return nil, err
	}
	return &String{vec: v}, nil
}

func (s *String) Close() error { return s.vec.Close() }
func (s *String) Len() uint32  { return s.vec.Len() }
func (s *String) Cap() uint32  { return s.vec.Cap() }

// String renders the currently stored bytes. Since every push validated
// UTF-8, this never needs to check again.
func (s *String) String() string {
	buf := s.vec.guard.Provider().Bytes()[:s.vec.len]
	return string(buf)
}

// FromStr replaces the contents with str, failing with InvalidUtf8 if str
// is malformed, or CapacityExceeded if it would not fit, and with
// InvalidUtf8 specifically if truncation would land inside a code point
// (spec 4.D, "from_str fails with InvalidUtf8 if ... would truncate inside
// a code point").
func (s *String) FromStr(str string) error {
	if !utf8.ValidString(str) {
		return wrterr.New(wrterr.KindInvalidUtf8, "input is not valid UTF-8")
	}
	if uint32(len(str)) > s.vec.Cap() {
		if !utf8.RuneStart(str[s.vec.Cap()]) {
			return wrterr.New(wrterr.KindInvalidUtf8, "input would truncate inside a code point at capacity %d", s.vec.Cap())
		}
		return wrterr.New(wrterr.KindCapacityExceeded, "input of %d bytes exceeds capacity %d", len(str), s.vec.Cap())
	}
	if err := s.vec.Truncate(0); err != nil {
		return err
	}
	for i := 0; i < len(str); i++ {
		if err := s.vec.Push(str[i]); err != nil {
			return err
		}
	}
	return nil
}

// PushStr appends str to the existing contents, failing atomically (no
// partial append) if it would exceed capacity or break UTF-8 validity at
// the boundary.
func (s *String) PushStr(str string) error {
	if !utf8.ValidString(str) {
		return wrterr.New(wrterr.KindInvalidUtf8, "input is not valid UTF-8")
	}
	if s.vec.Len()+uint32(len(str)) > s.vec.Cap() {
		return wrterr.New(wrterr.KindCapacityExceeded, "push would exceed string capacity %d", s.vec.Cap())
	}
	// Validate the boundary: the existing bytes plus new bytes must still
	// decode as valid UTF-8 starting from the last complete rune.
	combined := s.String() + str
	if !utf8.ValidString(combined) {
		return wrterr.New(wrterr.KindInvalidUtf8, "push would break a UTF-8 code point at the boundary")
	}
	for i := 0; i < len(str); i++ {
		if err := s.vec.Push(str[i]); err != nil {
			return err
		}
	}
	return nil
}

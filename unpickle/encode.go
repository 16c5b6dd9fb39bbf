package unpickle

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
)

// Encode writes v as a protocol 2 pickle. It accepts the same value types
// Decode produces (plus int and []any as a list) so trees can be built for
// archives and test fixtures. Objects are written as NEWOBJ + BUILD.
func Encode(v any) ([]byte, error) {
	var e encoder
	e.buf.Write([]byte{opProto, 2})
	if err := e.value(v); err != nil {
		return nil, err
	}
	e.buf.WriteByte(opStop)
	return e.buf.Bytes(), nil
}

type encoder struct {
	buf bytes.Buffer
}

func (e *encoder) value(v any) error {
	switch x := v.(type) {
	case nil:
		e.buf.WriteByte(opNone)
	case bool:
		if x {
			e.buf.WriteByte(opNewTrue)
		} else {
			e.buf.WriteByte(opNewFalse)
		}
	case int:
		e.int(int64(x))
	case int64:
		e.int(x)
	case *big.Int:
		e.bigInt(x)
	case float64:
		e.buf.WriteByte(opBinFloat)
		_ = binary.Write(&e.buf, binary.BigEndian, math.Float64bits(x))
	case string:
		e.buf.WriteByte(opBinUnicode)
		_ = binary.Write(&e.buf, binary.LittleEndian, uint32(len(x)))
		e.buf.WriteString(x)
	case []byte:
		// Protocol 2 has no bytes opcode; Python 2 str is the closest.
		e.buf.WriteByte(opBinString)
		_ = binary.Write(&e.buf, binary.LittleEndian, uint32(len(x)))
		e.buf.Write(x)
	case []any:
		return e.list(x)
	case *List:
		return e.list(x.Items)
	case Tuple:
		e.buf.WriteByte(opMark)
		for _, item := range x {
			if err := e.value(item); err != nil {
				return err
			}
		}
		e.buf.WriteByte(opTuple)
	case *Dict:
		e.buf.WriteByte(opEmptyDict)
		if x.Len() == 0 {
			return nil
		}
		e.buf.WriteByte(opMark)
		for i := range x.Keys {
			if err := e.value(x.Keys[i]); err != nil {
				return err
			}
			if err := e.value(x.Values[i]); err != nil {
				return err
			}
		}
		e.buf.WriteByte(opSetItems)
	case *Set:
		name := "set"
		if x.Frozen {
			name = "frozenset"
		}
		e.global("__builtin__", name)
		if err := e.list(x.Items); err != nil {
			return err
		}
		e.buf.WriteByte(opTuple1)
		e.buf.WriteByte(opReduce)
	case *Class:
		e.global(x.Module, x.Name)
	case *Object:
		if x.Class == nil {
			return fmt.Errorf("unpickle: object without class")
		}
		e.global(x.Class.Module, x.Class.Name)
		if err := e.value(Tuple(x.Args)); err != nil {
			return err
		}
		e.buf.WriteByte(opNewObj)
		if x.State != nil {
			if err := e.value(x.State); err != nil {
				return err
			}
			e.buf.WriteByte(opBuild)
		}
	default:
		return fmt.Errorf("unpickle: cannot encode %T", v)
	}
	return nil
}

func (e *encoder) list(items []any) error {
	e.buf.WriteByte(opEmptyList)
	if len(items) == 0 {
		return nil
	}
	e.buf.WriteByte(opMark)
	for _, item := range items {
		if err := e.value(item); err != nil {
			return err
		}
	}
	e.buf.WriteByte(opAppends)
	return nil
}

func (e *encoder) global(module, name string) {
	e.buf.WriteByte(opGlobal)
	e.buf.WriteString(module + "\n" + name + "\n")
}

func (e *encoder) int(v int64) {
	switch {
	case v >= 0 && v < 1<<8:
		e.buf.Write([]byte{opBinInt1, byte(v)})
	case v >= 0 && v < 1<<16:
		e.buf.WriteByte(opBinInt2)
		_ = binary.Write(&e.buf, binary.LittleEndian, uint16(v))
	case v >= math.MinInt32 && v <= math.MaxInt32:
		e.buf.WriteByte(opBinInt)
		_ = binary.Write(&e.buf, binary.LittleEndian, int32(v))
	default:
		e.bigInt(big.NewInt(v))
	}
}

// bigInt writes LONG1 with a little-endian two's complement body.
func (e *encoder) bigInt(n *big.Int) {
	size := n.BitLen()/8 + 1
	twos := new(big.Int).Set(n)
	if n.Sign() < 0 {
		twos.Add(twos, new(big.Int).Lsh(big.NewInt(1), uint(8*size)))
	}
	be := twos.FillBytes(make([]byte, size))
	le := make([]byte, size)
	for i := range be {
		le[size-1-i] = be[i]
	}
	e.buf.Write([]byte{opLong1, byte(size)})
	e.buf.Write(le)
}

// Package unpickle decodes Python pickle streams (protocols 0 to 5) into
// inert Go values.
//
// The decoder is a plain stack machine over the opcode stream. Globals are
// resolved against an allow-list into *Class markers and nothing is ever
// invoked: REDUCE, NEWOBJ, INST and OBJ only build containers or *Object
// records for allow-listed data classes. Any other global, persistent ids
// and extension codes fail with a *SecurityError.
//
//	v, err := unpickle.Loads(data)
//	var se *unpickle.SecurityError
//	if errors.As(err, &se) { ... }
package unpickle

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// HighestProtocol is the newest pickle protocol the decoder accepts.
const HighestProtocol = 5

// ErrTruncated is returned when the stream ends before STOP.
var ErrTruncated = errors.New("unpickle: truncated input")

const (
	opMark           = '('
	opStop           = '.'
	opPop            = '0'
	opPopMark        = '1'
	opDup            = '2'
	opFloat          = 'F'
	opInt            = 'I'
	opBinInt         = 'J'
	opBinInt1        = 'K'
	opLong           = 'L'
	opBinInt2        = 'M'
	opNone           = 'N'
	opPersID         = 'P'
	opBinPersID      = 'Q'
	opReduce         = 'R'
	opString         = 'S'
	opBinString      = 'T'
	opShortBinString = 'U'
	opUnicode        = 'V'
	opBinUnicode     = 'X'
	opAppend         = 'a'
	opBuild          = 'b'
	opGlobal         = 'c'
	opDict           = 'd'
	opEmptyDict      = '}'
	opAppends        = 'e'
	opGet            = 'g'
	opBinGet         = 'h'
	opInst           = 'i'
	opLongBinGet     = 'j'
	opList           = 'l'
	opEmptyList      = ']'
	opObj            = 'o'
	opPut            = 'p'
	opBinPut         = 'q'
	opLongBinPut     = 'r'
	opSetItem        = 's'
	opTuple          = 't'
	opEmptyTuple     = ')'
	opSetItems       = 'u'
	opBinFloat       = 'G'

	opProto          = 0x80
	opNewObj         = 0x81
	opExt1           = 0x82
	opExt2           = 0x83
	opExt4           = 0x84
	opTuple1         = 0x85
	opTuple2         = 0x86
	opTuple3         = 0x87
	opNewTrue        = 0x88
	opNewFalse       = 0x89
	opLong1          = 0x8a
	opLong4          = 0x8b
	opBinBytes       = 'B'
	opShortBinBytes  = 'C'
	opShortBinUni    = 0x8c
	opBinUnicode8    = 0x8d
	opBinBytes8      = 0x8e
	opEmptySet       = 0x8f
	opAddItems       = 0x90
	opFrozenSet      = 0x91
	opNewObjEx       = 0x92
	opStackGlobal    = 0x93
	opMemoize        = 0x94
	opFrame          = 0x95
	opByteArray8     = 0x96
	opNextBuffer     = 0x97
	opReadonlyBuffer = 0x98
)

// Decoder reads one pickle from a byte slice.
type Decoder struct {
	Allow AllowList

	data  []byte
	pos   int
	op    int // offset of the opcode being executed
	stack []any
	marks []int
	memo  map[int]any
}

// NewDecoder returns a decoder over data using the default allow-list.
func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data, memo: make(map[int]any)}
}

// Loads decodes a single pickle.
func Loads(data []byte) (any, error) {
	return NewDecoder(data).Decode()
}

// Offset returns the read position, which is just past STOP after a
// successful Decode.
func (d *Decoder) Offset() int { return d.pos }

// Decode runs the opcode stream until STOP and returns the top of stack.
func (d *Decoder) Decode() (any, error) {
	for {
		d.op = d.pos
		code, err := d.readByte()
		if err != nil {
			return nil, err
		}
		if code == opStop {
			return d.pop()
		}
		if err := d.exec(code); err != nil {
			return nil, err
		}
	}
}

func (d *Decoder) errf(format string, args ...any) error {
	return fmt.Errorf("unpickle: "+format+" at offset %d", append(args, d.op)...)
}

func (d *Decoder) forbid(op, module, name string) error {
	return &SecurityError{Module: module, Name: name, Op: op, Offset: d.op}
}

// ---------------------------------------------------------------------------
// Input
// ---------------------------------------------------------------------------

func (d *Decoder) readByte() (byte, error) {
	if d.pos >= len(d.data) {
		return 0, ErrTruncated
	}
	b := d.data[d.pos]
	d.pos++
	return b, nil
}

func (d *Decoder) read(n uint64) ([]byte, error) {
	if n > uint64(len(d.data)-d.pos) {
		return nil, ErrTruncated
	}
	b := d.data[d.pos : d.pos+int(n)]
	d.pos += int(n)
	return b, nil
}

func (d *Decoder) readLine() (string, error) {
	i := bytes.IndexByte(d.data[d.pos:], '\n')
	if i < 0 {
		return "", ErrTruncated
	}
	line := string(d.data[d.pos : d.pos+i])
	d.pos += i + 1
	return strings.TrimSuffix(line, "\r"), nil
}

func (d *Decoder) readUint(size int) (uint64, error) {
	b, err := d.read(uint64(size))
	if err != nil {
		return 0, err
	}
	switch size {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(b)), nil
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ---------------------------------------------------------------------------
// Stack
// ---------------------------------------------------------------------------

func (d *Decoder) push(v any) { d.stack = append(d.stack, v) }

func (d *Decoder) floor() int {
	if len(d.marks) == 0 {
		return 0
	}
	return d.marks[len(d.marks)-1]
}

func (d *Decoder) pop() (any, error) {
	if len(d.stack) <= d.floor() {
		return nil, d.errf("stack underflow")
	}
	v := d.stack[len(d.stack)-1]
	d.stack = d.stack[:len(d.stack)-1]
	return v, nil
}

func (d *Decoder) top() (any, error) {
	if len(d.stack) <= d.floor() {
		return nil, d.errf("stack underflow")
	}
	return d.stack[len(d.stack)-1], nil
}

func (d *Decoder) popMark() ([]any, error) {
	if len(d.marks) == 0 {
		return nil, d.errf("mark not found")
	}
	m := d.marks[len(d.marks)-1]
	d.marks = d.marks[:len(d.marks)-1]
	items := append([]any(nil), d.stack[m:]...)
	d.stack = d.stack[:m]
	return items, nil
}

func (d *Decoder) popN(n int) ([]any, error) {
	if len(d.stack)-d.floor() < n {
		return nil, d.errf("stack underflow")
	}
	items := append([]any(nil), d.stack[len(d.stack)-n:]...)
	d.stack = d.stack[:len(d.stack)-n]
	return items, nil
}

// ---------------------------------------------------------------------------
// Opcodes
// ---------------------------------------------------------------------------

func (d *Decoder) exec(code byte) error {
	switch code {
	case opProto:
		v, err := d.readByte()
		if err != nil {
			return err
		}
		if v > HighestProtocol {
			return d.errf("unsupported protocol %d", v)
		}
	case opFrame:
		_, err := d.read(8)
		return err
	case opMark:
		d.marks = append(d.marks, len(d.stack))
	case opPop:
		if len(d.stack) > d.floor() {
			d.stack = d.stack[:len(d.stack)-1]
			return nil
		}
		_, err := d.popMark()
		return err
	case opPopMark:
		_, err := d.popMark()
		return err
	case opDup:
		v, err := d.top()
		if err != nil {
			return err
		}
		d.push(v)

	case opNone:
		d.push(nil)
	case opNewTrue:
		d.push(true)
	case opNewFalse:
		d.push(false)
	case opInt:
		line, err := d.readLine()
		if err != nil {
			return err
		}
		switch line {
		case "00":
			d.push(false)
		case "01":
			d.push(true)
		default:
			v, err := parseInt(line)
			if err != nil {
				return d.errf("bad INT %q", line)
			}
			d.push(v)
		}
	case opLong:
		line, err := d.readLine()
		if err != nil {
			return err
		}
		v, err := parseInt(strings.TrimSuffix(line, "L"))
		if err != nil {
			return d.errf("bad LONG %q", line)
		}
		d.push(v)
	case opBinInt:
		v, err := d.readUint(4)
		if err != nil {
			return err
		}
		d.push(int64(int32(uint32(v))))
	case opBinInt1:
		v, err := d.readUint(1)
		if err != nil {
			return err
		}
		d.push(int64(v))
	case opBinInt2:
		v, err := d.readUint(2)
		if err != nil {
			return err
		}
		d.push(int64(v))
	case opLong1, opLong4:
		size := 1
		if code == opLong4 {
			size = 4
		}
		n, err := d.readUint(size)
		if err != nil {
			return err
		}
		if code == opLong4 && int32(uint32(n)) < 0 {
			return d.errf("negative LONG4 length")
		}
		b, err := d.read(n)
		if err != nil {
			return err
		}
		d.push(decodeLong(b))
	case opFloat:
		line, err := d.readLine()
		if err != nil {
			return err
		}
		f, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return d.errf("bad FLOAT %q", line)
		}
		d.push(f)
	case opBinFloat:
		b, err := d.read(8)
		if err != nil {
			return err
		}
		d.push(math.Float64frombits(binary.BigEndian.Uint64(b)))

	case opString:
		line, err := d.readLine()
		if err != nil {
			return err
		}
		b, err := unquoteRepr(line)
		if err != nil {
			return d.errf("%v", err)
		}
		d.push(py2String(b))
	case opBinString, opShortBinString:
		b, err := d.readSized(lengthSize(code))
		if err != nil {
			return err
		}
		d.push(py2String(b))
	case opUnicode:
		line, err := d.readLine()
		if err != nil {
			return err
		}
		d.push(rawUnicodeEscape(line))
	case opBinUnicode, opShortBinUni, opBinUnicode8:
		b, err := d.readSized(lengthSize(code))
		if err != nil {
			return err
		}
		d.push(string(b))
	case opBinBytes, opShortBinBytes, opBinBytes8, opByteArray8:
		b, err := d.readSized(lengthSize(code))
		if err != nil {
			return err
		}
		d.push(append([]byte(nil), b...))
	case opNextBuffer, opReadonlyBuffer:
		return d.errf("out-of-band buffers are not supported")

	case opEmptyList:
		d.push(&List{})
	case opList:
		items, err := d.popMark()
		if err != nil {
			return err
		}
		d.push(&List{Items: items})
	case opAppend:
		v, err := d.pop()
		if err != nil {
			return err
		}
		return d.appendTop([]any{v})
	case opAppends:
		items, err := d.popMark()
		if err != nil {
			return err
		}
		return d.appendTop(items)
	case opEmptyTuple:
		d.push(Tuple{})
	case opTuple:
		items, err := d.popMark()
		if err != nil {
			return err
		}
		d.push(Tuple(items))
	case opTuple1, opTuple2, opTuple3:
		items, err := d.popN(int(code-opTuple1) + 1)
		if err != nil {
			return err
		}
		d.push(Tuple(items))
	case opEmptyDict:
		d.push(&Dict{})
	case opDict:
		items, err := d.popMark()
		if err != nil {
			return err
		}
		dict := &Dict{}
		if err := d.setPairs(dict, items); err != nil {
			return err
		}
		d.push(dict)
	case opSetItem:
		kv, err := d.popN(2)
		if err != nil {
			return err
		}
		return d.setItemsTop(kv)
	case opSetItems:
		items, err := d.popMark()
		if err != nil {
			return err
		}
		return d.setItemsTop(items)
	case opEmptySet:
		d.push(&Set{})
	case opAddItems:
		items, err := d.popMark()
		if err != nil {
			return err
		}
		t, err := d.top()
		if err != nil {
			return err
		}
		s, ok := t.(*Set)
		if !ok {
			return d.errf("ADDITEMS on %s", Describe(t))
		}
		s.Items = append(s.Items, items...)
	case opFrozenSet:
		items, err := d.popMark()
		if err != nil {
			return err
		}
		d.push(&Set{Frozen: true, Items: items})

	case opPut, opBinPut, opLongBinPut, opMemoize:
		idx, err := d.memoIndex(code)
		if err != nil {
			return err
		}
		v, err := d.top()
		if err != nil {
			return err
		}
		d.memo[idx] = v
	case opGet, opBinGet, opLongBinGet:
		idx, err := d.memoIndex(code)
		if err != nil {
			return err
		}
		v, ok := d.memo[idx]
		if !ok {
			return d.errf("memo key %d not found", idx)
		}
		d.push(v)

	case opGlobal:
		module, err := d.readLine()
		if err != nil {
			return err
		}
		name, err := d.readLine()
		if err != nil {
			return err
		}
		return d.global(module, name)
	case opStackGlobal:
		mn, err := d.popN(2)
		if err != nil {
			return err
		}
		module, ok1 := mn[0].(string)
		name, ok2 := mn[1].(string)
		if !ok1 || !ok2 {
			return d.errf("STACK_GLOBAL needs two strings")
		}
		return d.global(module, name)
	case opReduce:
		ca, err := d.popN(2)
		if err != nil {
			return err
		}
		args, ok := ca[1].(Tuple)
		if !ok {
			return d.errf("REDUCE arguments are %s", Describe(ca[1]))
		}
		v, err := d.reduce(ca[0], args)
		if err != nil {
			return err
		}
		d.push(v)
	case opNewObj:
		ca, err := d.popN(2)
		if err != nil {
			return err
		}
		args, ok := ca[1].(Tuple)
		if !ok {
			return d.errf("NEWOBJ arguments are %s", Describe(ca[1]))
		}
		v, err := d.newObject(ca[0], args)
		if err != nil {
			return err
		}
		d.push(v)
	case opNewObjEx:
		cak, err := d.popN(3)
		if err != nil {
			return err
		}
		args, ok := cak[1].(Tuple)
		if !ok {
			return d.errf("NEWOBJ_EX arguments are %s", Describe(cak[1]))
		}
		v, err := d.newObject(cak[0], args)
		if err != nil {
			return err
		}
		d.push(v)
	case opInst:
		module, err := d.readLine()
		if err != nil {
			return err
		}
		name, err := d.readLine()
		if err != nil {
			return err
		}
		cls, err := d.Allow.Lookup(module, name)
		if err != nil {
			return d.forbid("global", module, name)
		}
		args, err := d.popMark()
		if err != nil {
			return err
		}
		v, err := d.newObject(cls, Tuple(args))
		if err != nil {
			return err
		}
		d.push(v)
	case opObj:
		items, err := d.popMark()
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return d.errf("OBJ without class")
		}
		v, err := d.newObject(items[0], Tuple(items[1:]))
		if err != nil {
			return err
		}
		d.push(v)
	case opBuild:
		state, err := d.pop()
		if err != nil {
			return err
		}
		obj, err := d.top()
		if err != nil {
			return err
		}
		return d.build(obj, state)

	case opPersID, opBinPersID:
		return d.forbid("persistent id", "", "")
	case opExt1, opExt2, opExt4:
		return d.forbid("extension code", "", "")
	default:
		return d.errf("unknown opcode 0x%02x", code)
	}
	return nil
}

// lengthSize is the width of the length prefix of a sized string opcode.
func lengthSize(code byte) int {
	switch code {
	case opShortBinUni, opShortBinBytes, opShortBinString:
		return 1
	case opBinUnicode8, opBinBytes8, opByteArray8:
		return 8
	}
	return 4
}

func (d *Decoder) readSized(lenSize int) ([]byte, error) {
	n, err := d.readUint(lenSize)
	if err != nil {
		return nil, err
	}
	if lenSize == 4 && int32(uint32(n)) < 0 {
		return nil, d.errf("negative length")
	}
	return d.read(n)
}

func (d *Decoder) memoIndex(code byte) (int, error) {
	switch code {
	case opPut, opGet:
		line, err := d.readLine()
		if err != nil {
			return 0, err
		}
		i, err := strconv.Atoi(line)
		if err != nil || i < 0 {
			return 0, d.errf("bad memo index %q", line)
		}
		return i, nil
	case opBinPut, opBinGet:
		v, err := d.readUint(1)
		return int(v), err
	case opLongBinPut, opLongBinGet:
		v, err := d.readUint(4)
		return int(v), err
	}
	return len(d.memo), nil
}

func (d *Decoder) global(module, name string) error {
	cls, err := d.Allow.Lookup(module, name)
	if err != nil {
		return d.forbid("global", module, name)
	}
	d.push(cls)
	return nil
}

func (d *Decoder) appendTop(items []any) error {
	t, err := d.top()
	if err != nil {
		return err
	}
	switch x := t.(type) {
	case *List:
		x.Items = append(x.Items, items...)
	case *Object:
		x.Items = append(x.Items, items...)
	case *Set:
		x.Items = append(x.Items, items...)
	default:
		return d.errf("APPEND on %s", Describe(t))
	}
	return nil
}

func (d *Decoder) setItemsTop(items []any) error {
	t, err := d.top()
	if err != nil {
		return err
	}
	switch x := t.(type) {
	case *Dict:
		return d.setPairs(x, items)
	case *Object:
		if x.Pairs == nil {
			x.Pairs = &Dict{}
		}
		return d.setPairs(x.Pairs, items)
	}
	return d.errf("SETITEM on %s", Describe(t))
}

func (d *Decoder) setPairs(dict *Dict, items []any) error {
	if len(items)%2 != 0 {
		return d.errf("odd number of dict items")
	}
	for i := 0; i < len(items); i += 2 {
		dict.Set(items[i], items[i+1])
	}
	return nil
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

// reduce applies a REDUCE. Only the pure data constructors and allow-listed
// data classes are accepted.
func (d *Decoder) reduce(callable any, args Tuple) (any, error) {
	cls, ok := callable.(*Class)
	if !ok {
		return nil, d.forbid("reduce on "+Describe(callable), "", "")
	}
	switch cls.Kind {
	case KindReconstructor:
		if len(args) != 3 {
			return nil, d.errf("_reconstructor takes 3 arguments, got %d", len(args))
		}
		target, ok1 := args[0].(*Class)
		base, ok2 := args[1].(*Class)
		if !ok1 || !ok2 {
			return nil, d.forbid("reduce", cls.Module, cls.Name)
		}
		if base.Kind != KindBase && base.Kind != KindList && base.Kind != KindDict && base.Kind != KindSet {
			return nil, d.forbid("reconstructor base", base.Module, base.Name)
		}
		var init Tuple
		if args[2] != nil {
			init = Tuple{args[2]}
		}
		return d.instantiate(target, init)
	case KindNewObj:
		if len(args) == 0 {
			return nil, d.errf("__newobj__ without class")
		}
		return d.newObject(args[0], args[1:])
	case KindSet, KindFrozenSet, KindList, KindDict, KindObject:
		return d.instantiate(cls, args)
	}
	return nil, d.forbid("reduce", cls.Module, cls.Name)
}

func (d *Decoder) newObject(v any, args Tuple) (any, error) {
	cls, ok := v.(*Class)
	if !ok {
		return nil, d.forbid("instantiation of "+Describe(v), "", "")
	}
	if cls.Kind == KindReconstructor || cls.Kind == KindNewObj || cls.Kind == KindReference {
		return nil, d.forbid("instantiation", cls.Module, cls.Name)
	}
	return d.instantiate(cls, args)
}

// instantiate builds the inert value for cls called with args.
func (d *Decoder) instantiate(cls *Class, args Tuple) (any, error) {
	switch cls.Kind {
	case KindReference, KindReconstructor, KindNewObj:
		return nil, d.forbid("call", cls.Module, cls.Name)
	case KindObject:
		return &Object{Class: cls, Args: []any(args)}, nil
	case KindList:
		l := &List{Class: cls.String()}
		if len(args) > 0 {
			l.Items = append(l.Items, AsSlice(args[0])...)
		}
		return l, nil
	case KindSet, KindFrozenSet:
		s := &Set{Class: cls.String(), Frozen: cls.Kind == KindFrozenSet}
		if len(args) > 0 {
			s.Items = append(s.Items, AsSlice(args[0])...)
		}
		return s, nil
	case KindDict:
		dict := &Dict{Class: cls.String()}
		if len(args) == 0 {
			return dict, nil
		}
		switch src := args[0].(type) {
		case nil, *Class:
			// defaultdict(factory): the factory is never called.
		case *Dict:
			for i := range src.Keys {
				dict.Set(src.Keys[i], src.Values[i])
			}
		default:
			for _, pair := range AsSlice(src) {
				kv := AsSlice(pair)
				if len(kv) != 2 {
					return nil, d.errf("%s expects key/value pairs", cls)
				}
				dict.Set(kv[0], kv[1])
			}
		}
		return dict, nil
	case KindBase:
		switch cls.Name {
		case "list":
			return &List{}, nil
		case "dict":
			return &Dict{}, nil
		case "str", "unicode":
			if len(args) > 0 {
				if s, ok := AsString(args[0]); ok {
					return s, nil
				}
			}
			return "", nil
		}
		return &Object{Class: cls}, nil
	}
	return nil, d.forbid("instantiation", cls.Module, cls.Name)
}

func (d *Decoder) build(obj, state any) error {
	switch x := obj.(type) {
	case *Object:
		prev, ok1 := x.State.(*Dict)
		next, ok2 := state.(*Dict)
		if ok1 && ok2 {
			for i := range next.Keys {
				prev.Set(next.Keys[i], next.Values[i])
			}
			return nil
		}
		x.State = state
		return nil
	case *List, *Dict, *Set:
		// Container subclasses carry no state the extractor needs.
		return nil
	}
	return d.errf("BUILD on %s", Describe(obj))
}

// ---------------------------------------------------------------------------
// Scalars
// ---------------------------------------------------------------------------

func parseInt(s string) (any, error) {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	b, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return b, nil
}

// decodeLong decodes a little-endian two's complement integer.
func decodeLong(b []byte) any {
	if len(b) == 0 {
		return int64(0)
	}
	if len(b) <= 8 {
		var v uint64
		for i := len(b) - 1; i >= 0; i-- {
			v = v<<8 | uint64(b[i])
		}
		shift := uint(64 - 8*len(b))
		return int64(v<<shift) >> shift
	}
	be := make([]byte, len(b))
	for i := range b {
		be[len(b)-1-i] = b[i]
	}
	n := new(big.Int).SetBytes(be)
	if b[len(b)-1]&0x80 != 0 {
		n.Sub(n, new(big.Int).Lsh(big.NewInt(1), uint(8*len(b))))
	}
	if n.IsInt64() {
		return n.Int64()
	}
	return n
}

// py2String converts a Python 2 str. Engine scripts store UTF-8 there; any
// other bytes are read as Latin-1.
func py2String(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), "�")
	}
	return string(out)
}

// unquoteRepr decodes the repr() of a Python 2 str as written by the
// STRING opcode.
func unquoteRepr(s string) ([]byte, error) {
	if len(s) < 2 || (s[0] != '\'' && s[0] != '"') || s[len(s)-1] != s[0] {
		return nil, fmt.Errorf("STRING not quoted: %q", s)
	}
	s = s[1 : len(s)-1]
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			out = append(out, c)
			continue
		}
		i++
		switch e := s[i]; e {
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case 't':
			out = append(out, '\t')
		case '\\', '\'', '"':
			out = append(out, e)
		case 'x':
			if i+3 > len(s) {
				return nil, fmt.Errorf("truncated \\x escape")
			}
			v, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
			if err != nil {
				return nil, fmt.Errorf("bad \\x escape")
			}
			out = append(out, byte(v))
			i += 2
		case '0', '1', '2', '3', '4', '5', '6', '7':
			j := i
			for j < len(s) && j < i+3 && s[j] >= '0' && s[j] <= '7' {
				j++
			}
			v, _ := strconv.ParseUint(s[i:j], 8, 8)
			out = append(out, byte(v))
			i = j - 1
		default:
			out = append(out, '\\', e)
		}
	}
	return out, nil
}

// rawUnicodeEscape decodes Python's raw-unicode-escape codec used by the
// protocol 0 UNICODE opcode. Bytes outside escapes are Latin-1.
func rawUnicodeEscape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) && (s[i+1] == 'u' || s[i+1] == 'U') {
			width := 4
			if s[i+1] == 'U' {
				width = 8
			}
			if i+2+width <= len(s) {
				if v, err := strconv.ParseUint(s[i+2:i+2+width], 16, 32); err == nil {
					b.WriteRune(rune(v))
					i += 1 + width
					continue
				}
			}
		}
		b.WriteRune(rune(c))
	}
	return b.String()
}

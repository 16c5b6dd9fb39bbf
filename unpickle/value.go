package unpickle

import (
	"fmt"
	"math/big"
	"strings"
)

// The decoder produces only these value types:
//
//	nil, bool, int64, *big.Int, float64, string, []byte,
//	*List, Tuple, *Dict, *Set, *Object, *Class
//
// Nothing in a decoded tree is callable.

// List is a mutable Python list (or an allow-listed list subclass).
type List struct {
	Class string
	Items []any
}

// Tuple is an immutable Python tuple.
type Tuple []any

// Dict is an insertion-ordered Python dict. Keys are compared with Equal.
type Dict struct {
	Class  string
	Keys   []any
	Values []any
}

// Set is a Python set or frozenset.
type Set struct {
	Class  string
	Frozen bool
	Items  []any
}

// Class is a reference to an allow-listed global. It only ever appears as
// an argument or as the class of an Object.
type Class struct {
	Module string
	Name   string
	Kind   Kind
}

func (c *Class) String() string { return c.Module + "." + c.Name }

// Object is an instance of an allow-listed class: its constructor arguments
// and the state applied by BUILD.
type Object struct {
	Class *Class
	Args  []any
	State any
	// Items and Pairs hold APPEND/SETITEM data for list and dict subclasses
	// that were not mapped to List or Dict.
	Items []any
	Pairs *Dict
}

// Set stores a key, replacing an existing equal key.
func (d *Dict) Set(k, v any) {
	for i, existing := range d.Keys {
		if Equal(existing, k) {
			d.Values[i] = v
			return
		}
	}
	d.Keys = append(d.Keys, k)
	d.Values = append(d.Values, v)
}

// Get returns the value stored under k.
func (d *Dict) Get(k any) (any, bool) {
	if d == nil {
		return nil, false
	}
	for i, existing := range d.Keys {
		if Equal(existing, k) {
			return d.Values[i], true
		}
	}
	return nil, false
}

// Len returns the number of entries.
func (d *Dict) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Keys)
}

// Name returns "module.name" of the object's class.
func (o *Object) Name() string {
	if o == nil || o.Class == nil {
		return ""
	}
	return o.Class.String()
}

// Is reports whether o is an instance of one of the given class names
// ("renpy.ast.Say"). A bare name ("Say") matches any module.
func (o *Object) Is(names ...string) bool {
	if o == nil || o.Class == nil {
		return false
	}
	full := o.Class.String()
	for _, n := range names {
		if n == full || (!strings.Contains(n, ".") && n == o.Class.Name) {
			return true
		}
	}
	return false
}

// Attr looks up an attribute in the object's state. State may be a dict or
// a (dict, slotstate) tuple as produced by classes with __slots__.
func (o *Object) Attr(name string) any {
	if o == nil {
		return nil
	}
	switch st := o.State.(type) {
	case *Dict:
		v, _ := st.Get(name)
		return v
	case Tuple:
		for i := len(st) - 1; i >= 0; i-- {
			if d, ok := st[i].(*Dict); ok {
				if v, ok := d.Get(name); ok {
					return v
				}
			}
		}
	}
	return nil
}

// AttrString returns Attr(name) as a string, see AsString.
func (o *Object) AttrString(name string) string {
	s, _ := AsString(o.Attr(name))
	return s
}

// AttrInt returns Attr(name) as an int, or 0.
func (o *Object) AttrInt(name string) int {
	if v, ok := o.Attr(name).(int64); ok {
		return int(v)
	}
	return 0
}

// AsString returns the text of a string value. String subclasses such as
// PyExpr decode to an Object whose first argument is the text.
func AsString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case []byte:
		return string(x), true
	case *Object:
		if len(x.Args) > 0 {
			if s, ok := x.Args[0].(string); ok {
				return s, true
			}
		}
	}
	return "", false
}

// AsSlice returns the elements of a list, tuple or set value.
func AsSlice(v any) []any {
	switch x := v.(type) {
	case *List:
		return x.Items
	case Tuple:
		return x
	case *Set:
		return x.Items
	case *Object:
		return x.Items
	}
	return nil
}

// Equal compares two decoded values for use as dict keys.
func Equal(a, b any) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case string:
		y, ok := b.(string)
		return ok && x == y
	case int64:
		switch y := b.(type) {
		case int64:
			return x == y
		case bool:
			return (x == 1 && y) || (x == 0 && !y)
		}
		return false
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case float64:
		y, ok := b.(float64)
		return ok && x == y
	case *big.Int:
		y, ok := b.(*big.Int)
		return ok && x.Cmp(y) == 0
	case []byte:
		y, ok := b.([]byte)
		return ok && string(x) == string(y)
	case Tuple:
		y, ok := b.(Tuple)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	}
	return a == b
}

// Describe renders a short type description for error messages.
func Describe(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case *Object:
		return "object " + x.Name()
	case *Class:
		return "class " + x.String()
	case *List:
		return fmt.Sprintf("list[%d]", len(x.Items))
	case Tuple:
		return fmt.Sprintf("tuple[%d]", len(x))
	case *Dict:
		return fmt.Sprintf("dict[%d]", x.Len())
	case *Set:
		return fmt.Sprintf("set[%d]", len(x.Items))
	}
	return fmt.Sprintf("%T", v)
}

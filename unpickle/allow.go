package unpickle

import (
	"fmt"
	"strings"
)

// Kind says how a global behaves when it is instantiated.
type Kind int

const (
	// KindObject classes decode to *Object.
	KindObject Kind = iota
	// KindList, KindDict and KindSet classes decode to the matching
	// container, keeping the class name.
	KindList
	KindDict
	KindSet
	KindFrozenSet
	// KindReconstructor is copy_reg._reconstructor(cls, base, state).
	KindReconstructor
	// KindNewObj is copyreg.__newobj__(cls, *args).
	KindNewObj
	// KindBase globals (object, list, dict) may only appear as arguments
	// to a reconstructor.
	KindBase
	// KindReference globals from the engine namespaces may be pushed as
	// values but never called or instantiated.
	KindReference
)

// SecurityError reports a pickle that references a global outside the
// allow-list or tries to call something that is not a pure data
// constructor. It is never retried and aborts decoding of that artifact.
type SecurityError struct {
	Module string
	Name   string
	Op     string
	Offset int
}

func (e *SecurityError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("unpickle: forbidden %s at offset %d", e.Op, e.Offset)
	}
	return fmt.Sprintf("unpickle: forbidden %s %s.%s at offset %d", e.Op, e.Module, e.Name, e.Offset)
}

// Builtin constructors. Both the Python 2 and 3 module names appear in the
// wild because Python 3 maps names back when writing protocol 2.
var builtinGlobals = map[string]Kind{
	"copy_reg._reconstructor": KindReconstructor,
	"copyreg._reconstructor":  KindReconstructor,
	"copyreg.__newobj__":      KindNewObj,
	"copy_reg.__newobj__":     KindNewObj,
	"__builtin__.set":         KindSet,
	"builtins.set":            KindSet,
	"__builtin__.frozenset":   KindFrozenSet,
	"builtins.frozenset":      KindFrozenSet,
	"collections.OrderedDict": KindDict,
	"collections.defaultdict": KindDict,
	"__builtin__.object":      KindBase,
	"builtins.object":         KindBase,
	"__builtin__.list":        KindBase,
	"builtins.list":           KindBase,
	"__builtin__.dict":        KindBase,
	"builtins.dict":           KindBase,
	"__builtin__.unicode":     KindBase,
	"builtins.str":            KindBase,
}

// renpyGlobals lists the engine container classes.
var renpyGlobals = map[string]Kind{
	"renpy.revertable.RevertableList": KindList,
	"renpy.python.RevertableList":     KindList,
	"renpy.revertable.RevertableDict": KindDict,
	"renpy.python.RevertableDict":     KindDict,
	"renpy.revertable.RevertableSet":  KindSet,
	"renpy.python.RevertableSet":      KindSet,
}

// KnownClasses are the engine data classes that may be instantiated.
// Any other renpy.* or store.* global decodes to a KindReference.
var KnownClasses = []string{
	"renpy.ast.Say", "renpy.ast.TranslateSay", "renpy.ast.Menu", "renpy.ast.Label",
	"renpy.ast.Init", "renpy.ast.Python", "renpy.ast.EarlyPython", "renpy.ast.PyCode",
	"renpy.ast.PyExpr", "renpy.astsupport.PyExpr", "renpy.ast.Screen", "renpy.ast.Translate",
	"renpy.ast.TranslateString", "renpy.ast.TranslateBlock", "renpy.ast.TranslateEarlyBlock",
	"renpy.ast.TranslatePython", "renpy.ast.EndTranslate", "renpy.ast.UserStatement",
	"renpy.ast.PostUserStatement", "renpy.ast.If", "renpy.ast.While", "renpy.ast.Define",
	"renpy.ast.Default", "renpy.ast.Image", "renpy.ast.Show", "renpy.ast.Scene",
	"renpy.ast.Hide", "renpy.ast.With", "renpy.ast.Call", "renpy.ast.Jump",
	"renpy.ast.Return", "renpy.ast.Pass", "renpy.ast.Transform", "renpy.ast.Style",
	"renpy.ast.Camera", "renpy.ast.ShowLayer", "renpy.ast.RPY", "renpy.ast.Node",
	"renpy.ast.ArgumentInfo", "renpy.ast.ParameterInfo",
	"renpy.parameter.ArgumentInfo", "renpy.parameter.ParameterInfo",
	"renpy.parameter.Parameter", "renpy.parameter.Signature",
	"renpy.atl.RawBlock", "renpy.atl.RawMultipurpose", "renpy.atl.RawChild",
	"renpy.atl.RawChoice", "renpy.atl.RawParallel", "renpy.atl.RawRepeat",
	"renpy.atl.RawTime", "renpy.atl.RawOn", "renpy.atl.RawEvent", "renpy.atl.RawFunction",
	"renpy.sl2.slast.SLScreen", "renpy.sl2.slast.SLDisplayable", "renpy.sl2.slast.SLIf",
	"renpy.sl2.slast.SLShowIf", "renpy.sl2.slast.SLFor", "renpy.sl2.slast.SLBlock",
	"renpy.sl2.slast.SLUse", "renpy.sl2.slast.SLPython", "renpy.sl2.slast.SLDefault",
	"renpy.sl2.slast.SLPass", "renpy.sl2.slast.SLBreak", "renpy.sl2.slast.SLContinue",
	"renpy.sl2.slast.SLTransclude", "renpy.lexer.SubParse",
	"renpy.display.transform.ATLTransform", "renpy.display.motion.ATLTransform",
	"renpy.object.Sentinel", "renpy.object.Object", "renpy.cslots.Object",
	"renpy.character.ADVCharacter",
}

var knownClasses = func() map[string]bool {
	m := make(map[string]bool, len(KnownClasses))
	for _, c := range KnownClasses {
		m[c] = true
	}
	return m
}()

// AllowList resolves globals. The zero value instantiates KnownClasses,
// the Revertable containers and the builtin data constructors only.
type AllowList struct {
	// Extra adds classes decoded as plain objects, keyed "module.name".
	Extra map[string]bool
}

// Lookup returns the class for module.name or a SecurityError.
func (a AllowList) Lookup(module, name string) (*Class, error) {
	full := module + "." + name
	if k, ok := builtinGlobals[full]; ok {
		return &Class{Module: module, Name: name, Kind: k}, nil
	}
	if k, ok := renpyGlobals[full]; ok {
		return &Class{Module: module, Name: name, Kind: k}, nil
	}
	if knownClasses[full] || a.Extra[full] {
		return &Class{Module: module, Name: name, Kind: KindObject}, nil
	}
	if validName(name) && (strings.HasPrefix(module, "renpy.") || module == "renpy" ||
		module == "store" || strings.HasPrefix(module, "store.")) {
		return &Class{Module: module, Name: name, Kind: KindReference}, nil
	}
	return nil, &SecurityError{Module: module, Name: name, Op: "global"}
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for i, c := range name {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case (c >= '0' && c <= '9' || c == '.') && i > 0:
		default:
			return false
		}
	}
	return true
}

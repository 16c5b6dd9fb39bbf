package extract

import (
	"strings"

	"github.com/minios-linux/renlokit/placeholder"
)

// TextType classifies where a literal was found.
type TextType string

const (
	TypeDialogue  TextType = "dialogue"
	TypeNarration TextType = "narration"
	TypeMenu      TextType = "menu"
	TypeUI        TextType = "ui"
	TypeButton    TextType = "button"
	TypeConfig    TextType = "config"
	TypeStyle     TextType = "style"
	TypeFunction  TextType = "function"
	TypeParagraph TextType = "paragraph"
	TypeNotify    TextType = "notify"
	TypeInput     TextType = "input"
	TypeAlt       TextType = "alt"
	TypeString    TextType = "string"
)

// FrameKind is the kind of an enclosing block.
type FrameKind string

const (
	FrameLabel       FrameKind = "label"
	FrameMenu        FrameKind = "menu"
	FrameScreen      FrameKind = "screen"
	FrameConditional FrameKind = "conditional"
	FramePython      FrameKind = "python"
	FrameStyle       FrameKind = "style"
	FrameInit        FrameKind = "init"
	FrameTranslate   FrameKind = "translate"
)

// Frame is one level of the context stack.
type Frame struct {
	Indent int       `json:"-"`
	Kind   FrameKind `json:"kind"`
	Name   string    `json:"name,omitempty"`
}

func (f Frame) String() string {
	if f.Name == "" {
		return string(f.Kind)
	}
	return string(f.Kind) + ":" + f.Name
}

// Record is one translatable literal recovered from a script.
type Record struct {
	// RawText is the literal's runtime value (escapes decoded).
	RawText string
	// ProcessedText is RawText with protected constructs replaced by tokens.
	ProcessedText string
	// Placeholders restores ProcessedText to RawText.
	Placeholders placeholder.Map
	File         string
	Line         int
	Context      []Frame
	Type         TextType
	Character    string
	// Structural is set for records recovered from a compiled node rather
	// than a raw code scan.
	Structural bool
}

// ContextPath joins the context frames into a stable label such as
// "label:start/menu".
func (r Record) ContextPath() string {
	parts := make([]string, len(r.Context))
	for i, f := range r.Context {
		parts[i] = f.String()
	}
	return strings.Join(parts, "/")
}

// NewRecord builds a record and runs the placeholder protector over text.
func NewRecord(text, file string, line int, ctx []Frame, typ TextType, character string) Record {
	processed, m := placeholder.Protect(text)
	frames := make([]Frame, len(ctx))
	copy(frames, ctx)
	return Record{
		RawText:       text,
		ProcessedText: processed,
		Placeholders:  m,
		File:          file,
		Line:          line,
		Context:       frames,
		Type:          typ,
		Character:     character,
	}
}

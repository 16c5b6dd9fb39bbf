// Package rpyc recovers translatable text from compiled Ren'Py scripts.
//
// A compiled script is a zlib-compressed pickle of (data, statements). The
// pickle is decoded with the restricted decoder in package unpickle, so a
// hostile file can at worst fail to load; it never runs code.
package rpyc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zlib"
	"github.com/minios-linux/renlokit/unpickle"
)

const rpc2Header = "RENPY RPC2"

// MaxPayload bounds the decompressed size of one script.
const MaxPayload = 256 << 20

// FormatError reports a file that is not a readable compiled script.
type FormatError struct {
	Path string
	Msg  string
	Err  error
}

func (e *FormatError) Error() string {
	s := "rpyc: "
	if e.Path != "" {
		s += e.Path + ": "
	}
	s += e.Msg
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *FormatError) Unwrap() error { return e.Err }

// Script is a decoded compiled script.
type Script struct {
	// Version is 2 for slot containers and 1 for legacy whole-file zlib.
	Version int
	// Data is the header dict (version, key).
	Data any
	// Statements is the top-level statement list.
	Statements []any
}

// ReadFile loads and decodes a compiled script from disk.
func ReadFile(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	s, err := Load(data)
	if err != nil {
		var fe *FormatError
		if errors.As(err, &fe) {
			fe.Path = path
			return nil, fe
		}
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return s, nil
}

// Load decodes a compiled script held in memory. Security violations are
// returned as *unpickle.SecurityError; container problems as *FormatError.
func Load(data []byte) (*Script, error) {
	payload, version, err := Payload(data)
	if err != nil {
		return nil, err
	}
	v, err := unpickle.Loads(payload)
	if err != nil {
		return nil, err
	}
	top := unpickle.AsSlice(v)
	if len(top) != 2 {
		return nil, &FormatError{Msg: "payload is " + unpickle.Describe(v) + ", want (data, statements)"}
	}
	return &Script{Version: version, Data: top[0], Statements: unpickle.AsSlice(top[1])}, nil
}

// Payload returns the decompressed pickle stream of a compiled script.
func Payload(data []byte) ([]byte, int, error) {
	if !bytes.HasPrefix(data, []byte(rpc2Header)) {
		out, err := inflate(data)
		if err != nil {
			return nil, 0, &FormatError{Msg: "not a compiled script", Err: err}
		}
		return out, 1, nil
	}

	pos := len(rpc2Header)
	for pos+12 <= len(data) {
		slot := binary.LittleEndian.Uint32(data[pos:])
		start := binary.LittleEndian.Uint32(data[pos+4:])
		length := binary.LittleEndian.Uint32(data[pos+8:])
		pos += 12
		if slot == 0 {
			break
		}
		if slot != 1 {
			continue
		}
		end := uint64(start) + uint64(length)
		if end > uint64(len(data)) {
			return nil, 0, &FormatError{Msg: fmt.Sprintf("slot 1 spans %d..%d past end of file (%d bytes)", start, end, len(data))}
		}
		out, err := inflate(data[start:end])
		if err != nil {
			return nil, 0, &FormatError{Msg: "slot 1", Err: err}
		}
		return out, 2, nil
	}
	return nil, 0, &FormatError{Msg: "slot 1 not found"}
}

func inflate(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	out, err := io.ReadAll(io.LimitReader(zr, MaxPayload+1))
	if err != nil {
		return nil, err
	}
	if len(out) > MaxPayload {
		return nil, fmt.Errorf("decompressed payload exceeds %d bytes", MaxPayload)
	}
	return out, nil
}

// Compress builds a slot container around a pickle stream. Tools use it to
// write fixtures and re-packed scripts.
func Compress(payload []byte) ([]byte, error) {
	var z bytes.Buffer
	zw := zlib.NewWriter(&z)
	if _, err := zw.Write(payload); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	const tableSize = 2 * 12
	var out bytes.Buffer
	out.WriteString(rpc2Header)
	start := uint32(len(rpc2Header) + tableSize)
	for _, v := range []uint32{1, start, uint32(z.Len()), 0, 0, 0} {
		_ = binary.Write(&out, binary.LittleEndian, v)
	}
	out.Write(z.Bytes())
	return out.Bytes(), nil
}

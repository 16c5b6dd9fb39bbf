// Package rpa reads Ren'Py archives (RPA-2.0 and RPA-3.0).
//
// The archive index is a zlib-compressed pickle. It is decoded with the
// restricted decoder from package unpickle, so a crafted index fails with
// *unpickle.SecurityError instead of executing anything.
package rpa

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"
	"github.com/minios-linux/renlokit/unpickle"
	"golang.org/x/text/encoding/charmap"
)

// ErrFormat is returned for files that are not a supported archive.
var ErrFormat = errors.New("rpa: unsupported archive format")

// maxIndex bounds the decompressed index size.
const maxIndex = 64 << 20

// Entry is one archive member.
type Entry struct {
	Name   string
	Offset int64
	Length int64
	// Prefix is stored in the index and precedes the member data.
	Prefix []byte
}

// Archive is an open archive. Close releases the file.
type Archive struct {
	Path    string
	Version string
	Entries []Entry
	f       *os.File
	size    int64
}

// Open reads the header and index of the archive at path.
func Open(path string) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	a := &Archive{Path: path, f: f}
	if err := a.readIndex(); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return a, nil
}

// Close closes the underlying file.
func (a *Archive) Close() error {
	return a.f.Close()
}

func (a *Archive) readIndex() error {
	st, err := a.f.Stat()
	if err != nil {
		return err
	}
	a.size = st.Size()

	header, err := bufio.NewReader(io.LimitReader(a.f, 256)).ReadString('\n')
	if err != nil {
		return ErrFormat
	}
	fields := strings.Fields(header)
	if len(fields) < 2 {
		return ErrFormat
	}
	a.Version = fields[0]

	var key int64
	switch a.Version {
	case "RPA-3.0":
		if len(fields) < 3 {
			return ErrFormat
		}
		k, err := strconv.ParseInt(fields[2], 16, 64)
		if err != nil {
			return fmt.Errorf("%w: bad key %q", ErrFormat, fields[2])
		}
		key = k
	case "RPA-2.0":
	default:
		return fmt.Errorf("%w: %q", ErrFormat, a.Version)
	}
	offset, err := strconv.ParseInt(fields[1], 16, 64)
	if err != nil || offset <= 0 || offset >= a.size {
		return fmt.Errorf("%w: bad index offset %q", ErrFormat, fields[1])
	}

	zr, err := zlib.NewReader(io.NewSectionReader(a.f, offset, a.size-offset))
	if err != nil {
		return fmt.Errorf("index: %w", err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(io.LimitReader(zr, maxIndex))
	if err != nil {
		return fmt.Errorf("index: %w", err)
	}
	v, err := unpickle.Loads(raw)
	if err != nil {
		return err
	}
	index, ok := v.(*unpickle.Dict)
	if !ok {
		return fmt.Errorf("%w: index is %s", ErrFormat, unpickle.Describe(v))
	}

	for i, k := range index.Keys {
		name, ok := unpickle.AsString(k)
		if !ok {
			continue
		}
		parts := unpickle.AsSlice(index.Values[i])
		if len(parts) == 0 {
			continue
		}
		e, err := entryOf(name, unpickle.AsSlice(parts[0]), key)
		if err != nil {
			return err
		}
		if e.Offset < 0 || e.Length < 0 || e.Offset+e.Length > a.size {
			return fmt.Errorf("%w: member %s lies outside the file", ErrFormat, name)
		}
		a.Entries = append(a.Entries, e)
	}
	sort.Slice(a.Entries, func(i, j int) bool { return a.Entries[i].Name < a.Entries[j].Name })
	return nil
}

func entryOf(name string, t []any, key int64) (Entry, error) {
	if len(t) < 2 {
		return Entry{}, fmt.Errorf("%w: member %s has %d index fields", ErrFormat, name, len(t))
	}
	off, ok1 := t[0].(int64)
	length, ok2 := t[1].(int64)
	if !ok1 || !ok2 {
		return Entry{}, fmt.Errorf("%w: member %s has non-integer offsets", ErrFormat, name)
	}
	e := Entry{Name: name, Offset: off ^ key, Length: length ^ key}
	if len(t) > 2 {
		switch p := t[2].(type) {
		case []byte:
			e.Prefix = p
		case string:
			// Python 2 str prefixes were decoded as Latin-1.
			b, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(p))
			if err != nil {
				return Entry{}, fmt.Errorf("%w: member %s prefix: %v", ErrFormat, name, err)
			}
			e.Prefix = b
		}
	}
	return e, nil
}

// ReadEntry returns the contents of e.
func (a *Archive) ReadEntry(e Entry) ([]byte, error) {
	data := make([]byte, e.Length)
	if _, err := a.f.ReadAt(data, e.Offset); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading %s from %s: %w", e.Name, a.Path, err)
	}
	if len(e.Prefix) == 0 {
		return data, nil
	}
	return append(append([]byte(nil), e.Prefix...), data...), nil
}

// Lookup finds a member by name.
func (a *Archive) Lookup(name string) (Entry, bool) {
	i := sort.Search(len(a.Entries), func(i int) bool { return a.Entries[i].Name >= name })
	if i < len(a.Entries) && a.Entries[i].Name == name {
		return a.Entries[i], true
	}
	return Entry{}, false
}

// Scripts selects source and compiled script members.
func Scripts(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".rpy", ".rpyc", ".rpym", ".rpymc":
		return true
	}
	return false
}

// HasScripts reports whether any member is a script.
func (a *Archive) HasScripts() bool {
	for _, e := range a.Entries {
		if Scripts(e.Name) {
			return true
		}
	}
	return false
}

// Extract writes the members accepted by keep (all when keep is nil) under
// dir and returns the written paths. Members whose names escape dir are
// rejected with an error before anything is written for them.
func (a *Archive) Extract(dir string, keep func(name string) bool) ([]string, error) {
	var written []string
	for _, e := range a.Entries {
		if keep != nil && !keep(e.Name) {
			continue
		}
		target, err := SafeJoin(dir, e.Name)
		if err != nil {
			return written, err
		}
		data, err := a.ReadEntry(e)
		if err != nil {
			return written, err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return written, fmt.Errorf("creating directory for %s: %w", target, err)
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return written, fmt.Errorf("writing %s: %w", target, err)
		}
		written = append(written, target)
	}
	return written, nil
}

// SafeJoin joins an archive member name onto dir, refusing absolute names
// and names that climb out of dir.
func SafeJoin(dir, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.ReplaceAll(name, `\`, "/")))
	if filepath.IsAbs(clean) || filepath.VolumeName(clean) != "" || clean == ".." ||
		strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("rpa: member %q escapes the output directory", name)
	}
	return filepath.Join(dir, clean), nil
}

// Write builds an RPA-3.0 archive from files. It is used to repack
// extracted members and to build fixtures.
func Write(w io.Writer, files map[string][]byte, key uint32) error {
	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)

	const headerLen = 34 // "RPA-3.0 " + 16 hex + " " + 8 hex + "\n"
	var body bytes.Buffer
	index := &unpickle.Dict{}
	k := int64(key)
	for _, n := range names {
		off := int64(headerLen + body.Len())
		body.Write(files[n])
		index.Set(n, []any{unpickle.Tuple{off ^ k, int64(len(files[n])) ^ k, []byte{}}})
	}
	pickled, err := unpickle.Encode(index)
	if err != nil {
		return err
	}
	var z bytes.Buffer
	zw := zlib.NewWriter(&z)
	if _, err := zw.Write(pickled); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "RPA-3.0 %016x %08x\n", headerLen+body.Len(), key); err != nil {
		return err
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		return err
	}
	_, err = w.Write(z.Bytes())
	return err
}

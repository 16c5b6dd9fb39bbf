package extract

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/gogs/chardet"
	"golang.org/x/text/encoding/htmlindex"
)

// ErrBinary is returned for files that contain NUL bytes and cannot be
// script text.
var ErrBinary = errors.New("binary content")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// charsetAliases maps detector names that htmlindex does not know.
var charsetAliases = map[string]string{
	"GB-18030":     "gb18030",
	"ISO-2022-JP":  "iso-2022-jp",
	"ISO-8859-8-I": "iso-8859-8-i",
}

// ReadTextSafely reads a script file and returns it as UTF-8. A BOM or valid
// UTF-8 is taken as is; otherwise the charset is detected and decoded, and
// as a last resort invalid bytes are replaced.
func ReadTextSafely(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	text, err := DecodeText(data)
	if err != nil {
		return "", fmt.Errorf("decoding %s: %w", path, err)
	}
	return text, nil
}

// DecodeText converts raw script bytes to UTF-8 text.
func DecodeText(data []byte) (string, error) {
	if bytes.HasPrefix(data, utf8BOM) {
		return string(data[len(utf8BOM):]), nil
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return "", ErrBinary
	}
	if utf8.Valid(data) {
		return string(data), nil
	}

	res, err := chardet.NewTextDetector().DetectBest(data)
	if err == nil && res != nil {
		name := res.Charset
		if alias, ok := charsetAliases[name]; ok {
			name = alias
		}
		if enc, err := htmlindex.Get(strings.ToLower(name)); err == nil {
			if out, err := enc.NewDecoder().Bytes(data); err == nil {
				return string(out), nil
			}
		}
	}
	return strings.ToValidUTF8(string(data), "�"), nil
}

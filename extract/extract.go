// Package extract finds Ren'Py scripts in a game tree and recovers their
// translatable text.
//
// Source scripts (.rpy) are read line by line by Parser, which tracks the
// enclosing block structure and classifies each literal. Compiled scripts
// and archives are handled by the rpyc and rpa packages; this package only
// locates them.
package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Kind groups script files by how they are read.
type Kind string

const (
	KindSource   Kind = "source"
	KindCompiled Kind = "compiled"
	KindArchive  Kind = "archive"
)

// ScriptExtensions maps file extensions to the kind of script they hold.
var ScriptExtensions = map[string]Kind{
	".rpy":   KindSource,
	".rpym":  KindSource,
	".rpyc":  KindCompiled,
	".rpymc": KindCompiled,
	".rpa":   KindArchive,
}

// skipDirs contains directory names never scanned for scripts. "tl" holds
// existing translations and "renpy" the engine's own scripts.
var skipDirs = map[string]bool{
	".git":        true,
	"__pycache__": true,
	"cache":       true,
	"saves":       true,
	"tl":          true,
	"renpy":       true,
	"lib":         true,
	".renlokit":   true,
}

// FindScripts recursively finds all script files in dirs. Results are
// sorted so extraction order is stable between runs.
func FindScripts(dirs []string) ([]string, error) {
	var files []string
	seen := make(map[string]bool)

	for _, dir := range dirs {
		err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return nil // skip unreadable entries
			}
			if info.IsDir() {
				if path != dir && skipDirs[info.Name()] {
					return filepath.SkipDir
				}
				return nil
			}
			if _, ok := ScriptExtensions[strings.ToLower(filepath.Ext(path))]; ok && !seen[path] {
				seen[path] = true
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", dir, err)
		}
	}

	sort.Strings(files)
	return files, nil
}

// KindOf returns the script kind of path, or "" if it is not a script.
func KindOf(path string) Kind {
	return ScriptExtensions[strings.ToLower(filepath.Ext(path))]
}

// FilesByKind groups script files by kind.
func FilesByKind(files []string) map[Kind][]string {
	result := make(map[Kind][]string)
	for _, f := range files {
		if k := KindOf(f); k != "" {
			result[k] = append(result[k], f)
		}
	}
	return result
}

// DescribeFiles returns a human-readable summary such as
// "12 source, 3 compiled".
func DescribeFiles(files []string) string {
	byKind := FilesByKind(files)
	var parts []string
	for _, k := range []Kind{KindSource, KindCompiled, KindArchive} {
		if n := len(byKind[k]); n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, k))
		}
	}
	return strings.Join(parts, ", ")
}

// RelPath returns path relative to root with forward slashes, or path
// itself when it is outside root.
func RelPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// FileResult is the outcome of parsing one source script.
type FileResult struct {
	Path    string
	Records []Record
	Err     error
}

// ParseSources parses source scripts on a worker pool. Results are returned
// in the order of files; a file that fails to read carries its error and no
// records.
func ParseSources(ctx context.Context, p *Parser, root string, files []string, workers int) ([]FileResult, error) {
	return ProcessFiles(ctx, files, workers, func(path string) ([]Record, error) {
		return p.ParseFile(path, RelPath(root, path))
	})
}

// ProcessFiles runs fn for every file on a bounded worker pool and collects
// the results in the order of files. Per-file errors are stored in the
// results; the returned error is only set when the run was cancelled or the
// pool failed.
func ProcessFiles(ctx context.Context, files []string, workers int, fn func(path string) ([]Record, error)) ([]FileResult, error) {
	results := make([]FileResult, len(files))
	pool := NewWorkerPool(workers, len(files))
	pool.Start(ctx)

	var mu sync.Mutex
	for i, f := range files {
		i, f := i, f
		err := pool.Submit(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			recs, err := fn(f)
			mu.Lock()
			results[i] = FileResult{Path: f, Records: recs, Err: err}
			mu.Unlock()
			return nil
		})
		if err != nil {
			break
		}
	}
	if err := pool.Close(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}

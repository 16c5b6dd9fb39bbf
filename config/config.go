// Package config locates a Ren'Py project and loads its .renlokit.yaml.
//
// Without a config file everything is auto-detected: the game directory,
// the languages that already have a tl/ folder and what kind of scripts the
// game ships.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/minios-linux/renlokit/extract"
)

// Project holds auto-detected project information.
type Project struct {
	// Root is the absolute project directory.
	Root string
	// GameDir is the absolute Ren'Py game directory.
	GameDir string
	// Name and Version come from options.rpy, falling back to the
	// directory name.
	Name    string
	Version string
	// Languages that already have a game/tl/<lang> directory.
	Languages []string

	SourceScripts   int
	CompiledScripts int
	Archives        int
}

// TLDir returns the translation directory of a language.
func (p *Project) TLDir(lang string) string {
	return filepath.Join(p.GameDir, "tl", lang)
}

// HasScripts reports whether any script or archive was found.
func (p *Project) HasScripts() bool {
	return p.SourceScripts+p.CompiledScripts+p.Archives > 0
}

// Summary is a short description such as "12 source, 3 compiled, 1 archive".
func (p *Project) Summary() string {
	var parts []string
	if p.SourceScripts > 0 {
		parts = append(parts, fmt.Sprintf("%d source", p.SourceScripts))
	}
	if p.CompiledScripts > 0 {
		parts = append(parts, fmt.Sprintf("%d compiled", p.CompiledScripts))
	}
	if p.Archives > 0 {
		parts = append(parts, fmt.Sprintf("%d archive", p.Archives))
	}
	if len(parts) == 0 {
		return "no scripts"
	}
	return strings.Join(parts, ", ")
}

// markerFiles identify a directory as a Ren'Py game directory.
var markerFiles = []string{"options.rpy", "script.rpy", "gui.rpy", "options.rpyc", "script.rpyc", "screens.rpy"}

// Detect inspects rootDir. gameDir, when not empty, overrides game
// directory discovery and is taken relative to rootDir.
func Detect(rootDir, gameDir string) (*Project, error) {
	absRoot, err := filepath.Abs(rootDir)
	if err != nil {
		absRoot = rootDir
	}

	p := &Project{Root: absRoot}
	if gameDir != "" {
		if !filepath.IsAbs(gameDir) {
			gameDir = filepath.Join(absRoot, gameDir)
		}
		if info, err := os.Stat(gameDir); err != nil || !info.IsDir() {
			return nil, fmt.Errorf("game directory %s not found", gameDir)
		}
		p.GameDir = gameDir
	} else {
		p.GameDir = findGameDir(absRoot)
		if p.GameDir == "" {
			return nil, fmt.Errorf("no Ren'Py game directory found under %s", absRoot)
		}
	}

	p.Name, p.Version = parseOptions(filepath.Join(p.GameDir, "options.rpy"))
	if p.Name == "" {
		base := absRoot
		if filepath.Base(absRoot) == "game" {
			base = filepath.Dir(absRoot)
		}
		p.Name = filepath.Base(base)
	}

	p.Languages = detectLanguages(filepath.Join(p.GameDir, "tl"))

	files, err := extract.FindScripts([]string{p.GameDir})
	if err != nil {
		return nil, err
	}
	byKind := extract.FilesByKind(files)
	p.SourceScripts = len(byKind[extract.KindSource])
	p.CompiledScripts = len(byKind[extract.KindCompiled])
	p.Archives = len(byKind[extract.KindArchive])

	return p, nil
}

// findGameDir prefers root/game, then root itself when it holds a marker
// file or is named "game".
func findGameDir(root string) string {
	if info, err := os.Stat(filepath.Join(root, "game")); err == nil && info.IsDir() {
		return filepath.Join(root, "game")
	}
	for _, m := range markerFiles {
		if _, err := os.Stat(filepath.Join(root, m)); err == nil {
			return root
		}
	}
	if filepath.Base(root) == "game" {
		return root
	}
	return ""
}

// detectLanguages lists tl/ subdirectories. "None" is Ren'Py's placeholder
// for the default language and is skipped.
func detectLanguages(tlDir string) []string {
	entries, err := os.ReadDir(tlDir)
	if err != nil {
		return nil
	}
	var langs []string
	for _, e := range entries {
		if e.IsDir() && e.Name() != "None" && isLangName(e.Name()) {
			langs = append(langs, e.Name())
		}
	}
	sort.Strings(langs)
	return langs
}

var langNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// isLangName checks that s is usable as a Ren'Py language identifier.
func isLangName(s string) bool {
	return langNameRe.MatchString(s)
}

var (
	nameRe    = regexp.MustCompile(`^\s*define\s+config\.name\s*=\s*_?\(?\s*["'](.+?)["']`)
	versionRe = regexp.MustCompile(`^\s*define\s+config\.version\s*=\s*["'](.+?)["']`)
)

// parseOptions extracts config.name and config.version from options.rpy.
func parseOptions(path string) (name, version string) {
	f, err := os.Open(path)
	if err != nil {
		return "", ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if m := nameRe.FindStringSubmatch(line); m != nil && name == "" {
			name = m[1]
		}
		if m := versionRe.FindStringSubmatch(line); m != nil && version == "" {
			version = m[1]
		}
	}
	return name, version
}

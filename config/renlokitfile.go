package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/minios-linux/renlokit/extract"
	"github.com/minios-linux/renlokit/translate"
	"github.com/minios-linux/renlokit/upstream"
)

// ---------------------------------------------------------------------------
// YAML schema
// ---------------------------------------------------------------------------

// File is the top-level .renlokit.yaml structure.
type File struct {
	// SourceLang is the API code of the game's language (default "en").
	SourceLang string `yaml:"source_lang,omitempty"`
	// Languages are Ren'Py language names to translate into.
	Languages []string `yaml:"languages,omitempty"`
	// GameDir overrides game directory detection, relative to the project root.
	GameDir string `yaml:"game_dir,omitempty"`

	Engine   string `yaml:"engine,omitempty"`
	Provider string `yaml:"provider,omitempty"`
	Model    string `yaml:"model,omitempty"`
	BaseURL  string `yaml:"base_url,omitempty"`
	// Prompt overrides the LLM system prompt.
	Prompt string `yaml:"prompt,omitempty"`

	// Glossary maps source terms to fixed translations.
	Glossary          map[string]string `yaml:"glossary,omitempty"`
	GlossaryWholeWord bool              `yaml:"glossary_whole_word,omitempty"`

	Filter  FilterConfig `yaml:"filter,omitempty"`
	Proxies ProxyConfig  `yaml:"proxies,omitempty"`
	Cache   CacheConfig  `yaml:"cache,omitempty"`

	// Workers bounds parallel script parsing (default: number of CPUs).
	Workers int `yaml:"workers,omitempty"`
	// Concurrency is the initial number of parallel upstream calls.
	Concurrency   int           `yaml:"concurrency,omitempty"`
	MaxSliceChars int           `yaml:"max_slice_chars,omitempty"`
	MaxSliceTexts int           `yaml:"max_slice_texts,omitempty"`
	MaxRetries    int           `yaml:"max_retries,omitempty"`
	Timeout       time.Duration `yaml:"timeout,omitempty"`

	// Unpack extracts script members of .rpa archives before parsing.
	Unpack *bool `yaml:"unpack,omitempty"`
	// Compiled enables extraction from .rpyc files.
	Compiled *bool `yaml:"compiled,omitempty"`
}

// FilterConfig extends the built-in extraction filter.
type FilterConfig struct {
	Denylist   []string `yaml:"denylist,omitempty"`
	Extensions []string `yaml:"extensions,omitempty"`
}

// ProxyConfig configures upstream identity rotation.
type ProxyConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`
	// List holds host:port or scheme://host:port entries.
	List []string `yaml:"list,omitempty"`
	// URLs are proxy list endpoints, plain text or JSON.
	URLs            []string      `yaml:"urls,omitempty"`
	Protocol        string        `yaml:"protocol,omitempty"`
	ProbeURL        string        `yaml:"probe_url,omitempty"`
	RefreshInterval time.Duration `yaml:"refresh_interval,omitempty"`
}

// CacheConfig configures the in-memory cache and translation memory.
type CacheConfig struct {
	Capacity int `yaml:"capacity,omitempty"`
	// Path is the SQLite translation memory, relative to the project root.
	// Empty selects .renlokit/cache.db; "off" disables it.
	Path string `yaml:"path,omitempty"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// FileName is the default config file name.
const FileName = ".renlokit.yaml"

// DefaultCachePath is the translation memory location inside the project.
const DefaultCachePath = ".renlokit/cache.db"

// Default returns the configuration used when no file exists.
func Default() *File {
	f := &File{}
	f.applyDefaults()
	return f
}

// Load loads and validates .renlokit.yaml from rootDir. It returns nil,
// nil when the file does not exist.
func Load(rootDir string) (*File, error) {
	path := filepath.Join(rootDir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	f.applyDefaults()
	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &f, nil
}

func (f *File) applyDefaults() {
	if f.SourceLang == "" {
		f.SourceLang = "en"
	}
	if f.Engine == "" {
		f.Engine = translate.EngineGoogle
	}
}

func (f *File) validate() error {
	known := false
	for _, e := range translate.Engines() {
		if e == f.Engine {
			known = true
		}
	}
	if !known {
		return fmt.Errorf("unknown engine %q (valid: %v)", f.Engine, translate.Engines())
	}
	for _, l := range f.Languages {
		if !isLangName(l) {
			return fmt.Errorf("invalid language name %q", l)
		}
	}
	for term := range f.Glossary {
		if term == "" {
			return fmt.Errorf("glossary has an empty term")
		}
	}
	if f.Proxies.Enabled && len(f.Proxies.List) == 0 && len(f.Proxies.URLs) == 0 {
		return fmt.Errorf("proxies enabled but neither list nor urls given")
	}
	if f.Workers < 0 || f.Concurrency < 0 {
		return fmt.Errorf("workers and concurrency must not be negative")
	}
	return nil
}

// Save writes the configuration to rootDir/.renlokit.yaml.
func (f *File) Save(rootDir string) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	path := filepath.Join(rootDir, FileName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Building components
// ---------------------------------------------------------------------------

// UnpackArchives reports whether archives are unpacked before parsing
// (default true).
func (f *File) UnpackArchives() bool {
	return f.Unpack == nil || *f.Unpack
}

// ReadCompiled reports whether .rpyc files are read (default true).
func (f *File) ReadCompiled() bool {
	return f.Compiled == nil || *f.Compiled
}

// NewFilter returns the default extraction filter extended with the
// configured terms and extensions.
func (f *File) NewFilter() *extract.Filter {
	flt := extract.DefaultFilter()
	flt.Extend(f.Filter.Denylist, f.Filter.Extensions)
	return flt
}

// NewGlossary returns the configured glossary, or nil when empty.
func (f *File) NewGlossary() *translate.Glossary {
	if len(f.Glossary) == 0 {
		return nil
	}
	return translate.NewGlossary(f.Glossary, f.GlossaryWholeWord)
}

// NewRotator builds the upstream rotator, or nil when proxies are off.
func (f *File) NewRotator(onLog func(string)) *upstream.Rotator {
	if !f.Proxies.Enabled {
		return nil
	}
	var sources []upstream.Source
	if len(f.Proxies.List) > 0 {
		sources = append(sources, upstream.StaticSource(f.Proxies.List))
	}
	for _, u := range f.Proxies.URLs {
		sources = append(sources, upstream.URLSource{URL: u, Protocol: f.Proxies.Protocol})
	}
	return upstream.New(upstream.Options{
		Sources:         sources,
		RefreshInterval: f.Proxies.RefreshInterval,
		ProbeURL:        f.Proxies.ProbeURL,
		OnLog:           onLog,
	})
}

// CachePath returns the absolute translation memory path, or "" when it
// is disabled.
func (f *File) CachePath(rootDir string) string {
	switch f.Cache.Path {
	case "off", "none", "false":
		return ""
	case "":
		return filepath.Join(rootDir, DefaultCachePath)
	}
	if filepath.IsAbs(f.Cache.Path) {
		return f.Cache.Path
	}
	return filepath.Join(rootDir, f.Cache.Path)
}

// TargetLanguages returns the configured languages, falling back to those
// detected in the project.
func (f *File) TargetLanguages(p *Project) []string {
	if len(f.Languages) > 0 {
		return f.Languages
	}
	if p != nil {
		return p.Languages
	}
	return nil
}

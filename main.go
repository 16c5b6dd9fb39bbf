// renlokit, the Ren'Py Localization Kit: extracts text from Ren'Py games and
// translates it into round-trip-safe tl/<lang>/ files.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/minios-linux/renlokit/cache"
	"github.com/minios-linux/renlokit/config"
	"github.com/minios-linux/renlokit/extract"
	"github.com/minios-linux/renlokit/i18n"
	"github.com/minios-linux/renlokit/langmeta"
	"github.com/minios-linux/renlokit/lockfile"
	"github.com/minios-linux/renlokit/pipeline"
	"github.com/minios-linux/renlokit/rpa"
	"github.com/minios-linux/renlokit/settings"
	"github.com/minios-linux/renlokit/tlfile"
	"github.com/minios-linux/renlokit/translate"
	"github.com/minios-linux/renlokit/upstream"
)

// Version information (set via -ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Colors are disabled automatically when stderr is not a terminal or
// NO_COLOR is set.
var (
	blue   = color.New(color.FgBlue).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.Bold, color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
)

func logInfo(format string, args ...any) {
	fmt.Fprintf(os.Stderr, blue("[INFO]")+" "+format+"\n", args...)
}

func logSuccess(format string, args ...any) {
	fmt.Fprintf(os.Stderr, green("[OK]")+" "+format+"\n", args...)
}

func logWarning(format string, args ...any) {
	fmt.Fprintf(os.Stderr, yellow("[WARN]")+" "+format+"\n", args...)
}

func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, red("[ERROR]")+" "+format+"\n", args...)
}

// ---------------------------------------------------------------------------
// Global flags
// ---------------------------------------------------------------------------

var (
	rootDir string
	uiLang  string
)

// ---------------------------------------------------------------------------
// Root command
// ---------------------------------------------------------------------------

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "renlokit",
		Short: "Ren'Py Localization Kit",
		Long: `renlokit: Ren'Py Localization Kit.

Extracts dialogue, menu choices and interface strings from .rpy scripts,
compiled .rpyc scripts and .rpa archives, translates them with machine
translation engines and writes game/tl/<lang>/ files that Ren'Py loads
directly. Existing translations are never overwritten, and interpolations
([name]), text tags ({b}) and disambiguation markers ({#id}) survive.

Commands:
  status      Show project info and translation progress
  init        Write a default .renlokit.yaml
  extract     Generate translation files without translating
  translate   Translate pending entries
  pseudo      Pseudo-translate for layout testing
  unpack      Extract scripts from .rpa archives
  cache       Inspect or prune the translation memory
  auth        Manage API keys

Engines:
  google   Google Translate web endpoint (no key)
  deepl    DeepL API (key required)
  llm      OpenAI, Gemini, Anthropic, Groq, Ollama or any OpenAI-compatible endpoint
  pseudo   Local pseudo-localization`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			i18n.Init(uiLang)
		},
	}

	root.PersistentFlags().StringVar(&rootDir, "root", ".", "Project root directory")
	root.PersistentFlags().StringVar(&uiLang, "ui-lang", "", "Language of renlokit's own messages (default: from environment)")
	_ = root.RegisterFlagCompletionFunc("ui-lang", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return i18n.Available(), cobra.ShellCompDirectiveNoFileComp
	})

	root.AddCommand(
		newStatusCmd(),
		newInitCmd(),
		newExtractCmd(),
		newTranslateCmd(),
		newPseudoCmd(),
		newUnpackCmd(),
		newCacheCmd(),
		newAuthCmd(),
		newVersionCmd(),
	)

	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logError("%v", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// version
// ---------------------------------------------------------------------------

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("renlokit version %s\n", version)
			fmt.Printf("  commit:    %s\n", commit)
			fmt.Printf("  built:     %s\n", date)
		},
	}
}

// ---------------------------------------------------------------------------
// Project loading
// ---------------------------------------------------------------------------

// loadProject reads .renlokit.yaml (defaults when missing) and detects the
// game directory.
func loadProject() (*config.File, *config.Project, error) {
	cfg, err := config.Load(rootDir)
	if err != nil {
		return nil, nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	proj, err := config.Detect(rootDir, cfg.GameDir)
	if err != nil {
		return nil, nil, err
	}
	return cfg, proj, nil
}

// parseLangs splits a comma-separated list, mapping codes such as "tr" or
// "pt-BR" to Ren'Py names. Duplicates and blanks are dropped.
func parseLangs(s string) []string {
	var out []string
	seen := map[string]bool{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name := langmeta.RenPyName(part)
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// targetLanguages resolves --lang, then the config, then the languages
// already present in game/tl.
func targetLanguages(flag string, cfg *config.File, proj *config.Project) ([]string, error) {
	if flag != "" {
		return parseLangs(flag), nil
	}
	if langs := cfg.TargetLanguages(proj); len(langs) > 0 {
		return langs, nil
	}
	return nil, errors.New(i18n.T("no target language: pass --lang (e.g. --lang turkish,french) or set languages in .renlokit.yaml"))
}

// ---------------------------------------------------------------------------
// status (read-only: project info + translation progress)
// ---------------------------------------------------------------------------

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show project info and translation progress",
		Long: `Show the detected game directory, script counts and, per language in
game/tl/, how many entries are translated. Does not modify any files.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context())
		},
	}
}

func runStatus(ctx context.Context) error {
	cfg, proj, err := loadProject()
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "\n%s\n", blue(i18n.T("Project")))
	fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))
	fmt.Fprintf(os.Stderr, "  Name:       %s\n", proj.Name)
	if proj.Version != "" {
		fmt.Fprintf(os.Stderr, "  Version:    %s\n", proj.Version)
	}
	fmt.Fprintf(os.Stderr, "  Root:       %s\n", proj.Root)
	fmt.Fprintf(os.Stderr, "  Game dir:   %s\n", proj.GameDir)
	fmt.Fprintf(os.Stderr, "  Scripts:    %s\n", proj.Summary())
	fmt.Fprintf(os.Stderr, "  Engine:     %s\n", cfg.Engine)
	if len(proj.Languages) > 0 {
		fmt.Fprintf(os.Stderr, "  Languages:  %s\n", strings.Join(proj.Languages, ", "))
	} else {
		fmt.Fprintf(os.Stderr, "  Languages:  %s\n", i18n.T("none yet"))
	}
	fmt.Fprintln(os.Stderr)

	if len(proj.Languages) > 0 {
		showStatsTable(proj)
	}

	if lock, err := lockfile.Load(proj.Root); err == nil {
		if langs, _ := lock.Stats(); langs > 0 {
			fmt.Fprintf(os.Stderr, "  Lock file:  %s\n", lock.Summary())
		}
	}
	if path := cfg.CachePath(proj.Root); path != "" && fileExists(path) {
		if store, err := cache.Open(path); err == nil {
			n, _ := store.Count(ctx, "")
			store.Close()
			fmt.Fprintf(os.Stderr, "  Memory:     %d translations (%s)\n", n, path)
		}
	}
	fmt.Fprintln(os.Stderr)

	if !proj.HasScripts() {
		logWarning("%s", i18n.T("No scripts or archives found in the game directory"))
		return nil
	}
	printSuggestedCommands(proj)
	return nil
}

func showStatsTable(proj *config.Project) {
	width := langColumnWidth(proj.Languages)
	fmt.Fprintf(os.Stderr, "%s\n", blue(i18n.T("Translation Statistics")))
	fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))
	fmt.Fprintf(os.Stderr, "%-*s %-8s %-12s %-10s %s\n", width+3, "Lang", "Files", "Translated", "Untrans.", "Progress")

	var gaps []string
	for _, lang := range proj.Languages {
		files, err := tlfile.ParseDir(proj.TLDir(lang))
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s %s\n", langCell(lang, width), red(err.Error()))
			continue
		}
		st := tlfile.Collect(files)
		fmt.Fprintf(os.Stderr, "%s %-8d %-12d %-10d %s\n",
			langCell(lang, width), len(files), st.Translated, st.Untranslated, progressBar(int(st.Progress), 20))
		if st.Untranslated > 0 {
			gaps = append(gaps, fmt.Sprintf("%s: %d", lang, st.Untranslated))
		}
	}
	fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))
	if len(gaps) > 0 {
		logInfo(i18n.T("Untranslated entries: %s"), strings.Join(gaps, ", "))
	}
	fmt.Fprintln(os.Stderr)
}

// progressBar renders a bar of the given width, coloured by completeness.
func progressBar(percent, width int) string {
	percent = max(0, min(100, percent))
	filled := percent * width / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	paint := red
	switch {
	case percent >= 90:
		paint = green
	case percent >= 50:
		paint = yellow
	}
	return paint(bar) + fmt.Sprintf(" %3d%%", percent)
}

// langCell renders a flag and a Ren'Py language name padded to width.
func langCell(lang string, width int) string {
	flag := langmeta.Resolve(lang).Flag
	if flag == "" {
		flag = "  "
	}
	return fmt.Sprintf("%s %-*s", flag, width, lang)
}

func langColumnWidth(langs []string) int {
	w := len("Lang")
	for _, l := range langs {
		w = max(w, len(l))
	}
	return w
}

func printSuggestedCommands(proj *config.Project) {
	fmt.Fprintf(os.Stderr, "%s\n", blue(i18n.T("Next steps")))
	if proj.Archives > 0 && proj.SourceScripts+proj.CompiledScripts == 0 {
		fmt.Fprintf(os.Stderr, "  renlokit unpack                        %s\n", i18n.T("extract scripts from archives"))
	}
	if len(proj.Languages) == 0 {
		fmt.Fprintf(os.Stderr, "  renlokit translate --lang turkish      %s\n", i18n.T("translate into a new language"))
	} else {
		fmt.Fprintf(os.Stderr, "  renlokit translate                     %s\n", i18n.T("translate pending entries"))
	}
	fmt.Fprintf(os.Stderr, "  renlokit pseudo                        %s\n\n", i18n.T("check the layout with pseudo text"))
}

// ---------------------------------------------------------------------------
// init
// ---------------------------------------------------------------------------

func newInitCmd() *cobra.Command {
	var (
		langs  string
		engine string
		force  bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default .renlokit.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(rootDir, config.FileName)
			if fileExists(path) && !force {
				return fmt.Errorf(i18n.T("%s already exists (use --force to overwrite)"), path)
			}
			f := config.Default()
			f.Languages = parseLangs(langs)
			if engine != "" {
				f.Engine = engine
			}
			if err := f.Save(rootDir); err != nil {
				return err
			}
			if _, err := config.Load(rootDir); err != nil {
				return err
			}
			logSuccess(i18n.T("Created %s"), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&langs, "lang", "", "Target languages (comma-separated Ren'Py names or codes)")
	cmd.Flags().StringVar(&engine, "engine", "", "Default engine: "+strings.Join(translate.Engines(), ", "))
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

// ---------------------------------------------------------------------------
// Shared run flags
// ---------------------------------------------------------------------------

// runArgs are the flags shared by extract, translate and pseudo.
type runArgs struct {
	langs       string
	retranslate bool
	diagnostics string
	workers     int
	verbose     bool
}

func addRunFlags(fs *pflag.FlagSet, a *runArgs) {
	fs.StringVar(&a.langs, "lang", "", "Target languages (comma-separated Ren'Py names or codes, default: config or game/tl)")
	fs.StringVar(&a.diagnostics, "diagnostics", "", "Write a JSON diagnostics report (per language: <name>.<lang>.json)")
	fs.IntVar(&a.workers, "workers", 0, "Parallel script parsers (0 = config or number of CPUs)")
	fs.BoolVar(&a.verbose, "verbose", false, "Enable detailed logging")
}

// engineArgs select and configure the translation engine.
type engineArgs struct {
	engine     string
	provider   string
	model      string
	apiKey     string
	baseURL    string
	prompt     string
	timeout    time.Duration
	maxRetries int
	proxies    []string
	noCache    bool
}

func addEngineFlags(fs *pflag.FlagSet, a *engineArgs) {
	fs.StringVarP(&a.engine, "engine", "e", "", "Engine: "+strings.Join(translate.Engines(), ", ")+" (default: config or google)")
	fs.StringVar(&a.provider, "provider", "", "LLM provider: gemini, groq, openai, anthropic, ollama, custom-openai")
	fs.StringVar(&a.model, "model", "", "LLM model name")
	fs.StringVar(&a.apiKey, "api-key", "", "API key (or "+settings.EnvAPIKey+", provider variables, .env, auth store)")
	fs.StringVar(&a.baseURL, "base-url", "", "Custom API endpoint")
	fs.StringVar(&a.prompt, "prompt", "", "Custom LLM system prompt")
	fs.DurationVar(&a.timeout, "timeout", 0, "Per-request timeout (0 = config or 30s)")
	fs.IntVar(&a.maxRetries, "max-retries", 0, "Extra attempts per request (0 = config or 1)")
	fs.StringSliceVar(&a.proxies, "proxy", nil, "Rotate requests over these proxies (host:port, repeatable)")
	fs.BoolVar(&a.noCache, "no-cache", false, "Do not use the persistent translation memory")
}

// credentialID is the auth store entry that holds the key for an engine.
func credentialID(engine, provider string) string {
	switch engine {
	case translate.EngineDeepL:
		return "deepl"
	case translate.EngineLLM:
		if provider == "" {
			return translate.ProviderCustomOpenAI
		}
		return provider
	}
	return ""
}

// buildManager assembles the engine, translation memory, proxy rotator
// and glossary. The returned function releases them.
func buildManager(cfg *config.File, a engineArgs, verbose bool) (*translate.Manager, string, func(), error) {
	name := a.engine
	if name == "" {
		name = cfg.Engine
	}
	provider := a.provider
	if provider == "" {
		provider = cfg.Provider
	}

	dotenv, err := settings.LoadEnv(rootDir)
	if err != nil {
		logWarning("%v", err)
	}
	credID := credentialID(name, provider)
	key, source := "", ""
	if credID != "" {
		key, source = settings.ResolveAPIKey(credID, a.apiKey, dotenv)
	}
	if verbose && source != "" {
		logInfo("API key for %s from %s: %s", credID, source, settings.MaskKey(key))
	}

	baseURL := firstNonEmpty(a.baseURL, cfg.BaseURL)
	if baseURL == "" && credID != "" {
		baseURL = settings.GetBaseURL(credID)
	}
	timeout := a.timeout
	if timeout == 0 {
		timeout = cfg.Timeout
	}

	eng, err := translate.NewEngine(translate.EngineConfig{
		Name:         name,
		APIKey:       key,
		BaseURL:      baseURL,
		Provider:     provider,
		Model:        firstNonEmpty(a.model, cfg.Model),
		SystemPrompt: firstNonEmpty(a.prompt, cfg.Prompt),
		Timeout:      timeout,
		Verbose:      verbose,
	})
	if err != nil {
		return nil, "", nil, err
	}

	closers := []func(){}
	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}

	var store *cache.Store
	if path := cfg.CachePath(rootDir); path != "" && !a.noCache {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
			if store, err = cache.Open(path); err != nil {
				logWarning(i18n.T("Translation memory disabled: %v"), err)
				store = nil
			} else {
				closers = append(closers, func() { store.Close() })
			}
		}
	}

	if len(a.proxies) > 0 {
		cfg.Proxies.Enabled = true
		cfg.Proxies.List = append(cfg.Proxies.List, a.proxies...)
	}
	var onProxyLog func(string)
	if verbose {
		onProxyLog = func(msg string) { logInfo("%s", msg) }
	}
	rotator := cfg.NewRotator(onProxyLog)
	if rotator != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		if err := rotator.Refresh(ctx); err != nil {
			logWarning(i18n.T("Proxy list unavailable, connecting directly: %v"), err)
		}
		cancel()
	}

	maxRetries := a.maxRetries
	if maxRetries == 0 {
		maxRetries = cfg.MaxRetries
	}
	opts := translate.Options{
		Engines:       []translate.Engine{eng},
		CacheCapacity: cfg.Cache.Capacity,
		Store:         store,
		Rotator:       rotator,
		Glossary:      cfg.NewGlossary(),
		MaxSliceChars: cfg.MaxSliceChars,
		MaxSliceTexts: cfg.MaxSliceTexts,
		MaxRetries:    maxRetries,
		Timeout:       timeout,
		Concurrency:   cfg.Concurrency,
		OnError:       logWarning,
		Verbose:       verbose,
	}
	if verbose {
		opts.OnLog = logInfo
	}
	m := translate.NewManager(opts)
	if verbose && rotator != nil {
		closers = append(closers, func() { printRotatorStats(rotator.Stats()) })
	}
	return m, eng.Name(), cleanup, nil
}

func printRotatorStats(s upstream.Stats) {
	logInfo("Proxies: %d healthy of %d, avg %v, success %.0f%%",
		s.Healthy, s.Total, s.AvgResponseTime.Round(time.Millisecond), s.AvgSuccessRate*100)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ---------------------------------------------------------------------------
// Pipeline runs
// ---------------------------------------------------------------------------

// runLanguages runs the pipeline once per language, stopping cleanly on
// Ctrl+C.
func runLanguages(ctx context.Context, cfg *config.File, langs []string, a runArgs, m *translate.Manager, engine string, generateOnly bool) error {
	if a.workers > 0 {
		cfg.Workers = a.workers
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	failed := 0
	for _, lang := range langs {
		meta := langmeta.Resolve(lang)
		logInfo(i18n.T("Language: %s (%s, API code %s)"), lang, meta.Name, meta.Code)

		p := pipeline.New(pipeline.Options{
			Root:            rootDir,
			Config:          cfg,
			Language:        lang,
			Engine:          engine,
			Manager:         m,
			GenerateOnly:    generateOnly,
			Retranslate:     a.retranslate,
			DiagnosticsPath: diagnosticsPath(a.diagnostics, lang, len(langs)),
			Callbacks:       cliCallbacks(a.verbose),
		})

		done := make(chan struct{})
		go func() {
			select {
			case <-sigCh:
				logWarning("%s", i18n.T("Interrupted, finishing requests in flight..."))
				p.Stop()
			case <-done:
			}
		}()
		res := p.Run(ctx)
		close(done)

		switch {
		case res.Stage == pipeline.StageIdle:
			reportResult(lang, res)
			return errors.New(i18n.T("stopped"))
		case !res.Success:
			logError("%s: %s", lang, res.Message)
			failed++
		default:
			reportResult(lang, res)
		}
	}
	if failed > 0 {
		return fmt.Errorf(i18n.T("%d of %d languages failed"), failed, len(langs))
	}
	return nil
}

// diagnosticsPath derives a per-language report path when several
// languages share one --diagnostics value.
func diagnosticsPath(path, lang string, n int) string {
	if path == "" || n <= 1 {
		return path
	}
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + lang + ext
}

func cliCallbacks(verbose bool) pipeline.Callbacks {
	cb := pipeline.Callbacks{
		OnStage: func(stage pipeline.Stage, msg string) {
			if stage == pipeline.StageError || stage == pipeline.StageCompleted {
				return
			}
			logInfo("[%s] %s", strings.ToUpper(string(stage)), msg)
		},
		OnProgress: func(done, total int, label string) {
			logInfo("%d/%d %s", done, total, label)
		},
	}
	if verbose {
		cb.OnLog = func(format string, args ...any) {
			msg := fmt.Sprintf(format, args...)
			// Stage lines are already printed by OnStage.
			if strings.HasPrefix(msg, "[") {
				return
			}
			logInfo("%s", msg)
		}
	}
	return cb
}

func reportResult(lang string, r pipeline.Result) {
	if r.Success {
		logSuccess("%s: %s", lang, r.Message)
	} else {
		logWarning("%s: %s", lang, r.Message)
	}
	fmt.Fprintf(os.Stderr, "  extracted %d, new %d, translated %d, written %d, skipped %d, unchanged %d\n",
		r.Extracted, r.Added, r.Translated, r.Written, r.Skipped, r.Unchanged)
	if r.Stats.Total > 0 {
		fmt.Fprintf(os.Stderr, "  %s  %d/%d\n", progressBar(int(r.Stats.Progress), 20), r.Stats.Translated, r.Stats.Total)
	}
	if r.OutputDir != "" {
		fmt.Fprintf(os.Stderr, "  %s\n", r.OutputDir)
	}
}

// ---------------------------------------------------------------------------
// extract
// ---------------------------------------------------------------------------

func newExtractCmd() *cobra.Command {
	var a runArgs
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Generate translation files without translating",
		Long: `Parse the game's scripts and add an empty entry to
game/tl/<lang>/strings.rpy for every text that has none yet. Nothing is
sent to a translation service.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, proj, err := loadProject()
			if err != nil {
				return err
			}
			langs, err := targetLanguages(a.langs, cfg, proj)
			if err != nil {
				return err
			}
			return runLanguages(cmd.Context(), cfg, langs, a, nil, "", true)
		},
	}
	addRunFlags(cmd.Flags(), &a)
	return cmd
}

// ---------------------------------------------------------------------------
// translate
// ---------------------------------------------------------------------------

func newTranslateCmd() *cobra.Command {
	var (
		a   runArgs
		eng engineArgs
	)
	cmd := &cobra.Command{
		Use:   "translate",
		Short: "Translate pending entries",
		Long: `Extract new texts, then translate every empty entry of game/tl/<lang>/.

Translations edited by hand are never replaced. With --retranslate, entries
renlokit wrote earlier and nobody has edited since are translated again.

Examples:
  renlokit translate --lang turkish
  renlokit translate --lang french,german --engine deepl
  renlokit translate --lang japanese --engine llm --provider openai --model gpt-4o-mini
  renlokit translate --lang spanish --proxy 10.0.0.2:3128 --proxy 10.0.0.3:3128`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, proj, err := loadProject()
			if err != nil {
				return err
			}
			langs, err := targetLanguages(a.langs, cfg, proj)
			if err != nil {
				return err
			}
			m, name, cleanup, err := buildManager(cfg, eng, a.verbose)
			if err != nil {
				return err
			}
			defer cleanup()
			logInfo(i18n.T("Engine: %s, languages: %s"), name, strings.Join(langs, ", "))
			return runLanguages(cmd.Context(), cfg, langs, a, m, name, false)
		},
	}
	addRunFlags(cmd.Flags(), &a)
	addEngineFlags(cmd.Flags(), &eng)
	cmd.Flags().BoolVar(&a.retranslate, "retranslate", false, "Translate machine-written entries again")

	_ = cmd.RegisterFlagCompletionFunc("engine", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return translate.Engines(), cobra.ShellCompDirectiveNoFileComp
	})
	_ = cmd.RegisterFlagCompletionFunc("lang", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return langmeta.Known(), cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

// ---------------------------------------------------------------------------
// pseudo
// ---------------------------------------------------------------------------

func newPseudoCmd() *cobra.Command {
	var (
		a    runArgs
		mode string
	)
	cmd := &cobra.Command{
		Use:   "pseudo",
		Short: "Pseudo-translate for layout testing",
		Long: `Fill a language with accented and expanded text, e.g.
"Hello [name]" -> "[[!!! Héllõ [name] !!!]", to find untranslatable strings
and text that overflows its box. Select the language in game to check it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadProject()
			if err != nil {
				return err
			}
			langs := parseLangs(a.langs)
			if len(langs) == 0 {
				langs = []string{"pseudo"}
			}
			m := translate.NewManager(translate.Options{
				Engines: []translate.Engine{translate.NewPseudo(mode)},
			})
			return runLanguages(cmd.Context(), cfg, langs, a, m, translate.EnginePseudo, false)
		},
	}
	addRunFlags(cmd.Flags(), &a)
	cmd.Flags().StringVar(&mode, "mode", translate.PseudoBoth, "Pseudo mode: accent, expand, both")
	cmd.Flags().BoolVar(&a.retranslate, "retranslate", false, "Replace earlier pseudo text")
	return cmd
}

// ---------------------------------------------------------------------------
// unpack
// ---------------------------------------------------------------------------

func newUnpackCmd() *cobra.Command {
	var (
		all   bool
		list  bool
		force bool
	)
	cmd := &cobra.Command{
		Use:   "unpack [archive.rpa...]",
		Short: "Extract scripts from .rpa archives",
		Long: `Extract the .rpy/.rpyc members of the game's .rpa archives into the
game directory so they can be parsed. Existing files are kept unless --force
is given. With --all every member (images, audio) is extracted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			archives := args
			if len(archives) == 0 {
				_, proj, err := loadProject()
				if err != nil {
					return err
				}
				files, err := extract.FindScripts([]string{proj.GameDir})
				if err != nil {
					return err
				}
				archives = extract.FilesByKind(files)[extract.KindArchive]
			}
			if len(archives) == 0 {
				logInfo("%s", i18n.T("No .rpa archives found"))
				return nil
			}
			for _, path := range archives {
				if err := unpackArchive(path, all, list, force); err != nil {
					logError("%s: %v", filepath.Base(path), err)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Extract every member, not only scripts")
	cmd.Flags().BoolVar(&list, "list", false, "List members without extracting")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing files")
	return cmd
}

func unpackArchive(path string, all, list, force bool) error {
	a, err := rpa.Open(path)
	if err != nil {
		return err
	}
	defer a.Close()

	dir := filepath.Dir(path)
	keep := func(name string) bool {
		if !all && !rpa.Scripts(name) {
			return false
		}
		if force {
			return true
		}
		target, err := rpa.SafeJoin(dir, name)
		return err != nil || !fileExists(target)
	}

	if list {
		fmt.Fprintf(os.Stderr, "%s (%d members)\n", blue(filepath.Base(path)), len(a.Entries))
		for _, e := range a.Entries {
			mark := " "
			if rpa.Scripts(e.Name) {
				mark = "*"
			}
			fmt.Fprintf(os.Stderr, "  %s %s\n", mark, e.Name)
		}
		return nil
	}

	written, err := a.Extract(dir, keep)
	logSuccess(i18n.N("%s: %d file extracted", "%s: %d files extracted", len(written)), filepath.Base(path), len(written))
	return err
}

// ---------------------------------------------------------------------------
// cache
// ---------------------------------------------------------------------------

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or prune the translation memory",
	}

	openStore := func() (*cache.Store, error) {
		cfg, err := config.Load(rootDir)
		if err != nil {
			return nil, err
		}
		if cfg == nil {
			cfg = config.Default()
		}
		path := cfg.CachePath(rootDir)
		if path == "" {
			return nil, errors.New(i18n.T("translation memory is disabled in .renlokit.yaml"))
		}
		if !fileExists(path) {
			return nil, fmt.Errorf(i18n.T("no translation memory at %s"), path)
		}
		return cache.Open(path)
	}

	var lang string
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Count stored translations",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()
			code := ""
			if lang != "" {
				code = langmeta.APICode(lang)
			}
			n, err := s.Count(cmd.Context(), code)
			if err != nil {
				return err
			}
			logInfo(i18n.T("%d stored translations"), n)
			return nil
		},
	}
	stats.Flags().StringVar(&lang, "lang", "", "Only count one target language")

	var olderThan time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete translations unused for a while",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()
			n, err := s.Prune(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			logSuccess(i18n.T("%d translations removed"), n)
			return nil
		},
	}
	prune.Flags().DurationVar(&olderThan, "older-than", 90*24*time.Hour, "Remove entries not used within this duration")

	cmd.AddCommand(stats, prune)
	return cmd
}

// ---------------------------------------------------------------------------
// auth
// ---------------------------------------------------------------------------

// keyProviders are the credential entries renlokit reads.
var keyProviders = []struct {
	id      string
	name    string
	helpURL string
}{
	{"deepl", "DeepL", "https://www.deepl.com/your-account/keys"},
	{translate.ProviderOpenAI, "OpenAI", "https://platform.openai.com/api-keys"},
	{translate.ProviderGemini, "Google Gemini", "https://aistudio.google.com/apikey"},
	{translate.ProviderAnthropic, "Anthropic", "https://console.anthropic.com/settings/keys"},
	{translate.ProviderGroq, "Groq Cloud", "https://console.groq.com/keys"},
	{translate.ProviderOllama, "Ollama", ""},
	{translate.ProviderCustomOpenAI, "Custom OpenAI", ""},
}

func knownProvider(id string) bool {
	for _, p := range keyProviders {
		if p.id == id {
			return true
		}
	}
	return false
}

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage API keys",
		Long: `Store API keys in $XDG_DATA_HOME/renlokit/auth.json (mode 0600).

Keys are looked up in this order: --api-key, environment variables
(RENLOKIT_API_KEY, DEEPL_API_KEY, OPENAI_API_KEY, ...), the project's .env
file, then this store.

Examples:
  renlokit auth set --provider deepl
  renlokit auth set --provider custom-openai --base-url http://localhost:8080/v1
  renlokit auth list
  renlokit auth remove --provider deepl`,
	}
	cmd.AddCommand(newAuthSetCmd(), newAuthListCmd(), newAuthRemoveCmd())
	return cmd
}

func newAuthSetCmd() *cobra.Command {
	var provider, key, baseURL string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !knownProvider(provider) {
				return fmt.Errorf(i18n.T("unknown provider %q"), provider)
			}
			if key == "" && baseURL == "" {
				for _, p := range keyProviders {
					if p.id == provider && p.helpURL != "" {
						fmt.Fprintf(os.Stderr, "  Get your API key from: %s\n", green(p.helpURL))
					}
				}
				if existing := settings.GetAPIKey(provider); existing != "" {
					fmt.Fprintf(os.Stderr, "  Current key: %s\n", yellow(settings.MaskKey(existing)))
				}
				fmt.Fprint(os.Stderr, "  Enter API key: ")
				scanner := bufio.NewScanner(os.Stdin)
				if !scanner.Scan() {
					return errors.New(i18n.T("no input received"))
				}
				key = strings.TrimSpace(scanner.Text())
				if key == "" {
					return errors.New(i18n.T("no API key provided"))
				}
			}
			if err := settings.SetAPIKeyWithBaseURL(provider, key, baseURL); err != nil {
				return fmt.Errorf("saving credentials: %w", err)
			}
			logSuccess(i18n.T("Credentials for %s saved"), provider)
			return nil
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "Provider ID (required)")
	cmd.Flags().StringVar(&key, "key", "", "API key (prompted when omitted)")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Custom endpoint")
	_ = cmd.MarkFlagRequired("provider")
	_ = cmd.RegisterFlagCompletionFunc("provider", completeProviders)
	return cmd
}

func newAuthRemoveCmd() *cobra.Command {
	var provider string
	cmd := &cobra.Command{
		Use:     "remove",
		Aliases: []string{"logout"},
		Short:   "Remove stored credentials (all when --provider is omitted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if provider == "" {
				if err := settings.RemoveAll(); err != nil {
					return err
				}
				logSuccess("%s", i18n.T("All stored credentials removed"))
				return nil
			}
			if err := settings.Remove(provider); err != nil {
				return err
			}
			logSuccess(i18n.T("Credentials for %s removed"), provider)
			return nil
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "Provider ID (default: all)")
	_ = cmd.RegisterFlagCompletionFunc("provider", completeProviders)
	return cmd
}

func completeProviders(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	out := make([]string, 0, len(keyProviders))
	for _, p := range keyProviders {
		out = append(out, fmt.Sprintf("%s\t%s", p.id, p.name))
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}

func newAuthListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Show stored credentials",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(os.Stderr, "\n%s\n", blue(i18n.T("Stored Credentials")))
			fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))

			ids := settings.List()
			for _, p := range keyProviders {
				if !contains(ids, p.id) {
					ids = append(ids, p.id)
				}
			}
			sort.Strings(ids)
			for _, id := range ids {
				entry := settings.Get(id)
				switch {
				case entry != nil && entry.Key != "":
					status := fmt.Sprintf("%s (key: %s)", green("configured"), settings.MaskKey(entry.Key))
					if entry.BaseURL != "" {
						status += "\n" + fmt.Sprintf("  %14s endpoint: %s", "", entry.BaseURL)
					}
					fmt.Fprintf(os.Stderr, "  %-14s %s\n", id, status)
				case entry != nil && entry.BaseURL != "":
					fmt.Fprintf(os.Stderr, "  %-14s %s (no key)\n  %14s endpoint: %s\n", id, green("configured"), "", entry.BaseURL)
				default:
					fmt.Fprintf(os.Stderr, "  %-14s %s\n", id, red("not configured"))
				}
			}

			fmt.Fprintf(os.Stderr, "\n  %s\n", yellow(i18n.T("Environment Variables")))
			for _, v := range []string{settings.EnvAPIKey, "DEEPL_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY"} {
				if val := os.Getenv(v); val != "" {
					fmt.Fprintf(os.Stderr, "  %-18s %s\n", v+":", green(settings.MaskKey(val)))
				} else {
					fmt.Fprintf(os.Stderr, "  %-18s %s\n", v+":", red("not set"))
				}
			}
			fmt.Fprintln(os.Stderr)
		},
	}
}

// ---------------------------------------------------------------------------
// Shared helpers
// ---------------------------------------------------------------------------

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

package translate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/minios-linux/renlokit/upstream"
)

// ---------------------------------------------------------------------------
// Engine IDs
// ---------------------------------------------------------------------------

const (
	EngineGoogle = "google"
	EngineDeepL  = "deepl"
	EngineLLM    = "llm"
	EnginePseudo = "pseudo"
)

// Engine translates a slice of protected texts. Implementations return
// exactly one translation per input, in input order, or an error for the
// whole slice.
type Engine interface {
	Name() string
	Translate(ctx context.Context, texts []string, sl, tl string) ([]string, error)
}

// PermanentError marks a failure that retrying cannot fix, such as missing
// credentials or an unknown engine.
type PermanentError struct {
	Engine string
	Msg    string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Engine, e.Msg)
}

// RetryableError is a transient failure such as a rate limit or a server
// error. After, when set, is how long the service asked callers to wait.
type RetryableError struct {
	Engine string
	Status int
	After  time.Duration
	Msg    string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Engine, e.Status, e.Msg)
}

// PlaceholderError reports a translation that lost protected constructs.
type PlaceholderError struct {
	Missing []string
}

func (e *PlaceholderError) Error() string {
	return fmt.Sprintf("placeholder: translation dropped %s", strings.Join(e.Missing, ", "))
}

// ---------------------------------------------------------------------------
// Engine construction
// ---------------------------------------------------------------------------

// EngineConfig carries everything needed to build any engine.
type EngineConfig struct {
	Name    string
	APIKey  string
	BaseURL string
	// Provider selects the LLM backend (gemini, groq, openai, anthropic,
	// ollama, custom-openai).
	Provider     string
	Model        string
	SystemPrompt string
	PseudoMode   string
	Timeout      time.Duration
	Verbose      bool
}

// Engines lists the engine IDs accepted by NewEngine.
func Engines() []string {
	ids := []string{EngineGoogle, EngineDeepL, EngineLLM, EnginePseudo}
	sort.Strings(ids)
	return ids
}

// NewEngine builds the engine named by cfg.Name.
func NewEngine(cfg EngineConfig) (Engine, error) {
	switch cfg.Name {
	case EngineGoogle:
		return NewGoogle(cfg.BaseURL), nil
	case EngineDeepL:
		return NewDeepL(cfg.APIKey, cfg.BaseURL), nil
	case EngineLLM:
		prov, ok := DefaultProviders()[cfg.Provider]
		if !ok {
			if cfg.Provider != "" && cfg.BaseURL == "" {
				return nil, &PermanentError{Engine: EngineLLM, Msg: fmt.Sprintf("unknown provider %q", cfg.Provider)}
			}
			prov = Provider{ID: ProviderCustomOpenAI, Name: "Custom OpenAI", Timeout: 60 * time.Second}
		}
		if cfg.APIKey != "" {
			prov.APIKey = cfg.APIKey
		}
		if cfg.BaseURL != "" {
			prov.BaseURL = cfg.BaseURL
		}
		if cfg.Model != "" {
			prov.Model = cfg.Model
		}
		if cfg.Timeout > 0 {
			prov.Timeout = cfg.Timeout
		}
		return NewLLM(prov, cfg.SystemPrompt, cfg.Verbose), nil
	case EnginePseudo:
		return NewPseudo(cfg.PseudoMode), nil
	}
	return nil, &PermanentError{Engine: cfg.Name, Msg: "unknown engine"}
}

// ---------------------------------------------------------------------------
// Upstream identity plumbing
// ---------------------------------------------------------------------------

type identityKey struct{}

// WithIdentity attaches the upstream identity a call should go through.
// A nil identity means a direct connection.
func WithIdentity(ctx context.Context, id *upstream.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity attached by WithIdentity.
func IdentityFrom(ctx context.Context) *upstream.Identity {
	id, _ := ctx.Value(identityKey{}).(*upstream.Identity)
	return id
}

// proxyURL returns the proxy for ctx, or "" for direct.
func proxyURL(ctx context.Context) string {
	if id := IdentityFrom(ctx); id != nil {
		return id.URL()
	}
	return ""
}

// clientPool keeps one resty client per proxy. A resty client's proxy is
// client-wide, so concurrent calls through different identities need
// separate clients.
type clientPool struct {
	mu      sync.Mutex
	clients map[string]*resty.Client
	setup   func(*resty.Client)
}

func (p *clientPool) get(proxy string) *resty.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[proxy]; ok {
		return c
	}
	if p.clients == nil {
		p.clients = make(map[string]*resty.Client)
	}
	c := resty.New()
	if proxy != "" {
		c.SetProxy(proxy)
	}
	if p.setup != nil {
		p.setup(c)
	}
	p.clients[proxy] = c
	return c
}

// truncate truncates a string to maxLen bytes.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

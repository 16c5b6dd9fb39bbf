package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/minios-linux/renlokit/langmeta"
)

// ---------------------------------------------------------------------------
// Provider IDs
// ---------------------------------------------------------------------------

const (
	ProviderGemini       = "gemini"
	ProviderGroq         = "groq"
	ProviderOpenAI       = "openai"
	ProviderAnthropic    = "anthropic"
	ProviderCustomOpenAI = "custom-openai"
	ProviderOllama       = "ollama"
)

// Provider holds the configuration for an LLM translation service.
type Provider struct {
	// ID is the provider identifier (gemini, groq, openai, etc.).
	ID string
	// Name is the display name.
	Name string
	// BaseURL is the API base URL.
	BaseURL string
	// APIKey is the authentication key (empty for local services).
	APIKey string
	// Model is the model identifier.
	Model string
	// Format overrides the wire format: chat, gemini, anthropic or responses.
	Format string
	// Timeout is the request timeout.
	Timeout time.Duration
}

// DefaultProviders returns the pre-configured provider definitions.
func DefaultProviders() map[string]Provider {
	return map[string]Provider{
		ProviderGemini: {
			ID:      ProviderGemini,
			Name:    "Google AI (Gemini)",
			BaseURL: "https://generativelanguage.googleapis.com",
			Model:   "gemini-2.0-flash",
			Format:  "gemini",
			Timeout: 120 * time.Second,
		},
		ProviderGroq: {
			ID:      ProviderGroq,
			Name:    "Groq",
			BaseURL: "https://api.groq.com/openai/v1",
			Model:   "llama-3.3-70b-versatile",
			Timeout: 60 * time.Second,
		},
		ProviderOpenAI: {
			ID:      ProviderOpenAI,
			Name:    "OpenAI",
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
			Timeout: 120 * time.Second,
		},
		ProviderAnthropic: {
			ID:      ProviderAnthropic,
			Name:    "Anthropic",
			BaseURL: "https://api.anthropic.com/v1",
			Model:   "claude-3-5-haiku-latest",
			Format:  "anthropic",
			Timeout: 120 * time.Second,
		},
		ProviderCustomOpenAI: {
			ID:      ProviderCustomOpenAI,
			Name:    "Custom OpenAI",
			Timeout: 60 * time.Second,
		},
		ProviderOllama: {
			ID:      ProviderOllama,
			Name:    "Ollama",
			BaseURL: "http://localhost:11434/v1",
			Model:   "llama3.1",
			Timeout: 120 * time.Second,
		},
	}
}

// DefaultSystemPrompt is sent to LLM providers unless overridden.
// {{sourceLang}} and {{targetLang}} are replaced with language names.
const DefaultSystemPrompt = `You are a professional game localizer translating a visual novel from {{sourceLang}} into {{targetLang}}.

TRANSLATION PRINCIPLES:
- Translate for naturalness and fluency, matching each character's voice and the scene's tone.
- Keep names of characters and places unchanged unless they have an established translation.
- Short menu choices and UI labels must stay short.

TECHNICAL REQUIREMENTS:
- Return ONLY a JSON array of translated strings, one for each input entry, in the same order.
- Tokens made of capital letters and digits (for example ZQV00 or ZQT01) are placeholders. Copy them exactly, in a sensible position.
- Preserve leading/trailing whitespace, newlines and punctuation patterns.
- Return ONLY the JSON array, no explanations or markdown code blocks.`

// ---------------------------------------------------------------------------
// LLM engine
// ---------------------------------------------------------------------------

// LLM translates through chat-style model APIs with a JSON-array prompt.
// Each Translate call makes a single request; rate limits and server
// errors come back as *RetryableError for the Manager to retry.
type LLM struct {
	Provider     Provider
	SystemPrompt string
	Verbose      bool

	pool clientPool
}

// NewLLM returns an LLM engine for prov.
func NewLLM(prov Provider, systemPrompt string, verbose bool) *LLM {
	e := &LLM{Provider: prov, SystemPrompt: systemPrompt, Verbose: verbose}
	e.pool.setup = func(c *resty.Client) {
		if prov.Timeout > 0 {
			c.SetTimeout(prov.Timeout)
		}
	}
	return e
}

func (e *LLM) Name() string { return EngineLLM }

// Translate sends texts as one numbered prompt and parses the JSON array
// the model answers with.
func (e *LLM) Translate(ctx context.Context, texts []string, sl, tl string) ([]string, error) {
	if e.Provider.BaseURL == "" {
		return nil, &PermanentError{Engine: EngineLLM, Msg: "no base URL configured for provider " + e.Provider.ID}
	}
	if e.Provider.APIKey == "" && e.Provider.ID != ProviderOllama && e.Provider.ID != ProviderCustomOpenAI {
		return nil, &PermanentError{Engine: EngineLLM, Msg: "missing API key for " + e.Provider.Name}
	}

	var userMsg strings.Builder
	userMsg.WriteString("Translate these entries:\n\n")
	for i, s := range texts {
		fmt.Fprintf(&userMsg, "%d. %s\n", i+1, escapeForPrompt(s))
	}
	fmt.Fprintf(&userMsg, "\nReturn a JSON array with exactly %d translated strings.", len(texts))

	content, err := e.post(ctx, e.resolvedPrompt(sl, tl), userMsg.String())
	if err != nil {
		return nil, err
	}
	out, err := parseTranslations(content, len(texts))
	if err != nil {
		return nil, err
	}
	if len(out) != len(texts) {
		return nil, fmt.Errorf("got %d translations, expected %d", len(out), len(texts))
	}
	return out, nil
}

// resolvedPrompt returns the system prompt with language placeholders filled.
func (e *LLM) resolvedPrompt(sl, tl string) string {
	prompt := e.SystemPrompt
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}
	source := "the source language"
	if sl != "" && sl != "auto" {
		source = langmeta.Resolve(sl).Name
	}
	prompt = strings.ReplaceAll(prompt, "{{sourceLang}}", source)
	return strings.ReplaceAll(prompt, "{{targetLang}}", langmeta.Resolve(tl).Name)
}

// escapeForPrompt prepares a string for inclusion in the prompt.
func escapeForPrompt(s string) string {
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\t", "\\t")
	return fmt.Sprintf(`"%s"`, s)
}

// ---------------------------------------------------------------------------
// API format types
// ---------------------------------------------------------------------------

type apiFormat int

const (
	formatOpenAIChat      apiFormat = iota // OpenAI chat/completions
	formatGeminiNative                     // Google Gemini generateContent
	formatAnthropic                        // Anthropic messages
	formatOpenAIResponses                  // OpenAI responses API
)

func formatOf(p Provider) apiFormat {
	switch p.Format {
	case "gemini":
		return formatGeminiNative
	case "anthropic":
		return formatAnthropic
	case "responses":
		return formatOpenAIResponses
	}
	return formatOpenAIChat
}

// ---------------------------------------------------------------------------
// Request builders for each API format
// ---------------------------------------------------------------------------

func buildOpenAIChatRequest(model, systemPrompt, userPrompt string, temperature float64) ([]byte, error) {
	type msg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	req := struct {
		Model       string  `json:"model"`
		Messages    []msg   `json:"messages"`
		Temperature float64 `json:"temperature"`
		Stream      bool    `json:"stream"`
	}{
		Model: model,
		Messages: []msg{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: temperature,
	}
	return json.Marshal(req)
}

func buildGeminiRequest(systemPrompt, userPrompt string, temperature float64) ([]byte, error) {
	type part struct {
		Text string `json:"text"`
	}
	type content struct {
		Role  string `json:"role,omitempty"`
		Parts []part `json:"parts"`
	}
	type genConfig struct {
		Temperature float64 `json:"temperature"`
	}
	req := struct {
		Contents          []content `json:"contents"`
		GenerationConfig  genConfig `json:"generationConfig"`
		SystemInstruction *content  `json:"systemInstruction,omitempty"`
	}{
		Contents: []content{
			{Role: "user", Parts: []part{{Text: userPrompt}}},
		},
		GenerationConfig: genConfig{Temperature: temperature},
	}
	if systemPrompt != "" {
		req.SystemInstruction = &content{Parts: []part{{Text: systemPrompt}}}
	}
	return json.Marshal(req)
}

func buildAnthropicRequest(model, systemPrompt, userPrompt string) ([]byte, error) {
	type msg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	req := struct {
		Model     string `json:"model"`
		MaxTokens int    `json:"max_tokens"`
		System    string `json:"system,omitempty"`
		Messages  []msg  `json:"messages"`
	}{
		Model:     model,
		MaxTokens: 8192,
		System:    systemPrompt,
		Messages:  []msg{{Role: "user", Content: userPrompt}},
	}
	return json.Marshal(req)
}

func buildOpenAIResponsesRequest(model, prompt string) ([]byte, error) {
	req := struct {
		Model string `json:"model"`
		Input string `json:"input"`
	}{
		Model: model,
		Input: prompt,
	}
	return json.Marshal(req)
}

// buildHTTPRequest constructs the endpoint, headers, and body for a provider.
func buildHTTPRequest(prov Provider, systemPrompt, userPrompt string, format apiFormat) (string, map[string]string, []byte, error) {
	headers := map[string]string{
		"Content-Type": "application/json",
	}
	base := strings.TrimRight(prov.BaseURL, "/")

	var endpoint string
	var body []byte
	var err error

	switch format {
	case formatGeminiNative:
		endpoint = fmt.Sprintf("%s/v1beta/models/%s:generateContent", base, prov.Model)
		if prov.APIKey != "" {
			headers["x-goog-api-key"] = prov.APIKey
		}
		body, err = buildGeminiRequest(systemPrompt, userPrompt, 0.3)

	case formatAnthropic:
		endpoint = base + "/messages"
		if prov.APIKey != "" {
			headers["x-api-key"] = prov.APIKey
		}
		headers["anthropic-version"] = "2023-06-01"
		body, err = buildAnthropicRequest(prov.Model, systemPrompt, userPrompt)

	case formatOpenAIResponses:
		endpoint = base + "/responses"
		if prov.APIKey != "" {
			headers["Authorization"] = "Bearer " + prov.APIKey
		}
		body, err = buildOpenAIResponsesRequest(prov.Model, systemPrompt+"\n\n"+userPrompt)

	default:
		endpoint = base
		if !strings.HasSuffix(base, "/chat/completions") {
			endpoint = base + "/chat/completions"
		}
		if prov.APIKey != "" {
			headers["Authorization"] = "Bearer " + prov.APIKey
		}
		body, err = buildOpenAIChatRequest(prov.Model, systemPrompt, userPrompt, 0.3)
	}

	if err != nil {
		return "", nil, nil, err
	}
	return endpoint, headers, body, nil
}

// ---------------------------------------------------------------------------
// Response parsers (multi-format)
// ---------------------------------------------------------------------------

// extractResponseText tries all known response formats and returns the text.
func extractResponseText(body []byte) (string, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", fmt.Errorf("invalid JSON response: %w", err)
	}

	if errObj, ok := raw["error"]; ok {
		if errMap, ok := errObj.(map[string]any); ok {
			if msg, ok := errMap["message"].(string); ok {
				return "", fmt.Errorf("API error: %s", msg)
			}
		}
		return "", fmt.Errorf("API error: %v", errObj)
	}

	// OpenAI chat: choices[0].message.content
	if choices, ok := raw["choices"].([]any); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]any); ok {
			if message, ok := choice["message"].(map[string]any); ok {
				if content, ok := message["content"].(string); ok {
					return content, nil
				}
			}
		}
	}

	// Gemini: candidates[0].content.parts[0].text
	if candidates, ok := raw["candidates"].([]any); ok && len(candidates) > 0 {
		if candidate, ok := candidates[0].(map[string]any); ok {
			if content, ok := candidate["content"].(map[string]any); ok {
				if parts, ok := content["parts"].([]any); ok && len(parts) > 0 {
					if part, ok := parts[0].(map[string]any); ok {
						if text, ok := part["text"].(string); ok {
							return text, nil
						}
					}
				}
			}
		}
	}

	// Anthropic: content[].type=="text"
	if contentArr, ok := raw["content"].([]any); ok {
		for _, c := range contentArr {
			if block, ok := c.(map[string]any); ok && block["type"] == "text" {
				if text, ok := block["text"].(string); ok {
					return text, nil
				}
			}
		}
	}

	// OpenAI responses: output[].content[].type=="output_text"
	if output, ok := raw["output"].([]any); ok {
		for _, o := range output {
			item, ok := o.(map[string]any)
			if !ok || item["type"] != "message" {
				continue
			}
			contentArr, _ := item["content"].([]any)
			for _, c := range contentArr {
				if block, ok := c.(map[string]any); ok && block["type"] == "output_text" {
					if text, ok := block["text"].(string); ok {
						return text, nil
					}
				}
			}
		}
	}

	return "", fmt.Errorf("could not extract text from response: %s", truncate(string(body), 500))
}

// parseRetryDelay reads the wait a rate-limited service asked for: the
// Retry-After header in seconds, else Google's RetryInfo detail in the body.
// Zero means the service gave no hint.
func parseRetryDelay(retryAfter string, body []byte) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}

	var errResp struct {
		Error struct {
			Details []struct {
				Type       string `json:"@type"`
				RetryDelay string `json:"retryDelay"`
			} `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil {
		return 0
	}
	for _, detail := range errResp.Error.Details {
		if strings.Contains(detail.Type, "RetryInfo") && detail.RetryDelay != "" {
			d := strings.TrimSuffix(detail.RetryDelay, "s")
			if secs, err := strconv.ParseFloat(d, 64); err == nil && secs >= 0 {
				return time.Duration(secs * float64(time.Second))
			}
		}
	}
	return 0
}

// ---------------------------------------------------------------------------
// HTTP call
// ---------------------------------------------------------------------------

// post sends one request to the provider and returns the model's text.
func (e *LLM) post(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	prov := e.Provider
	endpoint, headers, body, err := buildHTTPRequest(prov, systemPrompt, userPrompt, formatOf(prov))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}

	if e.Verbose {
		log.Printf("[DEBUG] %s: POST %s", prov.Name, endpoint)
	}
	resp, err := e.pool.get(proxyURL(ctx)).R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(body).
		Post(endpoint)
	if err != nil {
		return "", fmt.Errorf("API request failed: %w", err)
	}

	status := resp.StatusCode()
	switch {
	case status == http.StatusTooManyRequests:
		after := parseRetryDelay(resp.Header().Get("Retry-After"), resp.Body())
		if e.Verbose {
			log.Printf("[WARN] %s rate limited, retry after %v", prov.Name, after)
		}
		return "", &RetryableError{Engine: EngineLLM, Status: status, After: after, Msg: truncate(resp.String(), 300)}

	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "", &PermanentError{Engine: EngineLLM, Msg: fmt.Sprintf("%s rejected the credentials (status %d)", prov.Name, status)}

	case status >= 500:
		return "", &RetryableError{Engine: EngineLLM, Status: status, Msg: truncate(resp.String(), 300)}

	case status != http.StatusOK:
		return "", fmt.Errorf("API returned status %d: %s", status, truncate(resp.String(), 500))
	}

	return extractResponseText(resp.Body())
}

// ---------------------------------------------------------------------------
// Translation response parsing
// ---------------------------------------------------------------------------

var markdownCodeBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// parseTranslations extracts a JSON array of strings from the model answer.
func parseTranslations(content string, expected int) ([]string, error) {
	content = strings.TrimSpace(content)

	if m := markdownCodeBlock.FindStringSubmatch(content); len(m) > 1 {
		content = m[1]
	}

	startIdx := strings.Index(content, "[")
	endIdx := strings.LastIndex(content, "]")
	if startIdx >= 0 && endIdx > startIdx {
		content = content[startIdx : endIdx+1]
	}

	var translations []string
	if err := json.Unmarshal([]byte(content), &translations); err != nil {
		return nil, fmt.Errorf("failed to parse translation response as JSON array: %w\nResponse: %s", err, truncate(content, 300))
	}
	if len(translations) == 0 {
		return nil, fmt.Errorf("got 0 translations, expected %d", expected)
	}
	return translations, nil
}

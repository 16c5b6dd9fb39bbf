package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// GoogleEndpoint is the free web endpoint used by the google engine.
const GoogleEndpoint = "https://translate.googleapis.com/translate_a/single"

// batchSeparator joins several texts into one request. The engine splits
// the answer on it and falls back to per-text calls when the count is off.
const batchSeparator = "\n|||RNLSEP999|||\n"

// Google translates through the gtx web endpoint.
type Google struct {
	Endpoint string
	pool     clientPool
}

// NewGoogle returns a google engine. An empty endpoint selects GoogleEndpoint.
func NewGoogle(endpoint string) *Google {
	if endpoint == "" {
		endpoint = GoogleEndpoint
	}
	return &Google{
		Endpoint: endpoint,
		pool: clientPool{setup: func(c *resty.Client) {
			c.SetTimeout(15*time.Second).
				SetHeader("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
		}},
	}
}

func (g *Google) Name() string { return EngineGoogle }

// Translate joins multi-text slices with a separator line. When the answer
// does not split back into the same number of parts each text is sent on
// its own.
func (g *Google) Translate(ctx context.Context, texts []string, sl, tl string) ([]string, error) {
	if len(texts) == 1 {
		s, err := g.single(ctx, texts[0], sl, tl)
		if err != nil {
			return nil, err
		}
		return []string{s}, nil
	}

	joined, err := g.single(ctx, strings.Join(texts, batchSeparator), sl, tl)
	if err == nil {
		parts := splitSeparated(joined)
		if len(parts) == len(texts) {
			return parts, nil
		}
	} else if ctx.Err() != nil {
		return nil, err
	}

	out := make([]string, len(texts))
	for i, s := range texts {
		tr, err := g.single(ctx, s, sl, tl)
		if err != nil {
			return nil, err
		}
		out[i] = tr
	}
	return out, nil
}

// splitSeparated splits a joined answer. The separator's surrounding
// newlines sometimes come back as spaces, so the bare marker is used.
func splitSeparated(s string) []string {
	marker := strings.TrimSpace(batchSeparator)
	parts := strings.Split(s, marker)
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

func (g *Google) single(ctx context.Context, text, sl, tl string) (string, error) {
	if sl == "" {
		sl = "auto"
	}
	resp, err := g.pool.get(proxyURL(ctx)).R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"client": "gtx",
			"sl":     sl,
			"tl":     tl,
			"dt":     "t",
			"q":      text,
		}).
		Get(g.Endpoint)
	if err != nil {
		return "", fmt.Errorf("google: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("google: status %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}
	return parseGTX(resp.Body())
}

// parseGTX joins the translated segments of a gtx answer:
// [[["Hola","Hello",...],["mundo","world",...]], ...]
func parseGTX(body []byte) (string, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil || len(raw) == 0 {
		return "", fmt.Errorf("google: unexpected response %s", truncate(string(body), 200))
	}
	var segs [][]any
	if err := json.Unmarshal(raw[0], &segs); err != nil {
		return "", fmt.Errorf("google: unexpected segments: %w", err)
	}
	var b strings.Builder
	for _, seg := range segs {
		if len(seg) == 0 {
			continue
		}
		if s, ok := seg[0].(string); ok {
			b.WriteString(s)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("google: empty translation")
	}
	return b.String(), nil
}

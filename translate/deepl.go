package translate

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	DeepLEndpoint     = "https://api.deepl.com/v2/translate"
	DeepLFreeEndpoint = "https://api-free.deepl.com/v2/translate"
)

// DeepL translates through the DeepL REST API.
type DeepL struct {
	APIKey string
	// Endpoint overrides the endpoint chosen from the key.
	Endpoint string
	pool     clientPool
}

// NewDeepL returns a deepl engine.
func NewDeepL(apiKey, endpoint string) *DeepL {
	return &DeepL{
		APIKey:   apiKey,
		Endpoint: endpoint,
		pool: clientPool{setup: func(c *resty.Client) {
			c.SetTimeout(15 * time.Second)
		}},
	}
}

func (d *DeepL) Name() string { return EngineDeepL }

func (d *DeepL) endpoint() string {
	if d.Endpoint != "" {
		return d.Endpoint
	}
	if strings.HasSuffix(d.APIKey, ":fx") {
		return DeepLFreeEndpoint
	}
	return DeepLEndpoint
}

type deeplResponse struct {
	Translations []struct {
		Text string `json:"text"`
	} `json:"translations"`
	Message string `json:"message"`
}

// Translate sends all texts in one form POST; the API answers in order.
func (d *DeepL) Translate(ctx context.Context, texts []string, sl, tl string) ([]string, error) {
	if d.APIKey == "" {
		return nil, &PermanentError{Engine: EngineDeepL, Msg: "DeepL API key required"}
	}

	form := url.Values{}
	for _, t := range texts {
		form.Add("text", t)
	}
	form.Set("target_lang", strings.ToUpper(tl))
	if sl != "" && !strings.EqualFold(sl, "auto") {
		form.Set("source_lang", strings.ToUpper(sl))
	}

	var out deeplResponse
	resp, err := d.pool.get(proxyURL(ctx)).R().
		SetContext(ctx).
		SetHeader("Authorization", "DeepL-Auth-Key "+d.APIKey).
		SetFormDataFromValues(form).
		SetResult(&out).
		SetError(&out).
		Post(d.endpoint())
	if err != nil {
		return nil, fmt.Errorf("deepl: %w", err)
	}
	switch resp.StatusCode() {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, &PermanentError{Engine: EngineDeepL, Msg: fmt.Sprintf("key rejected (status %d)", resp.StatusCode())}
	case 456:
		return nil, &PermanentError{Engine: EngineDeepL, Msg: "quota exceeded"}
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return nil, &RetryableError{Engine: EngineDeepL, Status: resp.StatusCode(),
			After: parseRetryDelay(resp.Header().Get("Retry-After"), nil), Msg: truncate(resp.String(), 200)}
	default:
		return nil, fmt.Errorf("deepl: status %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}
	if len(out.Translations) != len(texts) {
		return nil, fmt.Errorf("deepl: got %d translations, expected %d", len(out.Translations), len(texts))
	}
	res := make([]string, len(texts))
	for i, t := range out.Translations {
		res[i] = t.Text
	}
	return res, nil
}

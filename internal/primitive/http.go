package primitive

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/leolilley/kiwi-mcp/internal/kiwierr"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTPExecutor issues a single HTTP request described by a tool manifest:
// {url, method, headers}. params may override "body". Reference
// implementation only — no retries, redirects policy, or auth handling.
type HTTPExecutor struct {
	Client         *http.Client
	DefaultTimeout time.Duration
}

// NewHTTPExecutor returns an executor with the default 30s timeout.
func NewHTTPExecutor() *HTTPExecutor {
	return &HTTPExecutor{Client: http.DefaultClient, DefaultTimeout: defaultHTTPTimeout}
}

func (e *HTTPExecutor) Execute(ctx context.Context, manifest map[string]any, params map[string]any) (string, error) {
	url, _ := manifest["url"].(string)
	if url == "" {
		return "", kiwierr.New(kiwierr.KindStructure, "http manifest missing 'url'")
	}
	method, _ := manifest["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if b, ok := params["body"].(string); ok {
		body = strings.NewReader(b)
	}

	timeout := e.DefaultTimeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, url, body)
	if err != nil {
		return "", kiwierr.Wrap(kiwierr.KindInput, err, "build http request")
	}
	if headers, ok := manifest["headers"].(map[string]any); ok {
		for k, v := range headers {
			if vs, ok := v.(string); ok {
				req.Header.Set(k, vs)
			}
		}
	}

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", kiwierr.Wrap(kiwierr.KindTransient, err, "http request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", kiwierr.Wrap(kiwierr.KindTransient, err, "read http response body")
	}
	if resp.StatusCode >= 400 {
		return string(data), kiwierr.Newf(kiwierr.KindTransient, "http request returned status %d", resp.StatusCode)
	}
	return string(data), nil
}

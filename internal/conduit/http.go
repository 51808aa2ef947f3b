package conduit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Client is the HTTP Caller for a Phabricator install. Requests are
// form-encoded the way Conduit expects: a single params field holding
// JSON with the token under __conduit__.
type Client struct {
	BaseURL string // e.g. "https://phabricator.example.org"
	Token   string
	HTTP    *http.Client
}

// NewClient creates a Client for the given install URL and API token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 60 * time.Second},
	}
}

// Call implements Caller. It returns the result object of a successful
// call; Conduit-level errors (error_code set) are returned as Go errors.
func (c *Client) Call(ctx context.Context, method string, params map[string]any) (gjson.Result, error) {
	payload := make(map[string]any, len(params)+1)
	for k, v := range params {
		payload[k] = v
	}
	payload["__conduit__"] = map[string]string{"token": c.Token}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("encode params: %w", err)
	}

	form := url.Values{}
	form.Set("params", string(encoded))
	form.Set("output", "json")

	endpoint := c.BaseURL + "/api/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return gjson.Result{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("malformed response: %s", strings.TrimSpace(string(body)))
	}

	parsed := gjson.ParseBytes(body)
	if code := parsed.Get("error_code"); code.Exists() && code.Type != gjson.Null {
		return gjson.Result{}, fmt.Errorf("%s: %s", code.String(), parsed.Get("error_info").String())
	}
	return parsed.Get("result"), nil
}

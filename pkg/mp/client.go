// Package mp talks to the platform admin console: account search, the
// published-article listing, and article content pages. Every call needs
// a live session token and cookies.
package mp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"mpharvest/pkg/errors"
	"mpharvest/pkg/logger"
	"mpharvest/pkg/session"
)

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"

// Client is an authenticated platform console client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     logger.Logger

	token        string
	cookieHeader string
}

// NewClient creates a platform client.
func NewClient(baseURL string, timeout time.Duration, log logger.Logger) *Client {
	if baseURL == "" {
		baseURL = BaseURL
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		logger:     log,
	}
}

// UseCredential installs the session credential used for subsequent calls.
func (c *Client) UseCredential(cred *session.Credential) {
	c.token = cred.Token
	c.cookieHeader = cred.CookieHeader()
}

func (c *Client) getJSON(ctx context.Context, url string, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.New(errors.ErrorTypeUnknown, 0, "failed to create request: %v", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Referer", c.baseURL)
	if c.cookieHeader != "" {
		req.Header.Set("Cookie", c.cookieHeader)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.New(errors.ErrorTypeNetwork, 0, "network error: %v", err)
	}
	defer resp.Body.Close()

	c.logger.DebugWithFields("console request completed", map[string]interface{}{
		"url":      req.URL.Path,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	})

	if err := checkStatus(resp); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.New(errors.ErrorTypeNetwork, resp.StatusCode, "failed to read response body: %v", err)
	}

	if err := json.Unmarshal(body, target); err != nil {
		preview := string(body)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		c.logger.ErrorWithFields("failed to parse console response", map[string]interface{}{
			"url":          req.URL.Path,
			"body_preview": preview,
		})
		return errors.New(errors.ErrorTypeParsing, resp.StatusCode, "failed to parse JSON: %v", err)
	}

	return nil
}

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errors.New(errors.ErrorTypeAuth, resp.StatusCode, "authentication required")
	case resp.StatusCode == http.StatusNotFound:
		return errors.New(errors.ErrorTypeNotFound, resp.StatusCode, "resource not found")
	case resp.StatusCode == http.StatusTooManyRequests:
		return errors.New(errors.ErrorTypeRateLimit, resp.StatusCode, "rate limit exceeded")
	case resp.StatusCode >= 500:
		return errors.New(errors.ErrorTypeServerError, resp.StatusCode, "server error")
	default:
		return errors.New(errors.ErrorTypeUnknown, resp.StatusCode, "unexpected status code: %d", resp.StatusCode)
	}
}

func envelopeError(br BaseResp) error {
	if br.AuthInvalid() {
		return errors.New(errors.ErrorTypeSessionInvalid, br.Ret, "session invalid: %s", br.ErrMsg)
	}
	return errors.New(errors.ErrorTypeRemote, br.Ret, "console error: %s", br.ErrMsg)
}

// SearchAccount resolves an official account name to its fakeid. The first
// hit is returned; the console sorts hits by relevance so an exact name
// lands first.
func (c *Client) SearchAccount(ctx context.Context, name string) (*AccountHit, error) {
	var resp searchResponse
	url := SearchAccountURL(c.baseURL, c.token, name, 0, 5)
	if err := c.getJSON(ctx, url, &resp); err != nil {
		return nil, err
	}

	if !resp.BaseResp.OK() {
		return nil, envelopeError(resp.BaseResp)
	}
	if len(resp.List) == 0 {
		return nil, errors.New(errors.ErrorTypeNotFound, 0, "no account found for %q", name)
	}

	hit := resp.List[0]
	c.logger.DebugWithFields("account resolved", map[string]interface{}{
		"name":   name,
		"fakeid": hit.FakeID,
	})
	return &hit, nil
}

// ListArticles fetches one page of the account's published articles,
// newest first. begin is the zero-based offset into the full list.
func (c *Client) ListArticles(ctx context.Context, fakeID string, begin, count int) (*ArticlePage, error) {
	var resp listResponse
	url := ListArticlesURL(c.baseURL, c.token, fakeID, begin, count)
	if err := c.getJSON(ctx, url, &resp); err != nil {
		return nil, err
	}

	if !resp.BaseResp.OK() {
		return nil, envelopeError(resp.BaseResp)
	}

	return &ArticlePage{
		Items: resp.AppMsgList,
		Total: resp.AppMsgCnt,
	}, nil
}

// ValidateSession makes a cheap console call and reports whether the
// installed credential is still accepted.
func (c *Client) ValidateSession(ctx context.Context) error {
	var resp searchResponse
	url := SearchAccountURL(c.baseURL, c.token, "a", 0, 1)
	if err := c.getJSON(ctx, url, &resp); err != nil {
		return err
	}
	if resp.BaseResp.AuthInvalid() {
		return envelopeError(resp.BaseResp)
	}
	return nil
}

// FetchContent downloads the article page and extracts its body text.
// The text lives inside the element with id "js_content".
func (c *Client) FetchContent(ctx context.Context, articleURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, articleURL, nil)
	if err != nil {
		return "", errors.New(errors.ErrorTypeUnknown, 0, "failed to create request: %v", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	if c.cookieHeader != "" {
		req.Header.Set("Cookie", c.cookieHeader)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.New(errors.ErrorTypeNetwork, 0, "network error: %v", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", err
	}

	text, err := extractContent(resp.Body)
	if err != nil {
		return "", errors.New(errors.ErrorTypeParsing, 0, "failed to parse article page: %v", err)
	}
	return text, nil
}

// extractContent pulls the visible text out of the js_content element.
func extractContent(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", err
	}

	content := findByID(doc, "js_content")
	if content == nil {
		return "", nil
	}

	var b strings.Builder
	collectText(content, &b)
	return normalizeWhitespace(b.String()), nil
}

func findByID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode {
		for _, attr := range n.Attr {
			if attr.Key == "id" && attr.Val == id {
				return n
			}
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findByID(child, id); found != nil {
			return found
		}
	}
	return nil
}

func collectText(n *html.Node, b *strings.Builder) {
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		return
	}
	if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
		return
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		collectText(child, b)
	}
	if n.Type == html.ElementNode {
		switch n.Data {
		case "p", "br", "div", "section", "li":
			b.WriteString("\n")
		}
	}
}

func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"mpharvest/pkg/errors"
)

// PromptProvider reads a token and a cookie string from an interactive
// terminal. The operator logs in with a browser, copies the token query
// parameter and the Cookie header, and pastes both when prompted.
type PromptProvider struct {
	in  io.Reader
	out io.Writer

	// validate is called by Validate; wired by the caller so the provider
	// itself stays transport-free.
	validate func(ctx context.Context, cred *Credential) error
}

// NewPromptProvider creates a provider reading from in and prompting on out.
func NewPromptProvider(in io.Reader, out io.Writer, validate func(ctx context.Context, cred *Credential) error) *PromptProvider {
	return &PromptProvider{in: in, out: out, validate: validate}
}

// InteractiveLogin prompts for a token and cookie string.
func (p *PromptProvider) InteractiveLogin(ctx context.Context) (*Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reader := bufio.NewReader(p.in)

	fmt.Fprint(p.out, "Paste the platform token: ")
	token, err := readLine(reader)
	if err != nil {
		return nil, errors.New(errors.ErrorTypeAuth, 0, "failed to read token: %v", err)
	}
	if token == "" {
		return nil, errors.New(errors.ErrorTypeAuth, 0, "empty token")
	}

	fmt.Fprint(p.out, "Paste the Cookie header: ")
	cookieLine, err := readLine(reader)
	if err != nil {
		return nil, errors.New(errors.ErrorTypeAuth, 0, "failed to read cookies: %v", err)
	}

	cookies := ParseCookieString(cookieLine)
	if len(cookies) == 0 {
		return nil, errors.New(errors.ErrorTypeAuth, 0, "no cookies parsed from input")
	}

	return &Credential{
		Token:    token,
		Cookies:  cookies,
		IssuedAt: time.Now(),
	}, nil
}

// Validate delegates to the wired validation callback.
func (p *PromptProvider) Validate(ctx context.Context, cred *Credential) error {
	if p.validate == nil {
		return nil
	}
	return p.validate(ctx, cred)
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// ParseCookieString parses a Cookie header value into a name/value map.
// Malformed segments without '=' are skipped.
func ParseCookieString(s string) map[string]string {
	cookies := make(map[string]string)
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		cookies[name] = strings.TrimSpace(value)
	}
	return cookies
}

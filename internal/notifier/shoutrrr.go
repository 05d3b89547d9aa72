// Package notifier sends notification emails and webhooks through shoutrrr.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"slices"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
)

// ErrNotConfigured is returned by Send when no service URLs were configured.
var ErrNotConfigured = errors.New("notifier has no service URLs")

// Sender delivers a titled message to every configured service.
type Sender interface {
	Send(ctx context.Context, title, body string) error
	Enabled() bool
}

// Shoutrrr is a Sender backed by a single shoutrrr router for many URLs.
type Shoutrrr struct {
	urls   []string
	sender *router.ServiceRouter
}

var _ Sender = (*Shoutrrr)(nil)

// New builds a sender for the given service URLs. An empty list yields a
// disabled sender.
func New(urls []string, timeout time.Duration) (*Shoutrrr, error) {
	s := &Shoutrrr{}
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			s.urls = append(s.urls, u)
		}
	}
	if len(s.urls) == 0 {
		return s, nil
	}

	sender, err := shoutrrr.CreateSender(s.urls...)
	if err != nil {
		return nil, fmt.Errorf("invalid notification service URL: %s", redact(err.Error(), s.urls))
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))
	s.sender = sender
	return s, nil
}

// Enabled reports whether any service URL is configured.
func (s *Shoutrrr) Enabled() bool {
	return s != nil && s.sender != nil
}

// Services returns the configured service schemes, safe for logging.
func (s *Shoutrrr) Services() []string {
	if s == nil {
		return nil
	}
	schemes := make([]string, 0, len(s.urls))
	for _, raw := range s.urls {
		if u, err := url.Parse(raw); err == nil {
			schemes = append(schemes, u.Scheme)
		}
	}
	return slices.Compact(schemes)
}

// Send delivers the message. The router applies its own timeout, so ctx only
// short-circuits when already cancelled.
func (s *Shoutrrr) Send(ctx context.Context, title, body string) error {
	if !s.Enabled() {
		return ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	params := stypes.Params{}
	if title != "" {
		params.SetTitle(title)
	}
	var sendErrs []error
	for _, err := range s.sender.Send(body, &params) {
		if err != nil {
			sendErrs = append(sendErrs, err)
		}
	}
	if len(sendErrs) > 0 {
		return errors.New(redact(errors.Join(sendErrs...).Error(), s.urls))
	}
	return nil
}

// redact removes credentials embedded in service URLs from error text.
func redact(msg string, urls []string) string {
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || u.User == nil {
			continue
		}
		if pw, ok := u.User.Password(); ok && pw != "" {
			msg = strings.ReplaceAll(msg, pw, "***")
		}
		if name := u.User.Username(); name != "" {
			msg = strings.ReplaceAll(msg, name, "***")
		}
	}
	return msg
}

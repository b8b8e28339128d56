// Package notify delivers finished job snapshots to caller-supplied callback URLs.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
)

const (
	defaultAttempts = 8
	defaultBase     = time.Second
	defaultCap      = 5 * time.Minute
	requestTimeout  = 30 * time.Second
)

// Notifier POSTs JSON payloads with full-jitter exponential backoff.
type Notifier struct {
	client       *http.Client
	attempts     int
	base         time.Duration
	maxDelay     time.Duration
	allowPrivate bool
	resolve      func(host string) ([]string, error)
	logger       *slog.Logger
	wg           sync.WaitGroup
}

type Option func(*Notifier)

// WithAllowPrivate accepts loopback and private callback hosts.
func WithAllowPrivate(allow bool) Option {
	return func(n *Notifier) { n.allowPrivate = allow }
}

// WithRetry overrides the attempt count and the backoff window.
func WithRetry(attempts int, base, maxDelay time.Duration) Option {
	return func(n *Notifier) {
		n.attempts = max(1, attempts)
		n.base = base
		n.maxDelay = maxDelay
	}
}

func WithClient(c *http.Client) Option {
	return func(n *Notifier) { n.client = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) {
		if l != nil {
			n.logger = l
		}
	}
}

func New(opts ...Option) *Notifier {
	n := &Notifier{
		client:   &http.Client{Timeout: requestTimeout},
		attempts: defaultAttempts,
		base:     defaultBase,
		maxDelay: defaultCap,
		resolve:  net.LookupHost,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Send validates callbackURL and delivers payload in the background.
// ctx should outlive the job so retries survive its cancellation but stop on shutdown.
func (n *Notifier) Send(ctx context.Context, callbackURL string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("notify: encode payload", "url", callbackURL, "error", err)
		return
	}
	if err := n.Validate(callbackURL); err != nil {
		n.logger.Warn("notify: rejected callback URL", "url", callbackURL, "error", err)
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.deliver(ctx, callbackURL, body); err != nil {
			n.logger.Error("notify: delivery failed", "url", callbackURL, "error", err)
		}
	}()
}

// Wait blocks until every background delivery has returned.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// Validate rejects non-HTTP schemes and, unless allowed, hosts that resolve to
// loopback, private, link-local or unspecified addresses.
func (n *Notifier) Validate(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("unsupported scheme: %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("missing host")
	}
	if n.allowPrivate {
		return nil
	}

	ips, err := n.resolve(host)
	if err != nil {
		return fmt.Errorf("DNS lookup failed: %w", err)
	}
	for _, s := range ips {
		ip := net.ParseIP(s)
		if ip == nil {
			continue
		}
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return fmt.Errorf("private/internal IP blocked: %s", s)
		}
	}
	return nil
}

func (n *Notifier) deliver(ctx context.Context, callbackURL string, body []byte) error {
	var err error
	for attempt := 1; attempt <= n.attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err = n.post(ctx, callbackURL, body); err == nil {
			return nil
		}
		n.logger.Warn("notify attempt failed", "attempt", attempt, "url", callbackURL, "error", err)
		if attempt == n.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(n.jitter(attempt)):
		}
	}
	return fmt.Errorf("%d attempts exhausted: %w", n.attempts, err)
}

// jitter returns a random duration in [0, min(maxDelay, base*2^attempt)).
func (n *Notifier) jitter(attempt int) time.Duration {
	exp := n.base << attempt
	if exp > n.maxDelay || exp <= 0 {
		exp = n.maxDelay
	}
	if exp <= 0 {
		return 0
	}
	return rand.N(exp)
}

func (n *Notifier) post(ctx context.Context, callbackURL string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("non-2xx status: %d", resp.StatusCode)
	}
	return nil
}

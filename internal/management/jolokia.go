package management

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/retry"
)

const storageServiceMBean = "org.apache.cassandra.db:type=StorageService"

// JMX operation signatures on the StorageService MBean.
const (
	opTakeSnapshot      = "takeSnapshot(java.lang.String,[Ljava.lang.String;)"
	opTakeTableSnapshot = "takeTableSnapshot(java.lang.String,java.lang.String,java.lang.String)"
	opClearSnapshot     = "clearSnapshot(java.lang.String,[Ljava.lang.String;)"
	attrTokens          = "Tokens"
)

type jolokiaRequest struct {
	Type      string `json:"type"`
	MBean     string `json:"mbean"`
	Operation string `json:"operation,omitempty"`
	Attribute string `json:"attribute,omitempty"`
	Arguments []any  `json:"arguments,omitempty"`
}

type jolokiaResponse struct {
	Status    int             `json:"status"`
	Value     json.RawMessage `json:"value"`
	Error     string          `json:"error"`
	ErrorType string          `json:"error_type"`
}

// RemoteError is a JMX failure reported inside a successful HTTP exchange.
type RemoteError struct {
	Status  int
	Type    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("jolokia status %d: %s %s", e.Status, e.Type, e.Message)
}

type httpStatusError struct {
	StatusCode int
	RetryAfter time.Duration
}

func (e httpStatusError) Error() string { return fmt.Sprintf("http status %d", e.StatusCode) }

// JolokiaOptions configures a JolokiaClient.
type JolokiaOptions struct {
	URL      string
	Username string
	Password string
	Timeout  time.Duration
	Retry    retry.Options
}

// JolokiaClient drives the StorageService MBean through a Jolokia agent.
type JolokiaClient struct {
	http  *resty.Client
	retry retry.Options
}

// NewJolokiaClient builds a client for the agent at opts.URL
// (default http://localhost:8778/jolokia).
func NewJolokiaClient(opts JolokiaOptions) *JolokiaClient {
	url := strings.TrimRight(strings.TrimSpace(opts.URL), "/")
	if url == "" {
		url = "http://localhost:8778/jolokia"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	c := resty.New().
		SetBaseURL(url).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if opts.Username != "" {
		c.SetBasicAuth(opts.Username, opts.Password)
	}
	return &JolokiaClient{http: c, retry: opts.Retry}
}

func (c *JolokiaClient) TakeSnapshot(ctx context.Context, keyspaces []string, tag, table string) error {
	req := jolokiaRequest{Type: "exec", MBean: storageServiceMBean}
	if table != "" {
		if len(keyspaces) != 1 {
			return fmt.Errorf("table snapshot of %q needs exactly one keyspace, got %d", table, len(keyspaces))
		}
		req.Operation = opTakeTableSnapshot
		req.Arguments = []any{keyspaces[0], table, tag}
	} else {
		if keyspaces == nil {
			keyspaces = []string{}
		}
		req.Operation = opTakeSnapshot
		req.Arguments = []any{tag, keyspaces}
	}
	_, err := c.call(ctx, "take_snapshot", req)
	return err
}

func (c *JolokiaClient) ClearSnapshot(ctx context.Context, tag string) error {
	_, err := c.call(ctx, "clear_snapshot", jolokiaRequest{
		Type:      "exec",
		MBean:     storageServiceMBean,
		Operation: opClearSnapshot,
		Arguments: []any{tag, []string{}},
	})
	return err
}

func (c *JolokiaClient) RingTokens(ctx context.Context) ([]string, error) {
	raw, err := c.call(ctx, "ring_tokens", jolokiaRequest{Type: "read", MBean: storageServiceMBean, Attribute: attrTokens})
	if err != nil {
		return nil, err
	}
	var tokens []string
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return nil, fmt.Errorf("decode tokens: %w", err)
	}
	return tokens, nil
}

func (c *JolokiaClient) call(ctx context.Context, action string, req jolokiaRequest) (json.RawMessage, error) {
	start := time.Now()
	attempt := 0
	var value json.RawMessage

	doOnce := func(ctx context.Context) error {
		attempt++
		resp, err := c.http.R().SetContext(ctx).SetBody(req).Post("/")
		if err != nil {
			log.Debug().Err(err).Str("action", action).Int("attempt", attempt).Msg("request error")
			return err
		}
		if resp.StatusCode() != http.StatusOK {
			retryAfter := parseRetryAfter(resp.Header())
			log.Debug().Int("status", resp.StatusCode()).Dur("retry_after", retryAfter).
				Str("action", action).Int("attempt", attempt).Msg("non-200 response")
			return httpStatusError{StatusCode: resp.StatusCode(), RetryAfter: retryAfter}
		}
		// Jolokia answers 200 and reports the JMX outcome in the body.
		var out jolokiaResponse
		if err := json.Unmarshal(resp.Body(), &out); err != nil {
			return retry.Permanent(fmt.Errorf("decode jolokia response: %w", err))
		}
		if out.Status != http.StatusOK {
			return retry.Permanent(&RemoteError{Status: out.Status, Type: out.ErrorType, Message: out.Error})
		}
		value = out.Value
		return nil
	}

	err := retry.Do(ctx, c.retry, isRetryable, func(ctx context.Context) error {
		return handleRetryAfter(ctx, doOnce)
	})
	if err != nil {
		log.Error().Err(err).Str("action", action).Int("attempts", attempt).
			Dur("total_elapsed_ms", time.Since(start)).Msg("jolokia call failed")
		return nil, fmt.Errorf("jolokia %s: %w", req.operationName(), err)
	}
	log.Debug().Str("action", action).Int("attempts", attempt).
		Dur("total_elapsed_ms", time.Since(start)).Msg("jolokia call OK")
	return value, nil
}

func (r jolokiaRequest) operationName() string {
	if r.Operation != "" {
		return r.Operation
	}
	return r.Attribute
}

// parseRetryAfter supports seconds and HTTP-date.
func parseRetryAfter(h http.Header) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if s, err := strconv.Atoi(v); err == nil {
			return time.Duration(s) * time.Second
		}
		if t, err := http.ParseTime(v); err == nil {
			return time.Until(t)
		}
	}
	return 0
}

func isRetryable(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var oe *net.OpError
	if errors.As(err, &oe) && oe.Op == "dial" {
		// Agent not listening yet, e.g. the node is still starting.
		return true
	}
	var se httpStatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests ||
			se.StatusCode == http.StatusRequestTimeout ||
			(se.StatusCode >= 500 && se.StatusCode <= 599)
	}
	return false
}

// handleRetryAfter sleeps for a server-requested delay before the next attempt.
func handleRetryAfter(ctx context.Context, fn func(context.Context) error) error {
	err := fn(ctx)
	var se httpStatusError
	if errors.As(err, &se) && se.RetryAfter > 0 {
		timer := time.NewTimer(se.RetryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

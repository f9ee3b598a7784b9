package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"registrar/internal/api"
	"registrar/internal/logging"
	"registrar/internal/registry"
)

const (
	breakerFailures = 5
	breakerTimeout  = 30 * time.Second
)

// Client talks to job producers: it offers jobs and probes their dispatch
// endpoints. Job offers to one host pass through a circuit breaker that opens
// after repeated transport failures.
type Client struct {
	http   *http.Client
	logger *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[int]
}

// NewClient builds a client whose requests time out after timeout.
func NewClient(timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		http:     &http.Client{Timeout: timeout},
		logger:   logging.NewComponentLogger(logger, "dispatch-client"),
		breakers: make(map[string]*gobreaker.CircuitBreaker[int]),
	}
}

// Offer posts job to the dispatch endpoint of svc and returns the response
// status. An open breaker for the host is reported as an error.
func (c *Client) Offer(ctx context.Context, svc *registry.Service, job *registry.Job) (int, error) {
	form := url.Values{}
	form.Set("id", strconv.FormatInt(job.ID, 10))
	form.Set("operation", job.Operation)

	return c.breaker(svc.Host).Execute(func() (int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, svc.DispatchURL(), strings.NewReader(form.Encode()))
		if err != nil {
			return 0, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set(api.HeaderOrganization, job.Organization)
		req.Header.Set(api.HeaderUser, job.Creator)
		resp, err := c.http.Do(req)
		if err != nil {
			return 0, err
		}
		resp.Body.Close()
		return resp.StatusCode, nil
	})
}

// Ping sends a HEAD request to the dispatch endpoint of svc.
func (c *Client) Ping(ctx context.Context, svc *registry.Service) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, svc.DispatchURL(), nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// BreakerOpen reports whether offers to host are currently short-circuited.
func (c *Client) BreakerOpen(host string) bool {
	return c.breaker(host).State() == gobreaker.StateOpen
}

func (c *Client) breaker(host string) *gobreaker.CircuitBreaker[int] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[host]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[int](gobreaker.Settings{
		Name:        host,
		MaxRequests: 1,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Info("dispatch circuit breaker state changed",
				logging.String(logging.FieldHost, name),
				logging.String("from", from.String()),
				logging.String("to", to.String()),
			)
		},
	})
	c.breakers[host] = cb
	return cb
}

func describeStatus(status int, err error) string {
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("%d %s", status, http.StatusText(status))
}

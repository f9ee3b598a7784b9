package registryclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"registrar/internal/api"
	"registrar/internal/registry"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultAttempts = 3
	defaultDelay    = 200 * time.Millisecond
)

// Client is a REST client for a single registrar.
type Client struct {
	base         string
	token        string
	user         string
	organization string
	http         *http.Client
	attempts     uint
	delay        time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithToken sends a bearer token on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// WithIdentity sets the user and organization recorded as creator of jobs
// created through the client.
func WithIdentity(user, organization string) Option {
	return func(c *Client) {
		c.user = user
		c.organization = organization
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithRetry changes how often and how quickly reads are retried.
func WithRetry(attempts uint, delay time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.attempts = attempts
		}
		c.delay = delay
	}
}

// New returns a client for the registrar at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("%w: registry url %q", registry.ErrInvalidArgument, baseURL)
	}
	c := &Client{
		base:     base,
		http:     &http.Client{Timeout: defaultTimeout},
		attempts: defaultAttempts,
		delay:    defaultDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the registrar URL the client talks to.
func (c *Client) BaseURL() string {
	return c.base
}

// statusError carries a non-2xx response that did not map to a sentinel.
type statusError struct {
	status  int
	message string
}

func (e *statusError) Error() string {
	if e.message == "" {
		return fmt.Sprintf("registry responded %d", e.status)
	}
	return fmt.Sprintf("registry responded %d: %s", e.status, e.message)
}

// retryable reports whether a read should be attempted again.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.status >= http.StatusInternalServerError
	}
	return !errors.Is(err, registry.ErrNotFound) &&
		!errors.Is(err, registry.ErrInvalidArgument) &&
		!errors.Is(err, registry.ErrOptimisticLock)
}

// getJSON fetches path and decodes the response into T, retrying transient
// failures.
func getJSON[T any](ctx context.Context, c *Client, path string, query url.Values) (T, error) {
	return retry.DoWithData(func() (T, error) {
		var out T
		body, err := c.do(ctx, http.MethodGet, path, query, nil, "")
		if err != nil {
			return out, err
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return out, retry.Unrecoverable(fmt.Errorf("decode %s: %w", path, err))
		}
		return out, nil
	},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(retryable),
		retry.LastErrorOnly(true),
	)
}

// getText fetches a plain-text path with the same retry policy as getJSON.
func (c *Client) getText(ctx context.Context, path string, query url.Values) (string, error) {
	return retry.DoWithData(func() (string, error) {
		body, err := c.do(ctx, http.MethodGet, path, query, nil, "")
		return strings.TrimSpace(string(body)), err
	},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(retryable),
		retry.LastErrorOnly(true),
	)
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, nil, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string) ([]byte, error) {
	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set(api.HeaderRequestID, uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.user != "" {
		req.Header.Set(api.HeaderUser, c.user)
	}
	if c.organization != "" {
		req.Header.Set(api.HeaderOrganization, c.organization)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}
	return nil, decodeError(resp.StatusCode, data)
}

func decodeError(status int, data []byte) error {
	var payload api.ErrorResponse
	message := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		message = payload.Error
	}
	switch status {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", registry.ErrNotFound, message)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", registry.ErrOptimisticLock, message)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", registry.ErrInvalidArgument, message)
	default:
		return &statusError{status: status, message: message}
	}
}

// RegisterHost registers or refreshes a host.
func (c *Client) RegisterHost(ctx context.Context, host registry.Host) error {
	_, err := c.postForm(ctx, "/services/registerhost", url.Values{
		"host":     {host.BaseURL},
		"address":  {host.Address},
		"nodeName": {host.NodeName},
		"memory":   {strconv.FormatInt(host.Memory, 10)},
		"cores":    {strconv.Itoa(host.Cores)},
		"maxLoad":  {strconv.FormatFloat(host.MaxLoad, 'f', -1, 64)},
	})
	return err
}

// UnregisterHost takes a host and its services offline.
func (c *Client) UnregisterHost(ctx context.Context, host string) error {
	_, err := c.postForm(ctx, "/services/unregisterhost", url.Values{"host": {host}})
	return err
}

// EnableHost puts a host back into rotation.
func (c *Client) EnableHost(ctx context.Context, host string) error {
	_, err := c.postForm(ctx, "/services/enablehost", url.Values{"host": {host}})
	return err
}

// DisableHost takes a host out of rotation.
func (c *Client) DisableHost(ctx context.Context, host string) error {
	_, err := c.postForm(ctx, "/services/disablehost", url.Values{"host": {host}})
	return err
}

// SetMaintenanceStatus toggles maintenance mode of a host.
func (c *Client) SetMaintenanceStatus(ctx context.Context, host string, maintenance bool) error {
	_, err := c.postForm(ctx, "/services/maintenance", url.Values{
		"host":        {host},
		"maintenance": {strconv.FormatBool(maintenance)},
	})
	return err
}

// RegisterService registers serviceType on host and returns the stored
// registration.
func (c *Client) RegisterService(ctx context.Context, serviceType, host, path string, jobProducer bool) (*registry.Service, error) {
	data, err := c.postForm(ctx, "/services/register", url.Values{
		"serviceType": {serviceType},
		"host":        {host},
		"path":        {path},
		"jobProducer": {strconv.FormatBool(jobProducer)},
	})
	if err != nil {
		return nil, err
	}
	var dto api.Service
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, fmt.Errorf("decode service: %w", err)
	}
	return api.ToService(dto), nil
}

// UnregisterService takes a registration offline.
func (c *Client) UnregisterService(ctx context.Context, serviceType, host string) error {
	_, err := c.postForm(ctx, "/services/unregister", url.Values{"serviceType": {serviceType}, "host": {host}})
	return err
}

// Sanitize resets a registration to NORMAL.
func (c *Client) Sanitize(ctx context.Context, serviceType, host string) error {
	_, err := c.postForm(ctx, "/services/sanitize", url.Values{"serviceType": {serviceType}, "host": {host}})
	return err
}

// JobRequest describes a job to create remotely. Creator and organization
// come from the client identity.
type JobRequest struct {
	Host         string
	JobType      string
	Operation    string
	Arguments    []string
	Payload      string
	Dispatchable bool
	ParentID     *int64
	JobLoad      *float64
}

// CreateJob creates a job and returns it as stored.
func (c *Client) CreateJob(ctx context.Context, spec JobRequest) (*registry.Job, error) {
	form := url.Values{
		"jobType":   {spec.JobType},
		"host":      {spec.Host},
		"operation": {spec.Operation},
		"payload":   {spec.Payload},
		"start":     {strconv.FormatBool(spec.Dispatchable)},
	}
	for _, arg := range spec.Arguments {
		form.Add("arg", arg)
	}
	if spec.JobLoad != nil {
		form.Set("jobLoad", strconv.FormatFloat(*spec.JobLoad, 'f', -1, 64))
	}
	if spec.ParentID != nil {
		form.Set("parent", strconv.FormatInt(*spec.ParentID, 10))
	}
	data, err := c.postForm(ctx, "/services/job", form)
	if err != nil {
		return nil, err
	}
	return decodeJob(data)
}

// UpdateJob stores job and returns the registry's view of it afterwards,
// carrying the new version.
func (c *Client) UpdateJob(ctx context.Context, job *registry.Job) (*registry.Job, error) {
	if job == nil {
		return nil, fmt.Errorf("%w: job must not be nil", registry.ErrInvalidArgument)
	}
	body, err := json.Marshal(api.FromJob(job))
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	path := fmt.Sprintf("/services/job/%d.json", job.ID)
	if _, err := c.do(ctx, http.MethodPut, path, nil, bytes.NewReader(body), "application/json"); err != nil {
		return nil, err
	}
	return c.GetJob(ctx, job.ID)
}

// GetJob loads a job by id.
func (c *Client) GetJob(ctx context.Context, id int64) (*registry.Job, error) {
	dto, err := getJSON[api.Job](ctx, c, fmt.Sprintf("/services/job/%d.json", id), nil)
	if err != nil {
		return nil, err
	}
	return api.ToJob(dto)
}

// ChildJobs lists all descendants of a job.
func (c *Client) ChildJobs(ctx context.Context, id int64) ([]*registry.Job, error) {
	list, err := getJSON[api.JobList](ctx, c, fmt.Sprintf("/services/job/%d/children.json", id), nil)
	if err != nil {
		return nil, err
	}
	return api.ToJobs(list.Jobs)
}

// Jobs lists jobs of a type, optionally restricted to a status.
func (c *Client) Jobs(ctx context.Context, jobType string, status registry.Status) ([]*registry.Job, error) {
	query := url.Values{}
	if jobType != "" {
		query.Set("serviceType", jobType)
	}
	if status != "" {
		query.Set("status", string(status))
	}
	list, err := getJSON[api.JobList](ctx, c, "/services/jobs.json", query)
	if err != nil {
		return nil, err
	}
	return api.ToJobs(list.Jobs)
}

// HostRegistrations lists every registered host.
func (c *Client) HostRegistrations(ctx context.Context) ([]registry.Host, error) {
	list, err := getJSON[api.HostList](ctx, c, "/services/hosts.json", nil)
	if err != nil {
		return nil, err
	}
	hosts := make([]registry.Host, 0, len(list.Hosts))
	for _, dto := range list.Hosts {
		hosts = append(hosts, api.ToHost(dto))
	}
	return hosts, nil
}

// ServiceRegistrations lists every service registration.
func (c *Client) ServiceRegistrations(ctx context.Context) ([]*registry.Service, error) {
	list, err := getJSON[api.ServiceList](ctx, c, "/services/services.json", nil)
	if err != nil {
		return nil, err
	}
	services := make([]*registry.Service, 0, len(list.Services))
	for _, dto := range list.Services {
		services = append(services, api.ToService(dto))
	}
	return services, nil
}

// ServiceStatistics returns per-registration job statistics.
func (c *Client) ServiceStatistics(ctx context.Context) (api.Statistics, error) {
	return getJSON[api.Statistics](ctx, c, "/services/statistics.json", nil)
}

// Health counts registrations by failover state.
func (c *Client) Health(ctx context.Context) (api.Health, error) {
	return getJSON[api.Health](ctx, c, "/services/health.json", nil)
}

// CurrentHostLoads returns the current and maximum load of every host.
func (c *Client) CurrentHostLoads(ctx context.Context) (registry.SystemLoad, error) {
	loads, err := getJSON[api.Loads](ctx, c, "/services/currentload", nil)
	if err != nil {
		return nil, err
	}
	return api.ToSystemLoad(loads), nil
}

// Count returns the number of jobs of a type, optionally restricted to a
// status.
func (c *Client) Count(ctx context.Context, jobType string, status registry.Status) (int, error) {
	query := url.Values{"serviceType": {jobType}}
	if status != "" {
		query.Set("status", string(status))
	}
	text, err := c.getText(ctx, "/services/count", query)
	if err != nil {
		return 0, err
	}
	count, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("parse count %q: %w", text, err)
	}
	return count, nil
}

func decodeJob(data []byte) (*registry.Job, error) {
	var dto api.Job
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return api.ToJob(dto)
}

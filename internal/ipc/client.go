package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func call[Resp any](c *Client, method string, req any) (*Resp, error) {
	var resp Resp
	if err := c.client.Call(ServiceName+"."+method, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Start requests the daemon to start its supervisor tree.
func (c *Client) Start() (*StartResponse, error) {
	return call[StartResponse](c, "Start", StartRequest{})
}

// Stop requests the daemon to stop its supervisor tree.
func (c *Client) Stop() (*StopResponse, error) {
	return call[StopResponse](c, "Stop", StopRequest{})
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	return call[StatusResponse](c, "Status", StatusRequest{})
}

// Hosts lists host registrations.
func (c *Client) Hosts() (*HostsResponse, error) {
	return call[HostsResponse](c, "Hosts", HostsRequest{})
}

// Services lists service registrations filtered by type and host.
func (c *Client) Services(serviceType, host string) (*ServicesResponse, error) {
	return call[ServicesResponse](c, "Services", ServicesRequest{ServiceType: serviceType, Host: host})
}

// Jobs lists jobs filtered by type and status; without filters it lists
// active jobs.
func (c *Client) Jobs(serviceType, status string) (*JobsResponse, error) {
	return call[JobsResponse](c, "Jobs", JobsRequest{ServiceType: serviceType, Status: status})
}

// Job loads a single job.
func (c *Client) Job(id int64) (*JobResponse, error) {
	return call[JobResponse](c, "Job", JobRequest{ID: id})
}

// ChildJobs lists the descendants of a job.
func (c *Client) ChildJobs(id int64) (*JobsResponse, error) {
	return call[JobsResponse](c, "ChildJobs", JobRequest{ID: id})
}

// SetMaintenance toggles maintenance mode of a host.
func (c *Client) SetMaintenance(host string, maintenance bool) (*HostResponse, error) {
	return call[HostResponse](c, "SetMaintenance", MaintenanceRequest{Host: host, Maintenance: maintenance})
}

// EnableHost puts a host back into rotation.
func (c *Client) EnableHost(host string) (*HostResponse, error) {
	return call[HostResponse](c, "EnableHost", HostRequest{Host: host})
}

// DisableHost takes a host out of rotation.
func (c *Client) DisableHost(host string) (*HostResponse, error) {
	return call[HostResponse](c, "DisableHost", HostRequest{Host: host})
}

// Sanitize resets a registration to NORMAL.
func (c *Client) Sanitize(serviceType, host string) (*SanitizeResponse, error) {
	return call[SanitizeResponse](c, "Sanitize", SanitizeRequest{ServiceType: serviceType, Host: host})
}

// Statistics returns service and host statistics.
func (c *Client) Statistics() (*StatisticsResponse, error) {
	return call[StatisticsResponse](c, "Statistics", StatisticsRequest{})
}

// Loads returns the current load snapshot.
func (c *Client) Loads() (*LoadsResponse, error) {
	return call[LoadsResponse](c, "Loads", LoadsRequest{})
}

// RemoveJobs removes jobs and their descendants.
func (c *Client) RemoveJobs(ids []int64) (*RemoveJobsResponse, error) {
	return call[RemoveJobsResponse](c, "RemoveJobs", RemoveJobsRequest{IDs: ids})
}

// RemoveParentlessJobs removes terminal root jobs older than lifetimeDays.
func (c *Client) RemoveParentlessJobs(lifetimeDays int) (*RemoveJobsResponse, error) {
	return call[RemoveJobsResponse](c, "RemoveParentlessJobs", RemoveParentlessJobsRequest{LifetimeDays: lifetimeDays})
}

// LogTail returns log lines from the daemon.
func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	return call[LogTailResponse](c, "LogTail", req)
}

// DatabaseHealth retrieves detailed database diagnostics.
func (c *Client) DatabaseHealth() (*DatabaseHealthResponse, error) {
	return call[DatabaseHealthResponse](c, "DatabaseHealth", DatabaseHealthRequest{})
}

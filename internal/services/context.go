package services

import "context"

type contextKey string

const (
	jobIDKey       contextKey = "job_id"
	hostKey        contextKey = "host"
	serviceTypeKey contextKey = "service_type"
	requestIDKey   contextKey = "request_id"
)

// WithJobID annotates context with the job identifier.
func WithJobID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, jobIDKey, id)
}

// JobIDFromContext extracts the job identifier if present.
func JobIDFromContext(ctx context.Context) (int64, bool) {
	switch val := ctx.Value(jobIDKey).(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	default:
		return 0, false
	}
}

// WithHost annotates context with the base URL of the host being acted on.
func WithHost(ctx context.Context, host string) context.Context {
	if host == "" {
		return ctx
	}
	return context.WithValue(ctx, hostKey, host)
}

// HostFromContext returns the host if present.
func HostFromContext(ctx context.Context) (string, bool) {
	if str, ok := ctx.Value(hostKey).(string); ok && str != "" {
		return str, true
	}
	return "", false
}

// WithServiceType annotates context with a service type.
func WithServiceType(ctx context.Context, serviceType string) context.Context {
	if serviceType == "" {
		return ctx
	}
	return context.WithValue(ctx, serviceTypeKey, serviceType)
}

// ServiceTypeFromContext returns the service type if present.
func ServiceTypeFromContext(ctx context.Context) (string, bool) {
	if str, ok := ctx.Value(serviceTypeKey).(string); ok && str != "" {
		return str, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

package auth

import (
	"strings"
	"time"
)

// RequestContext is the per-request caller information passed explicitly
// into every Authenticator operation. Build it once per request and do not
// mutate it afterwards.
type RequestContext struct {
	ActorID     string
	IPAddress   string
	UserAgent   string
	SessionID   string
	RequestedAt time.Time
}

// RequestOption customizes a RequestContext at construction.
type RequestOption func(*RequestContext)

// WithRequestActor sets the id of the caller performing the operation.
func WithRequestActor(actorID string) RequestOption {
	return func(rc *RequestContext) {
		rc.ActorID = strings.TrimSpace(actorID)
	}
}

// WithRequestSession sets the session id.
func WithRequestSession(sessionID string) RequestOption {
	return func(rc *RequestContext) {
		rc.SessionID = sessionID
	}
}

// WithRequestTime sets the request timestamp.
func WithRequestTime(at time.Time) RequestOption {
	return func(rc *RequestContext) {
		rc.RequestedAt = at
	}
}

// NewRequestContext builds a RequestContext for ip and user agent.
func NewRequestContext(ip, userAgent string, opts ...RequestOption) RequestContext {
	rc := RequestContext{
		IPAddress: strings.TrimSpace(ip),
		UserAgent: userAgent,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&rc)
		}
	}
	return rc
}

func (rc RequestContext) metadata() map[string]any {
	meta := map[string]any{}
	if rc.SessionID != "" {
		meta["session_id"] = rc.SessionID
	}
	return meta
}

package activitymap

import (
	"strings"
	"time"

	auth "github.com/goliatone/go-auth-guard"
)

const (
	// MetadataKeySuccess stores whether the audited operation succeeded.
	MetadataKeySuccess = "success"
	// MetadataKeyError stores the audited failure reason.
	MetadataKeyError = "error"
	// MetadataKeyIPAddress stores the caller address.
	MetadataKeyIPAddress = "ip_address"
	// MetadataKeyUserAgent stores the caller user agent.
	MetadataKeyUserAgent = "user_agent"
	// MetadataKeyOldValues stores the state before an update.
	MetadataKeyOldValues = "old_values"
	// MetadataKeyNewValues stores the state after an update.
	MetadataKeyNewValues = "new_values"
)

const (
	defaultChannel    = "auth"
	defaultObjectType = "user"
	defaultActorID    = "system"
)

// Normalized is a transport-agnostic activity shape for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel          string
	objectType       string
	actorFallback    string
	objectIDResolver func(auth.AuditEntry) string
}

// Normalize converts an auth.AuditEntry into a generic normalized shape.
// The verb is derived from the action and outcome, e.g. "auth.login.failure".
func Normalize(entry auth.AuditEntry, opts ...Option) Normalized {
	options := defaultNormalizeOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	actorID := firstNonEmpty(
		strings.TrimSpace(entry.ActorID),
		strings.TrimSpace(entry.ResourceID),
		strings.TrimSpace(options.actorFallback),
	)

	occurredAt := entry.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return Normalized{
		ActorID:    actorID,
		Verb:       Verb(entry),
		ObjectType: firstNonEmpty(strings.ToLower(strings.TrimSpace(entry.ResourceType)), strings.TrimSpace(options.objectType)),
		ObjectID:   resolveObjectID(entry, options.objectIDResolver),
		Channel:    strings.TrimSpace(options.channel),
		Metadata:   normalizeMetadata(entry),
		OccurredAt: occurredAt,
	}
}

// Verb returns the dotted verb for entry.
func Verb(entry auth.AuditEntry) string {
	action := strings.ToLower(strings.TrimSpace(string(entry.Action)))
	if action == "" {
		action = "unknown"
	}
	action = strings.ReplaceAll(action, "_", ".")
	outcome := "failure"
	if entry.Success {
		outcome = "success"
	}
	return "auth." + action + "." + outcome
}

// WithDefaultChannel sets the default channel for normalized records.
func WithDefaultChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithDefaultObjectType sets the object type used when the entry has no
// resource type.
func WithDefaultObjectType(objectType string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.objectType = strings.TrimSpace(objectType)
	}
}

// WithObjectIDResolver overrides object-id extraction from AuditEntry.
func WithObjectIDResolver(resolver func(auth.AuditEntry) string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.objectIDResolver = resolver
	}
}

// WithActorFallback sets the final actor-id fallback when actor/resource ids are empty.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

func defaultNormalizeOptions() normalizeOptions {
	return normalizeOptions{
		channel:       defaultChannel,
		objectType:    defaultObjectType,
		actorFallback: defaultActorID,
	}
}

func resolveObjectID(entry auth.AuditEntry, resolver func(auth.AuditEntry) string) string {
	if resolver != nil {
		return strings.TrimSpace(resolver(entry))
	}
	return strings.TrimSpace(entry.ResourceID)
}

func normalizeMetadata(entry auth.AuditEntry) map[string]any {
	metadata := cloneMap(entry.Metadata)
	if metadata == nil {
		metadata = map[string]any{}
	}

	metadata[MetadataKeySuccess] = entry.Success
	if msg := strings.TrimSpace(entry.ErrorMessage); msg != "" {
		metadata[MetadataKeyError] = msg
	}
	if ip := strings.TrimSpace(entry.IPAddress); ip != "" {
		metadata[MetadataKeyIPAddress] = ip
	}
	if ua := strings.TrimSpace(entry.UserAgent); ua != "" {
		metadata[MetadataKeyUserAgent] = ua
	}
	if old := cloneMap(entry.OldValues); old != nil {
		metadata[MetadataKeyOldValues] = old
	}
	if next := cloneMap(entry.NewValues); next != nil {
		metadata[MetadataKeyNewValues] = next
	}

	return metadata
}

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

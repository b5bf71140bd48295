package notify

import (
	"context"
	"time"

	auth "github.com/goliatone/go-auth-guard"
	"github.com/goliatone/go-auth-guard/activitymap"
)

// AuditPublisher implements auth.AuditSink by publishing normalized
// activity records to QueueAuditActivity.
type AuditPublisher struct {
	pub      Publisher
	exchange string
	key      string
	opts     []activitymap.Option
	now      func() time.Time
}

var _ auth.AuditSink = (*AuditPublisher)(nil)

// NewAuditPublisher returns an AuditPublisher. opts are passed to
// activitymap.Normalize for every entry.
func NewAuditPublisher(pub Publisher, opts ...activitymap.Option) *AuditPublisher {
	return &AuditPublisher{
		pub:  pub,
		key:  QueueAuditActivity,
		opts: opts,
		now:  time.Now,
	}
}

// WithRoutingKey overrides the routing key.
func (p *AuditPublisher) WithRoutingKey(key string) *AuditPublisher {
	if key != "" {
		p.key = key
	}
	return p
}

func (p *AuditPublisher) Record(ctx context.Context, entry auth.AuditEntry) error {
	return publishJSON(ctx, p.pub, p.exchange, p.key, activitymap.Normalize(entry, p.opts...), p.now())
}

func (p *AuditPublisher) RecordBatch(ctx context.Context, entries []auth.AuditEntry) error {
	for _, entry := range entries {
		if err := p.Record(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

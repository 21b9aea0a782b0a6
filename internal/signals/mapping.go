package signals

import (
	"net/url"
	"time"

	"github.com/JaimeStill/steward/pkg/canonical"
	"github.com/JaimeStill/steward/pkg/query"
	"github.com/JaimeStill/steward/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "signals", "s").
	Project("id", "ID").
	Project("signal_type", "SignalType").
	Project("source", "Source").
	Project("payload", "Payload").
	Project("content_hash", "ContentHash").
	Project("reliability", "Reliability").
	Project("observed_at", "ObservedAt").
	Project("ingested_at", "IngestedAt")

var defaultSort = query.SortField{
	Field:      "ObservedAt",
	Descending: true,
}

const returning = "id, signal_type, source, payload, content_hash, reliability, observed_at, ingested_at"

// Filters contains optional filtering criteria for signal queries.
type Filters struct {
	SignalType *string    `json:"signal_type,omitempty"`
	Source     *string    `json:"source,omitempty"`
	Since      *time.Time `json:"since,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	return b.
		WhereEquals("SignalType", f.SignalType).
		WhereEquals("Source", f.Source).
		WhereSince("ObservedAt", f.Since)
}

// FiltersFromQuery extracts filter values from URL query parameters.
func FiltersFromQuery(values url.Values) Filters {
	var f Filters

	if t := values.Get("signal_type"); t != "" {
		f.SignalType = &t
	}

	if s := values.Get("source"); s != "" {
		f.Source = &s
	}

	if s := values.Get("since"); s != "" {
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			f.Since = &ts
		}
	}

	return f
}

// ContentHash returns the idempotency key of a submission.
func ContentHash(signalType, source string, payload map[string]any) (string, error) {
	return canonical.Hash(map[string]any{
		"signal_type": signalType,
		"source":      source,
		"payload":     payload,
	})
}

func scanSignal(s repository.Scanner) (Signal, error) {
	var (
		sig     Signal
		payload []byte
	)
	err := s.Scan(
		&sig.ID,
		&sig.SignalType,
		&sig.Source,
		&payload,
		&sig.ContentHash,
		&sig.Reliability,
		&sig.ObservedAt,
		&sig.IngestedAt,
	)
	sig.Payload = payload
	return sig, err
}

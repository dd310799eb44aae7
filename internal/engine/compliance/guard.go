package compliance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"hooksync/internal/platform/models"
)

// Sources of consent signals.
const (
	SignalKeyword     = "keyword"
	SignalProviderDNC = "provider_dnc"
	SignalOperator    = "operator"
)

// ErrOptedOut matches every ComplianceError.
var ErrOptedOut = errors.New("recipient opted out")

// ComplianceError blocks a send. It is never retried.
type ComplianceError struct {
	Phone  string
	Source string
	Reason string
}

func (e *ComplianceError) Error() string {
	return fmt.Sprintf("send to %s blocked: opted out via %s (%s)", e.Phone, e.Source, e.Reason)
}

func (e *ComplianceError) Is(target error) bool { return target == ErrOptedOut }

type OptoutStore interface {
	Get(ctx context.Context, phone string) (*models.OptoutEntry, error)
	Upsert(ctx context.Context, e *models.OptoutEntry) error
}

// Guard consults the opt-out registry. It keeps no cache: every check reads
// the store so a just-recorded opt-out blocks the very next send.
type Guard struct {
	store OptoutStore
	now   func() time.Time
}

func NewGuard(store OptoutStore) *Guard {
	return &Guard{store: store, now: time.Now}
}

// CheckSend returns a *ComplianceError when phone has opted out.
func (g *Guard) CheckSend(ctx context.Context, phone string) error {
	normalized := NormalizePhone(phone)
	if normalized == "" {
		return fmt.Errorf("check send: invalid phone number %q", phone)
	}

	entry, err := g.store.Get(ctx, normalized)
	if err != nil {
		return fmt.Errorf("check send: read opt-out registry: %w", err)
	}
	if entry != nil && entry.Status == models.OptedOut {
		return &ComplianceError{Phone: normalized, Source: entry.Source, Reason: entry.Reason}
	}
	return nil
}

func (g *Guard) RecordOptOut(ctx context.Context, phone, source, reason string, at time.Time) error {
	return g.record(ctx, phone, models.OptedOut, source, reason, at)
}

func (g *Guard) RecordOptIn(ctx context.Context, phone, source, reason string, at time.Time) error {
	return g.record(ctx, phone, models.OptedIn, source, reason, at)
}

func (g *Guard) record(ctx context.Context, phone, status, source, reason string, at time.Time) error {
	normalized := NormalizePhone(phone)
	if normalized == "" {
		return fmt.Errorf("record %s: invalid phone number %q", status, phone)
	}
	if at.IsZero() {
		at = g.now()
	}

	if err := g.store.Upsert(ctx, &models.OptoutEntry{
		PhoneNumber: normalized,
		Status:      status,
		Source:      source,
		Reason:      reason,
		LastEventAt: at.Unix(),
	}); err != nil {
		return fmt.Errorf("record %s: %w", status, err)
	}

	log.Info().
		Str("phone", normalized).
		Str("status", status).
		Str("signal", source).
		Msg("consent recorded")
	return nil
}

// NormalizePhone reduces a number to E.164. Ten-digit numbers are taken as
// NANP. Returns "" when nothing usable remains.
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case strings.HasPrefix(digits, "+"):
	case strings.HasPrefix(digits, "00"):
		digits = "+" + digits[2:]
	case len(digits) == 10:
		digits = "+1" + digits
	case len(digits) == 11 && digits[0] == '1':
		digits = "+" + digits
	default:
		digits = "+" + digits
	}

	n := len(digits) - 1
	if n < 2 || n > 15 || digits[1] == '0' {
		return ""
	}
	return digits
}

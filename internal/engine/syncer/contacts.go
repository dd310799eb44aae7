package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"hooksync/internal/engine/compliance"
	"hooksync/internal/engine/connectors"
	"hooksync/internal/engine/merge"
	"hooksync/internal/engine/resilience"
	"hooksync/internal/platform/models"
)

func (s *Synchronizer) crmContact(ctx context.Context, event *models.Event, payload map[string]interface{}) (outcome, error) {
	out, _, err := s.syncContact(ctx, event, payload, models.SourceTelephony)
	return out, err
}

// telephonyContact pushes the contact to the CRM. A do-not-call flag on the
// telephony side is recorded as an opt-out and tagged on the CRM contact.
func (s *Synchronizer) telephonyContact(ctx context.Context, event *models.Event, payload map[string]interface{}) (outcome, error) {
	out, merged, err := s.syncContact(ctx, event, payload, models.SourceCRM)
	if err != nil {
		return out, err
	}
	if !flag(payload, "do_not_call", "doNotCall", "dnc", "DNC") {
		return out, nil
	}

	phone := compliance.NormalizePhone(merged.Phone)
	if phone == "" {
		out.message = "do-not-call flag ignored: contact has no usable phone"
		return out, nil
	}
	if err := s.guard.RecordOptOut(ctx, phone, compliance.SignalProviderDNC, "telephony do-not-call flag", eventTime(event)); err != nil {
		return out, resilience.Transient(err)
	}
	if out.targetID == "" {
		out.message = "do-not-call flag recorded as opt-out; crm contact id unknown"
		return out, nil
	}
	err = s.call(ctx, models.SourceCRM, func(ctx context.Context, sys connectors.System) error {
		return sys.AddTag(ctx, out.targetID, s.optOutTag)
	})
	if err != nil {
		return out, fmt.Errorf("tag opted-out contact: %w", err)
	}
	out.message = "do-not-call flag recorded as opt-out"
	return out, nil
}

func (s *Synchronizer) messagingContact(ctx context.Context, event *models.Event, payload map[string]interface{}) (outcome, error) {
	out, _, err := s.syncContact(ctx, event, payload, models.SourceCRM)
	return out, err
}

// syncContact merges the event's contact into its counterpart in target and
// links both ids on the identity mapping.
func (s *Synchronizer) syncContact(ctx context.Context, event *models.Event, payload map[string]interface{}, target string) (outcome, merge.Record, error) {
	incoming := merge.FromPayload(event.Source, payload)
	if incoming.ID == "" {
		incoming.ID = event.EntityID
	}
	if phone := compliance.NormalizePhone(incoming.Phone); phone != "" {
		incoming.Phone = phone
	}
	if incoming.UpdatedAt.IsZero() {
		incoming.UpdatedAt = eventTime(event)
	}

	p := newPerson(event.Source, incoming.ID, incoming.Phone, incoming.Email)
	mapping, err := s.resolveIdentity(ctx, p)
	if err != nil {
		return outcome{}, incoming, err
	}
	existing, err := s.targetContact(ctx, target, mapping, p)
	if err != nil {
		return outcome{}, incoming, err
	}

	base := merge.Record{Source: target}
	if existing != nil {
		base = recordFromContact(target, existing)
	}
	merged, decisions := merge.Merge(base, incoming, s.mergeOpts)

	logger := zerolog.Ctx(ctx)
	for _, d := range decisions {
		if d.RejectedValue != "" {
			logger.Debug().
				Str("field", d.Field).
				Str("chosen_source", d.ChosenSource).
				Str("reason", d.Reason).
				Msg("merge conflict resolved")
		}
	}

	contact := contactFromRecord(merged)
	contact.ID = base.ID

	var saved *connectors.Contact
	err = s.call(ctx, target, func(ctx context.Context, sys connectors.System) (err error) {
		saved, err = sys.UpsertContact(ctx, contact)
		return err
	})
	if err != nil {
		return outcome{}, merged, err
	}

	targetID := contact.ID
	if saved != nil && saved.ID != "" {
		targetID = saved.ID
	}
	if targetID != "" && mapping.SystemID(target) != targetID {
		if err := s.identities.Link(ctx, mapping.ID, target, targetID, p.phone, p.email, s.now().Unix()); err != nil {
			return outcome{targetID: targetID}, merged, resilience.Transient(fmt.Errorf("link identity: %w", err))
		}
	}
	return outcome{targetID: targetID}, merged, nil
}

func recordFromContact(source string, c *connectors.Contact) merge.Record {
	r := merge.Record{
		Source:     source,
		ID:         c.ID,
		Phone:      c.Phone,
		Email:      c.Email,
		FirstName:  c.FirstName,
		LastName:   c.LastName,
		Tags:       c.Tags,
		Attributes: c.Attributes,
	}
	if c.UpdatedAt > 0 {
		r.UpdatedAt = time.Unix(c.UpdatedAt, 0)
	}
	return r
}

func contactFromRecord(r merge.Record) connectors.Contact {
	c := connectors.Contact{
		ID:         r.ID,
		Phone:      r.Phone,
		Email:      r.Email,
		FirstName:  r.FirstName,
		LastName:   r.LastName,
		Tags:       r.Tags,
		Attributes: r.Attributes,
	}
	if !r.UpdatedAt.IsZero() {
		c.UpdatedAt = r.UpdatedAt.Unix()
	}
	return c
}

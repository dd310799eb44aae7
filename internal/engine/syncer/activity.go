package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"hooksync/internal/engine/compliance"
	"hooksync/internal/engine/connectors"
	"hooksync/internal/engine/merge"
	"hooksync/internal/engine/resilience"
	"hooksync/internal/platform/models"
)

// telephonyCall appends a note describing the call to the CRM contact.
func (s *Synchronizer) telephonyCall(ctx context.Context, event *models.Event, payload map[string]interface{}) (outcome, error) {
	contactID := field(payload, "contact_id", "contactId")
	if contactID == "" {
		contactID = nestedID(payload, "contact")
	}
	p := newPerson(models.SourceTelephony, contactID,
		field(payload, "phone", "phone_number", "customer_number", "from", "to"),
		field(payload, "email"))

	crmID, err := s.crmContactID(ctx, p)
	if err != nil {
		return outcome{}, err
	}

	note := callNote(payload, event)
	err = s.call(ctx, models.SourceCRM, func(ctx context.Context, sys connectors.System) error {
		return sys.AddNote(ctx, crmID, note)
	})
	if err != nil {
		return outcome{targetID: crmID}, err
	}
	return outcome{targetID: crmID}, nil
}

func callNote(payload map[string]interface{}, event *models.Event) string {
	var b strings.Builder
	b.WriteString("Call")
	if dir := field(payload, "direction", "call_direction"); dir != "" {
		b.WriteString(" (" + dir + ")")
	}
	if phone := field(payload, "phone", "phone_number", "customer_number", "from", "to"); phone != "" {
		b.WriteString(" with " + phone)
	}
	if d := field(payload, "duration", "duration_seconds", "talk_time"); d != "" {
		b.WriteString(", " + d + "s")
	}
	if disp := field(payload, "disposition", "outcome", "status"); disp != "" {
		b.WriteString(", " + disp)
	}
	if rec := field(payload, "recording_url", "recordingUrl"); rec != "" {
		b.WriteString("\nRecording: " + rec)
	}
	fmt.Fprintf(&b, "\nhooksync event %s", event.ID)
	return b.String()
}

// messagingMessage handles inbound SMS. Consent keywords update the opt-out
// registry and the CRM tag, then return; anything else becomes a CRM note.
func (s *Synchronizer) messagingMessage(ctx context.Context, event *models.Event, payload map[string]interface{}) (outcome, error) {
	if dir := strings.ToLower(field(payload, "direction")); dir == "outbound" || dir == "outgoing" {
		return outcome{status: models.SyncSkipped, message: "outbound message status, nothing to sync"}, nil
	}

	from := field(payload, "from", "phone", "phone_number", "sender")
	body := field(payload, "body", "text", "content")
	p := newPerson(models.SourceMessaging, field(payload, "contact_id", "contactId"), from, "")

	switch kw := compliance.DetectKeyword(body); kw {
	case compliance.KeywordOptOut, compliance.KeywordOptIn:
		return s.consent(ctx, event, p, kw, body)
	}

	crmID, err := s.crmContactID(ctx, p)
	if err != nil {
		return outcome{}, err
	}
	note := fmt.Sprintf("Inbound SMS from %s: %s", p.phone, body)
	err = s.call(ctx, models.SourceCRM, func(ctx context.Context, sys connectors.System) error {
		return sys.AddNote(ctx, crmID, note)
	})
	return outcome{targetID: crmID}, err
}

func (s *Synchronizer) consent(ctx context.Context, event *models.Event, p person, kw compliance.Keyword, body string) (outcome, error) {
	if p.phone == "" {
		return outcome{}, resilience.Permanent(errors.New("consent keyword without a usable sender phone"))
	}
	reason := "keyword " + strings.ToUpper(strings.TrimSpace(body))

	var err error
	if kw == compliance.KeywordOptOut {
		err = s.guard.RecordOptOut(ctx, p.phone, compliance.SignalKeyword, reason, eventTime(event))
	} else {
		err = s.guard.RecordOptIn(ctx, p.phone, compliance.SignalKeyword, reason, eventTime(event))
	}
	if err != nil {
		return outcome{}, resilience.Transient(err)
	}

	crmID, err := s.crmContactID(ctx, p)
	if err != nil {
		return outcome{}, err
	}
	err = s.call(ctx, models.SourceCRM, func(ctx context.Context, sys connectors.System) error {
		if kw == compliance.KeywordOptOut {
			return sys.AddTag(ctx, crmID, s.optOutTag)
		}
		if err := sys.RemoveTag(ctx, crmID, s.optOutTag); err != nil && !errors.Is(err, connectors.ErrNotFound) {
			return err
		}
		if s.optInTag != "" {
			return sys.AddTag(ctx, crmID, s.optInTag)
		}
		return nil
	})
	if err != nil {
		return outcome{targetID: crmID}, err
	}

	zerolog.Ctx(ctx).Info().Str("phone", p.phone).Str("keyword", kw.String()).Msg("consent keyword applied")
	return outcome{targetID: crmID, message: kw.String() + " keyword recorded"}, nil
}

// broadcastMessage sends a scheduled broadcast through the messaging system
// and tags the recipient's CRM contact.
func (s *Synchronizer) broadcastMessage(ctx context.Context, event *models.Event, payload map[string]interface{}) (outcome, error) {
	p := newPerson(models.SourceCRM, field(payload, "crm_id", "crm_contact_id"),
		field(payload, "to", "phone", "phone_number", "recipient"), field(payload, "email"))
	if p.phone == "" {
		return outcome{}, resilience.Permanent(errors.New("broadcast has no usable recipient phone"))
	}
	body := field(payload, "body", "message", "text", "content")
	if body == "" {
		return outcome{}, resilience.Permanent(errors.New("broadcast has no message body"))
	}
	campaign := field(payload, "campaign_id", "campaignId", "broadcast_id")

	// fail before any network call when the recipient opted out
	if err := s.checkSend(ctx, p.phone); err != nil {
		return outcome{}, err
	}

	crmID, err := s.crmContactID(ctx, p)
	if err != nil {
		return outcome{}, err
	}

	receipt, err := s.send(ctx, connectors.Message{To: p.phone, Body: body, CampaignID: campaign})
	if err != nil {
		return outcome{targetID: crmID}, err
	}

	tag := merge.SystemTagPrefix + "broadcast-sent"
	if campaign != "" {
		tag = merge.SystemTagPrefix + "broadcast:" + campaign
	}
	out := outcome{targetID: crmID}
	if receipt != nil && receipt.ID != "" {
		out.message = "sent as " + receipt.ID
	}
	err = s.call(ctx, models.SourceCRM, func(ctx context.Context, sys connectors.System) error {
		return sys.AddTag(ctx, crmID, tag)
	})
	if err != nil {
		// the message is out; retrying would send it twice
		zerolog.Ctx(ctx).Warn().Err(err).Str("target_id", crmID).Msg("broadcast sent but crm tag failed")
		out.message = strings.TrimSpace(out.message + "; crm tag failed: " + err.Error())
	}
	return out, nil
}

// send is the only path to the messaging system's send endpoint. It checks
// consent itself so no caller can skip it.
func (s *Synchronizer) send(ctx context.Context, msg connectors.Message) (*connectors.Receipt, error) {
	if err := s.checkSend(ctx, msg.To); err != nil {
		return nil, err
	}
	var receipt *connectors.Receipt
	err := s.call(ctx, models.SourceMessaging, func(ctx context.Context, sys connectors.System) (err error) {
		receipt, err = sys.SendMessage(ctx, msg)
		return err
	})
	return receipt, err
}

func (s *Synchronizer) checkSend(ctx context.Context, phone string) error {
	err := s.guard.CheckSend(ctx, phone)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, compliance.ErrOptedOut):
		return resilience.Permanent(err)
	default:
		return resilience.Transient(err)
	}
}

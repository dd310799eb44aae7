package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"hooksync/internal/engine/compliance"
	"hooksync/internal/engine/connectors"
	"hooksync/internal/engine/resilience"
	"hooksync/internal/platform/models"
	"hooksync/internal/platform/repositories"
)

var errNoIdentity = errors.New("no id, phone or email to identify the contact")

// person is what an event tells us about who it concerns.
type person struct {
	system string
	id     string
	phone  string
	email  string
}

func newPerson(system, id, phone, email string) person {
	normalized := compliance.NormalizePhone(phone)
	return person{
		system: system,
		id:     strings.TrimSpace(id),
		phone:  normalized,
		email:  strings.ToLower(strings.TrimSpace(email)),
	}
}

// resolveIdentity finds the mapping for p by its own system id, then phone,
// then email, creating one when none exists. A concurrent creator winning the
// insert is resolved by reading its row.
func (s *Synchronizer) resolveIdentity(ctx context.Context, p person) (*models.IdentityMapping, error) {
	if p.id == "" && p.phone == "" && p.email == "" {
		return nil, resilience.Permanent(errNoIdentity)
	}
	now := s.now().Unix()

	for attempt := 0; attempt < 2; attempt++ {
		m, err := s.lookupIdentity(ctx, p)
		if err != nil {
			return nil, resilience.Transient(fmt.Errorf("resolve identity: %w", err))
		}
		if m != nil {
			if p.id != "" && hasColumn(p.system) && m.SystemID(p.system) == "" {
				if err := s.identities.Link(ctx, m.ID, p.system, p.id, p.phone, p.email, now); err != nil {
					return nil, resilience.Transient(fmt.Errorf("link identity: %w", err))
				}
				setSystemID(m, p.system, p.id)
			}
			return m, nil
		}

		m = &models.IdentityMapping{Phone: optional(p.phone), Email: optional(p.email)}
		if hasColumn(p.system) {
			setSystemID(m, p.system, p.id)
		}
		err = s.identities.Create(ctx, m, now)
		if err == nil {
			zerolog.Ctx(ctx).Debug().Str("mapping_id", m.ID).Msg("identity mapping created")
			return m, nil
		}
		if !errors.Is(err, repositories.ErrDuplicate) {
			return nil, resilience.Transient(fmt.Errorf("create identity: %w", err))
		}
	}
	return nil, resilience.Transient(errors.New("resolve identity: mapping contended"))
}

func (s *Synchronizer) lookupIdentity(ctx context.Context, p person) (*models.IdentityMapping, error) {
	if p.id != "" && hasColumn(p.system) {
		m, err := s.identities.FindBySystemID(ctx, p.system, p.id)
		if err != nil || m != nil {
			return m, err
		}
	}
	m, err := s.identities.FindByPhone(ctx, p.phone)
	if err != nil || m != nil {
		return m, err
	}
	return s.identities.FindByEmail(ctx, p.email)
}

// targetContact loads the contact the mapping points at in target, falling
// back to a search by phone and email. It returns nil when target has no match.
func (s *Synchronizer) targetContact(ctx context.Context, target string, m *models.IdentityMapping, p person) (*connectors.Contact, error) {
	if id := m.SystemID(target); id != "" {
		var c *connectors.Contact
		err := s.call(ctx, target, func(ctx context.Context, sys connectors.System) (err error) {
			c, err = sys.GetContact(ctx, id)
			return err
		})
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, connectors.ErrNotFound) {
			return nil, err
		}
		zerolog.Ctx(ctx).Info().Str("target", target).Str("target_id", id).Msg("mapped contact gone, searching")
	}

	if p.phone == "" && p.email == "" {
		return nil, nil
	}
	var found []connectors.Contact
	err := s.call(ctx, target, func(ctx context.Context, sys connectors.System) (err error) {
		found, err = sys.SearchContacts(ctx, p.phone, p.email)
		return err
	})
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return &found[0], nil
}

// crmContactID resolves p to a CRM contact id, creating the CRM contact from
// phone and email when no match exists.
func (s *Synchronizer) crmContactID(ctx context.Context, p person) (string, error) {
	m, err := s.resolveIdentity(ctx, p)
	if err != nil {
		return "", err
	}
	existing, err := s.targetContact(ctx, models.SourceCRM, m, p)
	if err != nil {
		return "", err
	}

	id := ""
	if existing != nil {
		id = existing.ID
	} else {
		var created *connectors.Contact
		err = s.call(ctx, models.SourceCRM, func(ctx context.Context, sys connectors.System) (err error) {
			created, err = sys.UpsertContact(ctx, connectors.Contact{Phone: p.phone, Email: p.email})
			return err
		})
		if err != nil {
			return "", err
		}
		id = created.ID
	}

	if m.SystemID(models.SourceCRM) != id {
		if err := s.identities.Link(ctx, m.ID, models.SourceCRM, id, p.phone, p.email, s.now().Unix()); err != nil {
			return "", resilience.Transient(fmt.Errorf("link identity: %w", err))
		}
	}
	return id, nil
}

func hasColumn(system string) bool {
	switch system {
	case models.SourceCRM, models.SourceTelephony, models.SourceMessaging:
		return true
	}
	return false
}

func setSystemID(m *models.IdentityMapping, system, id string) {
	v := optional(id)
	switch system {
	case models.SourceCRM:
		m.CRMID = v
	case models.SourceTelephony:
		m.TelephonyID = v
	case models.SourceMessaging:
		m.MessagingID = v
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

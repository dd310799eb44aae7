package merge

import (
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

var e164 = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// IsE164 reports whether phone is in strict E.164 form.
func IsE164(phone string) bool {
	return e164.MatchString(phone)
}

// Reasons recorded in decisions.
const (
	ReasonEqual         = "equal"
	ReasonOnlyValue     = "only_value"
	ReasonE164          = "e164_format"
	ReasonExistingSet   = "existing_set"
	ReasonPrimarySource = "primary_source"
	ReasonLonger        = "longer_value"
	ReasonUnion         = "union"
	ReasonMostRecent    = "most_recent"
)

type Decision struct {
	Field         string `json:"field"`
	ChosenValue   string `json:"chosen_value"`
	ChosenSource  string `json:"chosen_source"`
	Reason        string `json:"reason"`
	RejectedValue string `json:"rejected_value,omitempty"`
}

type Options struct {
	// PrimarySource wins email, name-tie and attribute conflicts.
	PrimarySource string
}

// Merge folds incoming into existing. Output depends only on its inputs.
func Merge(existing, incoming Record, opts Options) (Record, []Decision) {
	m := &merger{existing: existing, incoming: incoming, primary: opts.PrimarySource}

	out := Record{
		Source: existing.Source,
		ID:     existing.ID,
	}
	if out.Source == "" {
		out.Source = incoming.Source
	}
	if out.ID == "" {
		out.ID = incoming.ID
	}

	out.Phone = m.phone()
	out.Email = m.email()
	out.FirstName, out.LastName = m.name()
	out.Tags = m.tags()
	out.Attributes = m.attributes()
	out.UpdatedAt = m.updatedAt()

	return out, m.decisions
}

type merger struct {
	existing  Record
	incoming  Record
	primary   string
	decisions []Decision
}

func (m *merger) decide(field, value, source, reason, rejected string) {
	m.decisions = append(m.decisions, Decision{
		Field:         field,
		ChosenValue:   value,
		ChosenSource:  source,
		Reason:        reason,
		RejectedValue: rejected,
	})
}

// preferIncoming reports whether incoming beats existing when the rules tie.
func (m *merger) preferIncoming() bool {
	return m.primary != "" && m.incoming.Source == m.primary && m.existing.Source != m.primary
}

func (m *merger) phone() string {
	a, b := strings.TrimSpace(m.existing.Phone), strings.TrimSpace(m.incoming.Phone)
	switch {
	case a == "" && b == "":
		return ""
	case a == b:
		m.decide("phone", a, m.existing.Source, ReasonEqual, "")
		return a
	case a == "":
		m.decide("phone", b, m.incoming.Source, ReasonOnlyValue, "")
		return b
	case b == "":
		m.decide("phone", a, m.existing.Source, ReasonOnlyValue, "")
		return a
	}

	aOK, bOK := IsE164(a), IsE164(b)
	if bOK && !aOK {
		m.decide("phone", b, m.incoming.Source, ReasonE164, a)
		return b
	}
	if aOK && !bOK {
		m.decide("phone", a, m.existing.Source, ReasonE164, b)
		return a
	}
	m.decide("phone", a, m.existing.Source, ReasonExistingSet, b)
	return a
}

func (m *merger) email() string {
	a, b := strings.TrimSpace(m.existing.Email), strings.TrimSpace(m.incoming.Email)
	switch {
	case a == "" && b == "":
		return ""
	case strings.EqualFold(a, b):
		m.decide("email", a, m.existing.Source, ReasonEqual, "")
		return a
	case a == "":
		m.decide("email", b, m.incoming.Source, ReasonOnlyValue, "")
		return b
	case b == "":
		m.decide("email", a, m.existing.Source, ReasonOnlyValue, "")
		return a
	}

	if m.preferIncoming() {
		m.decide("email", b, m.incoming.Source, ReasonPrimarySource, a)
		return b
	}
	m.decide("email", a, m.existing.Source, ReasonPrimarySource, b)
	return a
}

func (m *merger) name() (string, string) {
	a, b := m.existing.FullName(), m.incoming.FullName()
	pick := func(r Record, reason, rejected string) (string, string) {
		m.decide("name", r.FullName(), r.Source, reason, rejected)
		return strings.TrimSpace(r.FirstName), strings.TrimSpace(r.LastName)
	}

	switch {
	case a == "" && b == "":
		return "", ""
	case a == b:
		return pick(m.existing, ReasonEqual, "")
	case a == "":
		return pick(m.incoming, ReasonOnlyValue, "")
	case b == "":
		return pick(m.existing, ReasonOnlyValue, "")
	}

	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	switch {
	case lb > la:
		return pick(m.incoming, ReasonLonger, a)
	case la > lb:
		return pick(m.existing, ReasonLonger, b)
	case m.preferIncoming():
		return pick(m.incoming, ReasonPrimarySource, a)
	default:
		return pick(m.existing, ReasonPrimarySource, b)
	}
}

// tags is a case-insensitive union. The first spelling seen wins, existing first.
func (m *merger) tags() []string {
	seen := make(map[string]string)
	for _, list := range [][]string{m.existing.Tags, m.incoming.Tags} {
		for _, t := range list {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			key := strings.ToLower(t)
			if _, ok := seen[key]; !ok {
				seen[key] = t
			}
		}
	}
	if len(seen) == 0 {
		return nil
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, seen[k])
	}
	m.decide("tags", strings.Join(out, ","), m.existing.Source+"+"+m.incoming.Source, ReasonUnion, "")
	return out
}

func (m *merger) attributes() map[string]string {
	union := make(map[string]string)
	for k, v := range m.existing.Attributes {
		union[k] = v
	}
	for k, v := range m.incoming.Attributes {
		union[k] = v
	}
	if len(union) == 0 {
		return nil
	}

	out := make(map[string]string, len(union))
	for _, k := range sortedKeys(union) {
		a, aOK := m.existing.Attributes[k]
		b, bOK := m.incoming.Attributes[k]
		field := "attributes." + k
		switch {
		case aOK && !bOK:
			out[k] = a
		case bOK && !aOK:
			out[k] = b
		case a == b:
			out[k] = a
		case m.preferIncoming():
			out[k] = b
			m.decide(field, b, m.incoming.Source, ReasonPrimarySource, a)
		default:
			out[k] = a
			m.decide(field, a, m.existing.Source, ReasonPrimarySource, b)
		}
	}
	return out
}

func (m *merger) updatedAt() (t time.Time) {
	if m.incoming.UpdatedAt.After(m.existing.UpdatedAt) {
		t = m.incoming.UpdatedAt
		m.decide("updated_at", t.UTC().Format(time.RFC3339), m.incoming.Source, ReasonMostRecent, "")
		return t
	}
	t = m.existing.UpdatedAt
	if !t.IsZero() {
		m.decide("updated_at", t.UTC().Format(time.RFC3339), m.existing.Source, ReasonMostRecent, "")
	}
	return t
}

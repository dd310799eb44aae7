// Package connectortest provides an in-memory connectors.System for tests.
package connectortest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"hooksync/internal/engine/connectors"
)

type Fake struct {
	name string

	mu       sync.Mutex
	nextID   int
	contacts map[string]connectors.Contact
	notes    map[string][]string
	tags     map[string][]string
	sent     []connectors.Message
	calls    map[string]int

	// Err, when set, is returned by every call named in FailOn (all calls if empty).
	Err    error
	FailOn map[string]bool
}

func New(name string) *Fake {
	return &Fake{
		name:     name,
		contacts: map[string]connectors.Contact{},
		notes:    map[string][]string{},
		tags:     map[string][]string{},
		calls:    map[string]int{},
	}
}

func (f *Fake) Name() string { return f.name }

func (f *Fake) enter(op string) error {
	f.calls[op]++
	if f.Err != nil && (len(f.FailOn) == 0 || f.FailOn[op]) {
		return f.Err
	}
	return nil
}

// Seed stores c as if it already existed remotely and returns its id.
func (f *Fake) Seed(c connectors.Contact) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.ID == "" {
		f.nextID++
		c.ID = fmt.Sprintf("%s-%d", f.name, f.nextID)
	}
	f.contacts[c.ID] = c
	return c.ID
}

func (f *Fake) GetContact(ctx context.Context, id string) (*connectors.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("get_contact"); err != nil {
		return nil, err
	}
	c, ok := f.contacts[id]
	if !ok {
		return nil, connectors.ErrNotFound
	}
	return &c, nil
}

func (f *Fake) SearchContacts(ctx context.Context, phone, email string) ([]connectors.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("search_contacts"); err != nil {
		return nil, err
	}
	var out []connectors.Contact
	for _, c := range f.contacts {
		if (phone != "" && c.Phone == phone) || (email != "" && strings.EqualFold(c.Email, email)) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *Fake) UpsertContact(ctx context.Context, c connectors.Contact) (*connectors.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("upsert_contact"); err != nil {
		return nil, err
	}
	if c.ID == "" {
		f.nextID++
		c.ID = fmt.Sprintf("%s-%d", f.name, f.nextID)
	}
	f.contacts[c.ID] = c
	return &c, nil
}

func (f *Fake) AddNote(ctx context.Context, contactID, note string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("add_note"); err != nil {
		return err
	}
	f.notes[contactID] = append(f.notes[contactID], note)
	return nil
}

func (f *Fake) AddTag(ctx context.Context, contactID, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("add_tag"); err != nil {
		return err
	}
	for _, t := range f.tags[contactID] {
		if t == tag {
			return nil
		}
	}
	f.tags[contactID] = append(f.tags[contactID], tag)
	return nil
}

func (f *Fake) RemoveTag(ctx context.Context, contactID, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("remove_tag"); err != nil {
		return err
	}
	kept := f.tags[contactID][:0]
	for _, t := range f.tags[contactID] {
		if t != tag {
			kept = append(kept, t)
		}
	}
	f.tags[contactID] = kept
	return nil
}

func (f *Fake) SendMessage(ctx context.Context, msg connectors.Message) (*connectors.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("send_message"); err != nil {
		return nil, err
	}
	f.sent = append(f.sent, msg)
	return &connectors.Receipt{ID: fmt.Sprintf("msg-%d", len(f.sent)), Status: "queued"}, nil
}

func (f *Fake) Contacts() []connectors.Contact {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]connectors.Contact, 0, len(f.contacts))
	for _, c := range f.contacts {
		out = append(out, c)
	}
	return out
}

func (f *Fake) Notes(contactID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.notes[contactID]...)
}

func (f *Fake) Tags(contactID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tags[contactID]...)
}

func (f *Fake) Sent() []connectors.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]connectors.Message(nil), f.sent...)
}

func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Reset clears the injected failure.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Err = nil
	f.FailOn = nil
}

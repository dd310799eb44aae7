// Package connectors talks to the external CRM, telephony and messaging systems
// over their HTTP JSON APIs.
package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"hooksync/internal/engine/resilience"
	"hooksync/internal/platform/config"
	"hooksync/internal/platform/metrics"
)

// ErrNotFound is returned when the remote record does not exist.
var ErrNotFound = errors.New("remote record not found")

type Contact struct {
	ID         string            `json:"id,omitempty"`
	Phone      string            `json:"phone,omitempty"`
	Email      string            `json:"email,omitempty"`
	FirstName  string            `json:"first_name,omitempty"`
	LastName   string            `json:"last_name,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	DoNotCall  bool              `json:"do_not_call,omitempty"`
	UpdatedAt  int64             `json:"updated_at,omitempty"`
}

type Message struct {
	To         string `json:"to"`
	Body       string `json:"body"`
	CampaignID string `json:"campaign_id,omitempty"`
}

type Receipt struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// System is what a synchronizer may ask of an external platform.
type System interface {
	Name() string
	GetContact(ctx context.Context, id string) (*Contact, error)
	SearchContacts(ctx context.Context, phone, email string) ([]Contact, error)
	UpsertContact(ctx context.Context, c Contact) (*Contact, error)
	AddNote(ctx context.Context, contactID, note string) error
	AddTag(ctx context.Context, contactID, tag string) error
	RemoveTag(ctx context.Context, contactID, tag string) error
	SendMessage(ctx context.Context, msg Message) (*Receipt, error)
}

// Client is the HTTP implementation of System.
type Client struct {
	name    string
	baseURL string
	token   string
	client  *http.Client
}

func NewClient(name string, cfg config.ConnectorConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		name:    name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) Name() string { return c.name }

func (c *Client) GetContact(ctx context.Context, id string) (*Contact, error) {
	var out Contact
	if err := c.do(ctx, "get_contact", http.MethodGet, "/contacts/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SearchContacts(ctx context.Context, phone, email string) ([]Contact, error) {
	q := url.Values{}
	if phone != "" {
		q.Set("phone", phone)
	}
	if email != "" {
		q.Set("email", email)
	}
	var out struct {
		Results []Contact `json:"results"`
	}
	if err := c.do(ctx, "search_contacts", http.MethodGet, "/contacts?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (c *Client) UpsertContact(ctx context.Context, contact Contact) (*Contact, error) {
	var out Contact
	method, path := http.MethodPost, "/contacts"
	if contact.ID != "" {
		method, path = http.MethodPut, "/contacts/"+url.PathEscape(contact.ID)
	}
	if err := c.do(ctx, "upsert_contact", method, path, contact, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AddNote(ctx context.Context, contactID, note string) error {
	body := map[string]string{"body": note}
	return c.do(ctx, "add_note", http.MethodPost, "/contacts/"+url.PathEscape(contactID)+"/notes", body, nil)
}

func (c *Client) AddTag(ctx context.Context, contactID, tag string) error {
	body := map[string]string{"tag": tag}
	return c.do(ctx, "add_tag", http.MethodPost, "/contacts/"+url.PathEscape(contactID)+"/tags", body, nil)
}

func (c *Client) RemoveTag(ctx context.Context, contactID, tag string) error {
	path := "/contacts/" + url.PathEscape(contactID) + "/tags/" + url.PathEscape(tag)
	return c.do(ctx, "remove_tag", http.MethodDelete, path, nil, nil)
}

func (c *Client) SendMessage(ctx context.Context, msg Message) (*Receipt, error) {
	var out Receipt
	if err := c.do(ctx, "send_message", http.MethodPost, "/messages", msg, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out interface{}) (err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.ExternalCalls.WithLabelValues(c.name, op, outcome).Inc()
		metrics.ExternalCallDuration.WithLabelValues(c.name, op).Observe(time.Since(start).Seconds())
	}()

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return resilience.Permanent(fmt.Errorf("%s %s: encode: %w", c.name, op, err))
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return resilience.Permanent(fmt.Errorf("%s %s: %w", c.name, op, err))
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", c.name, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && method == http.MethodGet {
		io.Copy(io.Discard, resp.Body)
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &resilience.StatusError{Service: c.name, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s %s: decode response: %w", c.name, op, err)
	}
	return nil
}

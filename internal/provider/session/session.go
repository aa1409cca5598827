// Package session implements the unofficial session-based provider variant.
// There is no messaging-window restriction, and message edit, delete and
// react are first-class calls on the session API.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/model"
	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/provider"
)

type Adapter struct {
	url    string
	token  string
	client *http.Client
}

func New(url, token string) *Adapter {
	return &Adapter{
		url:   url,
		token: token,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (a *Adapter) Kind() model.ProviderKind {
	return model.Unofficial
}

func (a *Adapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		Edit:   true,
		Delete: true,
		React:  true,
	}
}

type sendRequest struct {
	Phone    string `json:"phone"`
	Kind     string `json:"kind"`
	Body     string `json:"body,omitempty"`
	MediaURL string `json:"mediaUrl,omitempty"`
	Mime     string `json:"mime,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type sendResponse struct {
	MessageID string `json:"messageId"`
}

func (a *Adapter) Send(ctx context.Context, in provider.SendInput) (string, error) {
	req := sendRequest{
		Phone: in.To,
		Kind:  string(in.Message.Kind),
		Body:  in.Message.Body,
	}
	if in.Message.Attachment != nil {
		req.MediaURL = in.Message.Attachment.URL
		req.Mime = in.Message.Attachment.Mime
		req.Filename = in.Message.Attachment.Filename
	}

	var resp sendResponse
	if err := a.post(ctx, "/messages", req, &resp); err != nil {
		return "", err
	}
	if resp.MessageID == "" {
		return "", fmt.Errorf("missing messageId in session response")
	}
	return resp.MessageID, nil
}

func (a *Adapter) EditMessage(ctx context.Context, account model.Account, providerMessageID, body string) error {
	return a.post(ctx, "/messages/"+providerMessageID+"/edit", map[string]string{"body": body}, nil)
}

func (a *Adapter) DeleteMessage(ctx context.Context, account model.Account, providerMessageID string) error {
	return a.post(ctx, "/messages/"+providerMessageID+"/revoke", map[string]string{}, nil)
}

func (a *Adapter) React(ctx context.Context, account model.Account, providerMessageID, emoji string) error {
	return a.post(ctx, "/messages/"+providerMessageID+"/react", map[string]string{"emoji": emoji}, nil)
}

func (a *Adapter) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.client.Do(req)
	if err != nil {
		return provider.WrapTransient("network", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return provider.FromHTTPStatus(resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode json: %w body=%q", err, string(respBody))
		}
	}
	return nil
}

// Session webhook events arrive one per request. Ack levels follow the
// session protocol: 2 is delivered, 3 is read.
type webhookEvent struct {
	Event     string `json:"event"`
	MessageID string `json:"messageId"`
	Phone     string `json:"phone"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Body      string `json:"body"`
	MediaURL  string `json:"mediaUrl"`
	Mime      string `json:"mime"`
	Filename  string `json:"filename"`
	Ack       int    `json:"ack"`
	Emoji     string `json:"emoji"`
	Actor     string `json:"actor"`
	Timestamp int64  `json:"timestamp"`
}

func (a *Adapter) ParseWebhook(payload []byte) ([]provider.InboundEvent, error) {
	var we webhookEvent
	if err := json.Unmarshal(payload, &we); err != nil {
		return nil, fmt.Errorf("failed to decode webhook payload: %w", err)
	}

	ev := provider.InboundEvent{
		ProviderMessageID: we.MessageID,
		From:              we.Phone,
		FromName:          we.Name,
	}
	// A zero timestamp means the server sent none; leave OccurredAt unset
	// rather than anchoring anything to the epoch.
	if we.Timestamp > 0 {
		ev.OccurredAt = time.Unix(we.Timestamp, 0).UTC()
	}

	switch we.Event {
	case "message":
		ev.Type = provider.EventMessage
		ev.Kind = model.Kind(we.Kind)
		if ev.Kind == "" {
			ev.Kind = model.KindText
		}
		ev.Body = we.Body
		if we.MediaURL != "" {
			ev.Attachment = &model.Attachment{URL: we.MediaURL, Mime: we.Mime, Filename: we.Filename}
		}
	case "ack":
		ev.Type = provider.EventStatus
		switch we.Ack {
		case 2:
			ev.Status = model.Delivered
		case 3:
			ev.Status = model.Read
		default:
			// ack 1 is the server echo; nothing to reconcile.
			return nil, nil
		}
	case "reaction":
		ev.Type = provider.EventReaction
		ev.Emoji = we.Emoji
		ev.Actor = we.Actor
	case "edit":
		ev.Type = provider.EventEdit
		ev.Body = we.Body
	case "revoke":
		ev.Type = provider.EventDelete
	default:
		return nil, fmt.Errorf("unsupported session event %q", we.Event)
	}

	return []provider.InboundEvent{ev}, nil
}

// Package cloud implements the official-API provider variant. Freeform
// sends are rejected outside the 24h customer-service window; interactive
// payloads bypass the check. Edit and delete are not supported by this API.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
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
			Timeout: 10 * time.Second,
		},
	}
}

func (a *Adapter) Kind() model.ProviderKind {
	return model.Official
}

func (a *Adapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		React:            true,
		WindowRestricted: true,
	}
}

type textPayload struct {
	Body string `json:"body"`
}

type mediaPayload struct {
	Link     string `json:"link"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type sendRequest struct {
	To          string          `json:"to"`
	Type        string          `json:"type"`
	Text        *textPayload    `json:"text,omitempty"`
	Media       *mediaPayload   `json:"media,omitempty"`
	Interactive json.RawMessage `json:"interactive,omitempty"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

func (a *Adapter) Send(ctx context.Context, in provider.SendInput) (string, error) {
	if in.Message.Kind.Freeform() && !in.WindowActive {
		return "", provider.NewSendError(provider.ClassPolicy, "window_expired",
			"freeform message outside the 24h customer-service window")
	}

	req, err := buildSendRequest(in)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return "", provider.WrapTransient("network", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", provider.FromHTTPStatus(resp.StatusCode, string(respBody))
	}

	var sr sendResponse
	if err := json.Unmarshal(respBody, &sr); err != nil {
		return "", fmt.Errorf("failed to decode json: %w body=%q", err, string(respBody))
	}
	if len(sr.Messages) == 0 || sr.Messages[0].ID == "" {
		return "", fmt.Errorf("missing message id in response body=%q", string(respBody))
	}

	return sr.Messages[0].ID, nil
}

func buildSendRequest(in provider.SendInput) (*sendRequest, error) {
	req := &sendRequest{To: in.To}

	switch in.Message.Kind {
	case model.KindText:
		req.Type = "text"
		req.Text = &textPayload{Body: in.Message.Body}
	case model.KindImage, model.KindVideo, model.KindAudio, model.KindDocument:
		if in.Message.Attachment == nil {
			return nil, provider.NewSendError(provider.ClassValidation, "missing_attachment",
				fmt.Sprintf("%s message without attachment", in.Message.Kind))
		}
		req.Type = string(in.Message.Kind)
		req.Media = &mediaPayload{
			Link:     in.Message.Attachment.URL,
			Caption:  in.Message.Body,
			Filename: in.Message.Attachment.Filename,
		}
	case model.KindButtons:
		if !json.Valid([]byte(in.Message.Body)) {
			return nil, provider.NewSendError(provider.ClassValidation, "invalid_interactive",
				"buttons body must be a JSON interactive payload")
		}
		req.Type = "interactive"
		req.Interactive = json.RawMessage(in.Message.Body)
	default:
		return nil, provider.NewSendError(provider.ClassValidation, "unsupported_kind",
			fmt.Sprintf("unsupported message kind %q", in.Message.Kind))
	}

	return req, nil
}

// React sends an emoji reaction referencing an existing provider message.
func (a *Adapter) React(ctx context.Context, account model.Account, providerMessageID, emoji string) error {
	body, err := json.Marshal(map[string]any{
		"type": "reaction",
		"reaction": map[string]string{
			"message_id": providerMessageID,
			"emoji":      emoji,
		},
	})
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url+"/messages", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return provider.WrapTransient("network", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return provider.FromHTTPStatus(resp.StatusCode, string(respBody))
	}
	return nil
}

// Webhook payload shape of the official API: batched entries, each carrying
// inbound messages and delivery statuses.
type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []webhookMessage `json:"messages"`
				Statuses []webhookStatus  `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type webhookMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image    *webhookMedia `json:"image"`
	Video    *webhookMedia `json:"video"`
	Audio    *webhookMedia `json:"audio"`
	Document *webhookMedia `json:"document"`
	Profile  *struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type webhookMedia struct {
	Link     string `json:"link"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
}

type webhookStatus struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func (a *Adapter) ParseWebhook(payload []byte) ([]provider.InboundEvent, error) {
	var wp webhookPayload
	if err := json.Unmarshal(payload, &wp); err != nil {
		return nil, fmt.Errorf("failed to decode webhook payload: %w", err)
	}

	var events []provider.InboundEvent
	for _, entry := range wp.Entry {
		for _, change := range entry.Changes {
			for _, m := range change.Value.Messages {
				ev, err := messageEvent(m)
				if err != nil {
					return nil, err
				}
				events = append(events, ev)
			}
			for _, s := range change.Value.Statuses {
				ev, ok := statusEvent(s)
				if !ok {
					continue
				}
				events = append(events, ev)
			}
		}
	}
	return events, nil
}

func messageEvent(m webhookMessage) (provider.InboundEvent, error) {
	ev := provider.InboundEvent{
		Type:              provider.EventMessage,
		ProviderMessageID: m.ID,
		From:              m.From,
		OccurredAt:        parseUnix(m.Timestamp),
	}
	if m.Profile != nil {
		ev.FromName = m.Profile.Name
	}

	switch m.Type {
	case "text":
		ev.Kind = model.KindText
		if m.Text != nil {
			ev.Body = m.Text.Body
		}
	case "image", "video", "audio", "document":
		ev.Kind = model.Kind(m.Type)
		media := firstMedia(m)
		if media != nil {
			ev.Body = media.Caption
			ev.Attachment = &model.Attachment{
				URL:      media.Link,
				Mime:     media.MimeType,
				Filename: media.Filename,
			}
		}
	default:
		return provider.InboundEvent{}, fmt.Errorf("unsupported inbound message type %q", m.Type)
	}

	return ev, nil
}

func statusEvent(s webhookStatus) (provider.InboundEvent, bool) {
	var status model.Status
	switch s.Status {
	case "delivered":
		status = model.Delivered
	case "read":
		status = model.Read
	default:
		// "sent" echoes and unknown statuses carry no new information.
		return provider.InboundEvent{}, false
	}

	return provider.InboundEvent{
		Type:              provider.EventStatus,
		ProviderMessageID: s.ID,
		Status:            status,
		OccurredAt:        parseUnix(s.Timestamp),
	}, true
}

func firstMedia(m webhookMessage) *webhookMedia {
	for _, candidate := range []*webhookMedia{m.Image, m.Video, m.Audio, m.Document} {
		if candidate != nil {
			return candidate
		}
	}
	return nil
}

func parseUnix(raw string) time.Time {
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

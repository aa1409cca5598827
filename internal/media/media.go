// Package media validates outbound attachments and talks to the attachment
// store. The engine never buffers raw media: callers upload first, then
// create the message referencing the returned URL. Inbound media URLs are
// stored as passthrough references without re-upload.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/provider"
)

// Store is the attachment storage boundary.
type Store interface {
	Upload(ctx context.Context, r io.Reader, size int64, contentType, filename string) (string, error)
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)
}

var allowedMimePrefixes = []string{
	"image/",
	"video/",
	"audio/",
	"application/pdf",
	"application/msword",
	"application/vnd",
	"text/",
}

// Validate fast-fails oversize, empty, or unsupported payloads before any
// upload is attempted.
func Validate(size, maxBytes int64, contentType string) error {
	if size <= 0 {
		return provider.NewSendError(provider.ClassValidation, "empty_attachment", "attachment is empty")
	}
	if size > maxBytes {
		return provider.NewSendError(provider.ClassValidation, "attachment_too_large",
			fmt.Sprintf("attachment of %d bytes exceeds the %d byte limit", size, maxBytes))
	}

	ct := strings.ToLower(strings.TrimSpace(contentType))
	for _, prefix := range allowedMimePrefixes {
		if strings.HasPrefix(ct, prefix) {
			return nil
		}
	}
	return provider.NewSendError(provider.ClassValidation, "unsupported_mime",
		fmt.Sprintf("content type %q is not accepted", contentType))
}

// HTTPStore uploads attachments to the external attachment service.
type HTTPStore struct {
	url    string
	token  string
	client *http.Client
}

func NewHTTPStore(url, token string, timeout time.Duration) *HTTPStore {
	return &HTTPStore{
		url:   url,
		token: token,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type uploadResponse struct {
	URL string `json:"url"`
}

func (s *HTTPStore) Upload(ctx context.Context, r io.Reader, size int64, contentType, filename string) (string, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, r); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		_ = pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/upload", pr)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Upload-Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.ContentLength = -1

	resp, err := s.client.Do(req)
	if err != nil {
		return "", provider.WrapTransient("upload_network", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", provider.FromHTTPStatus(resp.StatusCode, string(body))
	}

	var ur uploadResponse
	if err := json.Unmarshal(body, &ur); err != nil {
		return "", fmt.Errorf("failed to decode json: %w body=%q", err, string(body))
	}
	if ur.URL == "" {
		return "", fmt.Errorf("missing url in upload response body=%q", string(body))
	}
	return ur.URL, nil
}

type signedURLResponse struct {
	URL string `json:"url"`
}

func (s *HTTPStore) SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	q := url.Values{}
	q.Set("path", path)
	q.Set("ttl_seconds", fmt.Sprintf("%d", int(ttl.Seconds())))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url+"/sign?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", provider.WrapTransient("sign_network", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", provider.FromHTTPStatus(resp.StatusCode, string(body))
	}

	var sr signedURLResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", fmt.Errorf("failed to decode json: %w body=%q", err, string(body))
	}
	if sr.URL == "" {
		return "", fmt.Errorf("missing url in sign response body=%q", string(body))
	}
	return sr.URL, nil
}

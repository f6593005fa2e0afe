package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// WhatsApp sends text messages through the WhatsApp Cloud API.
type WhatsApp struct {
	apiURL  string
	phoneID string
	token   string
	http    *http.Client
}

func NewWhatsApp(apiURL, phoneID, token string) *WhatsApp {
	return &WhatsApp{
		apiURL:  strings.TrimRight(apiURL, "/"),
		phoneID: phoneID,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Configured reports whether credentials are present.
func (w *WhatsApp) Configured() bool {
	return w.token != "" && w.phoneID != ""
}

type whatsAppText struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

func (w *WhatsApp) SendAbsenceAlert(ctx context.Context, n Notice) error {
	if !w.Configured() {
		return errors.New("whatsapp credentials not configured")
	}
	if n.Contact == "" {
		return errors.New("notice has no contact")
	}

	msg := whatsAppText{MessagingProduct: "whatsapp", To: strings.TrimPrefix(n.Contact, "+"), Type: "text"}
	msg.Text.Body = n.Text()
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/%s/messages", w.apiURL, w.phoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+w.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("whatsapp error %s: %s", resp.Status, string(respBody))
	}
	return nil
}

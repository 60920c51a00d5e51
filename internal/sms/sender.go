package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/mohmad1412-cmd/abeely-sub001/internal/config"
)

// Sender defines the interface for sending SMS messages.
type Sender interface {
	Send(ctx context.Context, phone string, message string) error
}

// GatewaySender implements the Sender interface against an HTTP SMS gateway.
type GatewaySender struct {
	cfg        *config.Config
	httpClient *http.Client
}

// NewGatewaySender creates a new GatewaySender.
// It returns Sender so we can easily swap implementations (e.g., for testing).
func NewGatewaySender(cfg *config.Config) Sender {
	if cfg.SmsGatewayURL == "" { // If no gateway configured, use a mock/logging sender
		log.Println("SMS gateway not configured, using logging SMS sender.")
		return &LoggingSender{cfg: cfg}
	}

	return &GatewaySender{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type gatewayPayload struct {
	To      string `json:"to"`
	From    string `json:"from"`
	Message string `json:"message"`
}

// Send posts the message to the gateway.
func (s *GatewaySender) Send(ctx context.Context, phone string, message string) error {
	payload, err := json.Marshal(gatewayPayload{
		To:      phone,
		From:    s.cfg.SmsFromName,
		Message: message,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal SMS payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.SmsGatewayURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build SMS gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.SmsGatewayToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.SmsGatewayToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		log.Printf("Failed to send SMS via gateway to %s: %v", phone, err)
		return fmt.Errorf("sms gateway error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sms gateway returned status %d: %s", resp.StatusCode, string(body))
	}

	log.Printf("SMS sent successfully via gateway to %s", phone)
	return nil
}

// LoggingSender is a mock implementation that just logs SMS details.
// Useful for development or when no gateway is configured.
type LoggingSender struct {
	cfg *config.Config
}

// Send logs the SMS details instead of sending.
func (s *LoggingSender) Send(ctx context.Context, phone string, message string) error {
	log.Printf("--- Sending SMS (Logged) ---")
	log.Printf("To: %s", phone)
	log.Printf("From: %s", s.cfg.SmsFromName)
	log.Printf("Message: %s", message)
	log.Println("--- End SMS ---")
	return nil
}

// Package formbar is the client for the external Formbar wallet service, the
// rail that actually moves digipogs between identities. Every call carries a
// fresh request id so a response (or its absence) can be reconciled against
// the gateway's own logs; the contract itself has no idempotency token, so a
// timeout never reveals whether the transfer happened.
package formbar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/csmith1188/FormBank/internal/common"
	"github.com/csmith1188/FormBank/internal/config"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// transferTimeout bounds how long a transfer call may take. Expiry is
// reported as common.ErrGatewayTimeout, which is ambiguous: the external
// system may or may not have acted.
const transferTimeout = 10 * time.Second

// Client handles integration with the Formbar digipog service
type Client struct {
	url    string
	apiKey string
	client *http.Client
	log    *logrus.Logger
}

// NewClient initializes a new Formbar client
func NewClient(cfg *config.Config, log *logrus.Logger) *Client {
	return &Client{
		url:    cfg.FormbarURL,
		apiKey: cfg.APIKey,
		client: &http.Client{
			Timeout: transferTimeout,
		},
		log: log,
	}
}

// TransferRequest describes one digipog transfer between two identities
type TransferRequest struct {
	From   int64
	To     int64
	Amount int64
	PIN    string
	Reason string
	Pool   bool
}

type transferPayload struct {
	RequestID string `json:"request_id"`
	From      int64  `json:"from"`
	To        int64  `json:"to"`
	Amount    int64  `json:"amount"`
	PIN       int    `json:"pin"`
	Reason    string `json:"reason"`
	Pool      bool   `json:"pool,omitempty"`
}

type transferResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Transfer moves digipogs from one identity to another. A nil return means
// the gateway acknowledged the transfer; any other outcome is classified as
// lockout, timeout, or generic failure.
func (c *Client) Transfer(ctx context.Context, req TransferRequest) error {
	if req.Amount <= 0 {
		return fmt.Errorf("%w: invalid transfer amount", common.ErrValidation)
	}
	// The Formbar contract wants the PIN as a number, not a string
	pin, err := strconv.Atoi(strings.TrimSpace(req.PIN))
	if err != nil {
		return fmt.Errorf("%w: PIN must be a number", common.ErrValidation)
	}

	reason := req.Reason
	if reason == "" {
		reason = "Digipog transfer"
	}
	payload := transferPayload{
		RequestID: uuid.NewString(),
		From:      req.From,
		To:        req.To,
		Amount:    req.Amount,
		PIN:       pin,
		Reason:    reason,
		Pool:      req.Pool,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: failed to encode request: %v", common.ErrGatewayFailure, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/api/digipogs/transfer", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %v", common.ErrGatewayFailure, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api", c.apiKey)

	c.log.Debugf("Transfer request %s: %d -> %d, amount %d", payload.RequestID, req.From, req.To, req.Amount)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			c.log.Warnf("Transfer %s timed out; the transfer may or may not have completed", payload.RequestID)
			return fmt.Errorf("%w: no response from Formbar for request %s, verify the transfer manually", common.ErrGatewayTimeout, payload.RequestID)
		}
		return fmt.Errorf("%w: %v", common.ErrGatewayFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status code %d", common.ErrGatewayFailure, resp.StatusCode)
	}

	var result transferResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("%w: unexpected response format: %v", common.ErrGatewayFailure, err)
	}
	if result.Success {
		return nil
	}

	msg := result.Message
	if msg == "" {
		msg = "transfer failed"
	}
	if isLockoutMessage(msg) {
		c.log.Errorf("Account locked by Formbar: %s", msg)
		return fmt.Errorf("%w: %s", common.ErrGatewayLockout, msg)
	}
	return fmt.Errorf("%w: %s", common.ErrGatewayFailure, msg)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isLockoutMessage recognizes the Formbar wording for an account locked
// after repeated failed PIN attempts.
func isLockoutMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "locked") || strings.Contains(lower, "too many failed attempts")
}

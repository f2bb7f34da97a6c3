package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/voxlens/voxlens/internal/tlsutil"
	"github.com/voxlens/voxlens/types"
)

const twilioDefaultBaseURL = "https://api.twilio.com/2010-04-01"

// TwilioConfig configures the Twilio call-control provider.
type TwilioConfig struct {
	AccountSID string        `yaml:"account_sid" json:"account_sid"`
	AuthToken  string        `yaml:"auth_token" json:"auth_token"`
	BaseURL    string        `yaml:"base_url" json:"base_url"`
	From       string        `yaml:"from" json:"from"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
}

// DefaultTwilioConfig returns the baseline Twilio configuration.
func DefaultTwilioConfig() TwilioConfig {
	return TwilioConfig{
		BaseURL: twilioDefaultBaseURL,
		Timeout: 30 * time.Second,
	}
}

// TwilioProvider places calls through the Twilio REST API.
type TwilioProvider struct {
	cfg    TwilioConfig
	client *http.Client
}

// NewTwilioProvider builds a Twilio provider from the given configuration.
func NewTwilioProvider(cfg TwilioConfig) *TwilioProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = twilioDefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &TwilioProvider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
	}
}

// Name implements Provider.
func (p *TwilioProvider) Name() string { return "twilio" }

type twilioCallResponse struct {
	SID         string `json:"sid"`
	To          string `json:"to"`
	From        string `json:"from"`
	Status      string `json:"status"`
	DateCreated string `json:"date_created"`
}

// PlaceCall implements Provider.
func (p *TwilioProvider) PlaceCall(ctx context.Context, req *CallRequest) (*Call, error) {
	if req.To == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "destination number is required").WithProvider(p.Name())
	}
	if req.AnswerURL == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "answer callback URL is required").WithProvider(p.Name())
	}

	from := req.From
	if from == "" {
		from = p.cfg.From
	}

	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", from)
	form.Set("Url", req.AnswerURL)
	if req.StatusCallbackURL != "" {
		form.Set("StatusCallback", req.StatusCallbackURL)
		form.Set("StatusCallbackEvent", "initiated ringing answered completed")
	}
	if req.Record {
		form.Set("Record", "true")
	}
	if req.Timeout > 0 {
		form.Set("Timeout", strconv.Itoa(int(req.Timeout.Seconds())))
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json",
		strings.TrimRight(p.cfg.BaseURL, "/"), p.cfg.AccountSID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(p.cfg.AccountSID, p.cfg.AuthToken)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrNetwork, fmt.Sprintf("call placement failed: %v", err)).
			WithProvider(p.Name()).WithRetryable(true).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, mapCallError(p.Name(), resp.StatusCode, string(body))
	}

	var tc twilioCallResponse
	if err := json.NewDecoder(resp.Body).Decode(&tc); err != nil {
		return nil, fmt.Errorf("failed to decode call response: %w", err)
	}

	return &Call{
		SID:       tc.SID,
		Provider:  p.Name(),
		To:        tc.To,
		From:      tc.From,
		Status:    tc.Status,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// HangupCall implements Provider by forcing the call to completed.
func (p *TwilioProvider) HangupCall(ctx context.Context, sid string) error {
	if sid == "" {
		return types.NewError(types.ErrInvalidRequest, "call sid is required").WithProvider(p.Name())
	}

	form := url.Values{}
	form.Set("Status", StatusCompleted)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls/%s.json",
		strings.TrimRight(p.cfg.BaseURL, "/"), p.cfg.AccountSID, sid)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(p.cfg.AccountSID, p.cfg.AuthToken)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return types.NewError(types.ErrNetwork, fmt.Sprintf("hangup failed: %v", err)).
			WithProvider(p.Name()).WithRetryable(true).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return mapCallError(p.Name(), resp.StatusCode, string(body))
	}
	return nil
}

func mapCallError(provider string, status int, body string) *types.Error {
	msg := strings.TrimSpace(body)
	if len(msg) > 200 {
		msg = msg[:200]
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return types.NewError(types.ErrUnauthorized, "carrier rejected credentials").
			WithHTTPStatus(status).WithProvider(provider)
	case status == http.StatusNotFound:
		return types.NewError(types.ErrNotFound, "carrier resource not found").
			WithHTTPStatus(status).WithProvider(provider)
	case status == http.StatusTooManyRequests || status >= 500:
		return types.NewError(types.ErrProviderUnavailable, msg).
			WithHTTPStatus(status).WithProvider(provider).WithRetryable(true)
	case status == http.StatusBadRequest:
		return types.NewError(types.ErrInvalidRequest, msg).
			WithHTTPStatus(status).WithProvider(provider)
	default:
		return types.NewError(types.ErrUnknown, msg).
			WithHTTPStatus(status).WithProvider(provider)
	}
}

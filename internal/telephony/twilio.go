package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// TwilioConfig holds what the REST adapter needs to originate calls.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	// From is the default caller id.
	From string

	// VoiceURL is fetched by Twilio when the lead answers; it must return bridge TwiML.
	VoiceURL string
	// StatusCallbackURL receives terminal call statuses.
	StatusCallbackURL string

	// BaseURL overrides the API host (tests).
	BaseURL string
	// MachineDetection enables answering machine detection ("Enable" or "DetectMessageEnd").
	MachineDetection string
	// RingTimeout is how long Twilio rings the lead before reporting no-answer.
	RingTimeout time.Duration

	Timeout time.Duration
}

func (c TwilioConfig) Validate() error {
	var missing []string
	if c.AccountSID == "" {
		missing = append(missing, "account sid")
	}
	if c.AuthToken == "" {
		missing = append(missing, "auth token")
	}
	if c.From == "" {
		missing = append(missing, "from")
	}
	if c.VoiceURL == "" {
		missing = append(missing, "voice url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("telephony: twilio config missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// TwilioDialer originates outbound calls through the Twilio Calls REST resource.
// Outcomes come back through TwilioWebhookHandler.
type TwilioDialer struct {
	cfg    TwilioConfig
	client *http.Client
}

func NewTwilioDialer(cfg TwilioConfig, client *http.Client) (*TwilioDialer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.twilio.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &TwilioDialer{cfg: cfg, client: client}, nil
}

func (d *TwilioDialer) Name() string { return "twilio" }

type twilioCall struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (d *TwilioDialer) Dial(ctx context.Context, req DialRequest) (string, error) {
	if strings.TrimSpace(req.To) == "" {
		return "", errors.New("telephony: dial requires a destination")
	}
	from := req.CallerID
	if from == "" {
		from = d.cfg.From
	}
	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", from)
	form.Set("Url", d.cfg.VoiceURL)
	if d.cfg.StatusCallbackURL != "" {
		form.Set("StatusCallback", d.cfg.StatusCallbackURL)
		form.Add("StatusCallbackEvent", "answered")
		form.Add("StatusCallbackEvent", "completed")
	}
	if d.cfg.MachineDetection != "" {
		form.Set("MachineDetection", d.cfg.MachineDetection)
	}
	if d.cfg.RingTimeout > 0 {
		form.Set("Timeout", strconv.Itoa(int(d.cfg.RingTimeout/time.Second)))
	}

	var out twilioCall
	status, err := d.post(ctx, d.callsURL(""), form, &out)
	if err != nil {
		return "", err
	}
	if status >= 300 {
		return "", fmt.Errorf("telephony: twilio dial failed (%d): %s", status, out.Message)
	}
	if out.SID == "" {
		return "", errors.New("telephony: twilio response without sid")
	}
	return out.SID, nil
}

// Hangup completes the call; an unknown call is treated as already gone.
func (d *TwilioDialer) Hangup(ctx context.Context, attemptID string) error {
	if attemptID == "" {
		return nil
	}
	form := url.Values{}
	form.Set("Status", "completed")
	var out twilioCall
	status, err := d.post(ctx, d.callsURL(attemptID), form, &out)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound || status < 300 {
		return nil
	}
	return fmt.Errorf("telephony: twilio hangup failed (%d): %s", status, out.Message)
}

func (d *TwilioDialer) callsURL(sid string) string {
	base := strings.TrimRight(d.cfg.BaseURL, "/") + "/2010-04-01/Accounts/" + url.PathEscape(d.cfg.AccountSID) + "/Calls"
	if sid != "" {
		base += "/" + url.PathEscape(sid)
	}
	return base + ".json"
}

func (d *TwilioDialer) post(ctx context.Context, endpoint string, form url.Values, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, err
	}
	req.SetBasicAuth(d.cfg.AccountSID, d.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("telephony: twilio request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, err
	}
	if len(body) > 0 {
		_ = json.Unmarshal(body, out)
	}
	return resp.StatusCode, nil
}

package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"campaign-autopilot/internal/campaign"
	"campaign-autopilot/internal/pkg/httpretry"
)

const metaSource = "meta"

// Purchase action types, in order of preference.
var purchaseActions = []string{"purchase", "offsite_conversion.fb_pixel_purchase"}

type MetaConfig struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	MaxRetries int
}

// Meta is the ad platform client: campaigns, spend, own conversion
// tracking and the status mutation.
type Meta struct {
	baseURL string
	token   string
	timeout time.Duration
	reads   httpretry.HTTPDoer
	writes  httpretry.HTTPDoer
}

func NewMeta(cfg MetaConfig) *Meta {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	base := &http.Client{Timeout: cfg.Timeout}
	return &Meta{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		timeout: cfg.Timeout,
		reads:   httpretry.NewRetryClient(base, cfg.MaxRetries),
		writes:  base,
	}
}

// SetHTTPClient replaces both transports (useful for testing).
func (m *Meta) SetHTTPClient(c httpretry.HTTPDoer) {
	m.reads, m.writes = c, c
}

type Account struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Status   int    `json:"status"`
	Currency string `json:"currency"`
}

type metaPage[T any] struct {
	Data   []T `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

type metaErrorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ListAccounts returns the ad accounts visible to the token, ids without
// the act_ prefix.
func (m *Meta) ListAccounts(ctx context.Context) ([]Account, error) {
	type row struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Status   int    `json:"account_status"`
		Currency string `json:"currency"`
	}
	rows, err := getPaged[row](ctx, m, "/me/adaccounts", url.Values{
		"fields": {"id,name,account_status,currency"},
		"limit":  {"50"},
	})
	if err != nil {
		return nil, err
	}
	out := make([]Account, 0, len(rows))
	for _, r := range rows {
		cur := r.Currency
		if cur == "" {
			cur = "USD"
		}
		out = append(out, Account{ID: strings.TrimPrefix(r.ID, "act_"), Name: r.Name, Status: r.Status, Currency: cur})
	}
	return out, nil
}

// FetchSpendAndStatus lists the account's campaigns with their spend in
// the window. Campaigns without spend rows get zero spend.
func (m *Meta) FetchSpendAndStatus(ctx context.Context, accountID string, w campaign.Window) ([]campaign.SpendRecord, error) {
	type campRow struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		Status    string `json:"status"`
		Objective string `json:"objective"`
	}
	type spendRow struct {
		CampaignID string    `json:"campaign_id"`
		Spend      flexFloat `json:"spend"`
	}

	act := "/act_" + strings.TrimPrefix(accountID, "act_")
	camps, err := getPaged[campRow](ctx, m, act+"/campaigns", url.Values{
		"fields": {"id,name,status,objective"},
		"limit":  {"200"},
	})
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}

	spends, err := getPaged[spendRow](ctx, m, act+"/insights", m.insightParams(w, "campaign_id,spend"))
	if err != nil {
		return nil, fmt.Errorf("campaign spend: %w", err)
	}
	byID := make(map[string]float64, len(spends))
	for _, s := range spends {
		byID[s.CampaignID] += float64(s.Spend)
	}

	out := make([]campaign.SpendRecord, 0, len(camps))
	for _, c := range camps {
		obj := c.Objective
		if obj == "" {
			obj = "Unknown"
		}
		out = append(out, campaign.SpendRecord{
			ID:        c.ID,
			Name:      c.Name,
			Status:    campaign.ParseStatus(c.Status),
			Objective: obj,
			Spend:     math.Round(byID[c.ID]*100) / 100,
		})
	}
	return out, nil
}

// FetchPlatformConversions reads purchase counts and purchase value per
// campaign from the platform's own pixel tracking.
func (m *Meta) FetchPlatformConversions(ctx context.Context, accountID string, w campaign.Window) (campaign.PlatformRecords, error) {
	type action struct {
		Type  string    `json:"action_type"`
		Value flexFloat `json:"value"`
	}
	type row struct {
		CampaignID       string   `json:"campaign_id"`
		Actions          []action `json:"actions"`
		ConversionValues []action `json:"conversion_values"`
	}

	act := "/act_" + strings.TrimPrefix(accountID, "act_")
	rows, err := getPaged[row](ctx, m, act+"/insights", m.insightParams(w, "campaign_id,actions,conversion_values"))
	if err != nil {
		return campaign.PlatformRecords{}, fmt.Errorf("platform conversions: %w", err)
	}

	out := campaign.PlatformRecords{
		Conversions: make(map[string]int, len(rows)),
		Revenue:     make(map[string]float64, len(rows)),
	}
	for _, r := range rows {
		conv := 0
	pick:
		for _, want := range purchaseActions {
			for _, a := range r.Actions {
				if a.Type == want {
					conv = int(a.Value)
					break pick
				}
			}
		}
		var value float64
		for _, v := range r.ConversionValues {
			for _, want := range purchaseActions {
				if v.Type == want {
					value += float64(v.Value)
				}
			}
		}
		out.Conversions[r.CampaignID] += conv
		out.Revenue[r.CampaignID] += math.Round(value*100) / 100
	}
	return out, nil
}

// SetCampaignStatus is sent once, without retries.
func (m *Meta) SetCampaignStatus(ctx context.Context, campaignID string, status campaign.Status) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	form := url.Values{"access_token": {m.token}, "status": {string(status)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/"+url.PathEscape(campaignID), strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.writes.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return metaError(resp.StatusCode, body)
	}
	return nil
}

func (m *Meta) insightParams(w campaign.Window, fields string) url.Values {
	tr, _ := json.Marshal(map[string]string{"since": w.PlatformSince, "until": w.PlatformUntil})
	return url.Values{
		"fields":     {fields},
		"level":      {"campaign"},
		"time_range": {string(tr)},
		"limit":      {"200"},
	}
}

// getPaged follows paging.next until the last page.
func getPaged[T any](ctx context.Context, m *Meta, path string, params url.Values) ([]T, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	params.Set("access_token", m.token)
	next := m.baseURL + path + "?" + params.Encode()

	var out []T
	for next != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, next, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		resp, err := m.reads.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, metaError(resp.StatusCode, body)
		}

		var page metaPage[T]
		if err := decode(metaSource, body, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Data...)
		next = page.Paging.Next
	}
	return out, nil
}

func metaError(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var eb metaErrorBody
	if json.Unmarshal(body, &eb) == nil && eb.Error.Message != "" {
		msg = eb.Error.Message
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{Source: metaSource, Status: status, Message: msg}
}

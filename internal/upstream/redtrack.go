package upstream

import (
	"bytes"
	"context"
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

const attributionSource = "redtrack"

type AttributionConfig struct {
	BaseURL    string
	APIKey     string
	Timezone   string
	Timeout    time.Duration
	MaxRetries int
}

// Attribution is the click/conversion tracker client. Reports are grouped
// by sub3 (ad platform campaign id) and sub6 (campaign name).
type Attribution struct {
	baseURL  string
	apiKey   string
	timezone string
	timeout  time.Duration
	http     httpretry.HTTPDoer
}

func NewAttribution(cfg AttributionConfig) *Attribution {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &Attribution{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		timezone: cfg.Timezone,
		timeout:  cfg.Timeout,
		http:     httpretry.NewRetryClient(&http.Client{Timeout: cfg.Timeout}, cfg.MaxRetries),
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing)
func (a *Attribution) SetHTTPClient(c httpretry.HTTPDoer) { a.http = c }

type reportRow struct {
	Sub3           string    `json:"sub3"`
	Sub6           string    `json:"sub6"`
	PaymentRevenue flexFloat `json:"payment_revenue"`
	TotalRevenue   flexFloat `json:"total_revenue"`
	NetRevenue     flexFloat `json:"net_revenue"`
	PubRevenue     flexFloat `json:"pub_revenue"`
}

// revenue is the largest of the revenue columns; which one is populated
// depends on how the offer is configured in the tracker.
func (r reportRow) revenue() float64 {
	return math.Max(math.Max(float64(r.PaymentRevenue), float64(r.TotalRevenue)),
		math.Max(float64(r.NetRevenue), float64(r.PubRevenue)))
}

// FetchAttributionRevenue returns revenue keyed by campaign id and by
// campaign name. Rows sharing a key are summed.
func (a *Attribution) FetchAttributionRevenue(ctx context.Context, w campaign.Window) (campaign.AttributionRecords, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	params := url.Values{
		"api_key":   {a.apiKey},
		"group":     {"sub3,sub6"},
		"date_from": {w.TrackerSince},
		"date_to":   {w.TrackerUntil},
		"per":       {"5000"},
		"timezone":  {a.timezone},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/report?"+params.Encode(), nil)
	if err != nil {
		return campaign.AttributionRecords{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return campaign.AttributionRecords{}, fmt.Errorf("%s: request failed: %w", attributionSource, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return campaign.AttributionRecords{}, fmt.Errorf("%s: failed to read response body: %w", attributionSource, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return campaign.AttributionRecords{}, &APIError{Source: attributionSource, Status: resp.StatusCode, Message: msg}
	}

	rows, err := decodeReport(body)
	if err != nil {
		return campaign.AttributionRecords{}, err
	}

	out := campaign.AttributionRecords{
		ByID:   make(map[string]float64, len(rows)),
		ByName: make(map[string]float64, len(rows)),
	}
	for _, r := range rows {
		rev := r.revenue()
		if id := strings.TrimSpace(r.Sub3); id != "" {
			out.ByID[id] = math.Round((out.ByID[id]+rev)*100) / 100
		}
		if name := strings.TrimSpace(r.Sub6); name != "" {
			out.ByName[name] = math.Round((out.ByName[name]+rev)*100) / 100
		}
	}
	return out, nil
}

// decodeReport accepts either a bare array or {"data": [...]}.
func decodeReport(body []byte) ([]reportRow, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var rows []reportRow
		if err := decode(attributionSource, trimmed, &rows); err != nil {
			return nil, err
		}
		return rows, nil
	}
	var wrapped struct {
		Data []reportRow `json:"data"`
	}
	if err := decode(attributionSource, trimmed, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Data, nil
}

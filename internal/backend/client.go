package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// MenuItem is one orderable entry in a tenant's menu.
type MenuItem struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Description string  `json:"description,omitempty"`
	Category    string  `json:"category,omitempty"`
}

// OrgConfig is the per-tenant configuration served by the order
// management backend: menu, prompt fragment and timezone.
type OrgConfig struct {
	OrgID        string     `json:"orgId"`
	OrgName      string     `json:"orgName"`
	SystemPrompt string     `json:"systemPrompt,omitempty"`
	Menu         []MenuItem `json:"menu"`
	Timezone     string     `json:"timezone,omitempty"`
}

// OrderLine is one submitted line item.
type OrderLine struct {
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
	Notes     string  `json:"notes,omitempty"`
}

// OrderSubmission is the payload for the submit-order endpoint. The
// backend derives its idempotency key from session id, contact phone
// and order content.
type OrderSubmission struct {
	OrgID               string      `json:"orgId"`
	SessionID           string      `json:"sessionId"`
	CustomerName        string      `json:"customerName"`
	CustomerPhone       string      `json:"customerPhone"`
	Items               []OrderLine `json:"items"`
	PickupTime          string      `json:"pickupTime,omitempty"`
	SpecialInstructions string      `json:"specialInstructions,omitempty"`
	TotalAmount         float64     `json:"totalAmount"`
	Channel             string      `json:"channel"`
}

// SubmitResult reports the outcome of an order submission. Failures are
// folded into the result; Submit never returns a Go error because the
// caller relays the outcome conversationally either way.
type SubmitResult struct {
	Success bool   `json:"success"`
	OrderID string `json:"orderId,omitempty"`
	Message string `json:"message,omitempty"`
}

type cachedConfig struct {
	cfg       *OrgConfig
	fetchedAt time.Time
}

// Client talks to the order-management backend over HTTP with a static
// shared-secret header, and caches org configuration with a fixed TTL.
type Client struct {
	baseURL string
	apiKey  string
	ttl     time.Duration
	http    *http.Client

	mu    sync.Mutex
	cache map[string]cachedConfig
}

func NewClient(baseURL, apiKey string, ttl time.Duration) *Client {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  apiKey,
		ttl:     ttl,
		http:    &http.Client{Timeout: 15 * time.Second},
		cache:   make(map[string]cachedConfig),
	}
}

// GetOrgConfig returns the tenant configuration for orgID, or nil on
// any failure so callers can fail the call gracefully. Results are
// cached per org id; identical requests inside the TTL window are
// served from memory.
func (c *Client) GetOrgConfig(ctx context.Context, orgID string) *OrgConfig {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return nil
	}

	c.mu.Lock()
	if entry, ok := c.cache[orgID]; ok && time.Since(entry.fetchedAt) < c.ttl {
		c.mu.Unlock()
		return entry.cfg
	}
	c.mu.Unlock()

	cfg, err := c.fetchOrgConfig(ctx, orgID)
	if err != nil {
		log.Printf("[Backend] org config fetch failed for %s: %v", orgID, err)
		return nil
	}

	c.mu.Lock()
	c.cache[orgID] = cachedConfig{cfg: cfg, fetchedAt: time.Now()}
	c.mu.Unlock()
	return cfg
}

func (c *Client) fetchOrgConfig(ctx context.Context, orgID string) (*OrgConfig, error) {
	u := c.baseURL + "/org-config?orgId=" + url.QueryEscape(orgID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, fmt.Errorf("backend status %d: %s", res.StatusCode, string(body))
	}

	var cfg OrgConfig
	if err := json.NewDecoder(res.Body).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if cfg.OrgID == "" {
		cfg.OrgID = orgID
	}
	return &cfg, nil
}

// SubmitOrder posts a finished order to the backend. Network and HTTP
// failures are captured into the result rather than returned.
func (c *Client) SubmitOrder(ctx context.Context, order OrderSubmission) SubmitResult {
	if order.Channel == "" {
		order.Channel = "voice"
	}

	payload, err := json.Marshal(order)
	if err != nil {
		return SubmitResult{Success: false, Message: fmt.Sprintf("marshal order: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/submit-order", bytes.NewReader(payload))
	if err != nil {
		return SubmitResult{Success: false, Message: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	res, err := c.http.Do(req)
	if err != nil {
		log.Printf("[Backend] order submission failed for session %s: %v", order.SessionID, err)
		return SubmitResult{Success: false, Message: "order submission failed"}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return SubmitResult{Success: false, Message: "read response failed"}
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		log.Printf("[Backend] order submission status %d for session %s", res.StatusCode, order.SessionID)
		return SubmitResult{Success: false, Message: fmt.Sprintf("backend status %d", res.StatusCode)}
	}

	var result SubmitResult
	if err := json.Unmarshal(body, &result); err != nil {
		return SubmitResult{Success: false, Message: "invalid backend response"}
	}
	return result
}

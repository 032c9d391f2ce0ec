// Package ticket polls an external incident source, detects changed
// records through a content-hash cache, and feeds them to the ingestion
// engine as documents.
package ticket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/corpora-ai/corpora/internal/errors"
)

const (
	// DefaultPageSize is records fetched per API page.
	DefaultPageSize = 100

	// DefaultRequestTimeout bounds one API call.
	DefaultRequestTimeout = 30 * time.Second

	// minCallInterval is the floor between consecutive API calls.
	minCallInterval = 200 * time.Millisecond

	// tokenExpirySlack refreshes tokens slightly before they lapse.
	tokenExpirySlack = 30 * time.Second
)

var (
	// sysIDPattern validates external record identifiers.
	sysIDPattern = regexp.MustCompile(`^[a-zA-Z0-9]{32}$`)

	// numberPattern validates external record numbers, e.g. INC00012345.
	numberPattern = regexp.MustCompile(`^[A-Z]{2,3}[0-9]{8}$`)
)

// Incident is one external ticket record.
type Incident struct {
	SysID            string `json:"sys_id"`
	Number           string `json:"number"`
	ShortDescription string `json:"short_description"`
	Description      string `json:"description"`
	Priority         string `json:"priority"`
	State            string `json:"state"`
	Category         string `json:"category"`
	AssignmentGroup  string `json:"assignment_group"`
	AssignedTo       string `json:"assigned_to"`
	OpenedAt         string `json:"opened_at"`
	ResolvedAt       string `json:"resolved_at"`
	CloseNotes       string `json:"close_notes"`
	WorkNotes        string `json:"work_notes"`
	UpdatedOn        string `json:"sys_updated_on"`
}

// FetchFilters narrows an incident query.
type FetchFilters struct {
	Priorities []string
	States     []string
	DaysBack   int
}

// Source is the external ticket API surface.
type Source interface {
	TestConnection(ctx context.Context) bool
	GetIncidents(ctx context.Context, filters FetchFilters, limit int) ([]*Incident, error)
	GetIncident(ctx context.Context, sysID string) (*Incident, error)
}

// ConnectorConfig configures the HTTP connector.
type ConnectorConfig struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	PageSize     int
	Timeout      time.Duration
}

// Connector talks to the external incident API with bearer-token auth and
// rate-limited, paged queries. All query values travel as URL parameters;
// nothing is concatenated into paths.
type Connector struct {
	cfg    ConnectorConfig
	client *http.Client

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time

	callMu   sync.Mutex
	lastCall time.Time

	// test seams
	now   func() time.Time
	sleep func(time.Duration)
}

var _ Source = (*Connector)(nil)

// NewConnector creates a connector.
func NewConnector(cfg ConnectorConfig) (*Connector, error) {
	if cfg.BaseURL == "" {
		return nil, errors.ConfigError("external source base URL is required", nil)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}
	return &Connector{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		now:    time.Now,
		sleep:  time.Sleep,
	}, nil
}

// ValidateSysID reports whether the identifier is well-formed.
func ValidateSysID(id string) bool { return sysIDPattern.MatchString(id) }

// ValidateNumber reports whether the record number is well-formed.
func ValidateNumber(number string) bool { return numberPattern.MatchString(number) }

// ValidateISODate reports whether the value parses as ISO-8601.
func ValidateISODate(value string) bool {
	if value == "" {
		return false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if _, err := time.Parse(layout, value); err == nil {
			return true
		}
	}
	return false
}

// TestConnection probes the API with a single-record query.
func (c *Connector) TestConnection(ctx context.Context) bool {
	_, err := c.GetIncidents(ctx, FetchFilters{}, 1)
	return err == nil
}

// GetIncidents pages through incidents matching the filters, up to limit.
func (c *Connector) GetIncidents(ctx context.Context, filters FetchFilters, limit int) ([]*Incident, error) {
	if limit <= 0 {
		limit = c.cfg.PageSize
	}

	var all []*Incident
	offset := 0
	for len(all) < limit {
		pageSize := c.cfg.PageSize
		if remaining := limit - len(all); remaining < pageSize {
			pageSize = remaining
		}

		page, err := c.fetchPage(ctx, filters, pageSize, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			break
		}
		offset += len(page)
	}
	return all, nil
}

// GetIncident fetches one record by identifier.
func (c *Connector) GetIncident(ctx context.Context, sysID string) (*Incident, error) {
	if !ValidateSysID(sysID) {
		return nil, errors.ValidationError("malformed record identifier", nil).WithDetail("sys_id", sysID)
	}

	var decoded struct {
		Result *Incident `json:"result"`
	}
	endpoint := c.cfg.BaseURL + "/api/now/table/incident/" + url.PathEscape(sysID)
	if err := c.doGet(ctx, endpoint, nil, &decoded); err != nil {
		return nil, err
	}
	if decoded.Result == nil {
		return nil, errors.IntegrationError("record not found", nil).WithDetail("sys_id", sysID)
	}
	return decoded.Result, nil
}

func (c *Connector) fetchPage(ctx context.Context, filters FetchFilters, limit, offset int) ([]*Incident, error) {
	params := url.Values{}
	params.Set("sysparm_limit", fmt.Sprintf("%d", limit))
	params.Set("sysparm_offset", fmt.Sprintf("%d", offset))
	if query := buildSysparmQuery(filters); query != "" {
		params.Set("sysparm_query", query)
	}

	var decoded struct {
		Result []*Incident `json:"result"`
	}
	if err := c.doGet(ctx, c.cfg.BaseURL+"/api/now/table/incident", params, &decoded); err != nil {
		return nil, err
	}
	return decoded.Result, nil
}

// buildSysparmQuery renders the filter set as the API's query syntax.
func buildSysparmQuery(filters FetchFilters) string {
	var parts []string
	if len(filters.Priorities) > 0 {
		parts = append(parts, "priorityIN"+strings.Join(filters.Priorities, ","))
	}
	if len(filters.States) > 0 {
		parts = append(parts, "stateIN"+strings.Join(filters.States, ","))
	}
	if filters.DaysBack > 0 {
		parts = append(parts, fmt.Sprintf("sys_updated_on>=javascript:gs.daysAgoStart(%d)", filters.DaysBack))
	}
	return strings.Join(parts, "^")
}

func (c *Connector) doGet(ctx context.Context, endpoint string, params url.Values, out any) error {
	c.throttle()

	token, err := c.bearerToken(ctx)
	if err != nil {
		return err
	}

	u := endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.IntegrationError("external source request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		// Token may have been revoked server-side; force a refresh on
		// the next call.
		c.tokenMu.Lock()
		c.token = ""
		c.tokenMu.Unlock()
		return errors.New(errors.ErrCodeAuthentication, "external source rejected credentials", nil)
	case resp.StatusCode != http.StatusOK:
		return errors.IntegrationError(fmt.Sprintf("external source returned status %d", resp.StatusCode), nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.IntegrationError("external source response unparseable", err)
	}
	return nil
}

// throttle enforces the minimum interval between API calls.
func (c *Connector) throttle() {
	c.callMu.Lock()
	defer c.callMu.Unlock()
	if wait := minCallInterval - c.now().Sub(c.lastCall); wait > 0 {
		c.sleep(wait)
	}
	c.lastCall = c.now()
}

// bearerToken returns a valid token, refreshing through the token endpoint
// when missing or near expiry. An empty TokenURL disables auth.
func (c *Connector) bearerToken(ctx context.Context) (string, error) {
	if c.cfg.TokenURL == "" {
		return "", nil
	}

	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token != "" && c.now().Before(c.tokenExpiry.Add(-tokenExpirySlack)) {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", errors.New(errors.ErrCodeAuthentication, "token request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", errors.New(errors.ErrCodeAuthentication,
			fmt.Sprintf("token endpoint returned status %d", resp.StatusCode), nil)
	}

	var decoded struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", errors.New(errors.ErrCodeAuthentication, "token response unparseable", err)
	}
	if decoded.AccessToken == "" {
		return "", errors.New(errors.ErrCodeAuthentication, "token endpoint returned no token", nil)
	}

	c.token = decoded.AccessToken
	ttl := time.Duration(decoded.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	c.tokenExpiry = c.now().Add(ttl)
	return c.token, nil
}

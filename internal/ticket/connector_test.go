package ticket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpora-ai/corpora/internal/errors"
)

func TestValidateSysID(t *testing.T) {
	assert.True(t, ValidateSysID("a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6"))
	assert.False(t, ValidateSysID("too-short"))
	assert.False(t, ValidateSysID("a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6ff")) // 34 chars
	assert.False(t, ValidateSysID("a1b2c3d4-5f6a7b8c9d0e1f2a3b4c5d6"))  // punctuation
	assert.False(t, ValidateSysID(""))
}

func TestValidateNumber(t *testing.T) {
	assert.True(t, ValidateNumber("INC00012345"))
	assert.True(t, ValidateNumber("CHG00000001"))
	assert.True(t, ValidateNumber("PR00000001"))
	assert.False(t, ValidateNumber("INC1234"))     // too few digits
	assert.False(t, ValidateNumber("inc00012345")) // lowercase prefix
	assert.False(t, ValidateNumber("00012345"))
}

func TestValidateISODate(t *testing.T) {
	assert.True(t, ValidateISODate("2025-12-01T10:30:00Z"))
	assert.True(t, ValidateISODate("2025-12-01 10:30:00"))
	assert.True(t, ValidateISODate("2025-12-01"))
	assert.False(t, ValidateISODate("01/12/2025"))
	assert.False(t, ValidateISODate("not a date"))
	assert.False(t, ValidateISODate(""))
}

func TestBuildSysparmQuery(t *testing.T) {
	query := buildSysparmQuery(FetchFilters{
		Priorities: []string{"1", "2"},
		States:     []string{"1"},
		DaysBack:   7,
	})
	assert.Equal(t, "priorityIN1,2^stateIN1^sys_updated_on>=javascript:gs.daysAgoStart(7)", query)

	assert.Equal(t, "", buildSysparmQuery(FetchFilters{}))
	assert.Equal(t, "stateIN6,7", buildSysparmQuery(FetchFilters{States: []string{"6", "7"}}))
}

func newTestConnector(t *testing.T, cfg ConnectorConfig) *Connector {
	t.Helper()
	c, err := NewConnector(cfg)
	require.NoError(t, err)
	c.sleep = func(time.Duration) {}
	return c
}

func testIncident(n int) *Incident {
	return &Incident{
		SysID:            fmt.Sprintf("%032d", n),
		Number:           fmt.Sprintf("INC%08d", n),
		ShortDescription: fmt.Sprintf("incident %d", n),
		Priority:         "2",
		State:            "1",
	}
}

func TestConnector_GetIncidents_Paging(t *testing.T) {
	var gotQueries []string
	var gotOffsets []int
	total := 5

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/now/table/incident", r.URL.Path)
		gotQueries = append(gotQueries, r.URL.Query().Get("sysparm_query"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("sysparm_limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("sysparm_offset"))
		gotOffsets = append(gotOffsets, offset)

		var page []*Incident
		for i := offset; i < total && len(page) < limit; i++ {
			page = append(page, testIncident(i))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"result": page})
	}))
	defer srv.Close()

	c := newTestConnector(t, ConnectorConfig{BaseURL: srv.URL, PageSize: 2})
	incidents, err := c.GetIncidents(context.Background(), FetchFilters{Priorities: []string{"1", "2"}}, 5)
	require.NoError(t, err)

	require.Len(t, incidents, 5)
	assert.Equal(t, []int{0, 2, 4}, gotOffsets)
	for _, q := range gotQueries {
		assert.Equal(t, "priorityIN1,2", q)
	}
	assert.Equal(t, "INC00000000", incidents[0].Number)
	assert.Equal(t, "INC00000004", incidents[4].Number)
}

func TestConnector_GetIncidents_ShortPageStops(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		// Fewer records than requested means there is no next page.
		_ = json.NewEncoder(w).Encode(map[string]any{"result": []*Incident{testIncident(1)}})
	}))
	defer srv.Close()

	c := newTestConnector(t, ConnectorConfig{BaseURL: srv.URL, PageSize: 10})
	incidents, err := c.GetIncidents(context.Background(), FetchFilters{}, 100)
	require.NoError(t, err)
	assert.Len(t, incidents, 1)
	assert.Equal(t, 1, calls)
}

func TestConnector_GetIncident(t *testing.T) {
	sysID := "a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/now/table/incident/"+sysID, r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"result": &Incident{SysID: sysID, Number: "INC00000042"}})
	}))
	defer srv.Close()

	c := newTestConnector(t, ConnectorConfig{BaseURL: srv.URL})
	inc, err := c.GetIncident(context.Background(), sysID)
	require.NoError(t, err)
	assert.Equal(t, "INC00000042", inc.Number)

	// Malformed identifiers are rejected before any network call.
	_, err = c.GetIncident(context.Background(), "../../etc/passwd")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
}

func TestConnector_BearerToken_RefreshNearExpiry(t *testing.T) {
	tokenCalls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/token" {
			tokenCalls++
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "client_credentials", r.FormValue("grant_type"))
			assert.Equal(t, "cid", r.FormValue("client_id"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": fmt.Sprintf("tok-%d", tokenCalls),
				"expires_in":   3600,
			})
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := newTestConnector(t, ConnectorConfig{
		BaseURL:      srv.URL,
		TokenURL:     srv.URL + "/oauth/token",
		ClientID:     "cid",
		ClientSecret: "secret",
	})
	current := time.Now()
	c.now = func() time.Time { return current }

	tok, err := c.bearerToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	// Still valid, no refresh.
	tok, err = c.bearerToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, 1, tokenCalls)

	// Within the expiry slack window the token is treated as stale.
	current = current.Add(3600*time.Second - 10*time.Second)
	tok, err = c.bearerToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
	assert.Equal(t, 2, tokenCalls)
}

func TestConnector_UnauthorizedClearsToken(t *testing.T) {
	tokenCalls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/token" {
			tokenCalls++
			_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "expires_in": 3600})
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestConnector(t, ConnectorConfig{
		BaseURL:  srv.URL,
		TokenURL: srv.URL + "/oauth/token",
	})

	_, err := c.GetIncidents(context.Background(), FetchFilters{}, 1)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeAuthentication, errors.GetCode(err))
	assert.Equal(t, "", c.token)

	// The next call fetches a fresh token rather than reusing the revoked one.
	_, _ = c.GetIncidents(context.Background(), FetchFilters{}, 1)
	assert.Equal(t, 2, tokenCalls)
}

func TestConnector_ServerErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestConnector(t, ConnectorConfig{BaseURL: srv.URL})
	_, err := c.GetIncidents(context.Background(), FetchFilters{}, 1)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeIntegration, errors.GetCode(err))
}

func TestConnector_Throttle(t *testing.T) {
	var slept []time.Duration
	c := newTestConnector(t, ConnectorConfig{BaseURL: "http://unused.invalid"})
	current := time.Now()
	c.now = func() time.Time { return current }
	c.sleep = func(d time.Duration) { slept = append(slept, d) }

	c.throttle()
	assert.Empty(t, slept) // first call never waits

	c.throttle()
	require.Len(t, slept, 1)
	assert.Equal(t, minCallInterval, slept[0])

	current = current.Add(time.Second)
	c.throttle()
	assert.Len(t, slept, 1) // enough time elapsed, no wait
}

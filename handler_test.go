package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartzlabs/oauth/security"
	"github.com/quartzlabs/oauth/server"
	"github.com/quartzlabs/oauth/storage"
	"github.com/quartzlabs/oauth/storage/memory"
)

// stubSubjects is a SubjectProvider with a settable resource owner
type stubSubjects struct {
	subject *Subject
}

func (s *stubSubjects) SubjectFromRequest(ctx context.Context, r *http.Request) (*Subject, error) {
	return s.subject, nil
}

type testHarness struct {
	handler  *Handler
	routes   http.Handler
	store    *memory.Store
	subjects *stubSubjects
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	store := memory.New()
	srv, err := server.New(server.Config{}, store, store, store)
	require.NoError(t, err)

	require.NoError(t, store.SaveClient(context.Background(), &storage.Client{
		ID:          "thirdparty",
		Type:        storage.ClientTypePublic,
		RedirectURI: "https://app.tld/callback",
		Name:        "Third Party App",
		Scopes:      []string{"read", "write"},
		CreatedAt:   time.Now(),
	}))

	subjects := &stubSubjects{subject: &Subject{ID: "user-1", Username: "alice"}}
	handler, err := NewHandler(srv, subjects)
	require.NoError(t, err)

	return &testHarness{
		handler:  handler,
		routes:   handler.Routes(),
		store:    store,
		subjects: subjects,
	}
}

func authorizeURL(params map[string]string) string {
	q := url.Values{}
	for key, value := range params {
		q.Set(key, value)
	}
	return "/authorize?" + q.Encode()
}

func validParams() map[string]string {
	return map[string]string{
		"client_id":     "thirdparty",
		"redirect_uri":  "https://app.tld/callback",
		"response_type": "token",
		"scope":         "read",
		"state":         "xyz",
	}
}

func decodeBody(rec *httptest.ResponseRecorder, v any) error {
	return json.NewDecoder(rec.Body).Decode(v)
}

func atoiOrZero(s string) float64 {
	n, _ := strconv.Atoi(s)
	return float64(n)
}

// fragmentValues parses the fragment of a redirect Location header
func fragmentValues(t *testing.T, location string) url.Values {
	t.Helper()
	idx := strings.Index(location, "#")
	require.GreaterOrEqual(t, idx, 0, "location %q has no fragment", location)
	values, err := url.ParseQuery(location[idx+1:])
	require.NoError(t, err)
	return values
}

func TestAuthorize_ConsentPrompt(t *testing.T) {
	h := newTestHarness(t)

	req := httptest.NewRequest(http.MethodGet, authorizeURL(validParams()), nil)
	rec := httptest.NewRecorder()
	h.routes.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	var consent ConsentResponse
	require.NoError(t, decodeBody(rec, &consent))
	assert.Equal(t, "thirdparty", consent.Client.ID)
	assert.Equal(t, "Third Party App", consent.Client.Name)
	assert.Equal(t, []string{"read"}, consent.Scope)
	assert.Equal(t, "xyz", consent.State)
}

func TestAuthorize_ConsentPromptHTML(t *testing.T) {
	h := newTestHarness(t)

	req := httptest.NewRequest(http.MethodGet, authorizeURL(validParams()), nil)
	req.Header.Set("Accept", "text/html")
	rec := httptest.NewRecorder()
	h.routes.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Third Party App")
}

func TestAuthorize_ValidationFailures(t *testing.T) {
	h := newTestHarness(t)

	tests := []struct {
		name            string
		mutate          func(map[string]string)
		wantStatus      int
		wantCode        string
		wantDescription string
	}{
		{
			name:            "missing client id",
			mutate:          func(p map[string]string) { delete(p, "client_id") },
			wantStatus:      http.StatusForbidden,
			wantCode:        "unauthorized_client",
			wantDescription: "Missing client id",
		},
		{
			name:            "unknown client id",
			mutate:          func(p map[string]string) { p["client_id"] = "nope" },
			wantStatus:      http.StatusForbidden,
			wantCode:        "unauthorized_client",
			wantDescription: "Unknown client",
		},
		{
			name:            "missing redirect uri",
			mutate:          func(p map[string]string) { delete(p, "redirect_uri") },
			wantStatus:      http.StatusBadRequest,
			wantCode:        "invalid_request",
			wantDescription: "Missing redirect uri",
		},
		{
			name:            "mismatching redirect uri",
			mutate:          func(p map[string]string) { p["redirect_uri"] = "https://evil.tld/callback" },
			wantStatus:      http.StatusBadRequest,
			wantCode:        "invalid_request",
			wantDescription: "Mismatching redirect uri",
		},
		{
			name:            "missing response type",
			mutate:          func(p map[string]string) { delete(p, "response_type") },
			wantStatus:      http.StatusNotImplemented,
			wantCode:        "invalid_request",
			wantDescription: "Missing response type",
		},
		{
			name:            "unsupported response type",
			mutate:          func(p map[string]string) { p["response_type"] = "device" },
			wantStatus:      http.StatusNotImplemented,
			wantCode:        "unsupported_response_type",
			wantDescription: "Unsupported response type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := validParams()
			tt.mutate(params)

			req := httptest.NewRequest(http.MethodGet, authorizeURL(params), nil)
			rec := httptest.NewRecorder()
			h.routes.ServeHTTP(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code)

			var oauthErr OAuthError
			require.NoError(t, decodeBody(rec, &oauthErr))
			assert.Equal(t, tt.wantCode, oauthErr.Code)
			assert.Equal(t, tt.wantDescription, oauthErr.Description)
		})
	}
}

func TestAuthorize_InvalidScopeRedirects(t *testing.T) {
	h := newTestHarness(t)

	params := validParams()
	params["scope"] = "admin"

	req := httptest.NewRequest(http.MethodGet, authorizeURL(params), nil)
	rec := httptest.NewRecorder()
	h.routes.ServeHTTP(rec, req)

	// Scope failures are detected after the redirect URI validated, so they
	// travel back through it rather than as a direct JSON response.
	require.Equal(t, http.StatusFound, rec.Code)
	location := rec.Header().Get("Location")
	assert.True(t, strings.HasPrefix(location, "https://app.tld/callback#"), "location = %q", location)

	fragment := fragmentValues(t, location)
	assert.Equal(t, "invalid_scope", fragment.Get("error"))
	assert.Equal(t, "xyz", fragment.Get("state"))
}

func TestDecision_Approved(t *testing.T) {
	h := newTestHarness(t)

	req := httptest.NewRequest(http.MethodPost, authorizeURL(validParams()),
		strings.NewReader(`{"authorized":true}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.routes.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	location := rec.Header().Get("Location")
	require.True(t, strings.HasPrefix(location, "https://app.tld/callback#"), "location = %q", location)

	fragment := fragmentValues(t, location)
	assert.NotEmpty(t, fragment.Get("access_token"))
	assert.Equal(t, "bearer", fragment.Get("token_type"))
	assert.Equal(t, "read", fragment.Get("scope"))
	assert.Equal(t, "xyz", fragment.Get("state"))

	// expires_in reflects the four hour default lifetime
	assert.InDelta(t, (4 * time.Hour).Seconds(), atoiOrZero(fragment.Get("expires_in")), 5)

	// The token in the fragment is live
	stored, err := h.store.GetToken(context.Background(), fragment.Get("access_token"))
	require.NoError(t, err)
	assert.Equal(t, "user-1", stored.UserID)
}

func TestDecision_BodyCarriesRequestParameters(t *testing.T) {
	h := newTestHarness(t)

	// No query parameters at all: the decision body alone describes the
	// authorization request.
	body := `{"authorized":true,"client_id":"thirdparty","response_type":"token",` +
		`"redirect_uri":"https://app.tld/callback","scope":"read","state":"s9"}`
	req := httptest.NewRequest(http.MethodPost, "/authorize", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.routes.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	location := rec.Header().Get("Location")
	require.True(t, strings.HasPrefix(location, "https://app.tld/callback#"), "location = %q", location)

	fragment := fragmentValues(t, location)
	assert.NotEmpty(t, fragment.Get("access_token"))
	assert.Equal(t, "bearer", fragment.Get("token_type"))
	assert.Equal(t, "s9", fragment.Get("state"))
}

func TestDecision_BodyOverridesQueryParameters(t *testing.T) {
	h := newTestHarness(t)

	// A body parameter wins over its query counterpart, and still has to
	// pass validation: the tampered redirect URI in the body is rejected
	// even though the query carries the registered one.
	params := validParams()
	body := `{"authorized":true,"redirect_uri":"https://evil.tld/callback"}`
	req := httptest.NewRequest(http.MethodPost, authorizeURL(params), strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.routes.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var oauthErr OAuthError
	require.NoError(t, decodeBody(rec, &oauthErr))
	assert.Equal(t, "Mismatching redirect uri", oauthErr.Description)
}

func TestDecision_FormBodyCarriesRequestParameters(t *testing.T) {
	h := newTestHarness(t)

	form := url.Values{}
	form.Set("authorized", "true")
	form.Set("client_id", "thirdparty")
	form.Set("response_type", "token")
	form.Set("redirect_uri", "https://app.tld/callback")
	form.Set("scope", "read")
	req := httptest.NewRequest(http.MethodPost, "/authorize", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.routes.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	fragment := fragmentValues(t, rec.Header().Get("Location"))
	assert.NotEmpty(t, fragment.Get("access_token"))
	assert.Equal(t, "read", fragment.Get("scope"))
}

func TestDecision_Denied(t *testing.T) {
	h := newTestHarness(t)

	req := httptest.NewRequest(http.MethodPost, authorizeURL(validParams()),
		strings.NewReader(`{"authorized":false}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.routes.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	fragment := fragmentValues(t, rec.Header().Get("Location"))
	assert.Equal(t, "access_denied", fragment.Get("error"))
	assert.Equal(t, "xyz", fragment.Get("state"))

	// Denial must not leave a token behind
	assert.Equal(t, int64(0), h.store.TokenCount())
}

func TestDecision_FormEncoded(t *testing.T) {
	h := newTestHarness(t)

	req := httptest.NewRequest(http.MethodPost, authorizeURL(validParams()),
		strings.NewReader("authorized=true"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.routes.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	fragment := fragmentValues(t, rec.Header().Get("Location"))
	assert.NotEmpty(t, fragment.Get("access_token"))
}

func TestDecision_Unauthenticated(t *testing.T) {
	h := newTestHarness(t)
	h.subjects.subject = nil

	req := httptest.NewRequest(http.MethodPost, authorizeURL(validParams()),
		strings.NewReader(`{"authorized":true}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.routes.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Equal(t, "Unauthorized", rec.Body.String())
}

func TestDecision_ValidationStillApplies(t *testing.T) {
	h := newTestHarness(t)

	// The consent prompt is not trusted: a POST with a tampered redirect URI
	// fails exactly like the GET does.
	params := validParams()
	params["redirect_uri"] = "https://evil.tld/callback"

	req := httptest.NewRequest(http.MethodPost, authorizeURL(params),
		strings.NewReader(`{"authorized":true}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.routes.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var oauthErr OAuthError
	require.NoError(t, decodeBody(rec, &oauthErr))
	assert.Equal(t, "Mismatching redirect uri", oauthErr.Description)
}

func TestDecision_CodeFlow(t *testing.T) {
	h := newTestHarness(t)

	params := validParams()
	params["response_type"] = "code"

	req := httptest.NewRequest(http.MethodPost, authorizeURL(params),
		strings.NewReader(`{"authorized":true}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.routes.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)

	// Code grants ride in the query string, not the fragment
	assert.Empty(t, location.Fragment)
	assert.NotEmpty(t, location.Query().Get("code"))
	assert.Equal(t, "xyz", location.Query().Get("state"))
}

func TestAuthorizations_ListAndRevoke(t *testing.T) {
	h := newTestHarness(t)

	// Approve once so there is a grant to manage
	req := httptest.NewRequest(http.MethodPost, authorizeURL(validParams()),
		strings.NewReader(`{"authorized":true}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.routes.ServeHTTP(rec, req)
	require.Equal(t, http.StatusFound, rec.Code)

	t.Run("list", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/authorizations", nil)
		rec := httptest.NewRecorder()
		h.routes.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var authorizations []server.Authorization
		require.NoError(t, decodeBody(rec, &authorizations))
		require.Len(t, authorizations, 1)
		assert.Equal(t, "thirdparty", authorizations[0].ClientID)
	})

	t.Run("revoke", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/authorizations/thirdparty", nil)
		rec := httptest.NewRecorder()
		h.routes.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		assert.Equal(t, int64(0), h.store.TokenCount())
	})

	t.Run("revoke again is 404", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/authorizations/thirdparty", nil)
		rec := httptest.NewRecorder()
		h.routes.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestAuthorizations_RequireAuthentication(t *testing.T) {
	h := newTestHarness(t)
	h.subjects.subject = nil

	for _, tc := range []struct {
		method string
		target string
	}{
		{http.MethodGet, "/authorizations"},
		{http.MethodDelete, "/authorizations/thirdparty"},
	} {
		req := httptest.NewRequest(tc.method, tc.target, nil)
		rec := httptest.NewRecorder()
		h.routes.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", tc.method, tc.target)
	}
}

func TestAuthorize_RateLimited(t *testing.T) {
	h := newTestHarness(t)

	limiter := security.NewRateLimiter(1, 1, nil)
	defer limiter.Stop()
	h.handler.SetRateLimiter(limiter)

	first := httptest.NewRecorder()
	h.routes.ServeHTTP(first, httptest.NewRequest(http.MethodGet, authorizeURL(validParams()), nil))
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	h.routes.ServeHTTP(second, httptest.NewRequest(http.MethodGet, authorizeURL(validParams()), nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))
}

func TestRequireScope(t *testing.T) {
	h := newTestHarness(t)

	// Obtain a live token through the authorization flow
	req := httptest.NewRequest(http.MethodPost, authorizeURL(validParams()),
		strings.NewReader(`{"authorized":true}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.routes.ServeHTTP(rec, req)
	require.Equal(t, http.StatusFound, rec.Code)
	accessToken := fragmentValues(t, rec.Header().Get("Location")).Get("access_token")
	require.NotEmpty(t, accessToken)

	protected := h.handler.RequireScope("read")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := TokenFromContext(r.Context())
		require.NotNil(t, token)
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/resource", nil)
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
	})

	t.Run("invalid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/resource", nil)
		req.Header.Set("Authorization", "Bearer nope")
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/resource", nil)
		req.Header.Set("Authorization", "Bearer "+accessToken)
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("insufficient scope", func(t *testing.T) {
		guarded := h.handler.RequireScope("write")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		req := httptest.NewRequest(http.MethodGet, "/resource", nil)
		req.Header.Set("Authorization", "Bearer "+accessToken)
		rec := httptest.NewRecorder()
		guarded.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "insufficient_scope")
	})
}

package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/quartzlabs/oauth/instrumentation"
	"github.com/quartzlabs/oauth/security"
	"github.com/quartzlabs/oauth/server"
	"github.com/quartzlabs/oauth/storage"
)

// Handler is the HTTP surface of the authorization server
type Handler struct {
	server   *server.Server
	subjects SubjectProvider

	logger          *slog.Logger
	auditor         *security.Auditor
	rateLimiter     *security.RateLimiter
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	trustProxy        bool
	trustedProxyCount int
}

// NewHandler creates the HTTP handler on top of an authorization server.
// The subject provider supplies the authenticated resource owner; the
// handler never runs a login flow of its own.
func NewHandler(srv *server.Server, subjects SubjectProvider) (*Handler, error) {
	if srv == nil {
		return nil, fmt.Errorf("server is required")
	}
	if subjects == nil {
		return nil, fmt.Errorf("subject provider is required")
	}
	return &Handler{
		server:   srv,
		subjects: subjects,
		logger:   slog.Default(),
	}, nil
}

// SetLogger sets the logger for the handler
func (h *Handler) SetLogger(logger *slog.Logger) {
	if logger != nil {
		h.logger = logger
	}
}

// SetAuditor enables security audit logging
func (h *Handler) SetAuditor(auditor *security.Auditor) {
	h.auditor = auditor
}

// SetRateLimiter enables per-IP rate limiting on the authorization endpoint
func (h *Handler) SetRateLimiter(limiter *security.RateLimiter) {
	h.rateLimiter = limiter
}

// SetInstrumentation enables tracing and metrics
func (h *Handler) SetInstrumentation(inst *instrumentation.Instrumentation) {
	h.instrumentation = inst
	if inst != nil {
		h.tracer = inst.Tracer("http")
	}
}

// SetProxyTrust configures client IP extraction behind reverse proxies
func (h *Handler) SetProxyTrust(trustProxy bool, trustedProxyCount int) {
	h.trustProxy = trustProxy
	h.trustedProxyCount = trustedProxyCount
}

// Routes returns the handler's route table
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /authorize", h.instrumented("authorize", h.serveAuthorize))
	mux.HandleFunc("POST /authorize", h.instrumented("authorize_decision", h.serveDecision))
	mux.HandleFunc("GET /authorizations", h.instrumented("list_authorizations", h.serveListAuthorizations))
	mux.HandleFunc("DELETE /authorizations/{client_id}", h.instrumented("revoke_authorization", h.serveRevokeAuthorization))
	return security.RequestIDMiddleware(mux)
}

// instrumented wraps an endpoint with a span, security headers, and request
// metrics
func (h *Handler) instrumented(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		security.SetSecurityHeaders(w, h.server.Config().Issuer)

		ctx := r.Context()
		if h.tracer != nil {
			var span trace.Span
			ctx, span = h.tracer.Start(ctx, "oauth."+name,
				trace.WithAttributes(attribute.String("http.method", r.Method)))
			defer span.End()
			r = r.WithContext(ctx)
		}

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)

		if h.instrumentation != nil {
			h.instrumentation.Metrics().RecordHTTPRequest(ctx, r.Method, name,
				recorder.status, float64(time.Since(start).Milliseconds()))
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// ==================== authorization endpoint ====================

func authorizationRequestFromQuery(q url.Values) server.AuthorizationRequest {
	return server.AuthorizationRequest{
		ClientID:     q.Get("client_id"),
		RedirectURI:  q.Get("redirect_uri"),
		ResponseType: q.Get("response_type"),
		Scope:        q.Get("scope"),
		State:        q.Get("state"),
	}
}

// serveAuthorize handles GET /authorize: it validates the request and, when
// everything checks out, presents the consent prompt. Malformed requests are
// rejected here; which channel the rejection uses depends on whether the
// redirect URI had already been validated when the check failed.
func (h *Handler) serveAuthorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.allowRequest(w, r) {
		return
	}

	span := trace.SpanFromContext(ctx)

	req := authorizationRequestFromQuery(r.URL.Query())
	validated, authErr := h.server.ValidateAuthorizationRequest(ctx, req)
	if authErr != nil {
		instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrErrorCode, authErr.Code))
		instrumentation.SetSpanError(span, authErr.Code)
		h.respondAuthorizationError(w, r, authErr, req.State)
		return
	}
	instrumentation.AddAuthorizationAttributes(span, validated.Client.ID, validated.ResponseType,
		strings.Join(validated.Scope, " "))

	consent := ConsentResponse{
		Client: ClientInfo{
			ID:   validated.Client.ID,
			Name: validated.Client.Name,
		},
		ResponseType: validated.ResponseType,
		RedirectURI:  validated.RedirectURI,
		Scope:        validated.Scope,
		State:        validated.State,
	}

	if wantsHTML(r) {
		h.renderConsentPage(w, consent)
		return
	}
	h.writeJSON(w, http.StatusOK, consent)
}

// serveDecision handles POST /authorize: the resource owner's approval or
// denial of a previously presented authorization request. The request
// parameters arrive in the body (query parameters serve as a fallback) and
// are re-validated from scratch; the consent prompt is not a trusted
// intermediary.
func (h *Handler) serveDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.allowRequest(w, r) {
		return
	}

	subject, err := h.subjects.SubjectFromRequest(ctx, r)
	if err != nil {
		h.logger.Error("Subject resolution failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, server.ErrorCodeServerError, "Session lookup failed")
		return
	}
	if subject == nil {
		if h.auditor != nil {
			h.auditor.LogAuthFailure("", r.URL.Query().Get("client_id"), h.clientIP(r), "no authenticated resource owner")
		}
		// Plain text, not JSON: there is no protocol party to speak JSON to
		// when the resource owner is not even logged in.
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, "Unauthorized")
		return
	}

	span := trace.SpanFromContext(ctx)

	decision, err := decodeDecision(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, server.ErrorCodeInvalidRequest, "Malformed authorization decision")
		return
	}

	req := decision.authorizationRequest(r.URL.Query())
	validated, authErr := h.server.ValidateAuthorizationRequest(ctx, req)
	if authErr != nil {
		instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrErrorCode, authErr.Code))
		instrumentation.SetSpanError(span, authErr.Code)
		h.respondAuthorizationError(w, r, authErr, req.State)
		return
	}
	instrumentation.AddAuthorizationAttributes(span, validated.Client.ID, validated.ResponseType,
		strings.Join(validated.Scope, " "))

	grant, authErr := h.server.Authorize(ctx, server.Decision{
		Request:    validated,
		Subject:    subject.ID,
		Authorized: decision.Authorized,
		IPAddress:  h.clientIP(r),
	})
	if authErr != nil {
		h.respondAuthorizationError(w, r, authErr, validated.State)
		return
	}

	h.redirectGrant(w, r, grant)
}

// decodeDecision reads the resource owner's decision from a JSON body or,
// for plain form posts from the consent page, from form values
func decodeDecision(r *http.Request) (decisionRequest, error) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return decisionRequest{}, err
		}
		return decisionRequest{
			ClientID:     r.PostFormValue("client_id"),
			ResponseType: r.PostFormValue("response_type"),
			RedirectURI:  r.PostFormValue("redirect_uri"),
			Scope:        r.PostFormValue("scope"),
			State:        r.PostFormValue("state"),
			Authorized:   r.PostFormValue("authorized") == "true",
		}, nil
	}

	var decision decisionRequest
	body := http.MaxBytesReader(nil, r.Body, 4096)
	if err := json.NewDecoder(body).Decode(&decision); err != nil {
		return decisionRequest{}, err
	}
	return decision, nil
}

// authorizationRequest assembles the parameters to validate, preferring the
// decision body and falling back to the query string so the consent page's
// plain form post keeps working without duplicating its query parameters.
func (d decisionRequest) authorizationRequest(q url.Values) server.AuthorizationRequest {
	pick := func(body, fallback string) string {
		if body != "" {
			return body
		}
		return fallback
	}
	return server.AuthorizationRequest{
		ClientID:     pick(d.ClientID, q.Get("client_id")),
		RedirectURI:  pick(d.RedirectURI, q.Get("redirect_uri")),
		ResponseType: pick(d.ResponseType, q.Get("response_type")),
		Scope:        pick(d.Scope, q.Get("scope")),
		State:        pick(d.State, q.Get("state")),
	}
}

// redirectGrant sends a successful grant back to the client application.
// Token grants ride in the URI fragment so the credential never reaches the
// client application's server logs; code grants ride in the query string.
func (h *Handler) redirectGrant(w http.ResponseWriter, r *http.Request, grant *server.Grant) {
	var location string
	switch {
	case grant.Token != nil:
		params := url.Values{}
		params.Set("access_token", grant.Token.AccessToken)
		params.Set("token_type", grant.Token.TokenType)
		params.Set("expires_in", fmt.Sprintf("%d", grant.Token.ExpiresIn(time.Now())))
		if grant.Token.Scope != "" {
			params.Set("scope", grant.Token.Scope)
		}
		if grant.State != "" {
			params.Set("state", grant.State)
		}
		location = grant.RedirectURI + "#" + params.Encode()

	case grant.Code != nil:
		target, err := url.Parse(grant.RedirectURI)
		if err != nil {
			h.writeError(w, http.StatusInternalServerError, server.ErrorCodeServerError, "Invalid redirect URI")
			return
		}
		query := target.Query()
		query.Set("code", grant.Code.Code)
		if grant.State != "" {
			query.Set("state", grant.State)
		}
		target.RawQuery = query.Encode()
		location = target.String()

	default:
		h.writeError(w, http.StatusInternalServerError, server.ErrorCodeServerError, "Empty grant")
		return
	}

	http.Redirect(w, r, location, http.StatusFound)
}

// respondAuthorizationError delivers a validation or decision failure on the
// correct channel. Errors raised before the redirect URI was validated are
// answered directly as JSON; everything after travels back to the client
// application through the redirect URI, fragment-encoded for token flows and
// query-encoded for code flows.
func (h *Handler) respondAuthorizationError(w http.ResponseWriter, r *http.Request, authErr *server.AuthorizationError, state string) {
	if !authErr.Redirectable || authErr.RedirectURI == "" {
		h.writeError(w, authErr.Status, authErr.Code, authErr.Description)
		return
	}

	params := url.Values{}
	params.Set("error", authErr.Code)
	if authErr.Description != "" {
		params.Set("error_description", authErr.Description)
	}
	if errorURI := h.server.Config().ErrorURI; errorURI != "" {
		params.Set("error_uri", errorURI)
	}
	if state != "" {
		params.Set("state", state)
	}

	var location string
	if authErr.ResponseType == server.ResponseTypeCode {
		target, err := url.Parse(authErr.RedirectURI)
		if err != nil {
			h.writeError(w, http.StatusInternalServerError, server.ErrorCodeServerError, "Invalid redirect URI")
			return
		}
		query := target.Query()
		for key, values := range params {
			query.Set(key, values[0])
		}
		target.RawQuery = query.Encode()
		location = target.String()
	} else {
		location = authErr.RedirectURI + "#" + params.Encode()
	}

	http.Redirect(w, r, location, http.StatusFound)
}

// ==================== authorization management ====================

// serveListAuthorizations handles GET /authorizations: the resource owner's
// live grants, one entry per client
func (h *Handler) serveListAuthorizations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	subject, err := h.subjects.SubjectFromRequest(ctx, r)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, server.ErrorCodeServerError, "Session lookup failed")
		return
	}
	if subject == nil {
		h.writeError(w, http.StatusUnauthorized, server.ErrorCodeInvalidRequest, "Authentication required")
		return
	}

	authorizations, err := h.server.ListAuthorizations(ctx, subject.ID)
	if err != nil {
		h.logger.Error("Listing authorizations failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, server.ErrorCodeServerError, "Listing authorizations failed")
		return
	}
	if authorizations == nil {
		authorizations = []server.Authorization{}
	}
	h.writeJSON(w, http.StatusOK, authorizations)
}

// serveRevokeAuthorization handles DELETE /authorizations/{client_id}:
// withdraw the resource owner's grant to one client, removing every live
// token issued under it
func (h *Handler) serveRevokeAuthorization(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	subject, err := h.subjects.SubjectFromRequest(ctx, r)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, server.ErrorCodeServerError, "Session lookup failed")
		return
	}
	if subject == nil {
		h.writeError(w, http.StatusUnauthorized, server.ErrorCodeInvalidRequest, "Authentication required")
		return
	}

	clientID := r.PathValue("client_id")
	removed, err := h.server.RevokeClientAuthorization(ctx, subject.ID, clientID)
	if err != nil {
		h.logger.Error("Revocation failed", "client_id", clientID, "error", err)
		h.writeError(w, http.StatusInternalServerError, server.ErrorCodeServerError, "Revocation failed")
		return
	}
	if removed == 0 {
		h.writeError(w, http.StatusNotFound, server.ErrorCodeInvalidRequest, "No authorization for this client")
		return
	}

	if h.auditor != nil {
		h.auditor.LogTokenRevoked(subject.ID, clientID, h.clientIP(r), removed)
	}
	w.WriteHeader(http.StatusNoContent)
}

// ==================== protected resource middleware ====================

// RequireScope guards a protected resource: the request must carry a valid
// bearer token granted the required scope. On success the verified token is
// placed on the request context for TokenFromContext.
func (h *Handler) RequireScope(requiredScope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			accessToken, ok := bearerToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="oauth"`)
				h.writeOAuthError(w, NewInvalidTokenError("Missing bearer token"))
				return
			}

			token, err := h.server.VerifyToken(ctx, accessToken, requiredScope)
			if err != nil {
				switch {
				case errors.Is(err, server.ErrInsufficientScope):
					w.Header().Set("WWW-Authenticate",
						fmt.Sprintf(`Bearer realm="oauth", error="insufficient_scope", scope=%q`, requiredScope))
					h.writeOAuthError(w, NewInsufficientScopeError("Token lacks required scope"))
				case errors.Is(err, server.ErrExpiredToken):
					w.Header().Set("WWW-Authenticate", `Bearer realm="oauth", error="invalid_token"`)
					h.writeOAuthError(w, NewInvalidTokenError("Token expired"))
				case errors.Is(err, server.ErrInvalidToken):
					w.Header().Set("WWW-Authenticate", `Bearer realm="oauth", error="invalid_token"`)
					h.writeOAuthError(w, NewInvalidTokenError("Invalid token"))
				default:
					h.logger.Error("Token verification failed", "error", err)
					h.writeError(w, http.StatusInternalServerError, server.ErrorCodeServerError, "Token verification failed")
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(withToken(ctx, token)))
		})
	}
}

// bearerToken extracts the access token from the Authorization header
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return header[len(prefix):], true
}

// ==================== helpers ====================

func (h *Handler) allowRequest(w http.ResponseWriter, r *http.Request) bool {
	if h.rateLimiter == nil {
		return true
	}
	ip := h.clientIP(r)
	if h.rateLimiter.Allow(ip) {
		return true
	}
	if h.auditor != nil {
		h.auditor.LogRateLimitExceeded(ip, "")
	}
	if h.instrumentation != nil {
		h.instrumentation.Metrics().RecordRateLimitExceeded(r.Context(), "ip")
	}
	w.Header().Set("Retry-After", "1")
	h.writeError(w, http.StatusTooManyRequests, server.ErrorCodeInvalidRequest, "Too many requests")
	return false
}

func (h *Handler) clientIP(r *http.Request) string {
	return security.GetClientIP(r, h.trustProxy, h.trustedProxyCount)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, description string) {
	h.writeOAuthError(w, &OAuthError{Code: code, Description: description, Status: status})
}

func (h *Handler) writeOAuthError(w http.ResponseWriter, oauthErr *OAuthError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(oauthErr.Status)
	if err := json.NewEncoder(w).Encode(oauthErr); err != nil {
		h.logger.Error("Failed to encode error response", "error", err)
	}
}

func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

var consentTemplate = template.Must(template.New("consent").Parse(`<!DOCTYPE html>
<html>
<head><title>Authorize {{.Client.Name}}</title></head>
<body>
<h1>Authorize {{if .Client.Name}}{{.Client.Name}}{{else}}{{.Client.ID}}{{end}}</h1>
<p>The application requests access to: {{range .Scope}}<code>{{.}}</code> {{end}}</p>
<form method="POST">
<button name="authorized" value="true">Allow</button>
<button name="authorized" value="false">Deny</button>
</form>
</body>
</html>
`))

func (h *Handler) renderConsentPage(w http.ResponseWriter, consent ConsentResponse) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := consentTemplate.Execute(w, consent); err != nil {
		h.logger.Error("Failed to render consent page", "error", err)
	}
}

func withToken(ctx context.Context, token *storage.AccessToken) context.Context {
	return context.WithValue(ctx, tokenContextKey, token)
}

// TokenFromContext returns the verified bearer token placed on the request
// context by RequireScope, or nil outside that middleware
func TokenFromContext(ctx context.Context) *storage.AccessToken {
	token, _ := ctx.Value(tokenContextKey).(*storage.AccessToken)
	return token
}

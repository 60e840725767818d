package auth

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	merr "github.com/mnemora/mnemora-core/pkg/errors"
)

// Mode selects the verification strategy for a deployment. It is
// resolved once per request from configuration and never mutated.
type Mode string

const (
	// ModeAccess requires issuer-verified access tokens. The resolver
	// fails closed (status 500) when issuer configuration is incomplete.
	ModeAccess Mode = "access"

	// ModeToken accepts only the pre-shared legacy credential.
	ModeToken Mode = "token"

	// ModeHybrid tries issuer verification first and falls back to the
	// legacy credential when no token candidate is present.
	ModeHybrid Mode = "hybrid"
)

// Valid reports whether the mode is one of the recognized values.
func (m Mode) Valid() bool {
	switch m {
	case ModeAccess, ModeToken, ModeHybrid:
		return true
	default:
		return false
	}
}

// Method identifies which credential branch authenticated a request.
type Method string

const (
	// MethodAccessJWT marks a principal verified via a signed access token.
	MethodAccessJWT Method = "access-jwt"

	// MethodServiceIdentity marks a machine caller authenticated via the
	// service-identity header pair.
	MethodServiceIdentity Method = "service-identity"

	// MethodLegacyCredential marks a caller authenticated via the
	// pre-shared legacy secret.
	MethodLegacyCredential Method = "legacy-credential"
)

// PrincipalType categorizes the authenticated principal.
type PrincipalType string

const (
	// PrincipalTypePerson is a human principal (token- or legacy-authenticated).
	PrincipalTypePerson PrincipalType = "person"

	// PrincipalTypeService is a machine principal (service-identity pair).
	PrincipalTypeService PrincipalType = "service"
)

// Inbound credential surfaces. These are the exact header, cookie, and
// query parameter names the resolver inspects.
const (
	// HeaderAccessToken is the primary issuer-verified token header.
	HeaderAccessToken = "CF-Access-Jwt-Assertion"

	// HeaderAccessTokenAlt is the fallback token header, checked second.
	HeaderAccessTokenAlt = "X-CF-Access-Jwt-Assertion"

	// CookieAccessToken is the session-assertion cookie, checked last.
	CookieAccessToken = "CF_Authorization"

	// HeaderServiceClientID and HeaderServiceClientSecret form the
	// service-identity pair; both must be present and match.
	HeaderServiceClientID     = "CF-Access-Client-Id"
	HeaderServiceClientSecret = "CF-Access-Client-Secret"

	// QueryLegacyToken is the legacy-credential query parameter, honored
	// only because upgrade requests cannot set arbitrary headers.
	QueryLegacyToken = "token"
)

// OutcomeLog controls which resolution outcomes are logged.
type OutcomeLog string

const (
	// LogDeny logs denied resolutions only (the default).
	LogDeny OutcomeLog = "deny"

	// LogAll logs every resolution outcome.
	LogAll OutcomeLog = "all"
)

// AuthContext is the resolver's uniform output: a tagged union keyed on
// Authenticated. Exactly one variant is populated — the principal
// fields when Authenticated is true, Reason and Status otherwise.
// Callers never need to know which credential branch fired.
//
// AuthContext is request-scoped and owned by the caller; it is never
// shared across requests.
type AuthContext struct {
	// Authenticated discriminates the two variants.
	Authenticated bool

	// Mode is the operating mode the resolution ran under.
	Mode Mode

	// Method, PrincipalType, PrincipalID, UserID and Email are set only
	// when Authenticated is true. UserID is a derived stable identifier
	// and is not necessarily equal to PrincipalID.
	Method        Method
	PrincipalType PrincipalType
	PrincipalID   string
	UserID        string
	Email         string

	// Reason, Status and Code are set only when Authenticated is false.
	// Status is 401 (missing or invalid credential), 403 (credential
	// present but wrong), or 500 (server misconfiguration). Reason is
	// safe to log but must never contain the raw credential. Code ties
	// the denial into the platform error taxonomy so logs and traces
	// classify failures without parsing Reason.
	Reason string
	Status int
	Code   merr.Code
}

// ResolverConfig holds the recognized authentication options for a
// deployment. All fields load through the platform config loader.
type ResolverConfig struct {
	// Mode selects the verification strategy. When unset, the resolver
	// defaults to ModeAccess if the issuer configuration (team domain +
	// audience) is present, else ModeToken.
	Mode Mode `json:"mode" env:"AUTH_MODE" yaml:"mode"`

	// TeamDomain is the issuer domain publishing the signing keys
	// (e.g. "example.cloudflareaccess.com").
	TeamDomain string `json:"team_domain" env:"AUTH_TEAM_DOMAIN" yaml:"team_domain"`

	// Audience is the expected "aud" claim of access tokens.
	Audience string `json:"audience" env:"AUTH_AUDIENCE" yaml:"audience"`

	// ServiceClientID and ServiceClientSecret are the expected
	// service-identity pair. Both must match for the bypass to fire.
	ServiceClientID     string `json:"service_client_id" env:"AUTH_SERVICE_CLIENT_ID" yaml:"service_client_id"`
	ServiceClientSecret Secret `json:"-" env:"AUTH_SERVICE_CLIENT_SECRET" yaml:"service_client_secret"`

	// LegacySharedSecret is the pre-shared credential for token and
	// hybrid modes.
	LegacySharedSecret Secret `json:"-" env:"AUTH_LEGACY_SHARED_SECRET" yaml:"legacy_shared_secret"`

	// KeyCacheTTL overrides how long fetched key material is cached.
	// Defaults to 10 minutes.
	KeyCacheTTL time.Duration `json:"key_cache_ttl" env:"AUTH_KEY_CACHE_TTL" envDefault:"10m" yaml:"key_cache_ttl"`

	// ClockSkew overrides the symmetric claim-validation tolerance.
	// Defaults to 60 seconds.
	ClockSkew time.Duration `json:"clock_skew" env:"AUTH_CLOCK_SKEW" envDefault:"60s" yaml:"clock_skew"`

	// LogOutcomes selects deny-only or full outcome logging.
	LogOutcomes OutcomeLog `json:"log_outcomes" env:"AUTH_LOG_OUTCOMES" envDefault:"deny" yaml:"log_outcomes"`

	// HTTPClient overrides the client used for key material fetches.
	// Defaults to an http.Client with a 10-second timeout.
	HTTPClient HTTPClient `json:"-" yaml:"-"`
}

// Validate checks the configuration for logical correctness. Incomplete
// issuer configuration is deliberately NOT rejected here — the resolver
// reports it as a status-500 outcome at resolution time so that the
// misconfiguration is visible per request rather than at startup only.
func (c *ResolverConfig) Validate() *merr.Error {
	if c.Mode != "" && !c.Mode.Valid() {
		return merr.Newf(merr.CodeValidation, "auth: unrecognized mode %q", c.Mode)
	}
	if c.KeyCacheTTL < 0 {
		return merr.New(merr.CodeValidation, "auth: key cache TTL must be non-negative")
	}
	if c.ClockSkew < 0 {
		return merr.New(merr.CodeValidation, "auth: clock skew must be non-negative")
	}
	if c.LogOutcomes != "" && c.LogOutcomes != LogDeny && c.LogOutcomes != LogAll {
		return merr.Newf(merr.CodeValidation, "auth: unrecognized log_outcomes value %q", c.LogOutcomes)
	}
	return nil
}

// EffectiveMode resolves the operating mode: the configured mode when
// set, else ModeAccess when the issuer configuration is present, else
// ModeToken.
func (c *ResolverConfig) EffectiveMode() Mode {
	if c.Mode != "" {
		return c.Mode
	}
	if c.accessConfigured() {
		return ModeAccess
	}
	return ModeToken
}

// Issuer returns the expected token issuer derived from the team domain.
func (c *ResolverConfig) Issuer() string {
	if c.TeamDomain == "" {
		return ""
	}
	return teamDomainBase(c.TeamDomain)
}

// accessConfigured reports whether the issuer-verification path has the
// configuration it needs.
func (c *ResolverConfig) accessConfigured() bool {
	return c.TeamDomain != "" && c.Audience != ""
}

// credentialRule is one step of the resolution chain: it inspects the
// request and either produces a final AuthContext or returns nil to
// pass the request to the next rule. Representing the precedence order
// as data keeps it independently testable.
type credentialRule struct {
	name  string
	apply func(ctx context.Context, req *http.Request) *AuthContext
}

// Resolver is the top-level authentication entry point. It is invoked
// once per request (and again, independently, inside the realtime
// upgrade gate) and produces the uniform [AuthContext] every downstream
// component gates on.
//
// Resolver is safe for concurrent use by multiple goroutines. The only
// mutable state it shares across requests is the key material cache.
type Resolver struct {
	cfg      ResolverConfig
	mode     Mode
	verifier *Verifier
	rules    []credentialRule
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewResolver creates a resolver from the given configuration. When the
// issuer configuration is complete, the key material cache and token
// verifier are constructed eagerly; otherwise token candidates resolve
// to a misconfiguration outcome at request time.
func NewResolver(cfg ResolverConfig, logger *slog.Logger) (*Resolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Resolver{
		cfg:    cfg,
		mode:   cfg.EffectiveMode(),
		logger: logger.With("component", "auth"),
		tracer: otel.Tracer(tracerName),
	}

	if cfg.accessConfigured() {
		cache, err := NewKeysetCache(cfg.TeamDomain, cfg.KeyCacheTTL, cfg.HTTPClient)
		if err != nil {
			return nil, err
		}
		verifier, err := NewVerifier(cache, cfg.Issuer(), cfg.Audience, cfg.ClockSkew)
		if err != nil {
			return nil, err
		}
		r.verifier = verifier
	}

	// Precedence order is fixed: service identity, then access token,
	// then the access-mode fail-closed stop, then the legacy credential.
	r.rules = []credentialRule{
		{name: "service-identity", apply: r.applyServiceIdentity},
		{name: "access-token", apply: r.applyAccessToken},
		{name: "access-fail-closed", apply: r.applyAccessFailClosed},
		{name: "legacy-credential", apply: r.applyLegacyCredential},
	}
	return r, nil
}

// Mode returns the resolver's effective operating mode.
func (r *Resolver) Mode() Mode { return r.mode }

// Resolve runs the credential rules in precedence order and returns the
// first applicable rule's outcome. Every request produces exactly one
// AuthContext; no error ever escapes the resolver.
func (r *Resolver) Resolve(ctx context.Context, req *http.Request) *AuthContext {
	ctx, span := r.tracer.Start(ctx, "auth.Resolve")
	defer span.End()

	actx := r.resolve(ctx, req)

	span.SetAttributes(
		attribute.Bool("auth.authenticated", actx.Authenticated),
		attribute.String("auth.mode", string(actx.Mode)),
	)
	if actx.Authenticated {
		span.SetAttributes(attribute.String("auth.method", string(actx.Method)))
	} else {
		span.SetAttributes(
			attribute.Int("auth.status", actx.Status),
			attribute.String("auth.code", string(actx.Code)),
		)
	}

	r.logOutcome(ctx, actx)
	return actx
}

func (r *Resolver) resolve(ctx context.Context, req *http.Request) *AuthContext {
	for _, rule := range r.rules {
		if actx := rule.apply(ctx, req); actx != nil {
			return actx
		}
	}
	// Reached only in token/hybrid mode with no credential at all; the
	// legacy rule covers this, but keep the chain total.
	return r.deny(merr.CodeAuthenticationMissing, http.StatusUnauthorized, "missing credential")
}

// applyServiceIdentity authenticates the service-identity header pair.
// This branch is mode-independent and always tried first as an
// operational bypass for machine-to-machine callers. A pair that is
// absent, unconfigured, or mismatched falls through to the next rule.
func (r *Resolver) applyServiceIdentity(_ context.Context, req *http.Request) *AuthContext {
	id := req.Header.Get(HeaderServiceClientID)
	secret := req.Header.Get(HeaderServiceClientSecret)
	if id == "" || secret == "" {
		return nil
	}
	if r.cfg.ServiceClientID == "" || !r.cfg.ServiceClientSecret.IsSet() {
		return nil
	}
	if !secureCompare(id, r.cfg.ServiceClientID) || !secureCompare(secret, r.cfg.ServiceClientSecret.Value()) {
		return nil
	}
	return &AuthContext{
		Authenticated: true,
		Mode:          r.mode,
		Method:        MethodServiceIdentity,
		PrincipalType: PrincipalTypeService,
		PrincipalID:   r.cfg.ServiceClientID,
		UserID:        deriveUserID(r.cfg.ServiceClientID),
	}
}

// applyAccessToken verifies an issuer-signed token candidate. A failed
// verification is a hard stop: once a candidate existed, no further
// credential source is consulted.
func (r *Resolver) applyAccessToken(ctx context.Context, req *http.Request) *AuthContext {
	if r.mode == ModeToken {
		return nil
	}
	candidate := extractAccessToken(req)
	if candidate == "" {
		return nil
	}
	if r.verifier == nil {
		return r.deny(merr.CodeInternalConfiguration, http.StatusInternalServerError,
			"access verification is not configured: team domain and audience are required")
	}

	claims, err := r.verifier.Verify(ctx, candidate)
	if err != nil {
		return r.deny(merr.CodeAuthenticationInvalid, http.StatusUnauthorized,
			"invalid access token: "+err.Error())
	}

	principalID := claims.Email
	if principalID == "" {
		principalID = claims.Subject
	}
	if principalID == "" {
		return r.deny(merr.CodeAuthenticationInvalid, http.StatusUnauthorized,
			"access token carries no usable principal")
	}
	return &AuthContext{
		Authenticated: true,
		Mode:          r.mode,
		Method:        MethodAccessJWT,
		PrincipalType: PrincipalTypePerson,
		PrincipalID:   principalID,
		UserID:        deriveUserID(principalID),
		Email:         claims.Email,
	}
}

// applyAccessFailClosed terminates resolution in pure access mode when
// no token candidate was present. Configuration is re-checked here so
// operators see 500 (misconfiguration) rather than 401 (missing input)
// when the server itself is at fault.
func (r *Resolver) applyAccessFailClosed(_ context.Context, _ *http.Request) *AuthContext {
	if r.mode != ModeAccess {
		return nil
	}
	if !r.cfg.accessConfigured() {
		return r.deny(merr.CodeInternalConfiguration, http.StatusInternalServerError,
			"access authentication is not configured: team domain and audience are required")
	}
	return r.deny(merr.CodeAuthenticationMissing, http.StatusUnauthorized, "missing access token")
}

// applyLegacyCredential compares the pre-shared legacy secret from the
// Authorization header or, for upgrade requests, the token query
// parameter. The status codes distinguish the failure classes: wrong
// scheme and missing credential are 401, a present-but-wrong secret is
// 403, and a missing server-side secret is 500.
func (r *Resolver) applyLegacyCredential(_ context.Context, req *http.Request) *AuthContext {
	if r.mode == ModeAccess {
		return nil
	}

	var candidate string
	if authHeader := req.Header.Get("Authorization"); authHeader != "" {
		candidate = ExtractBearerToken(authHeader)
		if candidate == "" {
			return r.deny(merr.CodeAuthenticationInvalid, http.StatusUnauthorized,
				"Invalid authentication scheme: expected Bearer")
		}
	} else {
		candidate = req.URL.Query().Get(QueryLegacyToken)
	}

	if candidate == "" {
		return r.deny(merr.CodeAuthenticationMissing, http.StatusUnauthorized, "missing credential")
	}
	if !r.cfg.LegacySharedSecret.IsSet() {
		return r.deny(merr.CodeInternalConfiguration, http.StatusInternalServerError,
			"legacy shared secret is not configured")
	}
	if !secureCompare(candidate, r.cfg.LegacySharedSecret.Value()) {
		return r.deny(merr.CodeAuthorizationRejectedCredential, http.StatusForbidden,
			"legacy credential rejected")
	}
	return &AuthContext{
		Authenticated: true,
		Mode:          r.mode,
		Method:        MethodLegacyCredential,
		PrincipalType: PrincipalTypePerson,
		PrincipalID:   legacyPrincipalID,
		UserID:        deriveUserID(legacyPrincipalID),
	}
}

// legacyPrincipalID is the fixed principal identifier for callers
// authenticated via the pre-shared secret; the credential itself
// carries no identity.
const legacyPrincipalID = "legacy-token"

// deny builds the unauthenticated variant.
func (r *Resolver) deny(code merr.Code, status int, reason string) *AuthContext {
	return &AuthContext{
		Mode:   r.mode,
		Reason: reason,
		Status: status,
		Code:   code,
	}
}

// logOutcome logs the resolution per the configured verbosity. Denials
// always log; successes log only under LogAll. Credential material is
// never logged — only mode, method, status, reason, and the
// non-reversible fingerprint.
func (r *Resolver) logOutcome(ctx context.Context, actx *AuthContext) {
	if actx.Authenticated {
		if r.cfg.LogOutcomes != LogAll {
			return
		}
		r.logger.InfoContext(ctx, "request authenticated",
			"mode", actx.Mode,
			"method", actx.Method,
			"principal_type", actx.PrincipalType,
			"fingerprint", Fingerprint(actx),
		)
		return
	}
	r.logger.WarnContext(ctx, "request denied",
		"mode", actx.Mode,
		"status", actx.Status,
		"code", actx.Code,
		"reason", actx.Reason,
	)
}

// extractAccessToken returns the first token candidate from the primary
// header, the fallback header, then the session cookie.
func extractAccessToken(req *http.Request) string {
	if token := req.Header.Get(HeaderAccessToken); token != "" {
		return token
	}
	if token := req.Header.Get(HeaderAccessTokenAlt); token != "" {
		return token
	}
	if cookie, err := req.Cookie(CookieAccessToken); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return ""
}

// secureCompare reports whether two strings are equal using a
// constant-time comparison, preventing timing side channels on shared
// secrets. Length is not hidden; inequality of length is an immediate
// mismatch.
func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

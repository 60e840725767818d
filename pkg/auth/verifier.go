package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	merr "github.com/mnemora/mnemora-core/pkg/errors"
)

// AcceptedAlgorithm is the single signing algorithm the verifier
// accepts. This is a deliberate allow-list fixed by the verifier, not
// negotiated with the token: a token's self-declared algorithm is only
// checked against this value, never trusted beyond it.
const AcceptedAlgorithm = "RS256"

// DefaultClockSkew is the symmetric tolerance applied to the not-before
// and expiry bounds during claim validation.
const DefaultClockSkew = 60 * time.Second

// maxTokenSize is the maximum accepted size for a compact token string
// (8 KB). Larger tokens are rejected to prevent resource exhaustion.
const maxTokenSize = 8192

// VerifiedClaims is the decoded and verified payload of an access
// token. It exists only transiently during resolution; the derived
// [AuthContext] is what flows downstream, and claims are never cached
// or persisted.
type VerifiedClaims struct {
	// Issuer is the verified "iss" claim.
	Issuer string

	// Audience is the verified "aud" claim. A scalar audience claim is
	// normalized to a one-element slice.
	Audience []string

	// Subject is the "sub" claim, the issuer's stable identifier for
	// the principal.
	Subject string

	// Email is the "email" claim when present, empty otherwise.
	Email string

	// NotBefore is the "nbf" claim; zero when the token carries none.
	NotBefore time.Time

	// ExpiresAt is the "exp" claim. Always set — tokens without an
	// expiry are rejected during verification.
	ExpiresAt time.Time

	// Attributes holds the full claim map for callers that need
	// provider-specific claims beyond the registered set.
	Attributes map[string]any
}

// tracerName is the OpenTelemetry instrumentation scope for auth spans.
const tracerName = "github.com/mnemora/mnemora-core/pkg/auth"

// Verifier parses and cryptographically verifies compact signed access
// tokens (three dot-separated base64url segments) against the key
// material published at the team domain.
//
// Verifier is safe for concurrent use by multiple goroutines.
type Verifier struct {
	keys     *KeysetCache
	issuer   string
	audience string
	skew     time.Duration
	tracer   trace.Tracer
}

// NewVerifier creates a token verifier bound to the given key cache,
// expected issuer, and expected audience. The clock skew defaults to
// [DefaultClockSkew] when zero.
//
// Missing issuer or audience is a configuration error with code
// [merr.CodeInternalConfiguration]: verification must never run with an
// unvalidated trust anchor.
func NewVerifier(keys *KeysetCache, issuer, audience string, skew time.Duration) (*Verifier, error) {
	if keys == nil {
		return nil, merr.New(merr.CodeInternalConfiguration, "auth: verifier requires a key material cache")
	}
	if issuer == "" {
		return nil, merr.New(merr.CodeInternalConfiguration, "auth: verifier requires an expected issuer")
	}
	if audience == "" {
		return nil, merr.New(merr.CodeInternalConfiguration, "auth: verifier requires an expected audience")
	}
	if skew <= 0 {
		skew = DefaultClockSkew
	}
	return &Verifier{
		keys:     keys,
		issuer:   issuer,
		audience: audience,
		skew:     skew,
		tracer:   otel.Tracer(tracerName),
	}, nil
}

// Verify validates the compact token and returns its claims. It fails
// with a descriptive error on malformed structure, an algorithm outside
// the allow-list, missing or unknown key id, signature mismatch, issuer
// or audience mismatch, a token not yet valid, a missing expiry claim,
// or an expired token. The clock-skew tolerance is applied symmetrically
// to both time bounds.
//
// An unknown key id triggers exactly one forced keyset refresh before
// failing, which absorbs a same-instant key rotation without unbounded
// retries.
func (v *Verifier) Verify(ctx context.Context, compact string) (*VerifiedClaims, error) {
	ctx, span := v.tracer.Start(ctx, "auth.Verify")
	defer span.End()

	if compact == "" {
		return nil, v.fail(span, merr.New(merr.CodeAuthenticationInvalid, "auth: token must not be empty"))
	}
	if len(compact) > maxTokenSize {
		return nil, v.fail(span, merr.New(merr.CodeAuthenticationInvalid, "auth: token exceeds maximum size"))
	}
	if strings.Count(compact, ".") != 2 {
		return nil, v.fail(span, merr.New(merr.CodeAuthenticationInvalid,
			"auth: malformed token: expected 3 dot-separated segments"))
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{AcceptedAlgorithm}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithLeeway(v.skew),
		jwt.WithExpirationRequired(),
	)

	token, err := parser.Parse(compact, v.keyFunc(ctx))
	if err != nil {
		return nil, v.fail(span, classifyTokenError(err))
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, v.fail(span, merr.New(merr.CodeAuthenticationInvalid, "auth: invalid token claims"))
	}

	claims, err := claimsFromMap(mc)
	if err != nil {
		return nil, v.fail(span, err)
	}

	span.SetAttributes(
		attribute.String("auth.token_issuer", claims.Issuer),
		attribute.Bool("auth.token_has_email", claims.Email != ""),
	)
	return claims, nil
}

// keyFunc returns the key lookup used during signature verification.
// The lookup consults the cache, and on a miss forces a single refresh
// to handle key rotation; a second miss is terminal.
func (v *Verifier) keyFunc(ctx context.Context) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, merr.Newf(merr.CodeAuthenticationInvalid,
				"auth: unsupported signing algorithm %v", t.Header["alg"])
		}
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, merr.New(merr.CodeAuthenticationInvalid, "auth: token header missing kid")
		}

		keys, err := v.keys.Keys(ctx, false)
		if err != nil {
			return nil, err
		}
		if key, ok := keys[kid]; ok {
			return key, nil
		}

		// Key rotation: refresh once, then give up.
		keys, err = v.keys.Keys(ctx, true)
		if err != nil {
			return nil, err
		}
		if key, ok := keys[kid]; ok {
			return key, nil
		}
		return nil, merr.Newf(merr.CodeAuthenticationInvalid, "Unknown JWT kid %q", kid)
	}
}

// fail records the error on the span and returns it.
func (v *Verifier) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// claimsFromMap converts verified jwt claims into a [VerifiedClaims].
func claimsFromMap(mc jwt.MapClaims) (*VerifiedClaims, error) {
	issuer, _ := mc.GetIssuer()
	subject, _ := mc.GetSubject()

	aud, err := mc.GetAudience()
	if err != nil {
		return nil, merr.Wrap(err, merr.CodeAuthenticationInvalid, "auth: token audience claim is malformed")
	}

	exp, err := mc.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, merr.New(merr.CodeAuthenticationInvalid, "auth: token is missing required expiry claim")
	}

	claims := &VerifiedClaims{
		Issuer:    issuer,
		Audience:  []string(aud),
		Subject:   subject,
		ExpiresAt: exp.Time,
	}

	if nbf, err := mc.GetNotBefore(); err == nil && nbf != nil {
		claims.NotBefore = nbf.Time
	}
	if email, ok := mc["email"].(string); ok {
		claims.Email = email
	}

	claims.Attributes = make(map[string]any, len(mc))
	for k, val := range mc {
		claims.Attributes[k] = val
	}
	return claims, nil
}

// classifyTokenError converts a jwt library error into a coded error
// with a stable, descriptive message. Errors already carrying a code
// (e.g. keyset fetch failures or the unknown-kid error from the key
// lookup) pass through unchanged so their cause is not masked.
func classifyTokenError(err error) error {
	var mErr *merr.Error
	if errors.As(err, &mErr) {
		return mErr
	}

	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return merr.Wrap(err, merr.CodeAuthenticationExpired, "auth: token has expired")
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return merr.Wrap(err, merr.CodeAuthenticationInvalid, "auth: token is not yet valid")
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return merr.Wrap(err, merr.CodeAuthenticationInvalid, "auth: token is missing required expiry claim")
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return merr.Wrap(err, merr.CodeAuthenticationInvalid, "auth: token issuer mismatch")
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return merr.Wrap(err, merr.CodeAuthenticationInvalid, "auth: token audience mismatch")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return merr.Wrap(err, merr.CodeAuthenticationInvalid, "auth: token signature is invalid")
	case errors.Is(err, jwt.ErrTokenMalformed):
		return merr.Wrap(err, merr.CodeAuthenticationInvalid, "auth: token is malformed")
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return merr.Wrap(err, merr.CodeAuthenticationInvalid, "auth: token is unverifiable")
	default:
		return merr.Wrap(err, merr.CodeAuthenticationInvalid, "auth: token validation failed")
	}
}

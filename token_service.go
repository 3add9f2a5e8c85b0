package auth

import (
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenLifetime is the fixed validity window of a session token. Tokens
// are not renewable; clients log in again once it elapses.
const TokenLifetime = 7 * 24 * time.Hour

// DefaultSigningKeyID is used when no key id is configured.
const DefaultSigningKeyID = "primary"

// TokenService issues and verifies session tokens
type TokenService interface {
	Generate(identity Identity) (string, AuthClaims, error)
	SignClaims(claims *JWTClaims) (string, error)
	Validate(tokenString string) (AuthClaims, error)
}

// TokenServiceImpl implements the TokenService interface
type TokenServiceImpl struct {
	keyID      string
	signingKey []byte
	jwks       *keyfunc.JWKS
	issuer     string
	audience   jwt.ClaimStrings
	logger     Logger
	now        func() time.Time
	previous   map[string][]byte
}

// TokenServiceOption customizes a TokenServiceImpl
type TokenServiceOption func(*TokenServiceImpl)

// WithPreviousSigningKeys keeps retired keys around for verification only.
func WithPreviousSigningKeys(keys map[string]string) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		for kid, key := range keys {
			if kid == "" || key == "" {
				continue
			}
			ts.previous[kid] = []byte(key)
		}
	}
}

// WithTokenClock injects the clock used for issuance and expiry checks.
func WithTokenClock(now func() time.Time) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		if now != nil {
			ts.now = now
		}
	}
}

// WithTokenLogger sets the logger
func WithTokenLogger(logger Logger) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		ts.logger = normalizeLogger(logger)
	}
}

// NewTokenService creates a new TokenService instance. An empty signing key
// is rejected: there is no fallback secret.
func NewTokenService(signingKey []byte, keyID, issuer string, audience []string, opts ...TokenServiceOption) (*TokenServiceImpl, error) {
	if len(signingKey) == 0 {
		return nil, ErrMissingSigningKey
	}

	if keyID == "" {
		keyID = DefaultSigningKeyID
	}

	var aud jwt.ClaimStrings
	if len(audience) > 0 {
		aud = make(jwt.ClaimStrings, len(audience))
		copy(aud, audience)
	}

	ts := &TokenServiceImpl{
		keyID:      keyID,
		signingKey: signingKey,
		issuer:     issuer,
		audience:   aud,
		logger:     defLogger{},
		now:        time.Now,
		previous:   map[string][]byte{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}

	givenKeys := make(map[string]keyfunc.GivenKey, len(ts.previous)+1)
	for kid, key := range ts.previous {
		givenKeys[kid] = keyfunc.NewGivenCustom(key, keyfunc.GivenKeyOptions{
			Algorithm: jwt.SigningMethodHS256.Alg(),
		})
	}
	givenKeys[ts.keyID] = keyfunc.NewGivenCustom(ts.signingKey, keyfunc.GivenKeyOptions{
		Algorithm: jwt.SigningMethodHS256.Alg(),
	})
	ts.jwks = keyfunc.NewGiven(givenKeys)

	return ts, nil
}

// NewTokenServiceFromConfig builds the service from Config
func NewTokenServiceFromConfig(cfg Config, logger Logger) (*TokenServiceImpl, error) {
	return NewTokenService(
		[]byte(cfg.GetSigningKey()),
		cfg.GetSigningKeyID(),
		cfg.GetIssuer(),
		cfg.GetAudience(),
		WithPreviousSigningKeys(cfg.GetPreviousSigningKeys()),
		WithTokenLogger(logger),
	)
}

// Generate creates a token for identity valid for TokenLifetime
func (ts *TokenServiceImpl) Generate(identity Identity) (string, AuthClaims, error) {
	if identity == nil {
		return "", nil, Derive(ErrUnauthenticated, "identity must not be nil")
	}

	now := ts.now()
	claims := &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   identity.ID(),
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenLifetime)),
		},
		UserEmail: identity.Email(),
		UserRole:  identity.Role(),
		Admin:     UserRole(identity.Role()) == RoleAdmin,
	}

	ensureTokenID(&claims.RegisteredClaims)

	token, err := ts.SignClaims(claims)
	if err != nil {
		return "", nil, err
	}
	return token, claims, nil
}

// SignClaims signs arbitrary JWT claims using the current signing key.
func (ts *TokenServiceImpl) SignClaims(claims *JWTClaims) (string, error) {
	if claims == nil {
		return "", goerrors.New("claims must not be nil", goerrors.CategoryInternal)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = ts.keyID

	signedString, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign JWT")
	}

	return signedString, nil
}

// Validate parses and validates a token string. Every failure maps to
// ErrInvalidToken; the cause is only logged.
func (ts *TokenServiceImpl) Validate(tokenString string) (AuthClaims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(ts.now),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, ts.jwks.Keyfunc, parserOptions...)
	if err != nil {
		ts.logger.Debug("token validation failed", "error", err)
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid || claims.Subject() == "" {
		ts.logger.Debug("token validation could not decode claims")
		return nil, ErrInvalidToken
	}

	if !ts.acceptsAudience(claims.Audience) {
		ts.logger.Debug("token validation rejected audience", "aud", []string(claims.Audience))
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// acceptsAudience reports whether aud names at least one configured
// audience. Without configured audiences any token is accepted.
func (ts *TokenServiceImpl) acceptsAudience(aud jwt.ClaimStrings) bool {
	if len(ts.audience) == 0 {
		return true
	}
	for _, want := range ts.audience {
		for _, got := range aud {
			if got == want {
				return true
			}
		}
	}
	return false
}

func ensureTokenID(claims *jwt.RegisteredClaims) {
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}
}

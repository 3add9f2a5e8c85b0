package auth_test

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	auth "github.com/goliatone/go-storefront-auth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIdentity(role auth.UserRole) auth.UserIdentity {
	return auth.NewUserIdentity(&auth.User{
		ID:    uuid.New(),
		Name:  "Ada",
		Email: "ada@store.test",
		Role:  role,
	})
}

func TestNewTokenService(t *testing.T) {
	t.Run("rejects an empty signing key", func(t *testing.T) {
		ts, err := auth.NewTokenService(nil, "", testIssuer, nil)
		assert.Nil(t, ts)
		assert.True(t, auth.IsError(err, auth.ErrMissingSigningKey))
	})

	t.Run("defaults the key id", func(t *testing.T) {
		ts, err := auth.NewTokenService([]byte(testSigningKey), "", testIssuer, nil)
		require.NoError(t, err)

		token, _, err := ts.Generate(testIdentity(auth.RoleUser))
		require.NoError(t, err)

		parsed, _, err := jwt.NewParser().ParseUnverified(token, &auth.JWTClaims{})
		require.NoError(t, err)
		assert.Equal(t, auth.DefaultSigningKeyID, parsed.Header["kid"])
		assert.Equal(t, "HS256", parsed.Header["alg"])
	})
}

func TestTokenService_GenerateAndValidate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ts, err := auth.NewTokenService([]byte(testSigningKey), "k1", testIssuer, []string{"storefront"},
		auth.WithTokenClock(func() time.Time { return now }),
	)
	require.NoError(t, err)

	identity := testIdentity(auth.RoleUser)

	token, issued, err := ts.Generate(identity)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ts.Validate(token)
	require.NoError(t, err)

	assert.Equal(t, identity.ID(), claims.Subject())
	assert.Equal(t, identity.ID(), claims.UserID())
	assert.Equal(t, identity.Email(), claims.Email())
	assert.Equal(t, "user", claims.Role())
	assert.False(t, claims.IsAdmin())
	assert.NotEmpty(t, claims.TokenID())
	assert.Equal(t, issued.TokenID(), claims.TokenID())
	assert.Equal(t, now, claims.IssuedAt().UTC())
	assert.Equal(t, now.Add(auth.TokenLifetime), claims.Expires().UTC())
	assert.Equal(t, 7*24*time.Hour, claims.Expires().Sub(claims.IssuedAt()))
}

func TestTokenService_UniqueTokenIDs(t *testing.T) {
	ts, err := auth.NewTokenService([]byte(testSigningKey), "", testIssuer, nil)
	require.NoError(t, err)

	identity := testIdentity(auth.RoleUser)
	_, a, err := ts.Generate(identity)
	require.NoError(t, err)
	_, b, err := ts.Generate(identity)
	require.NoError(t, err)

	assert.NotEqual(t, a.TokenID(), b.TokenID())
}

func TestTokenService_RejectsTamperedTokens(t *testing.T) {
	ts, err := auth.NewTokenService([]byte(testSigningKey), "", testIssuer, nil)
	require.NoError(t, err)

	token, _, err := ts.Generate(testIdentity(auth.RoleUser))
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)

	// flip one character at a time in every segment
	for seg := 0; seg < 3; seg++ {
		for _, i := range []int{0, len(parts[seg]) / 2, len(parts[seg]) - 2} {
			mutated := make([]string, 3)
			copy(mutated, parts)

			b := []byte(mutated[seg])
			if b[i] == 'A' {
				b[i] = 'B'
			} else {
				b[i] = 'A'
			}
			mutated[seg] = string(b)

			_, err := ts.Validate(strings.Join(mutated, "."))
			assert.ErrorIs(t, err, auth.ErrInvalidToken, "segment %d index %d", seg, i)
		}
	}
}

func TestTokenService_RejectsForgedPayload(t *testing.T) {
	ts, err := auth.NewTokenService([]byte(testSigningKey), "", testIssuer, nil)
	require.NoError(t, err)

	token, _, err := ts.Generate(testIdentity(auth.RoleUser))
	require.NoError(t, err)

	forged := &auth.JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Subject:   uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		UserRole: "admin",
		Admin:    true,
	}
	other := jwt.NewWithClaims(jwt.SigningMethodHS256, forged)
	other.Header["kid"] = auth.DefaultSigningKeyID
	otherToken, err := other.SignedString([]byte("some-other-key-some-other-key-12"))
	require.NoError(t, err)

	// keep the original signature, swap in the forged payload
	original := strings.Split(token, ".")
	mutated := strings.Split(otherToken, ".")
	_, err = ts.Validate(strings.Join([]string{original[0], mutated[1], original[2]}, "."))
	assert.True(t, auth.IsError(err, auth.ErrInvalidToken))

	_, err = ts.Validate(otherToken)
	assert.True(t, auth.IsError(err, auth.ErrInvalidToken))
}

func TestTokenService_RejectsExpiredTokens(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &now

	ts, err := auth.NewTokenService([]byte(testSigningKey), "", testIssuer, nil,
		auth.WithTokenClock(func() time.Time { return *clock }),
	)
	require.NoError(t, err)

	token, _, err := ts.Generate(testIdentity(auth.RoleUser))
	require.NoError(t, err)

	later := now.Add(auth.TokenLifetime - time.Minute)
	clock = &later
	_, err = ts.Validate(token)
	require.NoError(t, err)

	expired := now.Add(auth.TokenLifetime + time.Second)
	clock = &expired
	_, err = ts.Validate(token)
	assert.True(t, auth.IsError(err, auth.ErrInvalidToken))
}

func TestTokenService_RejectsOtherAlgorithms(t *testing.T) {
	ts, err := auth.NewTokenService([]byte(testSigningKey), "", testIssuer, nil)
	require.NoError(t, err)

	claims := &auth.JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Subject:   uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}

	t.Run("HS512", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
		token.Header["kid"] = auth.DefaultSigningKeyID
		raw, err := token.SignedString([]byte(testSigningKey))
		require.NoError(t, err)

		_, err = ts.Validate(raw)
		assert.True(t, auth.IsError(err, auth.ErrInvalidToken))
	})

	t.Run("none", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
		raw, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = ts.Validate(raw)
		assert.True(t, auth.IsError(err, auth.ErrInvalidToken))
	})
}

func TestTokenService_ChecksIssuerAndExpiry(t *testing.T) {
	ts, err := auth.NewTokenService([]byte(testSigningKey), "", testIssuer, nil)
	require.NoError(t, err)

	sign := func(claims *auth.JWTClaims) string {
		raw, err := ts.SignClaims(claims)
		require.NoError(t, err)
		return raw
	}

	t.Run("foreign issuer", func(t *testing.T) {
		_, err := ts.Validate(sign(&auth.JWTClaims{RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			Subject:   uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}}))
		assert.True(t, auth.IsError(err, auth.ErrInvalidToken))
	})

	t.Run("missing expiry", func(t *testing.T) {
		_, err := ts.Validate(sign(&auth.JWTClaims{RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   testIssuer,
			Subject:  uuid.NewString(),
			IssuedAt: jwt.NewNumericDate(time.Now()),
		}}))
		assert.True(t, auth.IsError(err, auth.ErrInvalidToken))
	})

	t.Run("missing subject", func(t *testing.T) {
		_, err := ts.Validate(sign(&auth.JWTClaims{RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}}))
		assert.True(t, auth.IsError(err, auth.ErrInvalidToken))
	})

	t.Run("garbage", func(t *testing.T) {
		for _, raw := range []string{"", "abc", "a.b.c", "Bearer x.y.z"} {
			_, err := ts.Validate(raw)
			assert.True(t, auth.IsError(err, auth.ErrInvalidToken), raw)
		}
	})
}

func TestTokenService_MultipleAudiences(t *testing.T) {
	ts, err := auth.NewTokenService([]byte(testSigningKey), "", testIssuer, []string{"web", "mobile"})
	require.NoError(t, err)

	token, _, err := ts.Generate(testIdentity(auth.RoleUser))
	require.NoError(t, err)

	claims, err := ts.Validate(token)
	require.NoError(t, err)
	assert.NotEmpty(t, claims.Subject())

	sign := func(aud ...string) string {
		raw, err := ts.SignClaims(&auth.JWTClaims{RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Subject:   uuid.NewString(),
			Audience:  aud,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}})
		require.NoError(t, err)
		return raw
	}

	t.Run("any configured audience is accepted", func(t *testing.T) {
		_, err := ts.Validate(sign("mobile"))
		assert.NoError(t, err)
		_, err = ts.Validate(sign("partner", "web"))
		assert.NoError(t, err)
	})

	t.Run("foreign audience", func(t *testing.T) {
		_, err := ts.Validate(sign("partner"))
		assert.True(t, auth.IsError(err, auth.ErrInvalidToken))
	})

	t.Run("missing audience", func(t *testing.T) {
		_, err := ts.Validate(sign())
		assert.True(t, auth.IsError(err, auth.ErrInvalidToken))
	})
}

func TestTokenService_KeyRotation(t *testing.T) {
	oldKey := "old-signing-key-old-signing-key-"
	newKey := "new-signing-key-new-signing-key-"

	before, err := auth.NewTokenService([]byte(oldKey), "2025", testIssuer, nil)
	require.NoError(t, err)

	token, _, err := before.Generate(testIdentity(auth.RoleUser))
	require.NoError(t, err)

	t.Run("previous key still verifies", func(t *testing.T) {
		after, err := auth.NewTokenService([]byte(newKey), "2026", testIssuer, nil,
			auth.WithPreviousSigningKeys(map[string]string{"2025": oldKey}),
		)
		require.NoError(t, err)

		_, err = after.Validate(token)
		assert.NoError(t, err)
	})

	t.Run("dropped key no longer verifies", func(t *testing.T) {
		after, err := auth.NewTokenService([]byte(newKey), "2026", testIssuer, nil)
		require.NoError(t, err)

		_, err = after.Validate(token)
		assert.True(t, auth.IsError(err, auth.ErrInvalidToken))
	})
}

func TestTokenService_AdminClaim(t *testing.T) {
	ts, err := auth.NewTokenService([]byte(testSigningKey), "", testIssuer, nil)
	require.NoError(t, err)

	token, _, err := ts.Generate(testIdentity(auth.RoleAdmin))
	require.NoError(t, err)

	claims, err := ts.Validate(token)
	require.NoError(t, err)
	assert.True(t, claims.IsAdmin())
	assert.True(t, claims.IsAtLeast("user"))
	assert.True(t, claims.IsAtLeast("admin"))
}

func TestTokenService_GenerateNilIdentity(t *testing.T) {
	ts, err := auth.NewTokenService([]byte(testSigningKey), "", testIssuer, nil)
	require.NoError(t, err)

	_, _, err = ts.Generate(nil)
	assert.Error(t, err)
}

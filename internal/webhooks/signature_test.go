package webhooks

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestComputeSignature_Algorithms(t *testing.T) {
	payload := []byte(`{"total":99.5}`)

	tests := []struct {
		algorithm string
		hexLen    int
	}{
		{"sha1", 40},
		{"sha256", 64},
		{"", 64},
		{"sha512", 128},
	}

	for _, tt := range tests {
		t.Run("algo="+tt.algorithm, func(t *testing.T) {
			sig, err := ComputeSignature(payload, "secret", tt.algorithm)
			require.NoError(t, err)
			require.Len(t, sig, tt.hexLen)

			again, err := ComputeSignature(payload, "secret", tt.algorithm)
			require.NoError(t, err)
			require.Equal(t, sig, again, "signatures are deterministic")

			other, err := ComputeSignature(payload, "other-secret", tt.algorithm)
			require.NoError(t, err)
			require.NotEqual(t, sig, other)
		})
	}
}

func TestComputeSignature_EmptyDefaultsToSHA256(t *testing.T) {
	payload := []byte("body")

	def, err := ComputeSignature(payload, "secret", "")
	require.NoError(t, err)
	explicit, err := ComputeSignature(payload, "secret", "sha256")
	require.NoError(t, err)
	require.Equal(t, explicit, def)
}

func TestComputeSignature_UnsupportedAlgorithm(t *testing.T) {
	_, err := ComputeSignature([]byte("body"), "secret", "md5")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported signature algorithm")
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"id":"evt-1"}`)

	sig, err := ComputeSignature(payload, "secret", "sha256")
	require.NoError(t, err)

	require.True(t, VerifySignature(payload, "secret", "sha256", sig))
	require.False(t, VerifySignature(payload, "wrong", "sha256", sig))
	require.False(t, VerifySignature([]byte("tampered"), "secret", "sha256", sig))
	require.False(t, VerifySignature(payload, "secret", "md5", sig))
}

func TestBuildJWT(t *testing.T) {
	now := time.Now().UTC()

	signed, err := BuildJWT("secret", "", "evt-1", "sub-1", now)
	require.NoError(t, err)

	token, err := jwt.Parse(signed, func(tok *jwt.Token) (any, error) {
		return []byte("secret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	require.NoError(t, err)
	require.True(t, token.Valid)

	claims, ok := token.Claims.(jwt.MapClaims)
	require.True(t, ok)
	require.Equal(t, "eventcore", claims["iss"], "issuer defaults when unset")
	require.Equal(t, "sub-1", claims["sub"])
	require.Equal(t, "evt-1", claims["jti"])
	require.Equal(t, float64(now.Unix()), claims["iat"])
	require.Equal(t, float64(now.Add(5*time.Minute).Unix()), claims["exp"])

	_, err = jwt.Parse(signed, func(tok *jwt.Token) (any, error) {
		return []byte("wrong-secret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	require.Error(t, err)
}

func TestBuildJWT_CustomIssuer(t *testing.T) {
	signed, err := BuildJWT("secret", "vantage", "evt-1", "sub-1", time.Now().UTC())
	require.NoError(t, err)

	token, err := jwt.Parse(signed, func(tok *jwt.Token) (any, error) {
		return []byte("secret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	require.NoError(t, err)

	claims := token.Claims.(jwt.MapClaims)
	require.Equal(t, "vantage", claims["iss"])
}

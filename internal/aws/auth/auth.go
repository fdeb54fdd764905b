package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoAuthorization = errors.New("no authorization")
	ErrInvalidToken    = errors.New("invalid token")
)

// Struct for Cognito's JWKS JSON response
type jwk struct {
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

func CognitoIssuer(region, userPoolId string) string {
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", region, userPoolId)
}

func CognitoKeysUrl(region, userPoolId string) string {
	return CognitoIssuer(region, userPoolId) + "/.well-known/jwks.json"
}

// LoadCognitoPublicKeys fetches the user pool signing keys indexed by kid.
func LoadCognitoPublicKeys(url string) (map[string]*rsa.PublicKey, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch public keys: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch public keys: status %d", resp.StatusCode)
	}
	return ParsePublicKeys(resp.Body)
}

func ParsePublicKeys(r io.Reader) (map[string]*rsa.PublicKey, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read public keys: %w", err)
	}
	var set jwks
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("failed to decode public keys: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, key := range set.Keys {
		// n and e are base64url without padding
		nBytes, err := base64.RawURLEncoding.DecodeString(key.N)
		if err != nil {
			return nil, fmt.Errorf("invalid modulus for key %s: %w", key.Kid, err)
		}
		eBytes, err := base64.RawURLEncoding.DecodeString(key.E)
		if err != nil {
			return nil, fmt.Errorf("invalid exponent for key %s: %w", key.Kid, err)
		}
		keys[key.Kid] = &rsa.PublicKey{
			N: new(big.Int).SetBytes(nBytes),
			E: int(new(big.Int).SetBytes(eBytes).Int64()),
		}
	}
	return keys, nil
}

// ValidateJwt verifies an RS256 token against keys. An optional "Bearer "
// prefix is accepted. issuer is checked when not empty.
func ValidateJwt(tokenString string, keys map[string]*rsa.PublicKey, issuer string) (*jwt.Token, error) {
	tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))
	if tokenString == "" {
		return nil, ErrNoAuthorization
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256"})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("missing kid")
		}
		if key, found := keys[kid]; found {
			return key, nil
		}
		return nil, errors.New("unknown kid")
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return token, nil
}

// UserId extracts the subject of a validated token.
func UserId(token *jwt.Token) (string, error) {
	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: user id not found", ErrInvalidToken)
	}
	return sub, nil
}

// UserIdFromAuthorizer reads the subject an API Gateway authorizer attached
// to the request context. Lambda authorizers put it directly in the map; JWT
// authorizers nest it under jwt.claims.
func UserIdFromAuthorizer(authorizer map[string]interface{}) (string, bool) {
	if sub, ok := authorizer["sub"].(string); ok && sub != "" {
		return sub, true
	}
	if sub, ok := authorizer["principalId"].(string); ok && sub != "" {
		return sub, true
	}
	token, ok := authorizer["jwt"].(map[string]interface{})
	if !ok {
		return "", false
	}
	claims, ok := token["claims"].(map[string]interface{})
	if !ok {
		return "", false
	}
	sub, ok := claims["sub"].(string)
	return sub, ok && sub != ""
}

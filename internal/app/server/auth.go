package server

import (
	"fmt"
	"net/http"

	"github.com/chess-vn/slduel/internal/aws/auth"
)

// auth authenticates the upgrade request and extracts the user id. It
// returns an empty id when authentication is disabled. Browsers cannot set
// headers on websocket requests, so the token may also come as a query
// parameter.
func (s *server) auth(r *http.Request) (string, error) {
	if !s.config.AuthEnabled {
		return "", nil
	}
	token := r.Header.Get("Authorization")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	validToken, err := auth.ValidateJwt(token, s.publicKeys, s.issuer)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	userId, err := auth.UserId(validToken)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return userId, nil
}

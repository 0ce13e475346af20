package auth

import "net/http"

// TokenCookie names the cookie carrying the session token.
const TokenCookie = "token"

// RequestToken reads the session token from the "token" header, then the cookie.
func RequestToken(r *http.Request) string {
	token := r.Header.Get("token")
	if token == "" {
		if c, err := r.Cookie(TokenCookie); err == nil {
			token = c.Value
		}
	}
	return token
}

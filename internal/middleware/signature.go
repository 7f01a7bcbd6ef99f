package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-ICadence-Signature"

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// WebhookSignature rejects requests whose body does not match the signature
// header. An empty secret rejects everything.
func WebhookSignature(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if secret == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "webhook secret not configured"})
			}

			req := c.Request()
			var rawBody []byte
			if req.Body != nil {
				var err error
				rawBody, err = io.ReadAll(req.Body)
				if err != nil {
					return c.JSON(http.StatusBadRequest, map[string]string{"error": "unreadable body"})
				}
			}
			req.Body = io.NopCloser(bytes.NewBuffer(rawBody))

			got := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(req.Header.Get(SignatureHeader), "sha256=")))
			want := Sign(secret, rawBody)
			if got == "" || !hmac.Equal([]byte(got), []byte(want)) {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
			}
			return next(c)
		}
	}
}

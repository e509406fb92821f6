// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements BasicAuth, the single authentication strategy of the
// API. Clients present "Authorization: Basic base64(user:password)"; only the
// password is checked, against one shared secret. The user name is accepted
// as-is (including empty) and nothing is attached to the request on success.
package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// AuthRealm is advertised in the WWW-Authenticate challenge.
const AuthRealm = "haikus"

var authFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "http_auth_failures_total",
		Help: "Requests rejected by basic authentication, by reason.",
	},
	[]string{"reason"},
)

func init() {
	prometheus.MustRegister(authFailures)
}

// BasicAuth returns a middleware that admits a request only when its basic
// credentials carry password. Comparison is constant-time.
//
// On failure it aborts with:
//
//	HTTP/1.1 401 Unauthorized
//	WWW-Authenticate: Basic realm="haikus"
//	{ "request_id": "...", "code": "unauthorized", "message": "invalid credentials" }
func BasicAuth(password string) gin.HandlerFunc {
	secret := []byte(password)
	return func(c *gin.Context) {
		_, pass, ok := c.Request.BasicAuth()
		if !ok {
			authFailures.WithLabelValues("missing").Inc()
			unauthorized(c, "missing credentials")
			return
		}
		if subtle.ConstantTimeCompare([]byte(pass), secret) != 1 {
			authFailures.WithLabelValues("mismatch").Inc()
			unauthorized(c, "invalid credentials")
			return
		}
		c.Next()
	}
}

func unauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", `Basic realm="`+AuthRealm+`"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       "unauthorized",
		"message":    msg,
	})
}

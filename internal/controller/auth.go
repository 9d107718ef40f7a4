// internal/controller/auth.go
package controller

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// SignatureHeader is set by the hosting platform's cron on every call.
const SignatureHeader = "x-vercel-cron-signature"

// CronAuth decides who may trigger a dispatch. An empty Secret disables
// bearer auth. An empty Signature accepts any non-empty signature header.
type CronAuth struct {
	Secret    string
	Signature string
}

func (a CronAuth) bearerOK(r *http.Request) bool {
	if a.Secret == "" {
		return false
	}
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(a.Secret)) == 1
}

func (a CronAuth) signatureOK(r *http.Request) bool {
	sig := r.Header.Get(SignatureHeader)
	if sig == "" {
		return false
	}
	if a.Signature == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(sig), []byte(a.Signature)) == 1
}

// Authorized accepts either the platform signature or the bearer secret.
func (a CronAuth) Authorized(r *http.Request) (bool, string) {
	switch {
	case a.signatureOK(r):
		return true, "platform cron"
	case a.bearerOK(r):
		return true, "api key"
	}
	return false, ""
}

// RequireBearer guards the read endpoints with the bearer secret only.
func (a CronAuth) RequireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.bearerOK(r) {
			logrus.WithField("path", r.URL.Path).Warn("Unauthorized request")
			writeError(w, http.StatusUnauthorized, "Unauthorized", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

package api

import (
	"crypto/subtle"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// requireAdmin guards mutating endpoints with HTTP basic auth against
// the configured admin users.
func (s *server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="seqaudit"`)
			s.writeJSON(w, http.StatusUnauthorized,
				errorResponse{"authentication required"})

			return
		}

		if !s.checkAdmin(username, password) {
			s.writeJSON(w, http.StatusUnauthorized,
				errorResponse{"invalid credentials"})

			return
		}

		next.ServeHTTP(w, r)
	})
}

// checkAdmin verifies the credentials against every configured admin so
// timing does not reveal which usernames exist.
func (s *server) checkAdmin(username, password string) bool {
	var matched bool

	for i := range s.cfg.Auth.Admins {
		admin := &s.cfg.Auth.Admins[i]

		nameOK := subtle.ConstantTimeCompare(
			[]byte(admin.Username), []byte(username),
		) == 1

		hashOK := bcrypt.CompareHashAndPassword(
			[]byte(admin.PasswordHash), []byte(password),
		) == nil

		if nameOK && hashOK {
			matched = true
		}
	}

	return matched
}

package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/termweave/termweave/internal/auth"
	"github.com/termweave/termweave/internal/database"
)

// Subject stamped into every issued token. Single-user system.
const tokenSubject = "termweave"

// Auth serves login and token refresh.
type Auth struct {
	Tokens         *auth.TokenManager
	Limiter        *auth.LoginLimiter
	PassphraseHash string
	Audit          *database.Store

	// verifyFn is the passphrase check, replaceable in tests to observe
	// that rate-limited attempts never reach it.
	verifyFn func(passphrase, hash string) bool
}

// NewAuth builds the auth handler with the real bcrypt verifier.
func NewAuth(tokens *auth.TokenManager, limiter *auth.LoginLimiter, passphraseHash string, audit *database.Store) *Auth {
	return &Auth{
		Tokens:         tokens,
		Limiter:        limiter,
		PassphraseHash: passphraseHash,
		Audit:          audit,
		verifyFn:       auth.CheckPassphrase,
	}
}

func (a *Auth) audit(kind, remote, detail string) {
	if a.Audit != nil {
		a.Audit.Record(kind, "", remote, detail)
	}
}

// Login exchanges the passphrase for a token pair. Rate limited per
// client address; the limiter runs before the expensive bcrypt check.
func (a *Auth) Login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Passphrase string `json:"passphrase"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Passphrase == "" {
		writeError(w, http.StatusBadRequest, "Passphrase is required")
		return
	}

	ip := clientIP(r)

	if err := a.Limiter.Attempt(ip); err != nil {
		var rl *auth.RateLimitedError
		if errors.As(err, &rl) {
			retryAfter := int(rl.RetryAfter.Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			a.audit(database.EventLoginRateLimited, ip, "")
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "Rate limiter failure")
		return
	}

	if !a.verifyFn(body.Passphrase, a.PassphraseHash) {
		a.audit(database.EventLoginFailed, ip, "")
		writeError(w, http.StatusUnauthorized, "Invalid passphrase")
		return
	}

	pair, err := a.Tokens.Issue(tokenSubject)
	if err != nil {
		log.Printf("auth: token issue failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to issue tokens")
		return
	}

	a.audit(database.EventLogin, ip, "")
	writeJSON(w, http.StatusOK, pair)
}

// Refresh exchanges a valid refresh token for a new pair. The old refresh
// token stays valid until its expiry; tokens are stateless and there is
// no revocation store.
func (a *Auth) Refresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	pair, err := a.Tokens.Refresh(body.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	a.audit(database.EventTokenRefreshed, clientIP(r), "")
	writeJSON(w, http.StatusOK, pair)
}

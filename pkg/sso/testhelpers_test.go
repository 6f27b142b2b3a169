package sso

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE organization_members (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			organization_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			role TEXT NOT NULL DEFAULT 'member',
			flags INTEGER NOT NULL DEFAULT 0,
			invited_by INTEGER,
			joined_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE(organization_id, user_id)
		);

		CREATE TABLE auth_providers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			organization_id INTEGER NOT NULL UNIQUE,
			provider TEXT NOT NULL,
			provider_name TEXT,
			oauth2_config TEXT,
			oidc_config TEXT,
			flags INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE TABLE auth_identities (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			auth_provider_id INTEGER NOT NULL,
			ident TEXT NOT NULL,
			data TEXT NOT NULL DEFAULT '{}',
			last_verified TIMESTAMP NOT NULL,
			last_synced TIMESTAMP NOT NULL,
			date_added TIMESTAMP NOT NULL,
			UNIQUE(auth_provider_id, ident),
			UNIQUE(auth_provider_id, user_id)
		);
	`)
	require.NoError(t, err)

	return db
}

// fakeIdP is an OAuth2/OIDC provider. Refresh tokens map to outcomes:
//
//	good     token refreshes, userinfo returns subject "ext-1"
//	revoked  refresh fails with invalid_grant
//	broken   token endpoint returns 500
//	denied   token refreshes, userinfo returns 401
//	flaky    token refreshes, userinfo returns 502
//	rot-N    single use: refreshes as "good" and rotates to rot-N+1
type fakeIdP struct {
	server *httptest.Server

	mu    sync.Mutex
	spent map[string]bool
}

func newFakeIdP(t *testing.T) *fakeIdP {
	idp := &fakeIdP{spent: make(map[string]bool)}
	mux := http.NewServeMux()

	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"issuer":                 idp.server.URL,
			"authorization_endpoint": idp.server.URL + "/authorize",
			"token_endpoint":         idp.server.URL + "/token",
			"userinfo_endpoint":      idp.server.URL + "/userinfo",
			"jwks_uri":               idp.server.URL + "/keys",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		rt := r.PostForm.Get("refresh_token")
		if strings.HasPrefix(rt, "rot-") {
			idp.rotate(w, rt)
			return
		}
		switch rt {
		case "revoked":
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		case "broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"access_token": "at-" + rt,
				"token_type":   "Bearer",
				"expires_in":   3600,
			})
		}
	})

	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		switch strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ") {
		case "at-good":
			writeJSON(w, http.StatusOK, map[string]interface{}{"sub": "ext-1", "id": 12345})
		case "at-flaky":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	})

	idp.server = httptest.NewServer(mux)
	t.Cleanup(idp.server.Close)
	return idp
}

func (idp *fakeIdP) rotate(w http.ResponseWriter, rt string) {
	idp.mu.Lock()
	defer idp.mu.Unlock()

	n, err := strconv.Atoi(strings.TrimPrefix(rt, "rot-"))
	if err != nil || idp.spent[rt] {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		return
	}
	idp.spent[rt] = true

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  "at-good",
		"token_type":    "Bearer",
		"expires_in":    3600,
		"refresh_token": "rot-" + strconv.Itoa(n+1),
	})
}

func (idp *fakeIdP) URL() string {
	return idp.server.URL
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func identityWithToken(refreshToken, ident string) *AuthIdentity {
	return &AuthIdentity{
		ID:    1,
		Ident: ident,
		Data:  map[string]any{"refresh_token": refreshToken},
	}
}

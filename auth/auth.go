package auth

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"net/http"

	"github.com/raid-guild/payment-watcher-go/utils"
)

// HeaderAPIKey is the request header carrying the API key.
const HeaderAPIKey = "X-API-Key"

// Authenticator checks the API key of management requests. With neither a
// static key nor a database every request is allowed.
type Authenticator struct {
	staticKey string
	db        *sql.DB
}

// NewAuthenticator creates a new authenticator. At most one of staticKey and
// db may be set.
func NewAuthenticator(staticKey string, db *sql.DB) (*Authenticator, error) {
	if staticKey != "" && db != nil {
		return nil, errors.New("both static API key and database keys are set")
	}
	return &Authenticator{staticKey: staticKey, db: db}, nil
}

// Authenticate authenticates the request.
func (a *Authenticator) Authenticate(r *http.Request) error {

	// Get the API key from the request header
	providedKey := r.Header.Get(HeaderAPIKey)

	// Check if the API key is required (static key)
	if a.staticKey != "" {

		// Check if the provided key does not match the static key
		if subtle.ConstantTimeCompare([]byte(providedKey), []byte(a.staticKey)) != 1 {
			return unauthorized()
		}
		return nil
	}

	// Check if the API key is required (dynamic key)
	if a.db != nil {

		// Check if the provided key is empty
		if providedKey == "" {
			return unauthorized()
		}

		return a.lookup(r.Context(), providedKey)
	}

	return nil
}

func (a *Authenticator) lookup(ctx context.Context, providedKey string) error {

	// Check the API key exists in the database
	var apiKey string
	err := a.db.QueryRowContext(ctx,
		"SELECT api_key FROM api_keys WHERE api_key = $1",
		providedKey,
	).Scan(&apiKey)

	// Check if the query returned a no rows error
	if errors.Is(err, sql.ErrNoRows) {
		return unauthorized()
	}

	// Check if the query returned a different error
	if err != nil {
		return utils.NewStatusError(
			errors.New("failed to get key from database"),
			http.StatusInternalServerError,
		)
	}

	return nil
}

// Middleware rejects unauthenticated requests before they reach next.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.Authenticate(r); err != nil {
			utils.WriteError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func unauthorized() error {
	return utils.NewStatusError(
		errors.New("unauthorized"),
		http.StatusUnauthorized,
	)
}

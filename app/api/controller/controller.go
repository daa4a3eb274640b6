package controller

import (
	"net/http"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
	"github.com/spokescan/spokescan/app/api/types"
	"github.com/spokescan/spokescan/pkg/utils"
	"go.uber.org/zap"
)

type Controller struct {
	App        *types.App
	AdminToken string
	// Users maps operator usernames to bcrypt hashes.
	Users     map[string][]byte
	JWTSecret []byte
}

// NewController reads operator credentials from ADMIN_TOKEN, ADMIN_USER, ADMIN_PASSWORD and
// SESSION_SECRET.
func NewController(app *types.App) (*Controller, error) {
	hash, err := utils.HashOrRead(utils.Env("ADMIN_PASSWORD", "admin"))
	if err != nil {
		return nil, err
	}
	return &Controller{
		App:        app,
		AdminToken: utils.Env("ADMIN_TOKEN", ""),
		Users:      map[string][]byte{utils.Env("ADMIN_USER", "admin"): hash},
		JWTSecret:  []byte(utils.Env("SESSION_SECRET", "change-me-please")),
	}, nil
}

// NewRouter returns a new router with all the routes defined in this package.
func (c *Controller) NewRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", c.HandleHealth).Methods("GET")

	r.HandleFunc("/auth/login", c.HandleLogin).Methods("POST")
	r.HandleFunc("/auth/logout", c.HandleLogout).Methods("POST")

	r.HandleFunc("/airdrop/rewards", c.HandleAirdropRewards).Methods("GET")
	r.Handle("/airdrop/upload", c.RequireAdmin(http.HandlerFunc(c.HandleAirdropUpload))).Methods("POST")

	r.HandleFunc("/rewards/earned", c.HandleEarnedRewards).Methods("GET")
	r.HandleFunc("/rewards/referrals", c.HandleReferralDeposits).Methods("GET")
	r.HandleFunc("/rewards/referrals/summary", c.HandleReferralSummary).Methods("GET")
	r.HandleFunc("/rewards/summary", c.HandleReferralSummary).Methods("GET")
	r.HandleFunc("/rewards/op-rebates", c.HandleOpRebateDeposits).Methods("GET")
	r.HandleFunc("/rewards/op-rebates/summary", c.HandleOpRebatesSummary).Methods("GET")

	ops := r.PathPrefix("/queues").Subrouter()
	ops.Use(c.RequireAdmin)
	ops.HandleFunc("/{queue}/failed", c.HandleListFailed).Methods("GET")
	ops.HandleFunc("/{queue}/retry", c.HandleRetryFailed).Methods("POST")

	return r
}

// WithCORS is a middleware that adds CORS headers to the response.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", http.MethodGet+", "+http.MethodPost+", "+http.MethodOptions)

		// Fast-path the preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// internalError logs err and answers 500 without leaking it.
func (c *Controller) internalError(w http.ResponseWriter, r *http.Request, err error) {
	c.App.Logger.Error("Request failed",
		zap.String("path", r.URL.Path),
		zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

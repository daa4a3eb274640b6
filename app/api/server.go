package api

import (
	"net/http"
	"time"

	"github.com/spokescan/spokescan/app/api/controller"
	"github.com/spokescan/spokescan/app/api/types"
	"github.com/spokescan/spokescan/pkg/utils"
	"go.uber.org/zap"
)

// NewServer attaches the HTTP server to app.
func NewServer(app *types.App) error {
	ctler, err := controller.NewController(app)
	if err != nil {
		return err
	}

	// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
	addr := utils.Env("ADDR", ":3001")

	app.Server = &http.Server{
		Addr:              addr,
		Handler:           controller.WithCORS(ctler.NewRouter()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	app.Logger.Info("Starting server", zap.String("addr", addr))

	return nil
}

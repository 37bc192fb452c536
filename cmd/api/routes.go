package main

import (
	"log"
	"net/http"

	httphandlers "banklink/internal/interfaces/http"
	"banklink/internal/shared/config"
	"banklink/internal/shared/middleware"
)

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *Dependencies, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", httphandlers.HandleHealth)

	// Protected routes
	authMiddleware := middleware.Auth(deps.Tokens)

	mux.Handle("/api/banks/link/token", authMiddleware(http.HandlerFunc(deps.BankHandler.HandleCreateLinkToken)))
	mux.Handle("/api/banks/link", authMiddleware(http.HandlerFunc(deps.BankHandler.HandleLinkBank)))
	mux.Handle("/api/banks/accounts", authMiddleware(http.HandlerFunc(deps.BankHandler.HandleListAccounts)))
	mux.Handle("/api/banks/accounts/refresh", authMiddleware(http.HandlerFunc(deps.BankHandler.HandleRefreshAccounts)))
	mux.Handle("/api/banks/{id}", authMiddleware(http.HandlerFunc(deps.BankHandler.HandleUnlinkBank)))
	mux.Handle("/api/banks", authMiddleware(http.HandlerFunc(deps.BankHandler.HandleUnlinkAll)))
	mux.Handle("/api/banks/{id}/transactions/sync", authMiddleware(http.HandlerFunc(deps.TransactionHandler.HandleSyncTransactions)))
	mux.Handle("/api/banks/{id}/transactions/resync", authMiddleware(http.HandlerFunc(deps.TransactionHandler.HandleForceResync)))
	mux.Handle("/api/transactions", authMiddleware(http.HandlerFunc(deps.TransactionHandler.HandleListTransactions)))

	// Apply global middleware
	handler := middleware.Logging(middleware.CORS(cfg.Server.AllowedHosts)(mux))

	// Telemetry middleware when enabled
	if cfg.Telemetry.Enabled {
		handler = middleware.Telemetry(middleware.Tracing(handler))
	}

	// Apply security middleware when TLS is enabled
	if cfg.TLS.Enabled {
		handler = middleware.HSTS(middleware.SecureCookies(handler))
		log.Println("TLS security middleware enabled (HSTS + SecureCookies)")
	}

	return handler
}

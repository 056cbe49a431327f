// Package handlers contains HTTP handler implementations and middleware.
//
// This package provides:
//   - The Telegram webhook handler for the inbound listener
//   - Health checks for the ops listener
//   - The admin entitlement lookup, guarded by a bcrypt-hashed API key
//   - Reusable middleware components
//
// # Webhook
//
// WebhookHandler answers POST / with "OK" after the update has been routed,
// "Bad Request" for a payload that is not JSON, and "✅ Бот запущен" for any
// other request:
//
//	webhook := handlers.NewWebhookHandler(processor, handlers.WebhookConfig{
//	    Secret: cfg.Telegram.WebhookSecret,
//	})
//
// # Health Checks
//
// Checks run in parallel, each with its own timeout:
//
//	checker := handlers.NewCompositeHealthChecker(version)
//	checker.AddCheck("store", handlers.NewPingCheck(store))
//	checker.AddCheck("telegram", handlers.NewPingCheck(client))
//
// # Admin
//
//	auth := handlers.NewAPIKeyAuth(handlers.DefaultAPIKeyHeader, cfg.Admin.APIKeyHash)
//	mux.Handle("GET /admin/entitlements/{userID}", auth.Middleware(lookup))
package handlers

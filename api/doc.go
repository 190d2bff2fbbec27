// Package api defines the request and response bodies of the KnowFlow HTTP API.
//
// # API Overview
//
// KnowFlow exposes a RESTful API under /api/v1 for:
//   - Publishing and reading workflow definitions
//   - Starting, inspecting and cancelling runs, and reading their execution log
//   - Ranking a query against the fragment index
//   - Registering tool endpoints and reading their health and call history
//
// Every response is wrapped in the handlers.Response envelope:
//
//	{"success": true, "data": {...}, "timestamp": "..."}
//	{"success": false, "error": {"code": "RUN_NOT_FOUND", "message": "..."}, "timestamp": "..."}
//
// # Authentication
//
// When API keys are configured, requests carry the X-API-Key header:
//
//	X-API-Key: your-api-key
//
// When a JWT secret is configured, a Bearer token is accepted instead.
//
// # Base URL
//
//	http://localhost:8080
package api

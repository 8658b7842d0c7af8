// ABOUTME: Package documentation for the top-level gateway
// ABOUTME: Describes component wiring and the HTTP surface

// Package gateway assembles the concierge server: the SQLite store, the
// optional LLM collaborator, the conversation orchestrator, and the
// connection hub, exposed over one HTTP server.
//
// Endpoints: /health (liveness), /health/ready (store reachable), and /ws
// (the WebSocket binding for the hub's event vocabulary). A background
// reaper ends conversations idle past the configured timeout, skipping any
// conversation that still has live connections.
package gateway

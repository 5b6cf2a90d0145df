// Package mcpmgr centralizes the management of multiple Model Context Protocol
// (MCP) server connections from a single Go process. It owns the full
// connection lifecycle: parsing server configuration, starting enabled servers
// concurrently with per-server failure isolation, diffing configuration
// updates into add/remove/restart actions, tracking a status record per
// server, and routing tool calls with connection-level error demotion.
//
// # Core entry points
//
//   - Manager is the long-lived orchestration type. Construct it with
//     NewManager, load the first configuration with Initialize, and apply
//     later updates with Reconcile or ReconcileJSON.
//   - ServerConfig declares how each server is launched or contacted; the
//     Transport field selects stdio, http, or websocket, and Validate
//     enforces that only the matching field group is populated.
//   - Diff computes the pure reconciliation plan between two configuration
//     snapshots and can be used on its own.
//
// Once servers are running, Statuses exposes a renderable view per server
// (status, discovered tools, last error), FetchTools re-reads a live catalog,
// and CallTool invokes a tool. Errors classified as connection-level by
// IsConnectionError demote the server to an error status and evict its
// connection so subsequent calls fail fast instead of hanging; everything
// else is surfaced to the caller without touching connection state.
package mcpmgr

// Package gateway wires the deskwire server together and exposes it over HTTP.
//
// A Gateway owns the SQLite store, the event broker (in-memory or AMQP), the
// presence tracker, and the publisher, and serves three surfaces:
//
//   - GET /health for liveness probes
//   - /api/... JSON endpoints for conversations, messages, and notifications,
//     all behind bearer-token auth
//   - GET /ws, the WebSocket push channel
//
// The flow for every mutation is the same: the HTTP handler calls the
// service, the service persists through the store, and only after the write
// commits does the publisher push events to subscribed sockets. A client that
// receives a push can therefore always refetch over /api and see state at
// least as new as the event.
//
// WebSocket clients are subscribed to their own channels on connect (agents
// to their queue channel, users to their open conversation) and may attach to
// further conversation channels with subscribe control frames, subject to the
// same ownership rules as the JSON API.
package gateway

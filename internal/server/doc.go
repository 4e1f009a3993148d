// Package server implements the HTTP and WebSocket surface of the support
// desk service.
//
// The implementation is split into files for configuration, the hub that
// supervises connections, clients and their session lifecycle, routing,
// middleware and HTTP handlers. Message semantics live in the chat, router,
// registry and transcript packages; this package only moves frames and
// requests to and from them.
package server

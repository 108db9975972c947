// Package relay implements the connection registry, per-connection session,
// message dispatch, and websocket lifecycle of the relay server.
//
// Concurrency model: one reader goroutine and one writer goroutine per
// connection. The Registry is the only structure shared across connections
// and is only touched through its methods. A Client's socket is written by
// exactly one goroutine (the connection's writer), fed through a buffered
// channel that broadcasters push into without blocking.
package relay

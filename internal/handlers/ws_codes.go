// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes used by the room endpoint.
const (
	BadSubprotocolError = 3000 // Client connected with an unsupported subprotocol.
	ServerShutdownError = 3001 // The server is going away; rooms were closed.
)

// Package proxy defines the HTTP server on which the services of the
// application register their handlers.
package proxy

import (
	"net"
	"net/http"
)

// Proxy defines the primitives to implement an http server that handles
// client side requests
type Proxy interface {
	// Listen starts the proxy server. This call is assumed to be blocking
	Listen()

	// Stop stops the proxy server
	Stop()

	// RegisterHandler registers a new handler. The path follows the patterns
	// of http.ServeMux and may start with a method.
	RegisterHandler(path string, handler func(http.ResponseWriter, *http.Request))

	// GetAddr returns the address of the server once it listens, or nil.
	GetAddr() net.Addr
}

package mcpmgr

// Lightweight constructors for building ServerConfig values in code. These
// are non-breaking and purely additive; configuration loaded from JSON does
// not go through them.

// StdioServer declares a server launched as a local process.
func StdioServer(command string, args ...string) ServerConfig {
	return ServerConfig{Transport: TransportStdio, Command: command, Args: args}
}

// HTTPServer declares a server reached over the HTTP fallback chain.
func HTTPServer(url string) ServerConfig {
	return ServerConfig{Transport: TransportHTTP, URL: url}
}

// WebSocketServer declares a server reached over a WebSocket.
func WebSocketServer(url string) ServerConfig {
	return ServerConfig{Transport: TransportWebSocket, URL: url}
}

// Disabled returns a copy of cfg with the enabled flag forced off.
func Disabled(cfg ServerConfig) ServerConfig {
	off := false
	cfg.Enabled = &off
	return cfg
}

package httpserver

import "time"

// ShutdownTimeout bounds graceful shutdown of the server and its background workers.
var ShutdownTimeout = 10 * time.Second

package tcpserver

import "time"

// TCPServerSession is implemented by each per-connection handler. The server
// creates one session per accepted connection and runs Handle in its own
// goroutine; the session owns the connection until Handle returns.
type TCPServerSession interface {
	// ID returns the identifier assigned by the server.
	ID() uint32

	// Handle runs the session's read loop until the peer disconnects, an
	// error occurs or the session is closed. It must close the connection
	// before returning.
	Handle()

	// Drain asks the session to finish by deadline. The session keeps
	// reading until the peer closes or the deadline passes, whichever
	// comes first. Safe to call from any goroutine.
	//
	// Parameters:
	//   - deadline: Point in time after which the session must stop reading
	Drain(deadline time.Time)

	// Close forcibly closes the connection, unblocking Handle. Safe to call
	// multiple times and concurrently with Handle.
	//
	// Returns:
	//   - An error if closing failed
	Close() error
}

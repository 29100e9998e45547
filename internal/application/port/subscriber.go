package port

// Subscriber is one client connection from the registry's point of view.
// The transport owns the connection lifecycle; the registry only writes.
type Subscriber interface {
	// Ready reports whether the transport is open for writes.
	Ready() bool
	// Send enqueues one wire message without blocking. A false return
	// means the message was dropped (closed or slow consumer).
	Send(msg []byte) bool
}

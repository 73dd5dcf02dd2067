package core

// Frame is an encoded relay message.
type Frame []byte

// SignalConnection abstracts the server side of a relay socket.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

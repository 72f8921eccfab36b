package signal

// Link abstracts one endpoint's connection to the relay.
// RemoteLink implements it over WebSocket, LocalLink in-process.
type Link interface {
	// Send encodes and sends a message to the relay
	Send(msg Message) error

	// Messages returns channel of incoming raw messages.
	// It is closed when the link goes down.
	Messages() <-chan []byte

	// SetDisconnectHandler sets callback for when connection is lost
	SetDisconnectHandler(handler func())

	// Close shuts down the link
	Close()
}

package publisher

// Publisher represents a service for publishing harvested records
type Publisher interface {
	// Publish appends a message under key to the output
	Publish(key string, message []byte) error

	// TrimStreams trims the output to the configured maximum length
	TrimStreams() error

	// Close closes the publisher
	Close() error
}

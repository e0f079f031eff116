package kafka

// MessageWriter exposes the writer seam to external tests.
type MessageWriter = messageWriter

// NewPublisherWithWriter builds a publisher over a fake writer.
func NewPublisherWithWriter(w MessageWriter, cfg Config) *Publisher {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	return newPublisher(w, cfg)
}


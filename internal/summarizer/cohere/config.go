package cohere

import "time"

// Config holds the configuration for the Cohere client.
type Config struct {
	// APIKey is the Cohere API key. Required.
	APIKey string
	// BaseURL is the API origin, without a trailing slash.
	BaseURL string
	// Model is the chat model that writes the summary.
	Model string
	// Timeout bounds one request, including reading the response.
	Timeout time.Duration
	// MaxConcurrent caps in-flight requests to the provider.
	MaxConcurrent int
}

// DefaultConfig returns the production defaults without an API key.
func DefaultConfig() Config {
	return Config{
		BaseURL:       "https://api.cohere.com",
		Model:         "command-r-plus-08-2024",
		Timeout:       30 * time.Second,
		MaxConcurrent: 4,
	}
}

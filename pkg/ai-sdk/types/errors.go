package types

import "errors"

var (
	// ErrProviderNotSet is returned when a provider is not configured
	ErrProviderNotSet = errors.New("provider not set")

	// ErrUnsupportedProvider is returned for an unknown provider name
	ErrUnsupportedProvider = errors.New("unsupported provider")

	// ErrToolNotFound is returned when a tool is not found
	ErrToolNotFound = errors.New("tool not found")

	// ErrMaxIterationsReached is returned when max iterations are reached
	ErrMaxIterationsReached = errors.New("max iterations reached")

	// ErrEmptyResponse is returned when the provider returns an empty response
	ErrEmptyResponse = errors.New("empty response from provider")

	// ErrEmptyPrompt is returned when a request carries no messages
	ErrEmptyPrompt = errors.New("prompt has no messages")
)

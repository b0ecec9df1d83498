package model

import "time"

// Config holds engine behaviour switches.
type Config struct {
	MaxRetryAttempts  int
	SaveHistory       bool
	AutoVisualization bool
	NResults          int
	Debug             bool
	Guard             bool
	LLMTimeout        time.Duration
	QueryTimeout      time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxRetryAttempts:  3,
		SaveHistory:       true,
		AutoVisualization: true,
		NResults:          5,
		Guard:             true,
		LLMTimeout:        60 * time.Second,
		QueryTimeout:      30 * time.Second,
	}
}

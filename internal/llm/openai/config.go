// Package openai implements llm.Model against an OpenAI-compatible chat/completions API.
package openai

import "time"

// Config for the OpenAI client.
type Config struct {
	APIKey      string
	BaseURL     string // default https://api.openai.com/v1
	Model       string // default gpt-3.5-turbo
	// Temperature is sent only when set; nil leaves the API default.
	Temperature *float64
	Timeout     time.Duration // http client timeout, default 60s
	// RequestsPerSecond caps outgoing calls across all pipelines. Zero disables the cap.
	RequestsPerSecond float64
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.Model == "" {
		c.Model = "gpt-3.5-turbo"
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	return c
}

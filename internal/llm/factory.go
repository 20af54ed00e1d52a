package llm

import (
	"fmt"
	"strings"

	"github.com/ppiankov/evident/internal/config"
)

// NewProvider creates a reasoning backend based on configuration
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "ollama":
		return NewOllamaProvider(cfg)

	case "openai":
		return NewOpenAIProvider(cfg)

	case "anthropic", "claude":
		return NewAnthropicProvider(cfg)

	default:
		return nil, fmt.Errorf("unknown llm provider: %s (supported: ollama, openai, anthropic)", cfg.Provider)
	}
}

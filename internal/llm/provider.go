package llm

import (
	"context"

	"github.com/ppiankov/evident/internal/config"
)

// Role names a pipeline task. Each role resolves to its own model and
// temperature so extraction can run deterministic while summary writing
// stays loose.
type Role string

const (
	RoleExtract     Role = "extract"
	RoleVerify      Role = "verify"
	RoleConsolidate Role = "consolidate"
	RoleQueryGen    Role = "query_gen"
	RoleWrite       Role = "write"
	RoleVerifyGroup Role = "verify_group"
)

// Provider defines the interface for reasoning backends
type Provider interface {
	// Name returns the provider name
	Name() string

	// Generate runs one completion for the given role
	Generate(ctx context.Context, req Request) (*Response, error)

	// IsAvailable checks if the provider is properly configured and reachable
	IsAvailable(ctx context.Context) bool
}

// Request contains the input for one completion
type Request struct {
	// Role selects the configured model and temperature
	Role Role

	// System is the system prompt (optional)
	System string

	// Prompt is the user prompt
	Prompt string

	// MaxTokens limits the response length (0 uses the configured default)
	MaxTokens int
}

// Response contains the backend's output
type Response struct {
	// Text is the generated completion, whitespace-trimmed
	Text string

	// Model is the model that generated the response
	Model string

	// Token counts for usage accounting. Estimated when the backend
	// does not report them.
	PromptTokens     int
	CompletionTokens int
}

// roleModel resolves the configured model and temperature for a role.
// Unknown roles fall back to the verify settings.
func roleModel(cfg config.LLMConfig, role Role) (string, float64) {
	switch role {
	case RoleExtract:
		return cfg.ModelExtract, cfg.TempExtract
	case RoleVerify:
		return cfg.ModelVerify, cfg.TempVerify
	case RoleConsolidate:
		return cfg.ModelConsolidate, cfg.TempConsolidate
	case RoleQueryGen:
		return cfg.ModelQueryGen, cfg.TempQueryGen
	case RoleWrite:
		return cfg.ModelWrite, cfg.TempWrite
	case RoleVerifyGroup:
		return cfg.ModelVerifyGroup, cfg.TempVerifyGroup
	default:
		return cfg.ModelVerify, cfg.TempVerify
	}
}

// maxTokens resolves the response length limit for a request.
func maxTokens(cfg config.LLMConfig, req Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	if cfg.MaxTokens > 0 {
		return cfg.MaxTokens
	}
	return 2048
}

// estimateTokens approximates a token count when the backend reports none.
// Rough estimate: 1 token per 4 characters.
func estimateTokens(text string) int {
	return len(text) / 4
}

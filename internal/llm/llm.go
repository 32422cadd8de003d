package llm

import "context"

type Usage struct {
	PromptTokens     int `json:"prompt"`
	CompletionTokens int `json:"completion"`
	TotalTokens      int `json:"total"`
}

func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
	}
}

func (u Usage) IsZero() bool {
	return u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0
}

type Completion struct {
	Text  string
	Usage Usage
}

// Client is the language-model collaborator. Implementations must honor the
// context deadline; callers decide whether a failure is fatal or best-effort.
type Client interface {
	Complete(ctx context.Context, prompt string) (Completion, error)
}

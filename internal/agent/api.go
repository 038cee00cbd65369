package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// APIRunner answers prompts through the Anthropic API directly. It has
// no filesystem access, so it serves only text-in/text-out decision
// calls (decomposition, replanning); worktree work always goes through
// the CLI runner.
type APIRunner struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAPIRunner creates an API-backed runner. An empty model selects a
// default suitable for planning calls.
func NewAPIRunner(apiKey, model string) *APIRunner {
	m := anthropic.Model(model)
	if model == "" {
		m = anthropic.ModelClaudeSonnet4_20250514
	}
	return &APIRunner{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  m,
	}
}

// Run sends the prompt as a single user message and collects the text
// blocks of the response. The dir argument is ignored.
func (r *APIRunner) Run(ctx context.Context, dir, prompt string, timeout time.Duration) Result {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := r.client.Messages.New(runCtx, anthropic.MessageNewParams{
		Model:     r.model,
		MaxTokens: 8192,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return Result{Success: false, Error: fmt.Sprintf("agent timed out after %s", timeout)}
		}
		return Result{Success: false, Error: fmt.Sprintf("API call failed: %v", err)}
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			out.WriteString(variant.Text)
		}
	}
	return Result{Success: true, Output: strings.TrimSpace(out.String())}
}

var _ Runner = (*APIRunner)(nil)

package ollama

import (
	"context"
	"fmt"
)

// CheckModel verifies that Ollama is reachable and has model pulled. The
// server treats a failure as a warning: the provider stays in the chain and
// its calls fail over to the next one.
func CheckModel(ctx context.Context, c *Client, model string) error {
	if !c.IsRunning(ctx) {
		return fmt.Errorf("ollama is not running at %s (start it with: ollama serve)", c.BaseURL())
	}
	if !c.HasModel(ctx, model) {
		return fmt.Errorf("ollama model %s is not available (pull it with: ollama pull %s)", model, model)
	}
	return nil
}

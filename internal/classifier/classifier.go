// Package classifier wraps the external LLM used by the automated
// detector. The detector only ever needs free-text completion: prompt
// in, answer out.
package classifier

import "context"

// Client is the text-completion port the detector calls. The optional
// assistantPrefix steers the completion toward a constrained answer
// format (e.g. forcing the reply to start with a label).
type Client interface {
	Classify(ctx context.Context, prompt, assistantPrefix string) (string, error)
}

package reconcile

import "context"

// Prompt asks the operator to approve a bulk plan.
type Prompt struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// Confirmer answers prompts. It blocks until the operator decides; a
// cancelled ctx must read as a decline.
type Confirmer interface {
	Confirm(ctx context.Context, p Prompt) bool
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, p Prompt) bool

func (f ConfirmFunc) Confirm(ctx context.Context, p Prompt) bool {
	return f(ctx, p)
}

// Always returns a Confirmer giving the same answer to every prompt.
func Always(answer bool) Confirmer {
	return ConfirmFunc(func(context.Context, Prompt) bool { return answer })
}

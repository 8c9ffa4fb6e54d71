package deliver

import (
	"context"
	"fmt"
	"strings"

	"reporthub/internal/pipeline"
)

// Dispatcher routes an artifact to the channel the recipient string names.
// Either channel may be nil when not configured; delivering to it then fails
// with a config error rather than a panic.
type Dispatcher struct {
	email    pipeline.Deliverer
	telegram pipeline.Deliverer
}

func NewDispatcher(email, telegram pipeline.Deliverer) *Dispatcher {
	return &Dispatcher{email: email, telegram: telegram}
}

func (d *Dispatcher) Deliver(ctx context.Context, recipient string, a pipeline.Artifact) error {
	switch {
	case strings.HasPrefix(recipient, "tg:"):
		if d.telegram == nil {
			return fmt.Errorf("recipient %q: telegram channel not configured", recipient)
		}
		return d.telegram.Deliver(ctx, recipient, a)
	case strings.Contains(recipient, "@"):
		if d.email == nil {
			return fmt.Errorf("recipient %q: email channel not configured", recipient)
		}
		return d.email.Deliver(ctx, recipient, a)
	default:
		return fmt.Errorf("recipient %q: unknown delivery channel", recipient)
	}
}

package orchestrator

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"agentcore/pkg/policy"
	"agentcore/pkg/tools"
)

// Request is one user message and everything the run needs to answer it.
// It is never modified once a run starts.
type Request struct {
	UserText       string
	ExtraContext   string
	Mode           policy.Mode
	ProjectRoot    string
	ConversationID string
	RunID          string
	Tools          *tools.Set

	// IsCancelled reports calls the user cancelled. They are skipped, never executed.
	IsCancelled func(callID string) bool

	QAEnabled bool
}

// normalize validates r and fills the run id when the caller left it empty.
func (r Request) normalize() (Request, error) {
	if strings.TrimSpace(r.ConversationID) == "" {
		return r, fmt.Errorf("%w: conversation id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.UserText) == "" {
		return r, fmt.Errorf("%w: user text is empty", ErrInvalidRequest)
	}
	mode, err := policy.ParseMode(string(r.Mode))
	if err != nil {
		return r, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	r.Mode = mode
	if r.RunID == "" {
		r.RunID = uuid.NewString()
	}
	return r, nil
}

// cancelled is nil-safe.
func (r Request) cancelled(callID string) bool {
	return r.IsCancelled != nil && r.IsCancelled(callID)
}

// descriptors lists the declared tools for policy resolution.
func (r Request) descriptors() []tools.Descriptor {
	return r.Tools.Descriptors()
}

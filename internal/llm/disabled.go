package llm

import (
	"context"
	"errors"

	"github.com/clinicware/medibot/internal/apperr"
)

// DisabledClient stands in when no provider is configured. Every call
// reports the provider as unavailable, which callers already degrade on.
type DisabledClient struct{}

// NewDisabledClient returns a Client with no backing provider.
func NewDisabledClient() DisabledClient { return DisabledClient{} }

func (DisabledClient) Complete(context.Context, Request) (Response, error) {
	return Response{}, apperr.ProviderUnavailable("no llm provider configured", errors.New("llm: disabled"))
}

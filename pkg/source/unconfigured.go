package source

import (
	"context"
	"errors"
)

// ErrClientUnconfigured is returned by UnconfiguredClient, the default
// SourceClient wired when no concrete platform integration has been
// supplied. A production deployment replaces it with a package
// implementing Client against whichever platform hosts the monitored
// accounts, the way pkg/dispatch/slack supplies the production
// Dispatcher for the outbound side.
var ErrClientUnconfigured = errors.New("no source client configured")

// UnconfiguredClient satisfies Client but always fails, so SourceCoordinator
// and IngestPipeline can start and push/poll triggers can flow through the
// pipeline (exercising coalescing, back-pressure, and the HTTP intake
// surface) before a real platform integration is wired in.
type UnconfiguredClient struct{}

func (UnconfiguredClient) FetchSince(ctx context.Context, account, sincePostID string, maxFetch int) ([]Post, error) {
	return nil, ErrClientUnconfigured
}

package source

import (
	"context"

	"github.com/relaycove/signalrelay/pkg/store"
)

// StoreAccountLister adapts *store.Client to the Coordinator's narrow
// AccountLister interface, keeping pkg/source's own dependency surface
// down to the two fields it actually reads.
type StoreAccountLister struct {
	Client *store.Client
}

func (s StoreAccountLister) MonitoredAccounts(ctx context.Context) ([]AccountRef, error) {
	accounts, err := s.Client.MonitoredAccounts(ctx)
	if err != nil {
		return nil, err
	}
	refs := make([]AccountRef, len(accounts))
	for i, a := range accounts {
		refs[i] = AccountRef{Username: a.Username, Enabled: a.Enabled}
	}
	return refs, nil
}

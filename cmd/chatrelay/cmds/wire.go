package cmds

import (
	"github.com/pkg/errors"

	"github.com/go-go-golems/chatrelay/pkg/config"
	"github.com/go-go-golems/chatrelay/pkg/persistence/historystore"
	"github.com/go-go-golems/chatrelay/pkg/persistence/kvstore"
)

// openHistory opens the configured kv backend and the history store on top.
// The caller closes the returned kvstore.Store.
func openHistory(s config.Settings) (*historystore.Store, kvstore.Store, error) {
	kv, err := kvstore.Open(s.StoreOptions())
	if err != nil {
		return nil, nil, errors.Wrap(err, "open store")
	}
	hs, err := historystore.New(kv, historystore.WithRetry(s.PersistRetries, s.PersistBackoff))
	if err != nil {
		_ = kv.Close()
		return nil, nil, err
	}
	return hs, kv, nil
}

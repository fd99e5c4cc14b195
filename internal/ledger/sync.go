package ledger

import (
	"context"
	"fmt"
	"time"

	"remitmatch/internal/config"
	"remitmatch/internal/storage"
)

type SyncService struct {
	db     *storage.DB
	client *Client
	cfg    config.Config
}

func NewSyncService(db *storage.DB, cfg config.Config) *SyncService {
	return &SyncService{db: db, client: NewClient(cfg), cfg: cfg}
}

// Sync pulls every open invoice from the remote ledger into the local cache.
func (s *SyncService) Sync(ctx context.Context) (int, error) {
	invoices, err := s.client.GetOpenInvoicesScrollAll(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.db.UpsertInvoices(invoices, "api"); err != nil {
		return 0, err
	}
	_ = s.db.SetMetadata("ledger.last_sync", time.Now().UTC().Format(time.RFC3339))
	return len(invoices), nil
}

// Import loads a ledger export file into the local cache.
func (s *SyncService) Import(path string) (int, error) {
	invoices, err := ImportFile(path)
	if err != nil {
		return 0, err
	}
	if len(invoices) == 0 {
		return 0, fmt.Errorf("no invoices found in %s", path)
	}
	if err := s.db.UpsertInvoices(invoices, "import"); err != nil {
		return 0, err
	}
	_ = s.db.SetMetadata("ledger.last_import", time.Now().UTC().Format(time.RFC3339))
	return len(invoices), nil
}

// NewCandidateSource builds the source reconciliation uses: the remote ledger
// when configured, falling back to the local cache.
func NewCandidateSource(db *storage.DB, cfg config.Config) (Searcher, error) {
	cached, err := db.ListInvoices()
	if err != nil {
		return nil, err
	}
	local := NewLocalSource(cached, localOptions(cfg))
	if cfg.LedgerAPIBaseURL == "" {
		return local, nil
	}
	remote := NewClient(cfg)
	if !cfg.CandidateFallback {
		return remote, nil
	}
	return FallbackSource{Primary: remote, Secondary: local}, nil
}

func localOptions(cfg config.Config) LocalOptions {
	opts := DefaultLocalOptions()
	if cfg.MatchAmountBandTol > 0 {
		opts.AmountRelTol = cfg.MatchAmountBandTol
	}
	if cfg.LedgerSearchLimit > 0 {
		opts.CustomerLimit = cfg.LedgerSearchLimit
	}
	return opts
}

var _ Searcher = (*Client)(nil)
var _ Searcher = (*LocalSource)(nil)
var _ Searcher = FallbackSource{}


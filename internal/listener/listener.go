package listener

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"remitmatch/internal/config"
	"remitmatch/internal/connectors"
	gmailconnector "remitmatch/internal/connectors/gmail"
	imapconnector "remitmatch/internal/connectors/imap"
	"remitmatch/internal/ledger"
	"remitmatch/internal/pipeline"
	"remitmatch/internal/storage"
)

// Service polls a mailbox, reconciles new remittance mail and optionally
// exports the results.
type Service struct {
	db  *storage.DB
	cfg config.Config

	// MakeConnector and MakeSource are replaceable for tests.
	MakeConnector func(ctx context.Context, provider string) (connectors.MailConnector, error)
	MakeSource    func() (pipeline.CandidateSource, error)
}

func NewService(db *storage.DB, cfg config.Config) *Service {
	s := &Service{db: db, cfg: cfg}
	s.MakeConnector = s.makeConnector
	s.MakeSource = func() (pipeline.CandidateSource, error) { return ledger.NewCandidateSource(db, cfg) }
	return s
}

// Run polls until ctx is cancelled. Cycle errors are logged, not returned.
func (s *Service) Run(ctx context.Context) error {
	interval := time.Duration(s.cfg.MailListenerIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	fmt.Printf("mail listener started provider=%s label=%s interval=%s fetchMax=%d batch=%d autoExport=%v\n",
		s.cfg.MailListenerProvider, s.cfg.MailListenerLabel, interval, s.cfg.MailListenerFetchMax,
		s.cfg.MailListenerProcessBatch, s.cfg.MailListenerAutoExport)
	for {
		if _, err := s.RunCycle(ctx); err != nil {
			fmt.Printf("listener cycle error: %v\n", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

type CycleResult struct {
	Fetched   int
	Stored    int
	Processed int
	Groups    int
	Exported  int
}

// RunCycle fetches, reconciles and exports once.
func (s *Service) RunCycle(ctx context.Context) (CycleResult, error) {
	var res CycleResult
	provider := strings.ToLower(strings.TrimSpace(s.cfg.MailListenerProvider))
	mailConnector, err := s.MakeConnector(ctx, provider)
	if err != nil {
		return res, err
	}

	fetchService := connectors.NewFetchService(s.db, s.cfg.RawMailDir, mailConnector)
	fetchResult, err := fetchService.FetchAndStore(ctx, s.cfg.MailListenerLabel, s.cfg.MailListenerFetchMax)
	if err != nil {
		return res, err
	}
	res.Fetched, res.Stored = fetchResult.Fetched, fetchResult.Stored

	// the ledger cache may have been synced since the last cycle
	source, err := s.MakeSource()
	if err != nil {
		return res, err
	}
	processor := pipeline.NewProcessingService(s.db, s.cfg, source)
	res.Processed, res.Groups, err = processor.ProcessPending(ctx, s.cfg.MailListenerProcessBatch, provider)
	if err != nil {
		return res, err
	}

	if s.cfg.MailListenerAutoExport {
		if res.Exported, err = s.exportProcessed(provider); err != nil {
			return res, err
		}
	}

	fmt.Printf("listener cycle done provider=%s fetched=%d stored=%d known=%d processed=%d groups=%d exported=%d\n",
		provider, fetchResult.Fetched, fetchResult.Stored, fetchResult.Known, res.Processed, res.Groups, res.Exported)
	return res, nil
}

func (s *Service) exportProcessed(provider string) (int, error) {
	emails, err := s.db.ListEmailsByStatus("processed", 200)
	if err != nil {
		return 0, err
	}

	exported := 0
	for _, email := range emails {
		if email.Provider != provider {
			continue
		}
		rows, err := s.db.GetExportRows(email.ID)
		if err != nil {
			return exported, err
		}
		if len(rows) == 0 {
			continue
		}
		filename := fmt.Sprintf("%d_%s.xlsx", email.ID, sanitizeMessageID(email.MessageID))
		outputPath := filepath.Join(s.cfg.OutputDir, "listener", filename)
		if err := pipeline.ExportRowsToXLSX(rows, outputPath); err != nil {
			return exported, err
		}
		_ = s.db.UpdateEmailStatus(email.ID, "exported")
		exported++
	}
	return exported, nil
}

func (s *Service) makeConnector(ctx context.Context, provider string) (connectors.MailConnector, error) {
	switch provider {
	case "gmail":
		return gmailconnector.NewConnector(ctx, s.cfg)
	case "imap":
		return imapconnector.NewConnector(s.cfg)
	default:
		return nil, fmt.Errorf("unsupported listener provider: %s", provider)
	}
}

func sanitizeMessageID(input string) string {
	repl := strings.NewReplacer("<", "_", ">", "_", ":", "_", "/", "_", "\\", "_", "|", "_", "?", "_", "*", "_", " ", "_", "@", "_")
	out := repl.Replace(input)
	if len(out) > 120 {
		out = out[:120]
	}
	return out
}

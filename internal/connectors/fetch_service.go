package connectors

import (
	"context"

	"remitmatch/internal/storage"
)

type FetchService struct {
	db        *storage.DB
	connector MailConnector
	store     *MailStoreService
}

type FetchResult struct {
	Fetched int
	Stored  int
	Known   int
}

func NewFetchService(db *storage.DB, rawMailDir string, connector MailConnector) *FetchService {
	return &FetchService{
		db:        db,
		connector: connector,
		store:     NewMailStoreService(db, rawMailDir),
	}
}

// FetchAndStore saves new messages as "fetched". Messages already in the
// database keep their status so processed mail is not reconciled twice.
func (s *FetchService) FetchAndStore(ctx context.Context, mailbox string, max int) (FetchResult, error) {
	messages, err := s.connector.FetchInbox(ctx, mailbox, max)
	if err != nil {
		return FetchResult{}, err
	}

	res := FetchResult{Fetched: len(messages)}
	for _, msg := range messages {
		existing, err := s.db.GetEmailByProviderMessageID(msg.Provider, msg.MessageID)
		if err != nil {
			return res, err
		}
		if existing != nil {
			res.Known++
			continue
		}
		if _, err := s.store.Store(msg); err != nil {
			return res, err
		}
		res.Stored++
	}
	return res, nil
}

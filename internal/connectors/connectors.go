package connectors

import (
	"context"

	"remitmatch/internal"
)

// MailConnector pulls raw messages from one mailbox or label.
type MailConnector interface {
	FetchInbox(ctx context.Context, mailbox string, max int) ([]internal.FetchedMailMessage, error)
}

package connectors

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"remitmatch/internal"
	"remitmatch/internal/storage"
)

var ErrEmptyMessage = errors.New("message has no raw content")

// MailStoreService writes raw .eml files under rawMailDir/<provider>/<hash[:2]>/
// and registers them as "fetched". Identical content is written once.
type MailStoreService struct {
	db         *storage.DB
	rawMailDir string
}

func NewMailStoreService(db *storage.DB, rawMailDir string) *MailStoreService {
	return &MailStoreService{db: db, rawMailDir: rawMailDir}
}

func (s *MailStoreService) Store(msg internal.FetchedMailMessage) (internal.EmailRow, error) {
	if len(msg.Raw) == 0 {
		return internal.EmailRow{}, fmt.Errorf("%s %s: %w", msg.Provider, msg.MessageID, ErrEmptyMessage)
	}
	provider := strings.ToLower(strings.TrimSpace(msg.Provider))
	if provider == "" {
		provider = "unknown"
	}

	sum := sha256.Sum256(msg.Raw)
	hash := hex.EncodeToString(sum[:])
	rawPath := filepath.Join(s.rawMailDir, provider, hash[:2], hash+".eml")
	if err := writeOnce(rawPath, msg.Raw); err != nil {
		return internal.EmailRow{}, err
	}

	return s.db.UpsertEmail(provider, msg.MessageID, msg.Subject, msg.From, msg.ReceivedAt, hash, rawPath, "fetched")
}

// writeOnce renames a temp file into place so readers never see a partial .eml.
func writeOnce(path string, content []byte) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".eml-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

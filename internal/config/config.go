package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	DBPath     string
	RawMailDir string
	OutputDir  string
	HTTPAddr   string

	LedgerAPIBaseURL   string
	LedgerAPIToken     string
	LedgerRateLimitRPS int
	LedgerTimeoutMs    int
	LedgerSearchLimit  int

	MatchInvoiceWeight   float64
	MatchNameWeight      float64
	MatchAmountWeight    float64
	MatchNameFloor       float64
	MatchAmountExactTol  float64
	MatchAmountBandTol   float64
	MatchMinScore        float64
	MatchMaxResults      int
	MatchNamePrecedence  []string
	ReconcileConcurrency int
	CandidateTimeoutMs   int
	CandidateRetries     int
	CandidateBackoffMs   int
	CandidateFallback    bool

	GmailClientID     string
	GmailClientSecret string
	GmailRedirectURI  string
	GmailRefreshToken string
	GmailQuery        string

	IMAPHost      string
	IMAPPort      int
	IMAPSecure    bool
	IMAPUser      string
	IMAPPassword  string
	IMAPMarkSeen  bool
	IMAPSinceDays int

	MailListenerProvider     string
	MailListenerLabel        string
	MailListenerIntervalSec  int
	MailListenerFetchMax     int
	MailListenerProcessBatch int
	MailListenerAutoExport   bool
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		DBPath:     getEnv("DB_PATH", filepath.Join(cwd, "data", "app.db")),
		RawMailDir: getEnv("MAIL_RAW_DIR", filepath.Join(cwd, "data", "raw")),
		OutputDir:  getEnv("OUTPUT_DIR", filepath.Join(cwd, "out")),
		HTTPAddr:   getEnv("HTTP_ADDR", ":8080"),

		LedgerAPIBaseURL:   getEnv("LEDGER_API_BASE_URL", ""),
		LedgerAPIToken:     getEnv("LEDGER_API_TOKEN", ""),
		LedgerRateLimitRPS: getEnvInt("LEDGER_RATE_LIMIT_RPS", 5),
		LedgerTimeoutMs:    getEnvInt("LEDGER_TIMEOUT_MS", 10000),
		LedgerSearchLimit:  getEnvInt("LEDGER_SEARCH_LIMIT", 50),

		MatchInvoiceWeight:   getEnvFloat("MATCH_INVOICE_WEIGHT", 100),
		MatchNameWeight:      getEnvFloat("MATCH_NAME_WEIGHT", 80),
		MatchAmountWeight:    getEnvFloat("MATCH_AMOUNT_WEIGHT", 100),
		MatchNameFloor:       getEnvFloat("MATCH_NAME_FLOOR", 0.5),
		MatchAmountExactTol:  getEnvFloat("MATCH_AMOUNT_EXACT_TOL", 0.001),
		MatchAmountBandTol:   getEnvFloat("MATCH_AMOUNT_BAND_TOL", 0.05),
		MatchMinScore:        getEnvFloat("MATCH_MIN_SCORE", 100),
		MatchMaxResults:      getEnvInt("MATCH_MAX_RESULTS", 20),
		MatchNamePrecedence:  getEnvList("MATCH_NAME_PRECEDENCE", []string{"customer_name", "payor_name"}),
		ReconcileConcurrency: getEnvInt("RECONCILE_CONCURRENCY", 4),
		CandidateTimeoutMs:   getEnvInt("CANDIDATE_TIMEOUT_MS", 10000),
		CandidateRetries:     getEnvInt("CANDIDATE_RETRIES", 3),
		CandidateBackoffMs:   getEnvInt("CANDIDATE_BACKOFF_MS", 200),
		CandidateFallback:    getEnvBool("CANDIDATE_FALLBACK_LOCAL", true),

		GmailClientID:     getEnv("GMAIL_CLIENT_ID", ""),
		GmailClientSecret: getEnv("GMAIL_CLIENT_SECRET", ""),
		GmailRedirectURI:  getEnv("GMAIL_REDIRECT_URI", "https://developers.google.com/oauthplayground"),
		GmailRefreshToken: getEnv("GMAIL_REFRESH_TOKEN", ""),
		GmailQuery:        getEnv("GMAIL_QUERY", "has:attachment"),

		IMAPHost:      getEnv("IMAP_HOST", ""),
		IMAPPort:      getEnvInt("IMAP_PORT", 993),
		IMAPSecure:    getEnvBool("IMAP_SECURE", true),
		IMAPUser:      getEnv("IMAP_USER", ""),
		IMAPPassword:  getEnv("IMAP_PASSWORD", ""),
		IMAPMarkSeen:  getEnvBool("IMAP_MARK_SEEN", false),
		IMAPSinceDays: getEnvInt("IMAP_SINCE_DAYS", 14),

		MailListenerProvider:     getEnv("MAIL_LISTENER_PROVIDER", "imap"),
		MailListenerLabel:        getEnv("MAIL_LISTENER_LABEL", "INBOX"),
		MailListenerIntervalSec:  getEnvInt("MAIL_LISTENER_INTERVAL_SEC", 60),
		MailListenerFetchMax:     getEnvInt("MAIL_LISTENER_FETCH_MAX", 20),
		MailListenerProcessBatch: getEnvInt("MAIL_LISTENER_PROCESS_BATCH", 20),
		MailListenerAutoExport:   getEnvBool("MAIL_LISTENER_AUTO_EXPORT", true),
	}

	return cfg, nil
}

func (c Config) Require(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("missing required env var: %s", name)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	if value == "" {
		return fallback
	}
	if value == "1" || value == "true" || value == "yes" || value == "on" {
		return true
	}
	if value == "0" || value == "false" || value == "no" || value == "off" {
		return false
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value := strings.TrimSpace(getEnv(key, ""))
	if value == "" {
		return fallback
	}
	out := []string{}
	for _, part := range strings.Split(value, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

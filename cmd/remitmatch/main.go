package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"remitmatch/internal"
	"remitmatch/internal/config"
	"remitmatch/internal/connectors"
	gmailconnector "remitmatch/internal/connectors/gmail"
	imapconnector "remitmatch/internal/connectors/imap"
	"remitmatch/internal/ledger"
	"remitmatch/internal/listener"
	"remitmatch/internal/pipeline"
	"remitmatch/internal/storage"
	"remitmatch/internal/web"
)

func main() {
	cfg, err := config.Load()
	must(err)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	switch cmd {
	case "ledger:sync":
		svc := ledger.NewSyncService(db, cfg)
		count, err := svc.Sync(ctx)
		must(err)
		fmt.Printf("ledger sync complete: %d invoices\n", count)
	case "ledger:import":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		file := fs.String("file", "", "xlsx or csv invoice list")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*file) == "" {
			must(fmt.Errorf("--file is required"))
		}
		svc := ledger.NewSyncService(db, cfg)
		count, err := svc.Import(*file)
		must(err)
		fmt.Printf("ledger import complete file=%s invoices=%d\n", *file, count)
	case "mail:fetch":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		provider := fs.String("provider", "imap", "gmail|imap")
		label := fs.String("label", "INBOX", "mailbox/label")
		max := fs.Int("max", 50, "max messages")
		_ = fs.Parse(os.Args[2:])
		conn, err := makeConnector(ctx, cfg, *provider)
		must(err)
		fetch := connectors.NewFetchService(db, cfg.RawMailDir, conn)
		result, err := fetch.FetchAndStore(ctx, *label, *max)
		must(err)
		fmt.Printf("mail fetch done provider=%s fetched=%d stored=%d known=%d\n", *provider, result.Fetched, result.Stored, result.Known)
	case "mail:process":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		provider := fs.String("provider", "imap", "gmail|imap")
		messageID := fs.String("messageId", "", "specific message-id")
		batch := fs.Int("batch", 20, "batch size")
		_ = fs.Parse(os.Args[2:])
		source, err := ledger.NewCandidateSource(db, cfg)
		must(err)
		processor := pipeline.NewProcessingService(db, cfg, source)
		if strings.TrimSpace(*messageID) != "" {
			res, err := processor.ProcessByProviderMessageID(ctx, *provider, *messageID)
			must(err)
			fmt.Printf("processed email id=%d documents=%d groups=%d matched=%d failed=%d\n", res.EmailID, res.Documents, res.Groups, res.Matched, res.Failed)
			return
		}
		emails, groups, err := processor.ProcessPending(ctx, *batch, *provider)
		must(err)
		fmt.Printf("processed pending emails=%d groups=%d\n", emails, groups)
	case "export:xlsx":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		emailID := fs.Int("emailId", 0, "internal email id")
		out := fs.String("out", "", "output xlsx path")
		_ = fs.Parse(os.Args[2:])
		if *emailID == 0 || strings.TrimSpace(*out) == "" {
			must(fmt.Errorf("--emailId and --out are required"))
		}
		rows, err := db.GetExportRows(*emailID)
		must(err)
		if len(rows) == 0 {
			must(fmt.Errorf("no export rows for emailId=%d", *emailID))
		}
		must(pipeline.ExportRowsToXLSX(rows, *out))
		fmt.Printf("exported %d rows to %s\n", len(rows), *out)
	case "mail:listen":
		s := listener.NewService(db, cfg)
		must(s.Run(ctx))
	case "run":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		input := fs.String("input", "", "pdf scan or json document(s)")
		output := fs.String("output", "", "output .xlsx or .json path, - for stdout")
		_ = fs.Parse(os.Args[2:])
		if *input == "" || *output == "" {
			must(fmt.Errorf("--input and --output are required"))
		}

		docs, err := loadDocuments(*input)
		must(err)
		source, err := ledger.NewCandidateSource(db, cfg)
		must(err)
		results, err := newReconciler(cfg, source).ReconcileBatch(ctx, docs)
		must(err)
		must(writeResults(docs, results, *output, pipeline.ScorerConfigFrom(cfg).NamePrecedence))

		groups := 0
		for _, r := range results {
			groups += len(r)
		}
		fmt.Fprintf(os.Stderr, "run done documents=%d groups=%d output=%s\n", len(docs), groups, *output)
	case "serve":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		addr := fs.String("addr", cfg.HTTPAddr, "listen address")
		_ = fs.Parse(os.Args[2:])
		source, err := ledger.NewCandidateSource(db, cfg)
		must(err)
		server := web.NewServer(newReconciler(cfg, source), source, invoiceLookup(db, cfg))
		fmt.Printf("serving on %s\n", *addr)
		must(server.Run(*addr))
	default:
		usage()
		os.Exit(1)
	}
}

func newReconciler(cfg config.Config, source pipeline.CandidateSource) *pipeline.Reconciler {
	scorer := pipeline.NewMatchScorer(pipeline.ScorerConfigFrom(cfg))
	return pipeline.NewReconciler(source, scorer, pipeline.ReconcileConfigFrom(cfg))
}

// invoiceLookup asks the remote ledger first when one is configured and
// answers from the local cache otherwise.
func invoiceLookup(db *storage.DB, cfg config.Config) web.InvoiceLookup {
	local := func(_ context.Context, id string) (*internal.InvoiceCandidate, error) {
		return db.GetInvoice(id)
	}
	if cfg.LedgerAPIBaseURL == "" {
		return local
	}
	client := ledger.NewClient(cfg)
	return func(ctx context.Context, id string) (*internal.InvoiceCandidate, error) {
		invoice, err := client.GetInvoice(ctx, id)
		if err == nil && invoice != nil {
			return invoice, nil
		}
		if !cfg.CandidateFallback {
			return invoice, err
		}
		return local(ctx, id)
	}
}

func loadDocuments(path string) ([]internal.Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		doc, err := pipeline.ExtractPDFDocument(filepath.Base(path), content)
		if err != nil {
			return nil, err
		}
		return []internal.Document{doc}, nil
	case ".json":
		trimmed := strings.TrimSpace(string(content))
		if strings.HasPrefix(trimmed, "[") {
			var docs []internal.Document
			if err := json.Unmarshal(content, &docs); err != nil {
				return nil, fmt.Errorf("decode %s: %w", path, err)
			}
			return docs, nil
		}
		var doc internal.Document
		if err := json.Unmarshal(content, &doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		if doc.Name == "" {
			doc.Name = filepath.Base(path)
		}
		return []internal.Document{doc}, nil
	default:
		return nil, fmt.Errorf("unsupported input type: %s", path)
	}
}

type documentResult struct {
	Name   string                 `json:"name"`
	Groups []internal.GroupResult `json:"groups"`
}

func writeResults(docs []internal.Document, results [][]internal.GroupResult, output string, precedence []string) error {
	if output == "-" || strings.EqualFold(filepath.Ext(output), ".json") {
		out := make([]documentResult, len(docs))
		for i, doc := range docs {
			out[i] = documentResult{Name: doc.Name, Groups: results[i]}
		}
		payload, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		payload = append(payload, '\n')
		if output == "-" {
			_, err = os.Stdout.Write(payload)
			return err
		}
		return os.WriteFile(output, payload, 0o644)
	}

	var rows []internal.ExportRow
	for i, doc := range docs {
		rows = append(rows, pipeline.BuildExportRows(0, doc.Name, results[i], precedence)...)
	}
	return pipeline.ExportRowsToXLSX(rows, output)
}

func makeConnector(ctx context.Context, cfg config.Config, provider string) (connectors.MailConnector, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "gmail":
		return gmailconnector.NewConnector(ctx, cfg)
	case "imap":
		return imapconnector.NewConnector(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

func usage() {
	fmt.Println("usage: remitmatch <command>")
	fmt.Println("commands:")
	fmt.Println("  ledger:sync")
	fmt.Println("  ledger:import --file=./invoices.xlsx")
	fmt.Println("  mail:fetch --provider=gmail|imap --label=INBOX --max=50")
	fmt.Println("  mail:process --provider=gmail|imap [--messageId=...] [--batch=20]")
	fmt.Println("  mail:listen")
	fmt.Println("  export:xlsx --emailId=1 --out=./out/result.xlsx")
	fmt.Println("  run --input=scan.pdf|doc.json --output=result.xlsx|result.json|-")
	fmt.Println("  serve [--addr=:8080]")
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

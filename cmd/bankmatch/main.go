package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/jask/bankmatch/internal/config"
	"github.com/jask/bankmatch/internal/conflict"
	"github.com/jask/bankmatch/internal/database"
	"github.com/jask/bankmatch/internal/database/repository"
	"github.com/jask/bankmatch/internal/engine"
	"github.com/jask/bankmatch/internal/match"
	"github.com/jask/bankmatch/internal/notify"
	"github.com/jask/bankmatch/internal/recovery"
	"github.com/jask/bankmatch/internal/service"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  bankmatch import <file> [account]   import a bank-feed CSV (headered feed format,
                                      or date,amount,payee when an account is named)
  bankmatch detect                    run conflict detection and list pairs
  bankmatch watch                     run detection through the debounced watcher
  bankmatch resolve <tx-id|all> <keep-both|keep-manual|keep-bank>
  bankmatch history                   list recorded resolutions
  bankmatch errors                    list retained recovery errors`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		log.Fatalf("mkdir db dir: %v", err)
	}
	if err := database.RunMigrations(cfg.Database.Path, cfg.Database.MigrationsPath); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	hub := notify.NewHub(logger)
	hub.Subscribe(func(n notify.Notification) {
		fmt.Printf("[%s] %s\n", n.Severity, n.Message)
	})

	manager := recovery.NewManager(recovery.Config{
		MaxRetries:             cfg.Recovery.MaxRetries,
		BaseDelay:              cfg.Recovery.BaseDelay(),
		AutoRetryNetworkIssues: cfg.Recovery.AutoRetryNetworkIssues,
	}, hub)
	defer manager.Close()

	txRepo := repository.NewTransactionRepo(db)
	acctRepo := repository.NewAccountRepo(db)
	resRepo := repository.NewResolutionRepo(db)

	var resolver conflict.Resolver
	if cfg.Engine.URL != "" {
		client := engine.NewClient(cfg.Engine.URL, cfg.Engine.Timeout())
		if err := client.Ping(ctx); err != nil {
			// ambient failure: recovery handles it, work continues locally
			manager.Report(ctx, engine.ClassifyError(err), "engine connection", err, client.Ping)
		}
		resolver = client
	} else {
		resolver = &engine.LocalResolver{DB: db}
	}

	scorer := match.Scorer{
		AmountThresholdCents: cfg.Detector.AmountThresholdCents,
		DateDayThreshold:     cfg.Detector.DateDayThreshold,
	}
	detector := conflict.NewDetector(scorer, conflict.DetectorConfig{
		ScoreThreshold: cfg.Detector.ScoreThreshold,
		ChunkSize:      cfg.Detector.ChunkSize,
	})
	go func() {
		for err := range detector.Errors() {
			logger.WithError(err).Warn("conflict detection")
		}
	}()
	coordinator := conflict.NewCoordinator(resolver, manager, hub, resRepo)
	ingester := &service.IngestService{Transactions: txRepo, Accounts: acctRepo}

	switch os.Args[1] {
	case "import":
		runImport(ctx, ingester, os.Args[2:])
	case "detect":
		pairs := detect(ctx, txRepo, detector, coordinator)
		printPairs(pairs, accountNames(ctx, acctRepo))
	case "watch":
		runWatch(ctx, txRepo, acctRepo, detector, coordinator, cfg.Detector.Debounce())
	case "resolve":
		runResolve(ctx, txRepo, detector, coordinator, os.Args[2:])
	case "history":
		printHistory(ctx, resRepo)
	case "errors":
		printErrors(manager)
	default:
		usage()
	}
}

func runImport(ctx context.Context, ingester *service.IngestService, args []string) {
	if len(args) < 1 {
		usage()
	}
	f, err := os.Open(args[0])
	if err != nil {
		log.Fatalf("open %s: %v", args[0], err)
	}
	defer f.Close()

	var res service.IngestResult
	if len(args) >= 2 {
		res, err = ingester.ImportSimpleCSV(ctx, f, args[1], time.Local)
	} else {
		res, err = ingester.ImportFeedCSV(ctx, f, time.Local)
	}
	if err != nil {
		log.Fatalf("import: %v", err)
	}
	fmt.Printf("imported %d, skipped %d, %d error(s)\n", res.Imported, res.Skipped, len(res.Errors))
	for _, e := range res.Errors {
		fmt.Printf("  %v\n", e)
	}
}

func detect(ctx context.Context, txRepo *repository.TransactionRepo, det *conflict.Detector, coord *conflict.Coordinator) []conflict.Pair {
	byAccount, err := txRepo.ListByAccount(ctx)
	if err != nil {
		log.Fatalf("load transactions: %v", err)
	}
	pairs, err := det.Detect(ctx, byAccount)
	if err != nil {
		log.Fatalf("detect: %v", err)
	}
	coord.SetPairs(pairs)
	flagConflicts(ctx, txRepo, coord.Pairs())
	return coord.Pairs()
}

// runWatch drives one detection pass through the debounced watcher, the same
// path a host application uses on every ledger change.
func runWatch(ctx context.Context, txRepo *repository.TransactionRepo, acctRepo *repository.AccountRepo, det *conflict.Detector, coord *conflict.Coordinator, debounce time.Duration) {
	done := make(chan struct{}, 1)
	watcher := conflict.NewWatcher(det, debounce, func(pairs []conflict.Pair) {
		coord.SetPairs(pairs)
		done <- struct{}{}
	})
	defer watcher.Close()

	byAccount, err := txRepo.ListByAccount(ctx)
	if err != nil {
		log.Fatalf("load transactions: %v", err)
	}
	watcher.Refresh(byAccount)

	select {
	case <-done:
	case <-time.After(time.Minute):
		log.Fatal("detection pass timed out")
	}
	pairs := coord.Pairs()
	flagConflicts(ctx, txRepo, pairs)
	printPairs(pairs, accountNames(ctx, acctRepo))
}

// flagConflicts persists the conflict badge on the manual side of each pair;
// resolving clears it again.
func flagConflicts(ctx context.Context, txRepo *repository.TransactionRepo, pairs []conflict.Pair) {
	for _, p := range pairs {
		if err := txRepo.SetConflictFlag(ctx, p.Manual.ID, true); err != nil {
			log.Printf("flag conflict %s: %v", p.Manual.ID, err)
		}
	}
}

// accountNames maps account ids to display names for output.
func accountNames(ctx context.Context, acctRepo *repository.AccountRepo) map[string]string {
	accts, err := acctRepo.List(ctx)
	if err != nil {
		log.Printf("load accounts: %v", err)
		return nil
	}
	names := make(map[string]string, len(accts))
	for _, a := range accts {
		names[a.ID] = a.Name
	}
	return names
}

func runResolve(ctx context.Context, txRepo *repository.TransactionRepo, det *conflict.Detector, coord *conflict.Coordinator, args []string) {
	if len(args) < 2 {
		usage()
	}
	target, action := args[0], conflict.Action(args[1])

	pairs := detect(ctx, txRepo, det, coord)
	if len(pairs) == 0 {
		fmt.Println("no conflicts detected")
		return
	}

	if target == "all" {
		if err := coord.ResolveAll(ctx, action); err != nil {
			os.Exit(1)
		}
		return
	}
	for _, p := range pairs {
		if p.Manual.ID == target || p.ID == target {
			if err := coord.ResolveOne(ctx, p.ID, action); err != nil {
				os.Exit(1)
			}
			return
		}
	}
	log.Fatalf("no conflict pair for transaction %s", target)
}

func printPairs(pairs []conflict.Pair, names map[string]string) {
	if len(pairs) == 0 {
		fmt.Println("no conflicts detected")
		return
	}
	for _, p := range pairs {
		acct := names[p.Manual.AccountID]
		if acct == "" {
			acct = p.Manual.AccountID
		}
		fmt.Printf("%s  %s  score=%.0f  [%s]\n", p.Manual.ID, acct, p.Score, p.Classification)
		fmt.Printf("  manual: %s  %s  %d\n", p.Manual.Date.Format(time.DateOnly), p.Manual.Payee, p.Manual.AmountCents)
		fmt.Printf("  bank:   %s  %s  %d\n", p.Imported.Date.Format(time.DateOnly), p.Imported.Payee, p.Imported.AmountCents)
	}
}

func printHistory(ctx context.Context, resRepo *repository.ResolutionRepo) {
	rows, err := resRepo.List(ctx)
	if err != nil {
		log.Fatalf("load resolutions: %v", err)
	}
	if len(rows) == 0 {
		fmt.Println("no resolutions recorded")
		return
	}
	for _, r := range rows {
		fmt.Printf("%s  %s/%s  %s  score=%.0f\n",
			r.ResolvedAt.Format(time.DateTime), r.ManualID, r.ImportedID, r.Action, r.Score)
	}
}

func printErrors(manager *recovery.Manager) {
	errs := manager.Errors()
	if len(errs) == 0 {
		fmt.Println("no retained errors")
		return
	}
	for _, e := range errs {
		fmt.Printf("%s  [%s/%s]  retries=%d  %s\n", e.ID, e.Kind, e.State, e.RetryCount, e.Message)
	}
}

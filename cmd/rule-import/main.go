// Command rule-import loads price rules from gzip-compressed NDJSON files
// into PostgreSQL. Rules with an id are updated in place; rules without one
// are inserted.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-pricerules/internal/domain/rule"
	"github.com/xenking/kart-pricerules/internal/ruleimport"
	"github.com/xenking/kart-pricerules/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		dryRun      bool
	)
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.BoolVar(&dryRun, "dry-run", false, "validate the files without writing")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if flag.NArg() == 0 {
		slog.Error("usage: rule-import [flags] rules.ndjson.gz...")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, flag.Args(), dryRun); err != nil {
		slog.Error("rule import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("rule import completed successfully")
}

func run(ctx context.Context, databaseURL string, files []string, dryRun bool) error {
	perFile := make([][]rule.Rule, len(files))

	g, gctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			rules, err := readFile(gctx, path)
			if err != nil {
				return errors.Wrapf(err, "read %s", path)
			}
			slog.Info("file decoded", slog.String("file", path), slog.Int("rules", len(rules)))
			perFile[i] = rules
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var rules []rule.Rule
	codes := make(map[string]string)
	for i, fileRules := range perFile {
		for _, rl := range fileRules {
			if rl.EnableCode {
				if prev, ok := codes[rl.Code]; ok {
					return errors.Errorf("coupon code %q defined in %s and %s", rl.Code, prev, files[i])
				}
				codes[rl.Code] = files[i]
			}
			rules = append(rules, rl)
		}
	}
	slog.Info("rules validated", slog.Int("rules", len(rules)), slog.Int("coupons", len(codes)))
	if dryRun {
		return nil
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return err
	}

	repo := postgres.NewRuleRepository(pool)
	for i := range rules {
		if err := repo.Upsert(ctx, &rules[i]); err != nil {
			return errors.Wrapf(err, "upsert rule %q", rules[i].Name)
		}
		if (i+1)%100 == 0 || i+1 == len(rules) {
			slog.Info("write progress", slog.Int("written", i+1), slog.Int("total", len(rules)))
		}
	}
	return nil
}

// readFile decodes every rule of a gzip-compressed NDJSON file.
func readFile(ctx context.Context, path string) ([]rule.Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrap(err, "create gzip reader")
	}
	defer func() { _ = gz.Close() }()

	var rules []rule.Rule
	err = ruleimport.Read(gz, func(rl rule.Rule) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		rules = append(rules, rl)
		return nil
	})
	return rules, err
}

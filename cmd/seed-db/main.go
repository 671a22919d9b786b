// Command seed-db writes a small demo catalog with carts, members and price
// rules. Running it again updates the same rows.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-pricerules/internal/domain/cart"
	"github.com/xenking/kart-pricerules/internal/domain/member"
	"github.com/xenking/kart-pricerules/internal/domain/product"
	"github.com/xenking/kart-pricerules/internal/domain/rule"
	"github.com/xenking/kart-pricerules/internal/storage/postgres"
)

func main() {
	var databaseURL string
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL string) error {
	slog.Info("connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	w := postgres.NewCatalogWriter(pool)
	if err := seedCatalog(ctx, w); err != nil {
		return errors.Wrap(err, "seed catalog")
	}
	if err := seedRules(ctx, postgres.NewRuleRepository(pool)); err != nil {
		return errors.Wrap(err, "seed rules")
	}
	return nil
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seedCatalog(ctx context.Context, w *postgres.CatalogWriter) error {
	products := []product.Product{
		{ID: 1, TypeID: 1, Name: "Waffle with Berries", Price: money("6.50"), Pages: []int64{10}, Fields: map[string]string{"category": "Waffle"}},
		{ID: 2, TypeID: 1, Name: "Vanilla Bean Crème Brûlée", Price: money("7.00"), Pages: []int64{11}, Fields: map[string]string{"category": "Crème Brûlée"}},
		{ID: 3, TypeID: 2, Name: "Macaron Mix of Five", Price: money("8.00"), Pages: []int64{12}, Fields: map[string]string{"category": "Macaron"}},
		{ID: 4, TypeID: 3, Name: "Tiramisu Classic", Price: money("5.50"), TaxFreePrice: money("4.62"), Pages: []int64{11}},
		{ID: 5, ParentID: 3, TypeID: 2, Name: "Macaron Mix of Five, pistachio", Price: money("8.50")},
		{ID: 6, ParentID: 3, TypeID: 2, Name: "Macaron Mix of Five, raspberry", Price: money("8.50")},
	}
	for _, p := range products {
		if err := w.UpsertProduct(ctx, p); err != nil {
			return err
		}
		slog.Info("upserted product", slog.Int64("id", p.ID), slog.String("name", p.Name))
	}

	members := []member.Member{
		{ID: 1, Groups: []int64{1}},
		{ID: 2, Groups: []int64{1, 2}},
	}
	for _, m := range members {
		if err := w.UpsertMember(ctx, m); err != nil {
			return err
		}
	}

	carts := []*cart.Cart{
		{ID: 1, ConfigID: 1, Items: []product.Product{
			{ID: 1, Price: money("6.50"), Quantity: 2},
			{ID: 5, Price: money("8.50"), Quantity: 1, Options: map[string]string{"flavor": "pistachio"}},
		}},
		{ID: 2, MemberID: 2, ConfigID: 1, Items: []product.Product{
			{ID: 4, Price: money("5.50"), TaxFreePrice: money("4.62"), Quantity: 3},
		}},
	}
	for _, c := range carts {
		if err := w.SaveCart(ctx, c); err != nil {
			return err
		}
		slog.Info("saved cart", slog.Int64("id", c.ID), slog.Int("items", len(c.Items)))
	}
	return w.SyncSequences(ctx)
}

func seedRules(ctx context.Context, repo *postgres.RuleRepository) error {
	rules := []rule.Rule{
		{
			Name:                "HAPPYHOURS",
			Label:               "Happy Hours: 18% off entire order",
			Type:                rule.TypeCart,
			Enabled:             true,
			MemberRestrictions:  rule.MemberNone,
			ProductRestrictions: rule.ProductNone,
			Discount:            rule.Discount{Value: decimal.NewFromInt(-18), Percent: true},
			ApplyTo:             rule.ApplySubtotal,
			EnableCode:          true,
			Code:                "HAPPYHOURS",
		},
		{
			Name:                "Macaron week",
			Type:                rule.TypeProduct,
			Enabled:             true,
			Sorting:             1,
			MemberRestrictions:  rule.MemberNone,
			ProductRestrictions: rule.ProductProducts,
			Restrictions:        []rule.Restriction{{Type: rule.RestrictProducts, ObjectID: 3}},
			Discount:            rule.Discount{Value: decimal.NewFromInt(-10), Percent: true},
			ApplyTo:             rule.ApplyProducts,
		},
		{
			Name:                "Regulars",
			Label:               "Regular customer discount",
			Type:                rule.TypeCart,
			Enabled:             true,
			Sorting:             2,
			LimitPerMember:      1,
			MemberRestrictions:  rule.MemberGroups,
			ProductRestrictions: rule.ProductNone,
			Restrictions:        []rule.Restriction{{Type: rule.RestrictGroups, ObjectID: 2}},
			MinSubtotal:         money("10"),
			Discount:            rule.Discount{Value: decimal.NewFromInt(-2)},
			ApplyTo:             rule.ApplySubtotal,
			TaxClass:            rule.TaxClassSplit,
		},
	}

	existing, err := repo.FindRules(ctx, rule.Query{})
	if err != nil {
		return err
	}
	ids := make(map[string]int64, len(existing))
	for _, r := range existing {
		ids[r.Name] = r.ID
	}

	for i := range rules {
		rl := &rules[i]
		rl.ID = ids[rl.Name]
		if err := rl.Validate(); err != nil {
			return err
		}
		if err := repo.Upsert(ctx, rl); err != nil {
			return err
		}
		slog.Info("upserted rule", slog.Int64("id", rl.ID), slog.String("name", rl.Name))
	}
	return nil
}

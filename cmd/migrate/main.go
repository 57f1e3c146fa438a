package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"ms-booking/internal/booking/db"
	"ms-booking/internal/config"
	"ms-booking/internal/database/migrations"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/utils"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

const usage = `usage: migrate [-dir migrations] <command>

commands:
  up           apply every pending migration, seed data included
  schema       apply schema migrations only
  down         roll back every migration
  to <version> migrate up or down to version
  reset        drop the booking tables, recreate them from the models and
               load local sample data (development only)
`

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	dir := flag.String("dir", cfg.Database.MigrationsDir, "migrations directory")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	log := logger.NewWriterLogger(os.Stdout)
	ctx := context.Background()

	sqldb, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
	}
	defer sqldb.Close()
	if err := sqldb.PingContext(ctx); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to database: %v", err))
	}

	opts := migrations.DefaultOptions()
	opts.MigrationsDir = *dir
	runner := migrations.NewRunner(sqldb, opts, log)
	defer runner.Close()

	switch cmd := flag.Arg(0); cmd {
	case "up":
		err = runner.MigrateUp()
	case "schema":
		err = runner.RunMigrations()
	case "down":
		err = runner.MigrateDown()
	case "to":
		var version uint64
		version, err = strconv.ParseUint(flag.Arg(1), 10, 32)
		if err == nil {
			err = runner.MigrateTo(uint(version))
		}
	case "reset":
		err = reset(ctx, bun.NewDB(sqldb, pgdialect.New()), log)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	log.Info("DATABASE", "✅ Done.")
}

func reset(ctx context.Context, bunDB *bun.DB, log *logger.Logger) error {
	log.Info("DATABASE", "Dropping tables...")
	tables := []interface{}{
		(*models.BalanceEntry)(nil),
		(*models.Offer)(nil),
		(*models.Request)(nil),
		(*models.InstrumentRate)(nil),
	}
	for _, m := range tables {
		if _, err := bunDB.NewDropTable().Model(m).IfExists().Cascade().Exec(ctx); err != nil {
			return fmt.Errorf("drop table for %T: %w", m, err)
		}
	}

	log.Info("DATABASE", "Creating tables...")
	if err := db.CreateSchema(ctx, bunDB); err != nil {
		return err
	}

	log.Info("DATABASE", "Seeding sample data...")
	return seedData(ctx, &db.DB{Bun: bunDB})
}

func seedData(ctx context.Context, store *db.DB) error {
	rates := map[string]int64{"piano": 60, "guitar": 50, "drums": 55, "violin": 65}
	for instrument, rate := range rates {
		if err := store.UpsertRate(ctx, &models.InstrumentRate{Instrument: instrument, HourlyRate: decimal.NewFromInt(rate)}); err != nil {
			return err
		}
	}

	eventDate := time.Now().AddDate(0, 0, 14).Format("2006-01-02")
	requests := []*models.Request{
		{
			ID:                  utils.NewID(),
			LeaderID:            "leader001",
			EventType:           "Wedding",
			EventDate:           eventDate,
			StartTime:           "18:00",
			EndTime:             "21:00",
			Location:            "St. Mark's Church",
			RequiredInstrument:  "piano",
			ExtraAmount:         decimal.NewFromInt(40),
			EstimatedBaseAmount: decimal.NewFromInt(180),
			Status:              models.RequestActive,
			EventStatus:         models.EventScheduled,
		},
		{
			ID:                  utils.NewID(),
			LeaderID:            "leader001",
			EventType:           "Sunday service",
			EventDate:           eventDate,
			StartTime:           "09:30",
			EndTime:             "11:30",
			Location:            "Grace Chapel",
			RequiredInstrument:  "guitar",
			EstimatedBaseAmount: decimal.NewFromInt(100),
			Status:              models.RequestActive,
			EventStatus:         models.EventScheduled,
		},
	}
	for _, r := range requests {
		if err := store.CreateRequest(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
	"github.com/hackgods/clinic-slot-booking/internal/config"
	"github.com/hackgods/clinic-slot-booking/internal/db"
	"github.com/hackgods/clinic-slot-booking/internal/logging"
	"github.com/hackgods/clinic-slot-booking/internal/seed"
)

func main() {
	var (
		count     int
		batchSize int
		seedValue uint64
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert fake clinics into Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config load error: %w", err)
			}
			if cfg.StorageDriver != config.StoragePostgres {
				return fmt.Errorf("seeding needs STORAGE_DRIVER=%s", config.StoragePostgres)
			}

			logger := logging.New("seed", cfg.IsDevelopment(), cfg.LogLevel)
			logger.Info().Int("count", count).Msg("seed starting")

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pool.Close()

			if seedValue == 0 {
				seedValue = uint64(time.Now().UnixNano())
			}
			clinics := seed.FakeClinics(gofakeit.New(seedValue), count)

			if err := seed.InsertClinics(cmd.Context(), pool, clinics, batchSize); err != nil {
				return fmt.Errorf("seed clinics: %w", err)
			}

			for _, c := range clinics {
				if c.Status == appointment.ClinicApproved {
					logger.Info().Str("clinic_id", c.ID.String()).Str("name", c.Name).Msg("approved clinic")
				}
			}
			logger.Info().Int("clinics", len(clinics)).Msg("seed complete")
			return nil
		},
	}

	cmd.Flags().IntVar(&count, "count", 20, "number of clinics to insert")
	cmd.Flags().IntVar(&batchSize, "batch-size", 500, "rows per transaction")
	cmd.Flags().Uint64Var(&seedValue, "seed", 0, "faker seed; 0 picks one from the clock")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package seed

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
)

var clinicKinds = []string{
	"Wellness Center",
	"Counseling Clinic",
	"Mental Health Clinic",
	"Therapy Practice",
	"Family Clinic",
	"Behavioral Health",
}

// FakeClinics builds n clinics. Roughly one in five is left pending or rejected so
// that unapproved clinics show up in local data.
func FakeClinics(faker *gofakeit.Faker, n int) []appointment.Clinic {
	clinics := make([]appointment.Clinic, 0, n)
	now := time.Now().UTC()

	for i := 0; i < n; i++ {
		address := fmt.Sprintf("%s, %s", faker.Street(), faker.City())
		phone := faker.Phone()

		status := appointment.ClinicApproved
		switch faker.Number(1, 10) {
		case 1:
			status = appointment.ClinicPending
		case 2:
			status = appointment.ClinicRejected
		}

		clinics = append(clinics, appointment.Clinic{
			ID:        uuid.New(),
			Name:      fmt.Sprintf("%s %s", faker.LastName(), clinicKinds[faker.Number(0, len(clinicKinds)-1)]),
			Address:   &address,
			Phone:     &phone,
			Status:    status,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	return clinics
}

// InsertClinics writes clinics in batches, one transaction per batch.
func InsertClinics(ctx context.Context, pool *pgxpool.Pool, clinics []appointment.Clinic, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 500
	}

	for offset := 0; offset < len(clinics); offset += batchSize {
		end := offset + batchSize
		if end > len(clinics) {
			end = len(clinics)
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		for _, c := range clinics[offset:end] {
			_, err := tx.Exec(ctx, `
				INSERT INTO clinics (id, name, address, phone, status, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, c.ID, c.Name, c.Address, c.Phone, string(c.Status), c.CreatedAt, c.UpdatedAt)
			if err != nil {
				_ = tx.Rollback(ctx)
				return fmt.Errorf("insert clinic %s: %w", c.ID, err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit clinics: %w", err)
		}
	}

	return nil
}

package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careops/scheduling/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	practitionerIDs, err := seedPractitioners(context.Background(), pool, 50)
	if err != nil {
		log.Fatalf("seed practitioners: %v", err)
	}
	if err := seedPatients(context.Background(), pool, 5000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	if err := seedTemplates(context.Background(), pool, practitionerIDs); err != nil {
		log.Fatalf("seed templates: %v", err)
	}
	if err := seedUnavailability(context.Background(), pool, practitionerIDs); err != nil {
		log.Fatalf("seed unavailability: %v", err)
	}

	log.Println("seed complete")
}

func seedPractitioners(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d practitioners", count)

	specialties := []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
		"Ophthalmology",
		"ENT",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO practitioners (id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, spec)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("practitioners seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d patients", count)

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			name := gofakeit.Name()
			email := gofakeit.Email()

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, id, name, email)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("patients seeded: %d/%d", end, count)
	}

	log.Println("patients seeded")
	return nil
}

// seedTemplates gives every practitioner a standard week: morning and
// afternoon blocks Monday through Friday, with slot lengths varying per
// practitioner so the calendars don't all look identical.
func seedTemplates(ctx context.Context, pool *pgxpool.Pool, practitionerIDs []uuid.UUID) error {
	log.Printf("seeding weekly templates for %d practitioners", len(practitionerIDs))

	slotLengths := []int{15, 20, 30}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, pid := range practitionerIDs {
		slotMinutes := slotLengths[gofakeit.Number(0, len(slotLengths)-1)]

		for weekday := 1; weekday <= 5; weekday++ {
			blocks := [][2]int{
				{9 * 60, 12 * 60},  // 09:00-12:00
				{13 * 60, 17 * 60}, // 13:00-17:00
			}
			for _, block := range blocks {
				_, err := tx.Exec(ctx, `
					INSERT INTO slot_templates
						(id, practitioner_id, weekday, start_minute, end_minute,
						 slot_minutes, weekly, active, created_at, updated_at)
					VALUES ($1, $2, $3, $4, $5, $6, true, true, now(), now())
				`, uuid.New(), pid, weekday, block[0], block[1], slotMinutes)
				if err != nil {
					return err
				}
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("templates seeded")
	return nil
}

// seedUnavailability marks a random upcoming whole day off for roughly a
// third of the practitioners.
func seedUnavailability(ctx context.Context, pool *pgxpool.Pool, practitionerIDs []uuid.UUID) error {
	categories := []string{"leave", "illness", "training", "other"}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	seeded := 0
	for _, pid := range practitionerIDs {
		if gofakeit.Number(0, 2) != 0 {
			continue
		}

		day := time.Now().UTC().AddDate(0, 0, gofakeit.Number(1, 21))
		start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
		end := start.AddDate(0, 0, 1)
		category := categories[gofakeit.Number(0, len(categories)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO unavailability_periods
				(id, practitioner_id, start_time, end_time, category, whole_day, reason, created_at)
			VALUES ($1, $2, $3, $4, $5, true, $6, now())
		`, uuid.New(), pid, start, end, category, gofakeit.Sentence(4))
		if err != nil {
			return err
		}
		seeded++
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Printf("unavailability periods seeded: %d", seeded)
	return nil
}

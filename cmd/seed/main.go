package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/tunminster/by-the-app-demo/internal/config"
	"github.com/tunminster/by-the-app-demo/internal/db"
	"github.com/tunminster/by-the-app-demo/internal/logging"
	"github.com/tunminster/by-the-app-demo/internal/patient"
	"github.com/tunminster/by-the-app-demo/internal/slot"
)

func main() {
	dentists := flag.Int("dentists", 10, "number of dentists")
	days := flag.Int("days", 14, "days of availability per dentist, starting tomorrow")
	patients := flag.Int("patients", 500, "number of patients")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Bootstrap().Fatal().Err(err).Msg("config load error")
	}
	log := logging.New(cfg.LogLevel, cfg.Env).With().Str("service", "seed").Logger()
	log.Info().Msg("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	ctx = context.Background()

	ids, err := seedDentists(ctx, pool, *dentists, log)
	if err != nil {
		log.Fatal().Err(err).Msg("seed dentists")
	}
	if err := seedAvailability(ctx, slot.NewPgStore(pool), ids, *days, log); err != nil {
		log.Fatal().Err(err).Msg("seed availability")
	}
	if err := seedPatients(ctx, patient.NewPgRepository(pool), *patients, log); err != nil {
		log.Fatal().Err(err).Msg("seed patients")
	}

	log.Info().Msg("seed complete")
}

func seedDentists(ctx context.Context, pool *pgxpool.Pool, count int, log zerolog.Logger) ([]uuid.UUID, error) {
	log.Info().Int("count", count).Msg("seeding dentists")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := "Dr. " + gofakeit.LastName()

		_, err := tx.Exec(ctx, `
			INSERT INTO dentists (id, name, created_at, updated_at)
			VALUES ($1, $2, now(), now())
		`, id, name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Info().Msg("dentists seeded")
	return ids, nil
}

// daySlots is a 09:00-17:00 day in 30 minute slots with a lunch break.
func daySlots() []slot.TimeSlot {
	var out []slot.TimeSlot
	for m := 9 * 60; m < 17*60; m += 30 {
		if m >= 12*60 && m < 13*60 {
			continue
		}
		out = append(out, slot.TimeSlot{
			Start:     fmt.Sprintf("%02d:%02d", m/60, m%60),
			End:       fmt.Sprintf("%02d:%02d", (m+30)/60, (m+30)%60),
			Available: true,
		})
	}
	return out
}

func seedAvailability(ctx context.Context, store slot.Store, dentists []uuid.UUID, days int, log zerolog.Logger) error {
	log.Info().Int("dentists", len(dentists)).Int("days", days).Msg("seeding availability")

	today := slot.DateOnly(time.Now())
	published := 0
	for _, id := range dentists {
		for d := 1; d <= days; d++ {
			date := today.AddDate(0, 0, d)
			if date.Weekday() == time.Sunday {
				continue
			}
			_, err := store.Publish(ctx, slot.Availability{DentistID: id, Date: date, TimeSlots: daySlots()})
			if errors.Is(err, slot.ErrAlreadyPublished) {
				continue
			}
			if err != nil {
				return err
			}
			published++
		}
	}

	log.Info().Int("published", published).Msg("availability seeded")
	return nil
}

func seedPatients(ctx context.Context, repo patient.Repository, count int, log zerolog.Logger) error {
	log.Info().Int("count", count).Msg("seeding patients")

	created := 0
	for i := 0; i < count; i++ {
		dob := gofakeit.DateRange(time.Now().AddDate(-90, 0, 0), time.Now().AddDate(-5, 0, 0))
		dob = slot.DateOnly(dob)
		_, err := repo.Create(ctx, patient.NewPatient{
			Name:        gofakeit.Name(),
			Email:       gofakeit.Email(),
			Phone:       gofakeit.Phone(),
			DateOfBirth: &dob,
		})
		if errors.Is(err, patient.ErrPatientNotFound) {
			// phone already taken
			continue
		}
		if err != nil {
			return err
		}
		created++
		if created%100 == 0 {
			log.Info().Int("created", created).Int("target", count).Msg("patients seeded")
		}
	}

	log.Info().Int("created", created).Msg("patients seeded")
	return nil
}

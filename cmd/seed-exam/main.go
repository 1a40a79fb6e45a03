package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/database"
	"github.com/stemsi/exstem-attempt/internal/logger"
	"github.com/stemsi/exstem-attempt/internal/model"
)

func main() {
	var (
		title     string
		questions int
		duration  time.Duration
		code      string
		users     string
		paid      bool
	)
	flag.StringVar(&title, "title", "Ujian Coba", "Exam title")
	flag.IntVar(&questions, "questions", 10, "Number of generated questions")
	flag.DurationVar(&duration, "duration", 30*time.Minute, "Exam duration")
	flag.StringVar(&code, "code", "STEMSI", "Access code")
	flag.StringVar(&users, "users", "user1,user2,user3", "Comma-separated user IDs to register")
	flag.BoolVar(&paid, "paid", false, "Mark the exam as paid; registrations are seeded as COMPLETED")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	fmt.Printf("=== Seeding exam %q with %d questions ===\n", title, questions)

	tx, err := pool.Begin(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	var examID string
	err = tx.QueryRow(ctx, `
		INSERT INTO exams (title, category, duration_seconds, total_marks, passing_marks, is_paid, access_code, status)
		VALUES ($1, 'general', $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		title, int(duration.Seconds()), questions, (questions*6+9)/10, paid, code, string(model.ExamStatusPublished),
	).Scan(&examID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to insert exam")
	}

	options, _ := json.Marshal(map[string]string{"A": "Benar", "B": "Salah", "C": "Ragu", "D": "Tidak tahu"})
	batch := &pgx.Batch{}
	for i := 0; i < questions; i++ {
		batch.Queue(`
			INSERT INTO questions (exam_id, question_text, options, correct_option, weight, order_num)
			VALUES ($1, $2, $3, 'A', 1, $4)`,
			examID, fmt.Sprintf("Pertanyaan nomor %d", i+1), options, i)
	}

	status := model.PaymentStatusNone
	if paid {
		status = model.PaymentStatusCompleted
	}
	registered := 0
	for _, u := range strings.Split(users, ",") {
		if u = strings.TrimSpace(u); u == "" {
			continue
		}
		batch.Queue(`
			INSERT INTO exam_registrations (exam_id, user_id, payment_status)
			VALUES ($1, $2, $3)
			ON CONFLICT (exam_id, user_id) DO NOTHING`,
			examID, u, string(status))
		registered++
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		log.Fatal().Err(err).Msg("Failed to insert questions and registrations")
	}
	if err := tx.Commit(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to commit seed")
	}

	fmt.Printf("\nSeed completed! Exam %s with %d questions, %d users registered.\n", examID, questions, registered)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository"
	"github.com/xuri/excelize/v2"
)

const attemptsSheet = "Attempts"

var attemptsHeader = []interface{}{
	"Session ID", "User ID", "Nama", "Benar", "Salah", "Kosong",
	"Poin", "Poin Maks", "Persentase", "Hasil", "Alasan Selesai",
	"Durasi (detik)", "XP", "Selesai Pada",
}

// AttemptLister reads stored attempts of an exam.
type AttemptLister interface {
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Attempt, error)
}

// ExamLookup resolves exam metadata for export file names.
type ExamLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
}

// ExportService renders stored attempts as an xlsx workbook.
type ExportService struct {
	attempts AttemptLister
	exams    ExamLookup
}

// NewExportService creates a new ExportService.
func NewExportService(attempts AttemptLister, exams ExamLookup) *ExportService {
	return &ExportService{attempts: attempts, exams: exams}
}

// Export returns the workbook bytes and a suggested file name.
func (s *ExportService) Export(ctx context.Context, examID uuid.UUID) ([]byte, string, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, "", ErrExamNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("get exam: %w", err)
	}

	attempts, err := s.attempts.ListByExam(ctx, examID)
	if err != nil {
		return nil, "", fmt.Errorf("list attempts: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), attemptsSheet); err != nil {
		return nil, "", err
	}
	if err := f.SetSheetRow(attemptsSheet, "A1", &attemptsHeader); err != nil {
		return nil, "", err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, "", err
	}
	if err := f.SetRowStyle(attemptsSheet, 1, 1, bold); err != nil {
		return nil, "", err
	}

	for i, a := range attempts {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, "", err
		}
		row := []interface{}{
			a.SessionID.String(), a.UserID, a.UserName,
			a.CorrectCount, a.WrongCount, a.SkippedCount,
			a.Points, a.MaxPoints, a.Percentage,
			string(a.Verdict), string(a.Reason),
			a.TimeSpentSeconds, a.XPEarned,
			a.FinishedAt.UTC().Format(time.RFC3339),
		}
		if err := f.SetSheetRow(attemptsSheet, cell, &row); err != nil {
			return nil, "", err
		}
	}

	if err := f.SetColWidth(attemptsSheet, "A", "A", 38); err != nil {
		return nil, "", err
	}
	if err := f.SetColWidth(attemptsSheet, "B", "C", 24); err != nil {
		return nil, "", err
	}
	if err := f.SetColWidth(attemptsSheet, "N", "N", 22); err != nil {
		return nil, "", err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, "", fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), exportFileName(exam), nil
}

func exportFileName(exam *model.Exam) string {
	slug := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, exam.Title)
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = exam.ID.String()
	}
	return "attempts-" + slug + ".xlsx"
}

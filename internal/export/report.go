// Package export writes audit-history reports to xlsx files for operators.
// It sits strictly on the read side of the version store.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/revlog/internal/domain"
	"github.com/rpattn/revlog/internal/history"
)

const reportSheet = "History"

var reportHeader = []any{"Sequence", "Event", "Field", "Before", "After", "Actor", "Reason", "Recorded At"}

// Service produces audit reports from committed version records.
type Service struct {
	history   *history.Service
	reportDir string
	now       func() time.Time
}

// Option customizes the report service.
type Option func(*Service)

// WithReportDirectory overrides where report files are written.
func WithReportDirectory(dir string) Option {
	return func(s *Service) {
		if strings.TrimSpace(dir) != "" {
			s.reportDir = filepath.Clean(dir)
		}
	}
}

// WithClock overrides the timestamp used in generated file names.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wires a report service over the history query engine.
func NewService(historySvc *history.Service, opts ...Option) *Service {
	service := &Service{
		history:   historySvc,
		reportDir: filepath.Join(os.TempDir(), "revlog-reports"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// WriteEntityReport exports one entity's full history, oldest first, one
// row per field change, and returns the written file path. Values land in
// the sheet as stored, so redacted fields stay redacted in the report.
func (s *Service) WriteEntityReport(ctx context.Context, entity domain.EntityRef) (string, error) {
	records, err := s.history.HistoryFor(ctx, entity, history.Ascending())
	if err != nil {
		return "", fmt.Errorf("failed to load history for %s: %w", entity, err)
	}
	if len(records) == 0 {
		return "", fmt.Errorf("no version records found for %s", entity)
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	index, err := f.NewSheet(reportSheet)
	if err != nil {
		return "", fmt.Errorf("failed to create report sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return "", fmt.Errorf("failed to drop default sheet: %w", err)
	}

	if err := f.SetSheetRow(reportSheet, "A1", &reportHeader); err != nil {
		return "", fmt.Errorf("failed to write report header: %w", err)
	}

	rowIndex := 2
	for _, record := range records {
		fields := record.FieldChanges.SortedFields()
		if len(fields) == 0 {
			// Lifecycle records with an empty diff still appear in the report.
			if err := s.writeRow(f, rowIndex, record, "", domain.FieldChange{}); err != nil {
				return "", err
			}
			rowIndex++
			continue
		}
		for _, field := range fields {
			if err := s.writeRow(f, rowIndex, record, field, record.FieldChanges[field]); err != nil {
				return "", err
			}
			rowIndex++
		}
	}

	if err := os.MkdirAll(s.reportDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	fileName := fmt.Sprintf("%s-%s-%s.xlsx", sanitizeName(entity.EntityType), sanitizeName(entity.EntityID), s.now().UTC().Format("20060102T150405Z"))
	path := filepath.Join(s.reportDir, fileName)
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("failed to save report: %w", err)
	}

	return path, nil
}

func (s *Service) writeRow(f *excelize.File, rowIndex int, record domain.VersionRecord, field string, change domain.FieldChange) error {
	cell, err := excelize.CoordinatesToCellName(1, rowIndex)
	if err != nil {
		return fmt.Errorf("failed to compute report cell: %w", err)
	}

	row := []any{
		record.Sequence,
		string(record.Event),
		field,
		formatValue(change.Before),
		formatValue(change.After),
		record.ActorID,
		record.Reason,
		record.CreatedAt.UTC().Format(time.RFC3339),
	}
	if err := f.SetSheetRow(reportSheet, cell, &row); err != nil {
		return fmt.Errorf("failed to write report row %d: %w", rowIndex, err)
	}
	return nil
}

func formatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprintf("%v", typed)
		}
		return string(encoded)
	}
}

func sanitizeName(part string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", " ", "_", ":", "_")
	return replacer.Replace(part)
}

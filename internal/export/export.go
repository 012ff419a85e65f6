// Package export renders notifications and queued actions as an xlsx workbook.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"eventnet/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	SheetNotifications = "Notifications"
	SheetQueue         = "Queue"
	SheetDeadLetter    = "Dead letter"

	timeLayout = "2006-01-02 15:04:05"
)

// Data is everything that goes into one workbook.
type Data struct {
	Notifications []models.Notification
	Queue         []models.QueuedAction
	DeadLetter    []models.QueuedAction
	GeneratedAt   time.Time
}

// Build creates the workbook. The caller owns the returned file and must
// Close it.
func Build(data Data) (*excelize.File, error) {
	f := excelize.NewFile()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating header style: %w", err)
	}

	index, err := f.NewSheet(SheetNotifications)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	writeNotifications(f, headerStyle, data.Notifications)

	if _, err := f.NewSheet(SheetQueue); err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	writeActions(f, SheetQueue, headerStyle, data.Queue)

	if len(data.DeadLetter) > 0 {
		if _, err := f.NewSheet(SheetDeadLetter); err != nil {
			f.Close()
			return nil, fmt.Errorf("error creating sheet: %w", err)
		}
		writeActions(f, SheetDeadLetter, headerStyle, data.DeadLetter)
	}

	// Удаляем стандартный лист
	_ = f.DeleteSheet("Sheet1")

	generated := data.GeneratedAt
	if generated.IsZero() {
		generated = time.Now()
	}
	_ = f.SetDocProps(&excelize.DocProperties{
		Title:   "eventnet sync agent export",
		Created: generated.UTC().Format(time.RFC3339),
	})
	return f, nil
}

// Write streams the workbook to w.
func Write(w io.Writer, data Data) error {
	f, err := Build(data)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

// SaveFile writes the workbook to path, creating parent directories.
func SaveFile(path string, data Data) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("error creating export directory: %w", err)
		}
	}

	f, err := Build(data)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("error saving file: %w", err)
	}
	return nil
}

func writeNotifications(f *excelize.File, headerStyle int, items []models.Notification) {
	sheet := SheetNotifications
	writeHeader(f, sheet, headerStyle, []string{"ID", "Type", "Title", "Message", "Timestamp", "Read", "Expires"})

	for i, n := range items {
		row := i + 2
		expires := ""
		if n.ExpiresAt != nil {
			expires = n.ExpiresAt.Format(timeLayout)
		}
		values := []any{n.ID, n.Type, n.Title, n.Message, n.Timestamp.Format(timeLayout), n.Read, expires}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		_ = f.SetSheetRow(sheet, cell, &values)
	}

	_ = f.SetColWidth(sheet, "A", "A", 38)
	_ = f.SetColWidth(sheet, "B", "B", 20)
	_ = f.SetColWidth(sheet, "C", "D", 40)
	_ = f.SetColWidth(sheet, "E", "G", 20)
}

func writeActions(f *excelize.File, sheet string, headerStyle int, actions []models.QueuedAction) {
	writeHeader(f, sheet, headerStyle, []string{"ID", "Method", "Target", "Body", "Enqueued", "Attempts", "Last error"})

	for i, a := range actions {
		row := i + 2
		values := []any{
			a.ID,
			a.Payload.Method,
			a.Payload.Target,
			string(a.Payload.Body),
			a.EnqueuedAt.Format(timeLayout),
			a.Attempts,
			a.LastError,
		}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		_ = f.SetSheetRow(sheet, cell, &values)
	}

	_ = f.SetColWidth(sheet, "A", "A", 38)
	_ = f.SetColWidth(sheet, "B", "B", 10)
	_ = f.SetColWidth(sheet, "C", "D", 40)
	_ = f.SetColWidth(sheet, "E", "E", 20)
	_ = f.SetColWidth(sheet, "G", "G", 40)
}

func writeHeader(f *excelize.File, sheet string, style int, headers []string) {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	_ = f.SetCellStyle(sheet, "A1", last, style)
}

package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"yugi/internal/domain"
	"yugi/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const sheetName = "Bookings"

// Exporter builds xlsx reports of bookings for providers and ops.
type Exporter struct {
	repo   domain.Repository
	path   string
	logger *zerolog.Logger
}

func NewExporter(repo domain.Repository, path string, logger *zerolog.Logger) *Exporter {
	return &Exporter{
		repo:   repo,
		path:   path,
		logger: logger,
	}
}

// BuildBookingsReport produces a workbook with one row per booking in
// the requested date range. The caller owns the returned file.
func (e *Exporter) BuildBookingsReport(ctx context.Context, startDate, endDate time.Time) (*excelize.File, error) {
	bookings, err := e.repo.GetBookingsByDateRange(ctx, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("error getting bookings: %v", err)
	}

	f := excelize.NewFile()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	_ = f.SetCellValue(sheetName, "A1", fmt.Sprintf("Bookings: %s - %s",
		startDate.Format("2006-01-02"), endDate.Format("2006-01-02")))

	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.MergeCell(sheetName, "A1", "N1")
	_ = f.SetCellStyle(sheetName, "A1", "A1", titleStyle)

	e.writeHeaders(f)
	e.writeRows(f, bookings)

	_ = f.SetColWidth(sheetName, "A", "A", 16)
	_ = f.SetColWidth(sheetName, "B", "E", 22)
	_ = f.SetColWidth(sheetName, "F", "G", 18)
	_ = f.SetColWidth(sheetName, "H", "N", 14)

	_ = f.DeleteSheet("Sheet1")
	return f, nil
}

// ExportToFile writes the report to the export directory and returns
// the file path.
func (e *Exporter) ExportToFile(ctx context.Context, startDate, endDate time.Time) (string, error) {
	if err := os.MkdirAll(e.path, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %v", err)
	}

	f, err := e.BuildBookingsReport(ctx, startDate, endDate)
	if err != nil {
		return "", err
	}
	defer f.Close()

	fileName := fmt.Sprintf("bookings_%s_to_%s.xlsx",
		startDate.Format("2006-01-02"),
		endDate.Format("2006-01-02"))
	filePath := filepath.Join(e.path, fileName)

	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %v", err)
	}

	e.logger.Info().Str("file_path", filePath).Msg("Excel file created")
	return filePath, nil
}

var headers = []string{
	"Number", "Class", "Provider", "Parent", "Children",
	"Session Start", "Session End", "Children #", "Adults #",
	"Total", "Refund", "Currency", "Status", "Payment",
}

func (e *Exporter) writeHeaders(f *excelize.File) {
	style, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(sheetName, cell, header)
		_ = f.SetCellStyle(sheetName, cell, cell, style)
	}
}

func (e *Exporter) writeRows(f *excelize.File, bookings []*models.Booking) {
	for i, booking := range bookings {
		row := i + 3
		values := []interface{}{
			booking.Number,
			booking.ClassName,
			booking.ProviderName,
			booking.ParentName,
			strings.Join(booking.Children, ", "),
			booking.SessionStart.Format("2006-01-02 15:04"),
			booking.SessionEnd.Format("2006-01-02 15:04"),
			booking.NumChildren,
			booking.NumAdults,
			centsToDecimal(booking.TotalCents),
			centsToDecimal(booking.RefundCents),
			booking.Currency,
			booking.Status,
			booking.PaymentStatus,
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheetName, cell, value)
		}

		if styleID, err := e.rowStyle(f, booking.Status); err == nil {
			first, _ := excelize.CoordinatesToCellName(1, row)
			last, _ := excelize.CoordinatesToCellName(len(values), row)
			_ = f.SetCellStyle(sheetName, first, last, styleID)
		}
	}
}

func (e *Exporter) rowStyle(f *excelize.File, status string) (int, error) {
	var color string
	switch status {
	case models.StatusConfirmed, models.StatusCompleted:
		color = "#C6EFCE"
	case models.StatusPending:
		color = "#FFEB9C"
	case models.StatusCancelled:
		color = "#FFC7CE"
	default:
		color = "#FFFFFF"
	}

	return f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "left",
			Vertical:   "top",
		},
	})
}

// centsToDecimal renders an integer amount in cents as a decimal
// string so spreadsheet totals read naturally.
func centsToDecimal(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

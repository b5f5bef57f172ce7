package scan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/zombor/invoice-scanner/internal/auth"
)

const exportSheet = "Scans"

var exportHeaders = []string{
	"Created At",
	"User",
	"CNPJ",
	"Date",
	"Total",
	"Confidence",
	"Extracted Text",
}

// ExportXLSX builds a spreadsheet of every scan matching query. Admin only.
func (s *Service) ExportXLSX(ctx context.Context, requester *auth.Claims, query string) ([]byte, error) {
	start := time.Now()
	scans, err := s.ListAllScans(ctx, requester, query)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	// Rename the default sheet rather than leaving an empty one behind
	if err := f.SetSheetName(f.GetSheetName(0), exportSheet); err != nil {
		return nil, fmt.Errorf("naming sheet: %w", err)
	}

	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(exportSheet, cell, h)
	}

	for i, scan := range scans {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(exportSheet, cell, v)
		}

		write(1, scan.CreatedAt.UTC().Format(time.RFC3339))
		write(2, scan.UserID)
		write(3, deref(scan.TaxID))
		write(4, deref(scan.Date))
		if scan.Total != nil {
			write(5, *scan.Total)
		}
		write(6, scan.Confidence)
		write(7, truncate(scan.ExtractedText, 500))
	}

	_ = f.SetColWidth(exportSheet, "A", "A", 22) // created
	_ = f.SetColWidth(exportSheet, "B", "B", 38) // user
	_ = f.SetColWidth(exportSheet, "C", "C", 20) // cnpj
	_ = f.SetColWidth(exportSheet, "D", "F", 12)
	_ = f.SetColWidth(exportSheet, "G", "G", 80) // text

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("writing xlsx: %w", err)
	}

	slog.Info("Exported scans",
		"rows", len(scans),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

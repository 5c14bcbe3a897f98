package reconcile

import (
	"fmt"
	"io"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	summarySheet     = "Summary"
	discrepancySheet = "Discrepancies"
)

// ExportXLSX writes the report as a workbook with a summary sheet and one
// row per flagged booking.
func ExportXLSX(rep *Report, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("error renaming sheet: %w", err)
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	alertStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#FFC7CE"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})

	_ = f.SetCellValue(summarySheet, "A1", fmt.Sprintf("Period: %s - %s",
		rep.From.Format("2006-01-02 15:04"), rep.To.Format("2006-01-02 15:04")))
	_ = f.MergeCell(summarySheet, "A1", "B1")
	_ = f.SetCellStyle(summarySheet, "A1", "B1", headerStyle)

	rows := []struct {
		label string
		value interface{}
	}{
		{"Completed bookings", rep.CompletedBookings},
		{"Total revenue", money(rep.TotalRevenue)},
		{"Total payouts", money(rep.TotalPayouts)},
		{"Package payouts", money(rep.PackagePayouts)},
		{"Performance bonuses", money(rep.BonusPayouts)},
		{"Platform commission", money(rep.PlatformCommission)},
		{"Expected commission", money(rep.ExpectedCommission)},
		{"Observed commission", money(rep.ObservedCommission)},
		{"Discrepancy", money(rep.Discrepancy)},
		{"Tolerance", money(rep.Tolerance)},
		{"Discrepancy detected", rep.DiscrepancyDetected},
		{"Unpaid bookings", len(rep.UnpaidBookings)},
	}
	for i, row := range rows {
		r := strconv.Itoa(i + 3)
		_ = f.SetCellValue(summarySheet, "A"+r, row.label)
		_ = f.SetCellValue(summarySheet, "B"+r, row.value)
		if flagged, ok := row.value.(bool); ok && flagged {
			_ = f.SetCellStyle(summarySheet, "B"+r, "B"+r, alertStyle)
		}
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 25)
	_ = f.SetColWidth(summarySheet, "B", "B", 18)

	if _, err := f.NewSheet(discrepancySheet); err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	headers := []string{"Booking", "Service", "Provider", "Charged", "Payout", "Expected", "Observed", "Difference", "Manual override"}
	for col, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		_ = f.SetCellValue(discrepancySheet, cell, h)
		_ = f.SetCellStyle(discrepancySheet, cell, cell, headerStyle)
	}
	for i, d := range rep.Discrepancies {
		values := []interface{}{
			d.BookingID, d.ServiceID, d.ProviderID,
			money(d.TotalAmount), money(d.PayoutAmount), money(d.ExpectedCommission),
			money(d.ObservedCommission), money(d.Difference), d.ManualOverride,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			_ = f.SetCellValue(discrepancySheet, cell, v)
		}
	}
	_ = f.SetColWidth(discrepancySheet, "A", "I", 15)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

func money(d decimal.Decimal) float64 {
	v, _ := d.Round(2).Float64()
	return v
}

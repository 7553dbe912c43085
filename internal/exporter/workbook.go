// Package exporter renders analytics snapshots as Excel workbooks for the
// admin export endpoint.
package exporter

import (
	"fmt"
	"io"
	"sort"

	"github.com/xuri/excelize/v2"

	"elvlicense/pkg/contracts/domain"
)

// Sheet names in the exported workbook
const (
	SheetSummary  = "Summary"
	SheetProducts = "Products"
	SheetSales    = "Recent Sales"
	SheetActivity = "Activity"
)

// WriteWorkbook renders the combined analytics snapshot as an xlsx stream
func WriteWorkbook(w io.Writer, analytics *domain.CombinedAnalytics) error {
	f, err := buildWorkbook(analytics)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func buildWorkbook(analytics *domain.CombinedAnalytics) (*excelize.File, error) {
	f := excelize.NewFile()

	if err := writeSummarySheet(f, analytics); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeProductsSheet(f, analytics.Sales); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeSalesSheet(f, analytics.Sales); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeActivitySheet(f, analytics.Activity); err != nil {
		f.Close()
		return nil, err
	}

	// The default sheet becomes Summary
	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		f.Close()
		return nil, err
	}

	return f, nil
}

func writeSummarySheet(f *excelize.File, analytics *domain.CombinedAnalytics) error {
	rows := [][]any{
		{"Metric", "Value"},
	}

	if sales := analytics.Sales; sales != nil {
		rows = append(rows,
			[]any{"Total licenses", sales.TotalLicenses},
			[]any{"Active licenses", sales.ActiveLicenses},
			[]any{"Total revenue", sales.TotalRevenue},
			[]any{"Storage mode", sales.StorageMode},
			[]any{"Generated at", sales.GeneratedAt.Format("2006-01-02 15:04:05")},
		)
	}
	if activity := analytics.Activity; activity != nil {
		rows = append(rows,
			[]any{"Activity window (days)", activity.WindowDays},
			[]any{"Activity events", activity.TotalEvents},
		)
		if activity.MalformedLines > 0 {
			rows = append(rows, []any{"Malformed log lines", activity.MalformedLines})
		}
	}

	return writeRows(f, "Sheet1", rows)
}

func writeProductsSheet(f *excelize.File, sales *domain.SalesAnalytics) error {
	if _, err := f.NewSheet(SheetProducts); err != nil {
		return err
	}

	rows := [][]any{
		{"Product ID", "Licenses Sold", "Revenue"},
	}
	if sales != nil {
		ids := make([]string, 0, len(sales.ProductBreakdown))
		for id := range sales.ProductBreakdown {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			p := sales.ProductBreakdown[id]
			rows = append(rows, []any{p.ProductID, p.Count, p.Revenue})
		}
	}

	return writeRows(f, SheetProducts, rows)
}

func writeSalesSheet(f *excelize.File, sales *domain.SalesAnalytics) error {
	if _, err := f.NewSheet(SheetSales); err != nil {
		return err
	}

	rows := [][]any{
		{"License Key", "Product", "Price", "Customer", "Issued At"},
	}
	if sales != nil {
		for _, sale := range sales.RecentSales {
			rows = append(rows, []any{
				sale.LicenseKey,
				sale.ProductName,
				sale.Price,
				sale.CustomerEmail,
				sale.IssuedAt.Format("2006-01-02 15:04:05"),
			})
		}
	}

	return writeRows(f, SheetSales, rows)
}

func writeActivitySheet(f *excelize.File, activity *domain.ActivityAnalytics) error {
	if _, err := f.NewSheet(SheetActivity); err != nil {
		return err
	}

	rows := [][]any{
		{"Timestamp", "Action", "License Key", "Email", "Product"},
	}
	if activity != nil {
		for _, record := range activity.RecentActivity {
			rows = append(rows, []any{
				record.Timestamp.Format("2006-01-02 15:04:05"),
				record.Action,
				record.LicenseKey,
				record.Email,
				record.ProductID,
			})
		}
	}

	return writeRows(f, SheetActivity, rows)
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d on %s: %w", i+1, sheet, err)
		}
	}
	return nil
}

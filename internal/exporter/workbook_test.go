package exporter

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"elvlicense/pkg/contracts/domain"
)

func sampleAnalytics() *domain.CombinedAnalytics {
	issued := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return &domain.CombinedAnalytics{
		Sales: &domain.SalesAnalytics{
			TotalLicenses:  3,
			ActiveLicenses: 2,
			TotalRevenue:   797.0,
			ProductBreakdown: map[string]domain.ProductSales{
				"elv-course-builder": {ProductID: "elv-course-builder", Count: 2, Revenue: 298.0},
				"elv-onboarding":     {ProductID: "elv-onboarding", Count: 1, Revenue: 499.0},
			},
			RecentSales: []domain.SaleSummary{
				{LicenseKey: "ELV-A", ProductName: "ELV Course Builder", Price: 149.0, CustomerEmail: "a@b.com", IssuedAt: issued},
			},
			StorageMode: "mongo",
			GeneratedAt: issued,
		},
		Activity: &domain.ActivityAnalytics{
			WindowDays:  30,
			TotalEvents: 5,
			RecentActivity: []domain.ActivityRecord{
				{Timestamp: issued, Action: "ISSUED", LicenseKey: "ELV-A", Email: "a@b.com", ProductID: "elv-course-builder"},
			},
		},
	}
}

func TestWriteWorkbook_AllSheetsPresent(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteWorkbook(&buf, sampleAnalytics()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	sheets := f.GetSheetList()
	assert.Contains(t, sheets, SheetSummary)
	assert.Contains(t, sheets, SheetProducts)
	assert.Contains(t, sheets, SheetSales)
	assert.Contains(t, sheets, SheetActivity)
}

func TestWriteWorkbook_SummaryValues(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteWorkbook(&buf, sampleAnalytics()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetSummary)
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, []string{"Metric", "Value"}, rows[0][:2])

	flat := map[string]string{}
	for _, row := range rows[1:] {
		if len(row) >= 2 {
			flat[row[0]] = row[1]
		}
	}
	assert.Equal(t, "3", flat["Total licenses"])
	assert.Equal(t, "mongo", flat["Storage mode"])
}

func TestWriteWorkbook_ProductsSortedByID(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteWorkbook(&buf, sampleAnalytics()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetProducts)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "elv-course-builder", rows[1][0])
	assert.Equal(t, "elv-onboarding", rows[2][0])
}

func TestWriteWorkbook_EmptyAnalytics(t *testing.T) {
	var buf bytes.Buffer
	err := WriteWorkbook(&buf, &domain.CombinedAnalytics{})
	require.NoError(t, err)
	assert.NotZero(t, buf.Len())
}

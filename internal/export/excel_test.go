package export

import (
	"bytes"
	"testing"
	"time"

	"tourbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestWriteBookings(t *testing.T) {
	paid := time.Date(2026, 10, 20, 8, 30, 0, 0, time.UTC)
	bookings := []models.Booking{
		{
			ID: "aaaa-000001", TourTitle: "Ba Na Hills", TourPrice: 1_500_000, People: 2,
			Name: "Nguyen Van A", Phone: "0905", Status: models.StatusConfirmed,
			Date: time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC), PaidAt: &paid,
		},
		{
			ID: "bbbb-000002", TourTitle: "Hoi An", TourPrice: 850_000, People: 1,
			Name: "Tran B", Phone: "0906", Status: models.StatusCancelled, Note: "late",
			Date: time.Date(2026, 11, 2, 0, 0, 0, 0, time.UTC),
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteBookings(&buf, bookings))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, headers, rows[0])
	assert.Equal(t, "000001", rows[1][0])
	assert.Equal(t, "2026-11-01", rows[1][2])
	assert.Equal(t, "3000000", rows[1][5])
	assert.Equal(t, "2026-10-20 08:30", rows[1][10])
	assert.Equal(t, "cancelled", rows[2][9])
	assert.Equal(t, "late", rows[2][8])

	assert.Equal(t, []string{sheetName}, f.GetSheetList())
}

func TestWriteBookingsEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteBookings(&buf, nil))
	assert.NotZero(t, buf.Len())
	assert.Equal(t, "bookings_2026-10-17.xlsx", FileName(time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)))
}

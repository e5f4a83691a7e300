package google

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tourbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

func setupMockServer(t *testing.T) (*http.ServeMux, *SheetsService) {
	t.Helper()
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	srv, err := sheets.NewService(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	return mux, newSheetsService(srv, "bookings_tid")
}

func sampleBooking(id string) *models.Booking {
	now := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	return &models.Booking{
		ID: id, TourTitle: "Hoi An by night", TourPrice: 850_000, People: 2,
		Name: "Lan", Phone: "0905", Status: models.StatusPending,
		Date: time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC), CreatedAt: now, UpdatedAt: now,
	}
}

func TestBookingRowValues(t *testing.T) {
	b := sampleBooking("b-1")
	paid := time.Date(2026, 10, 18, 10, 30, 0, 0, time.UTC)
	b.PaidAt = &paid

	row := bookingRowValues(b)
	require.Len(t, row, len(bookingHeaders))
	assert.Equal(t, "b-1", row[0])
	assert.Equal(t, "2026-11-01", row[2])
	assert.Equal(t, int64(1_700_000), row[4])
	assert.Equal(t, models.StatusPending, row[8])
	assert.Equal(t, "2026-10-18 10:30:00", row[9])
}

func TestFirstRow(t *testing.T) {
	row, ok := firstRow("Bookings!A10:L10")
	assert.True(t, ok)
	assert.Equal(t, 10, row)

	_, ok = firstRow("Bookings!A:A")
	assert.False(t, ok)
}

func TestSheetsService_TestConnection(t *testing.T) {
	mux, s := setupMockServer(t)
	mux.HandleFunc("/v4/spreadsheets/bookings_tid/values/Bookings!A1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{Values: [][]interface{}{{"ID"}}})
	})
	assert.NoError(t, s.TestConnection(context.Background()))
}

func TestSheetsService_WarmUpCache(t *testing.T) {
	mux, s := setupMockServer(t)
	mux.HandleFunc("/v4/spreadsheets/bookings_tid/values/Bookings!A:A", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{
			Values: [][]interface{}{{"ID"}, {"b-123"}, {}, {"b-456"}},
		})
	})
	require.NoError(t, s.WarmUpCache(context.Background()))

	row, ok := s.getCachedRow("b-123")
	assert.True(t, ok)
	assert.Equal(t, 2, row)
	row, _ = s.getCachedRow("b-456")
	assert.Equal(t, 4, row)
	_, ok = s.getCachedRow("ID")
	assert.False(t, ok)
}

func TestSheetsService_UpsertAppendsMissingRow(t *testing.T) {
	mux, s := setupMockServer(t)
	mux.HandleFunc("/v4/spreadsheets/bookings_tid/values/Bookings!A:A", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{Values: [][]interface{}{{"ID"}}})
	})
	var appended sheets.ValueRange
	mux.HandleFunc("/v4/spreadsheets/bookings_tid/values/Bookings!A:A:append", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &appended)
		_ = json.NewEncoder(w).Encode(sheets.AppendValuesResponse{
			Updates: &sheets.UpdateValuesResponse{UpdatedRange: "Bookings!A7:L7"},
		})
	})

	require.NoError(t, s.UpsertBooking(context.Background(), sampleBooking("b-789")))
	require.Len(t, appended.Values, 1)
	assert.Equal(t, "b-789", appended.Values[0][0])

	row, ok := s.getCachedRow("b-789")
	assert.True(t, ok)
	assert.Equal(t, 7, row)
}

func TestSheetsService_UpsertUpdatesKnownRow(t *testing.T) {
	mux, s := setupMockServer(t)
	s.setCachedRow("b-123", 2)

	called := false
	mux.HandleFunc("/v4/spreadsheets/bookings_tid/values/Bookings!A2:L2", func(w http.ResponseWriter, r *http.Request) {
		called = true
		_ = json.NewEncoder(w).Encode(sheets.UpdateValuesResponse{})
	})

	require.NoError(t, s.UpsertBooking(context.Background(), sampleBooking("b-123")))
	assert.True(t, called)
}

func TestSheetsService_UpdateBookingStatus(t *testing.T) {
	mux, s := setupMockServer(t)
	s.setCachedRow("b-123", 5)

	var req sheets.BatchUpdateValuesRequest
	mux.HandleFunc("/v4/spreadsheets/bookings_tid/values:batchUpdate", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &req)
		_ = json.NewEncoder(w).Encode(sheets.BatchUpdateValuesResponse{})
	})

	require.NoError(t, s.UpdateBookingStatus(context.Background(), "b-123", models.StatusConfirmed))
	require.Len(t, req.Data, 2)
	assert.Equal(t, "Bookings!I5", req.Data[0].Range)
	assert.Equal(t, models.StatusConfirmed, req.Data[0].Values[0][0])
	assert.Equal(t, "Bookings!L5", req.Data[1].Range)
}

func TestSheetsService_UpdateBookingStatusMissingRow(t *testing.T) {
	mux, s := setupMockServer(t)
	mux.HandleFunc("/v4/spreadsheets/bookings_tid/values/Bookings!A:A", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{Values: [][]interface{}{{"ID"}}})
	})

	err := s.UpdateBookingStatus(context.Background(), "b-404", models.StatusCancelled)
	assert.ErrorIs(t, err, errRowNotFound)
}

func TestSheetsService_ReplaceBookings(t *testing.T) {
	mux, s := setupMockServer(t)
	mux.HandleFunc("/v4/spreadsheets/bookings_tid/values/Bookings!A:L:clear", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ClearValuesResponse{})
	})
	var written sheets.ValueRange
	mux.HandleFunc("/v4/spreadsheets/bookings_tid/values/Bookings!A1", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &written)
		_ = json.NewEncoder(w).Encode(sheets.UpdateValuesResponse{})
	})

	bookings := []models.Booking{*sampleBooking("b-1"), *sampleBooking("b-2")}
	require.NoError(t, s.ReplaceBookings(context.Background(), bookings))

	require.Len(t, written.Values, 3)
	assert.Equal(t, "ID", written.Values[0][0])
	row, _ := s.getCachedRow("b-2")
	assert.Equal(t, 3, row)
}

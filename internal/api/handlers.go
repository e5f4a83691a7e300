package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tourbook/internal/domain"
	"tourbook/internal/export"
	"tourbook/internal/models"
	"tourbook/internal/service"
)

const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.Validationf("request body is required")
		}
		return domain.Validationf("invalid JSON body")
	}
	return nil
}

// --- auth ---

func (s *HTTPServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	res, err := s.svc.Users.Register(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	res, err := s.svc.Users.Login(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Users.Logout(r.Context(), actorFrom(r.Context())); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.svc.Users.Me(r.Context(), actorFrom(r.Context()))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (s *HTTPServer) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.svc.Users.ListUsers(r.Context(), actorFrom(r.Context()))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// --- tours ---

type tourRequest struct {
	ID string `json:"id"`
	domain.TourInput
}

func (s *HTTPServer) handleListTours(w http.ResponseWriter, r *http.Request) {
	all := queryBool(r, "all")
	tours, err := s.svc.Tours.ListTours(r.Context(), actorFrom(r.Context()), all)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tours": tours})
}

func (s *HTTPServer) handleGetTour(w http.ResponseWriter, r *http.Request) {
	tour, err := s.svc.Tours.GetTour(r.Context(), actorFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tour":             tour,
		"discount_percent": tour.DiscountPercent(),
	})
}

func (s *HTTPServer) handleCreateTour(w http.ResponseWriter, r *http.Request) {
	var req tourRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	tour, err := s.svc.Tours.CreateTour(r.Context(), actorFrom(r.Context()), req.TourInput, req.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"tour": tour})
}

func (s *HTTPServer) handleUpdateTour(w http.ResponseWriter, r *http.Request) {
	var req tourRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	tour, err := s.svc.Tours.UpdateTour(r.Context(), actorFrom(r.Context()), r.PathValue("id"), req.TourInput)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tour": tour})
}

// --- bookings ---

type statusRequest struct {
	Status  string `json:"status"`
	Version int64  `json:"version"`
}

func bookingFilter(r *http.Request) models.BookingFilter {
	q := r.URL.Query()
	return models.BookingFilter{
		Status: strings.TrimSpace(q.Get("status")),
		Query:  strings.TrimSpace(q.Get("q")),
	}
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	if !actor.Authenticated() {
		writeDomainError(w, r, domain.Authf("please log in to book a tour"))
		return
	}
	var req domain.BookingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	booking, err := s.svc.Bookings.CreateBooking(r.Context(), actor, req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"booking": booking})
}

func (s *HTTPServer) handleListMyBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := s.svc.Bookings.ListUserBookings(r.Context(), actorFrom(r.Context()))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

func (s *HTTPServer) handleListAllBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := s.svc.Bookings.ListAllBookings(r.Context(), actorFrom(r.Context()), bookingFilter(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

func (s *HTTPServer) handleExportBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := s.svc.Bookings.ListAllBookings(r.Context(), actorFrom(r.Context()), bookingFilter(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteBookings(&buf, bookings); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", export.ContentTypeXLSX)
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.FileName(time.Now())+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	booking, err := s.svc.Bookings.GetBooking(r.Context(), actorFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"booking": booking})
}

func (s *HTTPServer) handleUpdateBooking(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	if !actor.Privileged() {
		writeDomainError(w, r, denyHTTP(actor))
		return
	}
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Status) == "" {
		writeDomainError(w, r, domain.Validationf("status is required"))
		return
	}
	booking, err := s.svc.Bookings.UpdateStatus(r.Context(), actor, r.PathValue("id"), req.Status, req.Version)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"booking": booking})
}

func (s *HTTPServer) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	booking, err := s.svc.Bookings.CancelBooking(r.Context(), actorFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"booking": booking})
}

// --- payments ---

func (s *HTTPServer) handlePaymentSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.svc.Payments.Summary(r.Context(), actorFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *HTTPServer) handlePay(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	if !actor.Authenticated() {
		writeDomainError(w, r, domain.Authf("please log in to pay"))
		return
	}
	var req domain.PaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	summary, err := s.svc.Payments.Pay(r.Context(), actor, r.PathValue("id"), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// --- reviews and ratings ---

type reviewRequest struct {
	Tour    string `json:"tour"`
	PostID  string `json:"postId"`
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

func (s *HTTPServer) handleListTourReviews(w http.ResponseWriter, r *http.Request) {
	s.listReviews(w, r, models.SubjectTour, r.PathValue("tourId"))
}

func (s *HTTPServer) handleListRatings(w http.ResponseWriter, r *http.Request) {
	s.listReviews(w, r, models.SubjectDestination, r.URL.Query().Get("postId"))
}

func (s *HTTPServer) listReviews(w http.ResponseWriter, r *http.Request, subjectType, subjectID string) {
	page, err := s.svc.Reviews.List(r.Context(), subjectType, subjectID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *HTTPServer) handleCreateTourReview(w http.ResponseWriter, r *http.Request) {
	s.createReview(w, r, models.SubjectTour, func(req reviewRequest) string { return req.Tour })
}

func (s *HTTPServer) handleCreateRating(w http.ResponseWriter, r *http.Request) {
	s.createReview(w, r, models.SubjectDestination, func(req reviewRequest) string { return req.PostID })
}

func (s *HTTPServer) createReview(w http.ResponseWriter, r *http.Request, subjectType string, subjectID func(reviewRequest) string) {
	actor := actorFrom(r.Context())
	if !actor.Authenticated() {
		writeDomainError(w, r, domain.Authf("please log in to leave a review"))
		return
	}
	var req reviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	res, err := s.svc.Reviews.Submit(r.Context(), actor, subjectType, service.ReviewInput{
		SubjectID: subjectID(req),
		Rating:    req.Rating,
		Comment:   req.Comment,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func denyHTTP(actor *domain.Actor) error {
	if !actor.Authenticated() {
		return domain.Authf("please log in to continue")
	}
	return domain.Forbiddenf("you are not permitted to do this")
}

func queryBool(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && v
}

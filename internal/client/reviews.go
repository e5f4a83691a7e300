package client

import (
	"context"
	"net/http"
	"net/url"
	"sync"

	"tourbook/internal/domain"
	"tourbook/internal/models"

	"github.com/google/uuid"
)

type reviewPage struct {
	Reviews []models.Review      `json:"reviews"`
	Summary models.RatingSummary `json:"summary"`
}

type reviewResult struct {
	Review  models.Review        `json:"review"`
	Summary models.RatingSummary `json:"summary"`
}

type reviewRequest struct {
	Tour    string `json:"tour,omitempty"`
	PostID  string `json:"postId,omitempty"`
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// ReviewList is the reviews shown for one tour or destination together with
// their rating summary.
type ReviewList struct {
	client      *Client
	subjectType string
	subjectID   string

	mu      sync.RWMutex
	reviews []models.Review
	summary models.RatingSummary
}

// TourReviews loads the reviews of a tour.
func (c *Client) TourReviews(ctx context.Context, tourID string) (*ReviewList, error) {
	return c.loadReviews(ctx, models.SubjectTour, tourID)
}

// DestinationRatings loads the ratings of a destination post.
func (c *Client) DestinationRatings(ctx context.Context, postID string) (*ReviewList, error) {
	return c.loadReviews(ctx, models.SubjectDestination, postID)
}

func (c *Client) loadReviews(ctx context.Context, subjectType, subjectID string) (*ReviewList, error) {
	l := &ReviewList{client: c, subjectType: subjectType, subjectID: subjectID}
	if err := l.Refresh(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *ReviewList) path() string {
	if l.subjectType == models.SubjectTour {
		return "/api/reviews"
	}
	return "/api/ratings"
}

// Refresh reloads the list from the server.
func (l *ReviewList) Refresh(ctx context.Context) error {
	path := "/api/reviews/" + url.PathEscape(l.subjectID)
	if l.subjectType == models.SubjectDestination {
		path = "/api/ratings?" + url.Values{"postId": {l.subjectID}}.Encode()
	}
	var page reviewPage
	if err := l.client.doJSON(ctx, http.MethodGet, path, nil, &page); err != nil {
		return err
	}
	l.mu.Lock()
	l.reviews = page.Reviews
	l.summary = page.Summary
	l.mu.Unlock()
	return nil
}

func (l *ReviewList) Reviews() []models.Review {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.Review, len(l.reviews))
	copy(out, l.reviews)
	return out
}

func (l *ReviewList) Summary() models.RatingSummary {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.summary
}

// Append adds r to the front of the list and recomputes the summary locally.
func (l *ReviewList) Append(r models.Review) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reviews = append([]models.Review{r}, l.reviews...)
	l.summary = models.Summarize(l.reviews)
}

// Submit posts a rating with its comment. The review appears in the list
// immediately and is replaced in place by the stored one, with the server's
// summary, once the request succeeds. On failure only that entry is removed;
// reviews appended meanwhile stay.
func (l *ReviewList) Submit(ctx context.Context, rating int, comment string) (*models.Review, error) {
	comment, err := domain.ValidateReview(rating, comment)
	if err != nil {
		return nil, err
	}
	if err := l.client.requireLogin("please log in to leave a review"); err != nil {
		return nil, err
	}

	provisional := models.Review{
		ID:          "local-" + uuid.NewString(),
		SubjectType: l.subjectType,
		SubjectID:   l.subjectID,
		Rating:      rating,
		Comment:     comment,
		CreatedAt:   l.client.now(),
	}
	if u := l.client.session.CurrentUser(); u != nil {
		provisional.UserID = u.ID
		provisional.UserName = u.Name
	}

	l.Append(provisional)

	req := reviewRequest{Rating: rating, Comment: comment}
	if l.subjectType == models.SubjectTour {
		req.Tour = l.subjectID
	} else {
		req.PostID = l.subjectID
	}

	var res reviewResult
	if err := l.client.doJSON(ctx, http.MethodPost, l.path(), req, &res); err != nil {
		l.mu.Lock()
		l.reviews = removeReview(l.reviews, provisional.ID)
		l.summary = models.Summarize(l.reviews)
		l.mu.Unlock()
		return nil, err
	}

	l.mu.Lock()
	for i := range l.reviews {
		if l.reviews[i].ID == provisional.ID {
			l.reviews[i] = res.Review
			break
		}
	}
	l.summary = res.Summary
	l.mu.Unlock()
	return &res.Review, nil
}

// removeReview returns reviews without the entry id, leaving the input slice
// untouched since Reviews may have handed it out.
func removeReview(reviews []models.Review, id string) []models.Review {
	out := make([]models.Review, 0, len(reviews))
	for _, r := range reviews {
		if r.ID != id {
			out = append(out, r)
		}
	}
	return out
}

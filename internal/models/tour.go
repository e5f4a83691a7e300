package models

import (
	"math"
	"time"
)

const (
	TourStatusDraft     = "draft"
	TourStatusPublished = "published"
)

type Tour struct {
	ID            string    `yaml:"id" json:"id"`
	Title         string    `yaml:"title" json:"title"`
	Description   string    `yaml:"description" json:"description"`
	Price         int64     `yaml:"price" json:"price"`
	OriginalPrice int64     `yaml:"original_price" json:"original_price,omitempty"`
	Duration      string    `yaml:"duration" json:"duration"`
	Category      string    `yaml:"category" json:"category"`
	Capacity      int       `yaml:"capacity" json:"capacity,omitempty"`
	Highlights    []string  `yaml:"highlights" json:"highlights,omitempty"`
	Includes      []string  `yaml:"includes" json:"includes,omitempty"`
	Status        string    `yaml:"status" json:"status"`
	CreatedAt     time.Time `yaml:"-" json:"created_at"`
	UpdatedAt     time.Time `yaml:"-" json:"updated_at"`
}

func (t *Tour) IsPublished() bool {
	return t.Status == TourStatusPublished
}

// DiscountPercent is the rounded saving against OriginalPrice, 0 when none.
func (t *Tour) DiscountPercent() int {
	if t.OriginalPrice <= 0 || t.Price <= 0 || t.OriginalPrice <= t.Price {
		return 0
	}
	return int(math.Round((1 - float64(t.Price)/float64(t.OriginalPrice)) * 100))
}

// Package prediction holds the classification payload produced by the
// inference service and consumed by the result view.
package prediction

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidResult marks a payload that breaks the upstream contract.
var ErrInvalidResult = errors.New("invalid prediction result")

// Result is the classifier verdict for one captured image.
type Result struct {
	PredictedCondition string    `json:"predicted_condition" validate:"required"`
	Confidence         float64   `json:"confidence" validate:"gte=0,lte=1"`
	Info               *Metadata `json:"info,omitempty"`
}

// Metadata carries the optional detail attached to a verdict.
// A nil Description means the service sent none.
type Metadata struct {
	Description         *string   `json:"description,omitempty"`
	RecommendedProducts []Product `json:"recommended_products,omitempty" validate:"dive"`
}

// Product is a catalog item recommended for the detected condition.
type Product struct {
	Image       string `json:"image"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Link        string `json:"link"`
}

// Description returns the description and whether one was supplied.
func (r Result) Description() (string, bool) {
	if r.Info == nil || r.Info.Description == nil {
		return "", false
	}
	return *r.Info.Description, true
}

// Products returns the recommended products, empty when info or the
// list is absent.
func (r Result) Products() []Product {
	if r.Info == nil || r.Info.RecommendedProducts == nil {
		return []Product{}
	}
	return r.Info.RecommendedProducts
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the fields the view relies on. It runs where the
// payload enters the service, never in the view itself.
func Validate(r *Result) error {
	if r == nil {
		return fmt.Errorf("%w: empty payload", ErrInvalidResult)
	}
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResult, err)
	}
	return nil
}

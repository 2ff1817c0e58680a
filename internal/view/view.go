// Package view renders the outcome of a skin-condition classification.
package view

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/example/skin-check/internal/prediction"
)

const (
	// PlaceholderImage replaces missing image references.
	PlaceholderImage = "/placeholder-image.jpg"
	// BookingURL is the external consultation booking page.
	BookingURL = "https://calendly.com/auroraorganic4u"
	// ProductsHref jumps to the recommendation grid on the analyze page.
	ProductsHref = "/analyze#products"
	// ResetPath receives the reset control's form submission.
	ResetPath = "/reset"

	// Template names registered by Templates.
	FragmentTemplate = "result_view"
	ResultPage       = "result"
	CapturePage      = "capture"
)

//go:embed templates/*.gohtml
var files embed.FS

// PlaceholderSVG is served at PlaceholderImage.
//
//go:embed assets/placeholder.svg
var PlaceholderSVG []byte

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"imgsrc": imageSource,
}).ParseFS(files, "templates/*.gohtml"))

// Templates returns the parsed page and fragment templates.
func Templates() *template.Template {
	return templates
}

// ResultView presents one prediction. It holds no state of its own:
// every render is derived from the inputs given to New.
type ResultView struct {
	capturedImage string
	result        prediction.Result
	onReset       func()
}

// Model is the template-ready form of a ResultView.
type Model struct {
	ImageSrc       string
	Condition      string
	Confidence     string
	Description    string
	HasDescription bool
	BookingURL     string
	ProductsHref   string
	ResetPath      string
	Products       []ProductCard
}

// ProductCard is one entry of the recommendation grid. Key is unique
// within a rendered list.
type ProductCard struct {
	Key         string
	Image       string
	Title       string
	Description string
	Link        string
}

// HasProducts reports whether the products section is rendered at all.
func (m Model) HasProducts() bool {
	return len(m.Products) > 0
}

// New builds a view for the captured image and its prediction. onReset
// may be nil.
func New(capturedImage string, result prediction.Result, onReset func()) *ResultView {
	return &ResultView{capturedImage: capturedImage, result: result, onReset: onReset}
}

// Model derives the data rendered by the result_view template.
func (v *ResultView) Model() Model {
	m := Model{
		ImageSrc:     orPlaceholder(v.capturedImage),
		Condition:    v.result.PredictedCondition,
		Confidence:   FormatConfidence(v.result.Confidence),
		BookingURL:   BookingURL,
		ProductsHref: ProductsHref,
		ResetPath:    ResetPath,
	}
	if desc, ok := v.result.Description(); ok && desc != "" {
		m.Description = desc
		m.HasDescription = true
	}
	m.Products = productCards(v.result.Products())
	return m
}

// Render writes the result fragment to w.
func (v *ResultView) Render(w io.Writer) error {
	if err := templates.ExecuteTemplate(w, FragmentTemplate, v.Model()); err != nil {
		return fmt.Errorf("render result view: %w", err)
	}
	return nil
}

// Reset is the reset control's action. It only notifies the caller; the
// view keeps showing its inputs until the caller replaces them.
func (v *ResultView) Reset() {
	if v.onReset != nil {
		v.onReset()
	}
}

// FormatConfidence renders c as a percentage with one decimal place.
func FormatConfidence(c float64) string {
	return formatTenths(c*100) + "%"
}

var (
	ten = big.NewRat(10, 1)
	two = big.NewInt(2)
)

// formatTenths rounds x to one decimal place using its exact binary
// value, with exact halves rounded away from zero.
func formatTenths(x float64) string {
	rounded := strconv.FormatFloat(x, 'f', 1, 64)
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return rounded
	}
	tenths := new(big.Rat).SetFloat64(x)
	tenths.Mul(tenths, ten)
	if tenths.Denom().Cmp(two) != 0 {
		return rounded
	}

	// tenths is n/2 with n odd; the tie goes to (|n|+1)/2.
	n := new(big.Int).Abs(tenths.Num())
	n.Add(n, big.NewInt(1))
	n.Quo(n, two)
	whole, frac := new(big.Int).QuoRem(n, big.NewInt(10), new(big.Int))

	sign := ""
	if x < 0 {
		sign = "-"
	}
	return sign + whole.String() + "." + frac.String()
}

func productCards(products []prediction.Product) []ProductCard {
	cards := make([]ProductCard, 0, len(products))
	issued := make(map[string]bool, len(products))
	for _, p := range products {
		key := p.Image
		for n := 2; issued[key]; n++ {
			key = fmt.Sprintf("%s#%d", p.Image, n)
		}
		issued[key] = true
		cards = append(cards, ProductCard{
			Key:         key,
			Image:       orPlaceholder(p.Image),
			Title:       p.Title,
			Description: p.Description,
			Link:        p.Link,
		})
	}
	return cards
}

func orPlaceholder(ref string) string {
	if ref == "" {
		return PlaceholderImage
	}
	return ref
}

// imageSource lets inline captures through html/template's URL filter.
// Anything else is left to the normal sanitizer.
func imageSource(ref string) interface{} {
	if strings.HasPrefix(ref, "data:image/") {
		return template.URL(ref)
	}
	return ref
}

// Package pricing quotes large-format print jobs priced by area.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	hundred      = decimal.NewFromInt(100)
	DefaultRules = Rules{
		MinWidthCm:          decimal.NewFromInt(100),
		MinHeightCm:         decimal.NewFromInt(150),
		MinBillableArea:     decimal.RequireFromString("0.5"),
		LaminationUnitPrice: decimal.RequireFromString("6.50"),
	}
)

// Rules are the shop-wide pricing parameters.
type Rules struct {
	MinWidthCm          decimal.Decimal
	MinHeightCm         decimal.Decimal
	MinBillableArea     decimal.Decimal // m²
	LaminationUnitPrice decimal.Decimal // per m²
	// FinishSurcharges are per m² extras keyed by finish name.
	FinishSurcharges map[string]decimal.Decimal
}

type LineItem struct {
	ProductID    string          `json:"productId"`
	Name         string          `json:"name"`
	PricePerArea decimal.Decimal `json:"pricePerArea"`
	WidthCm      decimal.Decimal `json:"widthCm"`
	HeightCm     decimal.Decimal `json:"heightCm"`
	Finish       string          `json:"finish,omitempty"`
	Laminated    bool            `json:"laminated"`
	Quantity     int             `json:"quantity"`
}

// Cart is passed by value; persisting it is the caller's business.
type Cart struct {
	Items []LineItem `json:"items"`
}

type LineQuote struct {
	Item           LineItem        `json:"item"`
	Area           decimal.Decimal `json:"area"`
	BaseCost       decimal.Decimal `json:"baseCost"`
	FinishCost     decimal.Decimal `json:"finishCost"`
	LaminationCost decimal.Decimal `json:"laminationCost"`
	LineTotal      decimal.Decimal `json:"lineTotal"`
	Valid          bool            `json:"valid"`
	Problems       []string        `json:"problems,omitempty"`
}

type Quote struct {
	Lines []LineQuote     `json:"lines"`
	Total decimal.Decimal `json:"total"`
}

// Checkoutable is true when there is something to pay for and nothing is flagged.
func (q Quote) Checkoutable() bool {
	if len(q.Lines) == 0 {
		return false
	}
	for _, l := range q.Lines {
		if !l.Valid {
			return false
		}
	}
	return q.Total.IsPositive()
}

type Calculator struct {
	rules Rules
}

func NewCalculator(rules Rules) *Calculator {
	return &Calculator{rules: rules}
}

// Line prices a single item. Items below the minimum size are flagged, not rejected.
func (c *Calculator) Line(item LineItem) LineQuote {
	width := decimal.Max(item.WidthCm, decimal.Zero)
	height := decimal.Max(item.HeightCm, decimal.Zero)

	area := width.Div(hundred).Mul(height.Div(hundred))
	area = decimal.Max(area, c.rules.MinBillableArea)

	q := LineQuote{
		Item:           item,
		Area:           area,
		BaseCost:       item.PricePerArea.Mul(area),
		FinishCost:     decimal.Zero,
		LaminationCost: decimal.Zero,
		Valid:          true,
	}
	if s, ok := c.rules.FinishSurcharges[item.Finish]; ok && item.Finish != "" {
		q.FinishCost = s.Mul(area)
	}
	if item.Laminated {
		q.LaminationCost = c.rules.LaminationUnitPrice.Mul(area)
	}
	q.LineTotal = q.BaseCost.Add(q.FinishCost).Add(q.LaminationCost).Round(2)

	if item.WidthCm.LessThan(c.rules.MinWidthCm) {
		q.Problems = append(q.Problems, fmt.Sprintf("width must be at least %scm", c.rules.MinWidthCm))
	}
	if item.HeightCm.LessThan(c.rules.MinHeightCm) {
		q.Problems = append(q.Problems, fmt.Sprintf("height must be at least %scm", c.rules.MinHeightCm))
	}
	if item.Quantity < 1 {
		q.Problems = append(q.Problems, "quantity must be at least 1")
	}
	if item.PricePerArea.IsNegative() {
		q.Problems = append(q.Problems, "price must not be negative")
	}
	q.Valid = len(q.Problems) == 0
	return q
}

// Quote prices the whole cart; invalid lines do not count towards the total.
func (c *Calculator) Quote(cart Cart) Quote {
	quote := Quote{
		Lines: make([]LineQuote, 0, len(cart.Items)),
		Total: decimal.Zero,
	}
	for _, item := range cart.Items {
		line := c.Line(item)
		quote.Lines = append(quote.Lines, line)
		if !line.Valid {
			continue
		}
		quote.Total = quote.Total.Add(line.LineTotal.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	quote.Total = quote.Total.Round(2)
	return quote
}

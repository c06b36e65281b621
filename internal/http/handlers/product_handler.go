package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"gumroad/internal/domain"
	"gumroad/internal/repos"
)

// ProductJSON is the client-facing shape of a product.
type ProductJSON struct {
	ID                int64     `json:"id"`
	Permalink         string    `json:"permalink"`
	Name              string    `json:"name"`
	NativeType        string    `json:"native_type"`
	Price             string    `json:"price"`
	PriceFormatted    string    `json:"price_formatted"`
	DisplayPriceCents int64     `json:"display_price_cents"`
	Currency          string    `json:"currency"`
	IsDuplicating     bool      `json:"is_duplicating"`
	IsMembership      bool      `json:"is_membership"`
	URL               string    `json:"url"`
	EditURL           string    `json:"edit_url"`
	FilesCount        int       `json:"files_count"`
	CreatedAt         time.Time `json:"created_at"`
}

type ProductPresenter struct {
	Products *repos.ProductRepo
}

var currencySymbols = map[string]string{
	"usd": "$",
	"cad": "CA$",
	"aud": "A$",
	"eur": "€",
	"gbp": "£",
	"jpy": "¥",
	"inr": "₹",
}

// FormatPrice drops the cents when the amount is whole: $25, $9.99.
func FormatPrice(price decimal.Decimal, currency string) string {
	sym, ok := currencySymbols[strings.ToLower(currency)]
	if !ok {
		sym = strings.ToUpper(currency) + " "
	}
	if price.Equal(price.Truncate(0)) {
		return sym + price.StringFixed(0)
	}
	return sym + price.StringFixed(2)
}

func priceCents(price decimal.Decimal) int64 {
	return price.Shift(2).Round(0).IntPart()
}

func (pp *ProductPresenter) Present(ctx context.Context, p domain.Product) (ProductJSON, error) {
	files, err := pp.Products.Files(ctx, p.ID)
	if err != nil {
		return ProductJSON{}, err
	}
	return ProductJSON{
		ID:                p.ID,
		Permalink:         p.Permalink,
		Name:              p.Name,
		NativeType:        p.NativeType,
		Price:             p.Price.StringFixed(2),
		PriceFormatted:    FormatPrice(p.Price, p.Currency),
		DisplayPriceCents: priceCents(p.Price),
		Currency:          p.Currency,
		IsDuplicating:     p.IsDuplicating,
		IsMembership:      p.IsMembership(),
		URL:               "/l/" + p.Permalink,
		EditURL:           "/products/" + p.Permalink + "/edit",
		FilesCount:        len(files),
		CreatedAt:         p.CreatedAt,
	}, nil
}

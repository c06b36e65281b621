package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	NativeTypeDigital    = "digital"
	NativeTypeCourse     = "course"
	NativeTypeEbook      = "ebook"
	NativeTypeMembership = "membership"
	NativeTypePhysical   = "physical"
	NativeTypeBundle     = "bundle"
	NativeTypeCall       = "call"
	NativeTypeCoffee     = "coffee"
)

type Product struct {
	ID            int64           `db:"id"`
	UserID        string          `db:"user_id"`
	Permalink     string          `db:"unique_permalink"`
	Name          string          `db:"name"`
	Description   string          `db:"description"`
	NativeType    string          `db:"native_type"`
	Price         decimal.Decimal `db:"price"`
	Currency      string          `db:"currency"`
	IsDuplicating bool            `db:"is_duplicating"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

func (p Product) IsMembership() bool { return p.NativeType == NativeTypeMembership }

type ProductFile struct {
	ID          int64  `db:"id"`
	ProductID   int64  `db:"product_id"`
	ExternalID  string `db:"external_id"`
	URL         string `db:"url"`
	DisplayName string `db:"display_name"`
	Position    int    `db:"position"`
}

type SubtitleFile struct {
	ID            int64  `db:"id"`
	ProductFileID int64  `db:"product_file_id"`
	URL           string `db:"url"`
	Language      string `db:"language"`
}

type PreorderLink struct {
	ID        int64     `db:"id"`
	ProductID int64     `db:"product_id"`
	ReleaseAt time.Time `db:"release_at"`
	URL       string    `db:"url"`
}

package repos

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"gumroad/internal/domain"
	applog "gumroad/internal/log"
)

const DemoPassword = "Passw0rd!"

// Seed inserts demo sellers and products. Safe to run on every start.
func Seed(ctx context.Context, db *sqlx.DB) error {
	if err := seedUsers(ctx, db); err != nil {
		return err
	}
	return seedProducts(ctx, db)
}

func seedUsers(ctx context.Context, db *sqlx.DB) error {
	type u struct {
		ID, Email, Name, RiskState string
	}
	users := []u{
		{"u-seller", "seller@gumroad.test", "Sahil", domain.RiskStateCompliant},
		{"u-newbie", "newbie@gumroad.test", "Nina", domain.RiskStateNotReviewed},
		{"u-other", "other@gumroad.test", "Otto", domain.RiskStateCompliant},
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(DemoPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, x := range users {
		var n int
		if err := tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM users WHERE id = ?`, x.ID); err != nil {
			return err
		}
		if n > 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO users(id, email, name, password_hash, risk_state)
			VALUES(?, ?, ?, ?, ?)
		`, x.ID, x.Email, x.Name, string(hash), x.RiskState); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func seedProducts(ctx context.Context, db *sqlx.DB) error {
	products := NewProductRepo(db)
	if _, err := products.ByPermalink(ctx, "pencil"); err == nil {
		return nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	applog.Background("seed.products", nil)
	now := time.Now()

	pencil := domain.Product{
		UserID: "u-seller", Permalink: "pencil", Name: "Pencil sketching course",
		Description: "Six hours of video lessons.", NativeType: domain.NativeTypeCourse,
		Price: decimal.RequireFromString("25.00"), Currency: "usd", CreatedAt: now.Add(-72 * time.Hour),
	}
	if err := products.Create(ctx, &pencil); err != nil {
		return err
	}
	pdf := domain.ProductFile{ExternalID: uuid.NewString(), URL: "https://s3.amazonaws.com/gumroad-demo/attachment/manual.pdf", DisplayName: "manual", Position: 1}
	video := domain.ProductFile{ExternalID: uuid.NewString(), URL: "https://s3.amazonaws.com/gumroad-demo/attachment/lesson-1.mp4", DisplayName: "Lesson 1", Position: 0}
	for _, f := range []*domain.ProductFile{&video, &pdf} {
		f.ProductID = pencil.ID
		if err := products.AddFile(ctx, f); err != nil {
			return err
		}
	}
	if err := products.AddSubtitle(ctx, &domain.SubtitleFile{
		ProductFileID: video.ID, URL: "https://s3.amazonaws.com/gumroad-demo/lesson-1.srt", Language: "English",
	}); err != nil {
		return err
	}

	club := domain.Product{
		UserID: "u-seller", Permalink: "club", Name: "Sketch club", NativeType: domain.NativeTypeMembership,
		Price: decimal.RequireFromString("5.00"), Currency: "usd", CreatedAt: now.Add(-48 * time.Hour),
	}
	if err := products.Create(ctx, &club); err != nil {
		return err
	}

	album := domain.Product{
		UserID: "u-newbie", Permalink: "album", Name: "Debut album", NativeType: domain.NativeTypeDigital,
		Price: decimal.RequireFromString("9.99"), Currency: "usd", CreatedAt: now.Add(-24 * time.Hour),
	}
	if err := products.Create(ctx, &album); err != nil {
		return err
	}
	return products.SetPreorder(ctx, &domain.PreorderLink{
		ProductID: album.ID, ReleaseAt: now.AddDate(0, 2, 0), URL: "https://s3.amazonaws.com/gumroad-demo/magic.mp3",
	})
}

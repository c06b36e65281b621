package repos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"gumroad/internal/domain"
)

type ProductRepo struct{ db *sqlx.DB }

func NewProductRepo(db *sqlx.DB) *ProductRepo { return &ProductRepo{db: db} }

const productColumns = `id, user_id, unique_permalink, name, description, native_type, price, currency,
    is_duplicating, created_at, updated_at`

func (r *ProductRepo) ByPermalink(ctx context.Context, permalink string) (domain.Product, error) {
	var p domain.Product
	err := r.db.GetContext(ctx, &p, `SELECT `+productColumns+` FROM products WHERE unique_permalink = ?`, permalink)
	return p, err
}

func (r *ProductRepo) ByID(ctx context.Context, id int64) (domain.Product, error) {
	return productByID(ctx, r.db, id)
}

func productByID(ctx context.Context, q sqlx.QueryerContext, id int64) (domain.Product, error) {
	var p domain.Product
	err := sqlx.GetContext(ctx, q, &p, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	return p, err
}

// Create inserts p and fills in its ID. A zero CreatedAt means now.
func (r *ProductRepo) Create(ctx context.Context, p *domain.Product) error {
	return insertProduct(ctx, r.db, p)
}

func insertProduct(ctx context.Context, e sqlx.ExecerContext, p *domain.Product) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	p.CreatedAt = dbTime(p.CreatedAt)
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	p.UpdatedAt = dbTime(p.UpdatedAt)
	if p.NativeType == "" {
		p.NativeType = domain.NativeTypeDigital
	}
	if p.Currency == "" {
		p.Currency = "usd"
	}
	res, err := e.ExecContext(ctx, `
	  INSERT INTO products
	    (user_id, unique_permalink, name, description, native_type, price, currency, is_duplicating, created_at, updated_at)
	  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.UserID, p.Permalink, p.Name, p.Description, p.NativeType, p.Price, p.Currency, p.IsDuplicating, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return err
	}
	p.ID, err = res.LastInsertId()
	return err
}

// MarkDuplicating sets is_duplicating only if it is currently false. It reports
// whether this call performed the transition.
func (r *ProductRepo) MarkDuplicating(ctx context.Context, id int64) (bool, error) {
	return markDuplicating(ctx, r.db, id)
}

func markDuplicating(ctx context.Context, e sqlx.ExecerContext, id int64) (bool, error) {
	res, err := e.ExecContext(ctx, `
		UPDATE products
		SET is_duplicating = 1
		WHERE id = ? AND is_duplicating = 0
	`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *ProductRepo) ClearDuplicating(ctx context.Context, id int64) error {
	return clearDuplicating(ctx, r.db, id)
}

func clearDuplicating(ctx context.Context, e sqlx.ExecerContext, id int64) error {
	_, err := e.ExecContext(ctx, `UPDATE products SET is_duplicating = 0 WHERE id = ?`, id)
	return err
}

// CountCreatedSince counts products the user created at or after since.
func (r *ProductRepo) CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM products
		WHERE user_id = ? AND created_at >= ?
	`, userID, dbTime(since))
	return n, err
}

func (r *ProductRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)
	return err
}

// ---------- Content ----------

func (r *ProductRepo) Files(ctx context.Context, productID int64) ([]domain.ProductFile, error) {
	return productFiles(ctx, r.db, productID)
}

func productFiles(ctx context.Context, q sqlx.QueryerContext, productID int64) ([]domain.ProductFile, error) {
	var out []domain.ProductFile
	err := sqlx.SelectContext(ctx, q, &out, `
		SELECT id, product_id, external_id, url, display_name, position
		FROM product_files
		WHERE product_id = ?
		ORDER BY position, id
	`, productID)
	return out, err
}

func (r *ProductRepo) Subtitles(ctx context.Context, productFileID int64) ([]domain.SubtitleFile, error) {
	return subtitles(ctx, r.db, productFileID)
}

func subtitles(ctx context.Context, q sqlx.QueryerContext, productFileID int64) ([]domain.SubtitleFile, error) {
	var out []domain.SubtitleFile
	err := sqlx.SelectContext(ctx, q, &out, `
		SELECT id, product_file_id, url, language
		FROM subtitle_files
		WHERE product_file_id = ?
		ORDER BY id
	`, productFileID)
	return out, err
}

// Preorder returns sql.ErrNoRows when the product has no preorder link.
func (r *ProductRepo) Preorder(ctx context.Context, productID int64) (domain.PreorderLink, error) {
	return preorder(ctx, r.db, productID)
}

func preorder(ctx context.Context, q sqlx.QueryerContext, productID int64) (domain.PreorderLink, error) {
	var pl domain.PreorderLink
	err := sqlx.GetContext(ctx, q, &pl, `
		SELECT id, product_id, release_at, url FROM preorder_links WHERE product_id = ?
	`, productID)
	return pl, err
}

func (r *ProductRepo) AddFile(ctx context.Context, f *domain.ProductFile) error {
	return insertFile(ctx, r.db, f)
}

func insertFile(ctx context.Context, e sqlx.ExecerContext, f *domain.ProductFile) error {
	res, err := e.ExecContext(ctx, `
		INSERT INTO product_files(product_id, external_id, url, display_name, position)
		VALUES (?, ?, ?, ?, ?)
	`, f.ProductID, f.ExternalID, f.URL, f.DisplayName, f.Position)
	if err != nil {
		return err
	}
	f.ID, err = res.LastInsertId()
	return err
}

func (r *ProductRepo) AddSubtitle(ctx context.Context, s *domain.SubtitleFile) error {
	return insertSubtitle(ctx, r.db, s)
}

func insertSubtitle(ctx context.Context, e sqlx.ExecerContext, s *domain.SubtitleFile) error {
	res, err := e.ExecContext(ctx, `
		INSERT INTO subtitle_files(product_file_id, url, language) VALUES (?, ?, ?)
	`, s.ProductFileID, s.URL, s.Language)
	if err != nil {
		return err
	}
	s.ID, err = res.LastInsertId()
	return err
}

func (r *ProductRepo) SetPreorder(ctx context.Context, pl *domain.PreorderLink) error {
	return insertPreorder(ctx, r.db, pl)
}

func insertPreorder(ctx context.Context, e sqlx.ExecerContext, pl *domain.PreorderLink) error {
	pl.ReleaseAt = dbTime(pl.ReleaseAt)
	res, err := e.ExecContext(ctx, `
		INSERT INTO preorder_links(product_id, release_at, url) VALUES (?, ?, ?)
	`, pl.ProductID, pl.ReleaseAt, pl.URL)
	if err != nil {
		return err
	}
	pl.ID, err = res.LastInsertId()
	return err
}

package handlers

import (
	"time"

	"gumroad/internal/config"
	applog "gumroad/internal/log"
	"gumroad/internal/repos"
	"gumroad/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/jmoiron/sqlx"
)

type Deps struct {
	Auth             *services.AuthService
	Duplication      *services.DuplicationService
	AuthHandler      *AuthHandler
	DuplicateHandler *DuplicateHandler
}

// NewDeps wires handlers over db. A nil quota falls back to the database
// counter with the configured daily limit.
func NewDeps(db *sqlx.DB, cfg config.Config, auth *services.AuthService, quota services.ProductCreationLimiter, queue services.JobQueue) *Deps {
	prodRepo := repos.NewProductRepo(db)
	jobRepo := repos.NewDuplicationRepo(db)
	if quota == nil {
		quota = services.NewDBQuota(prodRepo, cfg.DailyProductLimit)
	}
	dupSvc := services.NewDuplicationService(prodRepo, jobRepo, quota, queue)

	return &Deps{
		Auth:             auth,
		Duplication:      dupSvc,
		AuthHandler:      &AuthHandler{Auth: auth},
		DuplicateHandler: &DuplicateHandler{Dup: dupSvc, Presenter: &ProductPresenter{Products: prodRepo}},
	}
}

// Routes registers every endpoint plus the 404 fallback. Global middleware
// must be installed on app before calling it.
func (d *Deps) Routes(app *fiber.App) {
	app.Post("/login", limiter.New(limiter.Config{
		Max:        5,
		Expiration: 10 * time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			applog.Security(c, "rate.login.hit", nil)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"success": false, "error_message": "Too many attempts. Please try again later."})
		},
	}), d.AuthHandler.Login)
	app.Post("/logout", d.AuthHandler.Logout)

	products := app.Group("/products", RequireSeller(d.Auth))
	dupLimiter := limiter.New(limiter.Config{
		Max:        20,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			if u := currentUser(c); u != nil {
				return "dup|" + u.ID
			}
			return "dup|" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			applog.Security(c, "rate.duplicate.hit", nil)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"success": false, "error_message": "rate limit exceeded, retry soon"})
		},
	})
	products.Post("/:permalink/duplicate", dupLimiter, d.DuplicateHandler.Create)
	products.Get("/:permalink/duplicate", dupLimiter, d.DuplicateHandler.Show)

	app.Get("/healthz", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"ok": true}) })
	app.Use(NotFound)
}

package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/csrf"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/spf13/cobra"

	"gumroad/internal/http/handlers"
	applog "gumroad/internal/log"
	"gumroad/internal/repos"
	"gumroad/internal/services"
)

func serveCmd() *cobra.Command {
	var (
		addr string
		seed bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API.

With QUEUE_BACKEND=memory the duplication workers run in this process.
With QUEUE_BACKEND=pubsub jobs are published and "gumroad worker" consumes them.

Examples:
  gumroad serve --addr :8080
  gumroad serve --seed`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), addr, seed)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default :$PORT)")
	cmd.Flags().BoolVar(&seed, "seed", false, "seed demo sellers and products")
	return cmd
}

func runServe(parent context.Context, addr string, seed bool) error {
	cfg, logOut, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()
	if addr == "" {
		addr = ":" + cfg.Port
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repos.OpenDB(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if seed || cfg.SeedDemo {
		if err := repos.Seed(ctx, db); err != nil {
			return err
		}
	}

	b, err := openBackends(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer b.Close()

	authSvc := services.NewAuthService(repos.NewUserRepo(db))
	deps := handlers.NewDeps(db, cfg, authSvc, b.quota, b.queue)

	var wg sync.WaitGroup
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	if b.memory != nil {
		w := b.newWorker(cfg, db)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.memory.Run(workerCtx, w.Handler())
		}()
		// The in-process buffer does not survive a restart.
		n, err := deps.Duplication.Requeue(ctx)
		if err != nil {
			applog.BackgroundError("queue.requeue", err, map[string]any{"requeued": n})
		} else if n > 0 {
			applog.Background("queue.requeue", map[string]any{"requeued": n})
		}
	}

	app := newApp(authSvc, logOut)
	deps.Routes(app)

	go func() {
		<-ctx.Done()
		applog.Background("server.shutdown", nil)
		_ = app.ShutdownWithTimeout(10 * time.Second)
	}()

	applog.Background("server.start", map[string]any{"addr": addr, "queue": cfg.QueueBackend})
	err = app.Listen(addr)

	stopWorkers()
	wg.Wait()
	return err
}

func newApp(authSvc *services.AuthService, logOut io.Writer) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler,
		BodyLimit:    1 << 20, // 1 MiB
	})

	// ---------- Middlewares ----------
	app.Use(requestid.New())
	app.Use(logger.New(logger.Config{Output: logOut}))
	app.Use(helmet.New())
	// Attach user to context if logged in
	app.Use(func(c *fiber.Ctx) error {
		if sid := c.Cookies("sid"); sid != "" {
			if u, err := authSvc.CurrentUser(c.UserContext(), sid); err == nil && u != nil {
				c.Locals("user", u)
			}
		}
		return c.Next()
	})
	app.Use(limiter.New(limiter.Config{
		Max:        60,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/healthz"
		},
	}))
	app.Use(csrf.New(csrf.Config{
		KeyLookup:      "header:X-CSRF-Token",
		CookieName:     "csrf_",
		CookieSameSite: "Lax",
		CookieSecure:   false, // set true behind HTTPS
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			applog.Security(c, "csrf.fail", map[string]any{"err": err.Error()})
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"success": false, "error_message": "Security check failed. Please refresh and try again."})
		},
	}))
	return app
}

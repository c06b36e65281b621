package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/csrf"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/jmoiron/sqlx"

	"gumroad/internal/config"
	"gumroad/internal/domain"
	"gumroad/internal/http/handlers"
	"gumroad/internal/repos"
	"gumroad/internal/services"
)

type captureQueue struct {
	mu   sync.Mutex
	jobs []domain.DuplicationJob
}

func (q *captureQueue) Enqueue(_ context.Context, job domain.DuplicationJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *captureQueue) last(t *testing.T) domain.DuplicationJob {
	t.Helper()
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		t.Fatal("no job enqueued")
	}
	return q.jobs[len(q.jobs)-1]
}

func (q *captureQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

type testApp struct {
	app  *fiber.App
	db   *sqlx.DB
	deps *handlers.Deps
}

// newTestApp mirrors the serve command: JSON error handler, request ids,
// header-based CSRF and the real routes over a seeded in-memory database.
func newTestApp(t *testing.T, queue services.JobQueue, quota services.ProductCreationLimiter) *testApp {
	t.Helper()
	db, err := repos.OpenDB("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := repos.Seed(context.Background(), db); err != nil {
		t.Fatalf("seed: %v", err)
	}

	cfg := config.Config{DBDriver: "sqlite", DBDSN: ":memory:", DailyProductLimit: 10}
	authSvc := services.NewAuthService(repos.NewUserRepo(db))
	deps := handlers.NewDeps(db, cfg, authSvc, quota, queue)

	app := fiber.New(fiber.Config{ErrorHandler: handlers.ErrorHandler})
	app.Use(requestid.New())
	app.Use(csrf.New(csrf.Config{KeyLookup: "header:X-CSRF-Token", CookieName: "csrf_", CookieSameSite: "Lax"}))
	deps.Routes(app)
	return &testApp{app: app, db: db, deps: deps}
}

func cookieValue(resp *http.Response, name string) string {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// session carries the cookies a browser would send.
type session struct {
	csrf string
	sid  string
}

func (s session) apply(req *http.Request) {
	var parts []string
	if s.csrf != "" {
		parts = append(parts, "csrf_="+s.csrf)
		req.Header.Set("X-CSRF-Token", s.csrf)
	}
	if s.sid != "" {
		parts = append(parts, "sid="+s.sid)
	}
	if len(parts) > 0 {
		req.Header.Set("Cookie", strings.Join(parts, "; "))
	}
}

func (ta *testApp) do(t *testing.T, s session, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	s.apply(req)
	resp, err := ta.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func (ta *testApp) anonymous(t *testing.T) session {
	t.Helper()
	resp, _ := ta.do(t, session{}, "GET", "/healthz", nil)
	tok := cookieValue(resp, "csrf_")
	if tok == "" {
		t.Fatal("csrf cookie missing")
	}
	return session{csrf: tok}
}

func (ta *testApp) login(t *testing.T, email string) session {
	t.Helper()
	s := ta.anonymous(t)
	resp, body := ta.do(t, s, "POST", "/login", map[string]string{"email": email, "password": repos.DemoPassword})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login %s: status=%d body=%s", email, resp.StatusCode, body)
	}
	s.sid = cookieValue(resp, "sid")
	if s.sid == "" {
		t.Fatal("sid cookie missing")
	}
	return s
}

func decode(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	return m
}

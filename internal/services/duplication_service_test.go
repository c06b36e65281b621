package services_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"gumroad/internal/domain"
	"gumroad/internal/repos"
	"gumroad/internal/services"
)

type captureQueue struct {
	mu   sync.Mutex
	jobs []domain.DuplicationJob
	err  error
}

func (q *captureQueue) Enqueue(_ context.Context, job domain.DuplicationJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *captureQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

type fixedQuota struct {
	exceeded bool
	limit    int
}

func (q fixedQuota) Exceeded(context.Context, *domain.User, services.QuotaAction) (bool, error) {
	return q.exceeded, nil
}
func (q fixedQuota) Record(context.Context, *domain.User, services.QuotaAction) error { return nil }
func (q fixedQuota) Limit() int                                                     { return q.limit }

// clock advances one second per reading so job start times are strictly ordered.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fixture struct {
	db       *sqlx.DB
	svc      *services.DuplicationService
	queue    *captureQueue
	products *repos.ProductRepo
	jobs     *repos.DuplicationRepo
	clock    *clock
	seller   *domain.User
	other    *domain.User
}

func newFixture(t *testing.T, quota services.ProductCreationLimiter) *fixture {
	t.Helper()
	db, err := repos.OpenDB("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := repos.Seed(context.Background(), db); err != nil {
		t.Fatalf("seed: %v", err)
	}
	users := repos.NewUserRepo(db)
	seller, err := users.ByID(context.Background(), "u-seller")
	if err != nil {
		t.Fatal(err)
	}
	other, err := users.ByID(context.Background(), "u-other")
	if err != nil {
		t.Fatal(err)
	}

	f := &fixture{
		db:       db,
		queue:    &captureQueue{},
		products: repos.NewProductRepo(db),
		jobs:     repos.NewDuplicationRepo(db),
		clock:    &clock{now: time.Now()},
		seller:   seller,
		other:    other,
	}
	if quota == nil {
		quota = fixedQuota{limit: services.DefaultDailyProductLimit}
	}
	f.svc = services.NewDuplicationService(f.products, f.jobs, quota, f.queue)
	f.svc.Now = f.clock.Now
	return f
}

func (f *fixture) product(t *testing.T, permalink string) domain.Product {
	t.Helper()
	p, err := f.products.ByPermalink(context.Background(), permalink)
	if err != nil {
		t.Fatalf("load %s: %v", permalink, err)
	}
	return p
}

func TestBeginStartsAndEnqueuesOneJob(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.svc.Begin(context.Background(), "pencil", f.seller)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if !res.Started() || res.Job == nil {
		t.Fatalf("expected started, got %+v", res)
	}
	if !f.product(t, "pencil").IsDuplicating {
		t.Fatal("flag not set")
	}
	if f.queue.count() != 1 {
		t.Fatalf("enqueued=%d want 1", f.queue.count())
	}
	if got := f.queue.jobs[0]; got.ID != res.Job.ID || got.SourceProductID != f.product(t, "pencil").ID {
		t.Fatalf("enqueued %+v, started %+v", got, res.Job)
	}
}

func TestBeginInProgressRegardlessOfQuota(t *testing.T) {
	for _, exceeded := range []bool{false, true} {
		f := newFixture(t, fixedQuota{exceeded: exceeded, limit: 10})
		p := f.product(t, "pencil")
		if ok, err := f.products.MarkDuplicating(context.Background(), p.ID); err != nil || !ok {
			t.Fatalf("mark: %v %v", ok, err)
		}
		res, err := f.svc.Begin(context.Background(), "pencil", f.seller)
		if err != nil {
			t.Fatal(err)
		}
		if res.Reason != services.RejectInProgress || res.Message != "Duplication in progress..." {
			t.Fatalf("quota exceeded=%v: got %+v", exceeded, res)
		}
		if f.queue.count() != 0 {
			t.Fatalf("enqueued=%d want 0", f.queue.count())
		}
	}
}

func TestBeginQuotaExceeded(t *testing.T) {
	f := newFixture(t, fixedQuota{exceeded: true, limit: 10})
	res, err := f.svc.Begin(context.Background(), "pencil", f.seller)
	if err != nil {
		t.Fatal(err)
	}
	if res.Started() || res.Reason != services.RejectQuotaExceeded {
		t.Fatalf("got %+v", res)
	}
	if res.Message != "Sorry, you can only create 10 products per day." {
		t.Fatalf("message=%q", res.Message)
	}
	if f.queue.count() != 0 {
		t.Fatal("job enqueued despite quota")
	}
	if f.product(t, "pencil").IsDuplicating {
		t.Fatal("flag set despite quota")
	}
}

func TestBeginAndStatusNotFound(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	cases := []struct {
		name      string
		permalink string
		user      *domain.User
	}{
		{"missing", "nope", f.seller},
		{"empty", "", f.seller},
		{"not owner", "pencil", f.other},
		{"anonymous", "pencil", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.Begin(ctx, tc.permalink, tc.user); !errors.Is(err, services.ErrNotFound) {
				t.Fatalf("begin err=%v", err)
			}
			if _, err := f.svc.Status(ctx, tc.permalink, tc.user); !errors.Is(err, services.ErrNotFound) {
				t.Fatalf("status err=%v", err)
			}
		})
	}
	if f.queue.count() != 0 {
		t.Fatal("unexpected enqueue")
	}
}

func TestStatusPollingIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	check := func(stage string) {
		a, err := f.svc.Status(ctx, "pencil", f.seller)
		if err != nil {
			t.Fatal(err)
		}
		b, err := f.svc.Status(ctx, "pencil", f.seller)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(a, b) {
			t.Fatalf("%s: polls differ:\n%+v\n%+v", stage, a, b)
		}
	}

	check("never started")
	res, err := f.svc.Begin(ctx, "pencil", f.seller)
	if err != nil || !res.Started() {
		t.Fatalf("begin: %+v %v", res, err)
	}
	check("duplicating")
	if _, err := f.jobs.Copy(ctx, *res.Job, f.clock.Now()); err != nil {
		t.Fatal(err)
	}
	check("duplicated")
}

func TestConcurrentBeginHasSingleWinner(t *testing.T) {
	f := newFixture(t, nil)
	const callers = 8

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started int
		busy    int
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := f.svc.Begin(context.Background(), "pencil", f.seller)
			if err != nil {
				t.Errorf("begin: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case res.Started():
				started++
			case res.Reason == services.RejectInProgress:
				busy++
			}
		}()
	}
	close(start)
	wg.Wait()

	if started != 1 || busy != callers-1 {
		t.Fatalf("started=%d busy=%d", started, busy)
	}
	if f.queue.count() != 1 {
		t.Fatalf("enqueued=%d want 1", f.queue.count())
	}
}

func TestDuplicationLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	st, err := f.svc.Status(ctx, "pencil", f.seller)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != domain.StatusDuplicationFailed || !st.NeverStarted {
		t.Fatalf("before begin: %+v", st)
	}

	res, err := f.svc.Begin(ctx, "pencil", f.seller)
	if err != nil || !res.Started() {
		t.Fatalf("begin: %+v %v", res, err)
	}
	st, err = f.svc.Status(ctx, "pencil", f.seller)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != domain.StatusDuplicating {
		t.Fatalf("while running: %+v", st)
	}

	// Worker side.
	if _, err := f.jobs.Copy(ctx, *res.Job, f.clock.Now()); err != nil {
		t.Fatal(err)
	}

	st, err = f.svc.Status(ctx, "pencil", f.seller)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != domain.StatusDuplicated || st.Duplicate == nil {
		t.Fatalf("after copy: %+v", st)
	}
	if st.Product.Permalink != "pencil" || st.Duplicate.Permalink != "pencil-copy" {
		t.Fatalf("product=%s duplicate=%s", st.Product.Permalink, st.Duplicate.Permalink)
	}
	if st.Duplicate.UserID != f.seller.ID || st.Duplicate.IsDuplicating || st.Product.IsDuplicating {
		t.Fatalf("unexpected rows: %+v %+v", st.Product, st.Duplicate)
	}
}

func TestStatusReportsLatestJob(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.svc.Begin(ctx, "club", f.seller)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.jobs.Copy(ctx, *first.Job, f.clock.Now()); err != nil {
		t.Fatal(err)
	}
	second, err := f.svc.Begin(ctx, "club", f.seller)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.jobs.Abort(ctx, *second.Job, "copy failed", f.clock.Now()); err != nil {
		t.Fatal(err)
	}

	st, err := f.svc.Status(ctx, "club", f.seller)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != domain.StatusDuplicationFailed || st.NeverStarted || st.Job == nil || st.Job.ID != second.Job.ID {
		t.Fatalf("got %+v", st)
	}
}

func TestStatusFailsWhenDuplicateWasDeleted(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.svc.Begin(ctx, "pencil", f.seller)
	if err != nil {
		t.Fatal(err)
	}
	dup, err := f.jobs.Copy(ctx, *res.Job, f.clock.Now())
	if err != nil {
		t.Fatal(err)
	}
	if err := f.products.Delete(ctx, dup.ID); err != nil {
		t.Fatal(err)
	}
	st, err := f.svc.Status(ctx, "pencil", f.seller)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != domain.StatusDuplicationFailed {
		t.Fatalf("got %+v", st)
	}
}

func TestEnqueueFailureIsCompensated(t *testing.T) {
	f := newFixture(t, nil)
	f.queue.err = errors.New("broker down")
	ctx := context.Background()

	if _, err := f.svc.Begin(ctx, "pencil", f.seller); err == nil {
		t.Fatal("expected enqueue error")
	}
	if f.product(t, "pencil").IsDuplicating {
		t.Fatal("flag left set after failed enqueue")
	}
	st, err := f.svc.Status(ctx, "pencil", f.seller)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != domain.StatusDuplicationFailed || st.Job == nil || st.Job.Status != domain.JobFailed {
		t.Fatalf("got %+v", st)
	}

	f.queue.err = nil
	res, err := f.svc.Begin(ctx, "pencil", f.seller)
	if err != nil || !res.Started() {
		t.Fatalf("retry: %+v %v", res, err)
	}
}

func TestRequeueHandsBackUnfinishedJobs(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for _, permalink := range []string{"pencil", "club"} {
		if _, err := f.svc.Begin(ctx, permalink, f.seller); err != nil {
			t.Fatal(err)
		}
	}
	queued := f.queue.jobs[0]
	running := f.queue.jobs[1]
	if ok, err := f.jobs.Claim(ctx, running.ID); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	// A finished job is not handed back.
	album, err := f.products.ByPermalink(ctx, "album")
	if err != nil {
		t.Fatal(err)
	}
	done, _, err := f.jobs.Start(ctx, album, f.clock.Now())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.jobs.Copy(ctx, done, f.clock.Now()); err != nil {
		t.Fatal(err)
	}

	f.queue.jobs = nil
	n, err := f.svc.Requeue(ctx)
	if err != nil || n != 2 {
		t.Fatalf("requeue: n=%d err=%v", n, err)
	}
	if len(f.queue.jobs) != 2 || f.queue.jobs[0].ID != queued.ID || f.queue.jobs[1].ID != running.ID {
		t.Fatalf("requeued=%+v", f.queue.jobs)
	}

	f.queue.err = errors.New("broker down")
	if n, err := f.svc.Requeue(ctx); err == nil || n != 0 {
		t.Fatalf("n=%d err=%v want error", n, err)
	}
}

package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"gorm.io/gorm"

	"github.com/tbourn/go-haiku-backend/internal/conncache"
	"github.com/tbourn/go-haiku-backend/internal/domain"
	"github.com/tbourn/go-haiku-backend/internal/repo"
	"github.com/tbourn/go-haiku-backend/internal/utils"
)

// ----- repo implementations -----

// sqlRepo proxies the repo package, like the router's shim.
type sqlRepo struct{}

func (sqlRepo) ListHaikusPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Haiku, error) {
	return repo.ListHaikusPage(ctx, db, offset, limit)
}
func (sqlRepo) GetHaiku(ctx context.Context, db *gorm.DB, id string) (*domain.Haiku, error) {
	return repo.GetHaiku(ctx, db, id)
}
func (sqlRepo) CreateHaiku(ctx context.Context, db *gorm.DB, h *domain.Haiku) error {
	return repo.CreateHaiku(ctx, db, h)
}
func (sqlRepo) HaikusStats(ctx context.Context, db *gorm.DB) (int64, *time.Time, error) {
	return repo.HaikusStats(ctx, db)
}
func (sqlRepo) IsNotFound(err error) bool  { return errors.Is(err, repo.ErrNotFound) }
func (sqlRepo) IsDuplicate(err error) bool { return errors.Is(err, repo.ErrDuplicate) }

// fakeRepo records calls and returns canned results.
type fakeRepo struct {
	listOffset, listLimit int
	listCalls             int
	listErr               error

	gets    []error // successive GetHaiku errors; nil means found
	getCall int

	createCalls int
	createErr   error

	statsErr error
}

var errNotFound = errors.New("not found")

func (r *fakeRepo) ListHaikusPage(_ context.Context, _ *gorm.DB, offset, limit int) ([]domain.Haiku, error) {
	r.listCalls++
	r.listOffset, r.listLimit = offset, limit
	return nil, r.listErr
}

func (r *fakeRepo) GetHaiku(_ context.Context, _ *gorm.DB, id string) (*domain.Haiku, error) {
	var err error = errNotFound
	if r.getCall < len(r.gets) {
		err = r.gets[r.getCall]
	}
	r.getCall++
	if err != nil {
		return nil, err
	}
	return &domain.Haiku{ID: id, Text: "t"}, nil
}

func (r *fakeRepo) CreateHaiku(context.Context, *gorm.DB, *domain.Haiku) error {
	r.createCalls++
	return r.createErr
}

func (r *fakeRepo) HaikusStats(context.Context, *gorm.DB) (int64, *time.Time, error) {
	return 0, nil, r.statsErr
}

func (r *fakeRepo) IsNotFound(err error) bool  { return errors.Is(err, errNotFound) }
func (r *fakeRepo) IsDuplicate(err error) bool { return errors.Is(err, repo.ErrDuplicate) }

// ----- helpers -----

type failingConns struct{ err error }

func (f failingConns) Get(context.Context, string) (*conncache.Conn, error) { return nil, f.err }

func newService(t *testing.T, r HaikuRepo, now time.Time) (*HaikuService, *conncache.Cache) {
	t.Helper()
	cache := conncache.New(repo.OpenAndMigrate)
	t.Cleanup(func() { _ = cache.Close() })

	url := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	s := NewHaikuService(cache, url, r)
	s.Location = time.UTC
	s.Now = func() time.Time { return now }
	return s, cache
}

var morning = time.Date(2026, 10, 18, 7, 15, 42, 0, time.UTC)

// ----- tests -----

func TestNewHaikuService_Defaults(t *testing.T) {
	s := NewHaikuService(nil, "u", sqlRepo{})
	if s.Location != time.Local || s.Now == nil || s.NewKey == nil || s.DatabaseURL != "u" {
		t.Fatalf("unexpected defaults: %+v", s)
	}
}

func TestCreateToday_DerivesIDAndNoon(t *testing.T) {
	s, _ := newService(t, sqlRepo{}, morning)

	h, err := s.CreateToday(context.Background(), "an old silent pond")
	if err != nil {
		t.Fatalf("CreateToday: %v", err)
	}
	if h.ID != "10182026" || h.Text != "an old silent pond" {
		t.Fatalf("unexpected haiku %+v", h)
	}
	if want := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC); !h.Date.Equal(want) {
		t.Fatalf("date = %v; want %v", h.Date, want)
	}
	if h.InternalID != "" {
		t.Fatalf("re-fetched haiku should not carry the internal id")
	}
}

func TestCreateToday_SecondWriteSameDayConflicts(t *testing.T) {
	s, _ := newService(t, sqlRepo{}, morning)
	ctx := context.Background()

	if _, err := s.CreateToday(ctx, "first"); err != nil {
		t.Fatalf("first CreateToday: %v", err)
	}
	s.Now = func() time.Time { return morning.Add(15 * time.Hour) } // 22:15 same day
	if _, err := s.CreateToday(ctx, "second"); !errors.Is(err, ErrHaikuExists) {
		t.Fatalf("want ErrHaikuExists, got %v", err)
	}

	items, err := s.List(ctx, utils.Page{Size: 10})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 1 || items[0].Text != "first" {
		t.Fatalf("want exactly the first haiku stored, got %+v", items)
	}

	s.Now = func() time.Time { return morning.AddDate(0, 0, 1) }
	if _, err := s.CreateToday(ctx, "next day"); err != nil {
		t.Fatalf("next day CreateToday: %v", err)
	}
}

func TestCreateToday_StoresTextVerbatim(t *testing.T) {
	for name, text := range map[string]string{
		"blank":      "   ",
		"padded":     "  old pond  \n",
		"decomposed": "cafe\u0301",
	} {
		t.Run(name, func(t *testing.T) {
			s, _ := newService(t, sqlRepo{}, morning)
			h, err := s.CreateToday(context.Background(), text)
			if err != nil {
				t.Fatalf("CreateToday: %v", err)
			}
			if h.Text != text {
				t.Fatalf("stored %q; want %q", h.Text, text)
			}
		})
	}
}

func TestCreateToday_InsertRaceMapsToConflict(t *testing.T) {
	r := &fakeRepo{createErr: repo.ErrDuplicate}
	s, _ := newService(t, r, morning)
	if _, err := s.CreateToday(context.Background(), "late"); !errors.Is(err, ErrHaikuExists) {
		t.Fatalf("want ErrHaikuExists, got %v", err)
	}
}

func TestCreateToday_StorageFailures(t *testing.T) {
	boom := errors.New("disk I/O error")
	cases := []struct {
		name    string
		r       *fakeRepo
		op      string
		creates int
	}{
		{"existence check", &fakeRepo{gets: []error{boom}}, "findOne", 0},
		{"insert", &fakeRepo{createErr: boom}, "insert", 1},
		{"re-fetch after insert", &fakeRepo{gets: []error{errNotFound, boom}}, "findOne", 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, _ := newService(t, tc.r, morning)
			_, err := s.CreateToday(context.Background(), "text")
			var se *StorageError
			if !errors.As(err, &se) || se.Op != tc.op || !errors.Is(err, boom) {
				t.Fatalf("want StorageError(%s) wrapping boom, got %v", tc.op, err)
			}
			if tc.r.createCalls != tc.creates {
				t.Fatalf("create calls = %d; want %d", tc.r.createCalls, tc.creates)
			}
		})
	}
}

func TestConnectFailureIsStorageError(t *testing.T) {
	refused := errors.New("connection refused")
	s := NewHaikuService(failingConns{err: refused}, "x", &fakeRepo{})

	_, err := s.List(context.Background(), utils.DefaultPage())
	if !IsStorage(err) || !errors.Is(err, refused) {
		t.Fatalf("List: want storage connect error, got %v", err)
	}
	if _, err := s.Get(context.Background(), "1"); !IsStorage(err) {
		t.Fatalf("Get: want storage error, got %v", err)
	}
	if _, err := s.CreateToday(context.Background(), "t"); !IsStorage(err) {
		t.Fatalf("CreateToday: want storage error, got %v", err)
	}
	if _, _, err := s.Stats(context.Background()); !IsStorage(err) {
		t.Fatalf("Stats: want storage error, got %v", err)
	}
}

func TestList_PassesOffsetAndLimit(t *testing.T) {
	r := &fakeRepo{}
	s, _ := newService(t, r, morning)

	items, err := s.List(context.Background(), utils.Page{Size: 5, Number: 3})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if items == nil || len(items) != 0 {
		t.Fatalf("want empty non-nil slice, got %#v", items)
	}
	if r.listOffset != 15 || r.listLimit != 5 {
		t.Fatalf("offset/limit = %d/%d; want 15/5", r.listOffset, r.listLimit)
	}
}

func TestList_ZeroSizeSkipsStore(t *testing.T) {
	r := &fakeRepo{}
	s := NewHaikuService(failingConns{err: errors.New("unused")}, "x", r)

	items, err := s.List(context.Background(), utils.Page{Size: 0, Number: 4})
	if err != nil || len(items) != 0 || r.listCalls != 0 {
		t.Fatalf("zero-size page: items=%v err=%v calls=%d", items, err, r.listCalls)
	}
}

func TestList_PaginationLaw(t *testing.T) {
	s, _ := newService(t, sqlRepo{}, morning)
	ctx := context.Background()

	// Seven consecutive days, newest is Oct 24.
	for i := 0; i < 7; i++ {
		day := morning.AddDate(0, 0, i)
		s.Now = func() time.Time { return day }
		if _, err := s.CreateToday(ctx, fmt.Sprintf("day %d", i)); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}

	for size := 0; size <= 4; size++ {
		for number := 0; number <= 3; number++ {
			got, err := s.List(ctx, utils.Page{Size: size, Number: number})
			if err != nil {
				t.Fatalf("List(%d,%d): %v", size, number, err)
			}
			skip := number * size
			want := 7 - skip
			if want < 0 {
				want = 0
			}
			if want > size {
				want = size
			}
			if len(got) != want {
				t.Fatalf("List(size=%d, number=%d) len = %d; want %d", size, number, len(got), want)
			}
			for i, h := range got {
				// Newest first: index k in the full listing is day 6-k.
				if wantText := fmt.Sprintf("day %d", 6-(skip+i)); h.Text != wantText {
					t.Fatalf("List(%d,%d)[%d] = %q; want %q", size, number, i, h.Text, wantText)
				}
			}
		}
	}
}

func TestList_StorageError(t *testing.T) {
	r := &fakeRepo{listErr: errors.New("no such table")}
	s, _ := newService(t, r, morning)
	var se *StorageError
	if _, err := s.List(context.Background(), utils.DefaultPage()); !errors.As(err, &se) || se.Op != "find" {
		t.Fatalf("want StorageError(find), got %v", err)
	}
}

func TestGet_HitMissAndError(t *testing.T) {
	s, _ := newService(t, sqlRepo{}, morning)
	ctx := context.Background()
	if _, err := s.CreateToday(ctx, "hit"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	h, err := s.Get(ctx, "10182026")
	if err != nil || h == nil || h.Text != "hit" {
		t.Fatalf("Get hit = %+v, %v", h, err)
	}

	h, err = s.Get(ctx, "12345")
	if err != nil || h != nil {
		t.Fatalf("Get miss should be (nil, nil), got %+v, %v", h, err)
	}

	r := &fakeRepo{gets: []error{errors.New("boom")}}
	s2, _ := newService(t, r, morning)
	if _, err := s2.Get(ctx, "1"); !IsStorage(err) {
		t.Fatalf("want storage error, got %v", err)
	}
}

func TestStats(t *testing.T) {
	s, _ := newService(t, sqlRepo{}, morning)
	if _, err := s.CreateToday(context.Background(), "x"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	count, latest, err := s.Stats(context.Background())
	if err != nil || count != 1 || latest == nil {
		t.Fatalf("Stats = %d, %v, %v", count, latest, err)
	}
	var traced bool
	for _, sp := range rec.Ended() {
		traced = traced || sp.Name() == "Stats"
	}
	if !traced {
		t.Fatalf("Stats did not record a span")
	}

	r := &fakeRepo{statsErr: errors.New("boom")}
	s2, _ := newService(t, r, morning)
	if _, _, err := s2.Stats(context.Background()); !IsStorage(err) {
		t.Fatalf("want storage error, got %v", err)
	}
}

func TestConnDoneDropsCachedHandle(t *testing.T) {
	r := &fakeRepo{listErr: fmt.Errorf("query: %w", sql.ErrConnDone)}
	s, cache := newService(t, r, morning)

	if _, err := s.List(context.Background(), utils.DefaultPage()); !IsStorage(err) {
		t.Fatalf("want storage error, got %v", err)
	}
	if cache.Len() != 0 {
		t.Fatalf("handle should be evicted after ErrConnDone, len=%d", cache.Len())
	}
}

func TestStorageError_Message(t *testing.T) {
	err := storageErr("insert", errors.New("disk full"))
	if err.Error() != "storage insert: disk full" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

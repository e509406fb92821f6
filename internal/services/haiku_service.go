// Package services – HaikuService
//
// This file implements HaikuService, which sequences repository calls for
// the three haiku use-cases: list a page, get one day, and write today's
// haiku. Every call borrows the shared database handle from the connection
// cache; none of them retries.
//
// Today's haiku is keyed by the calendar day in the configured location.
// The existence check before insert yields a clear conflict in the common
// case; the unique index on the day id turns the concurrent case into the
// same conflict instead of a second row.
//
// Observability: public methods are OpenTelemetry-instrumented.
package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-haiku-backend/internal/conncache"
	"github.com/tbourn/go-haiku-backend/internal/domain"
	"github.com/tbourn/go-haiku-backend/internal/utils"
)

var (
	haikusCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "haikus_created_total",
		Help: "Haikus written.",
	})
	haikuConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "haiku_create_conflicts_total",
		Help: "Writes rejected because the day already had a haiku.",
	})
)

func init() {
	prometheus.MustRegister(haikusCreated, haikuConflicts)
}

// ConnProvider hands out the shared handle for a database URL.
type ConnProvider interface {
	Get(ctx context.Context, url string) (*conncache.Conn, error)
}

// HaikuRepo defines the repository contract required by HaikuService.
type HaikuRepo interface {
	// ListHaikusPage returns haikus newest first, skipping offset, at most limit.
	ListHaikusPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Haiku, error)

	// GetHaiku fetches one haiku by day id or returns a not-found error.
	GetHaiku(ctx context.Context, db *gorm.DB, id string) (*domain.Haiku, error)

	// CreateHaiku inserts a haiku; a duplicate day must be reported as such.
	CreateHaiku(ctx context.Context, db *gorm.DB, h *domain.Haiku) error

	// HaikusStats returns the row count and the newest date.
	HaikusStats(ctx context.Context, db *gorm.DB) (int64, *time.Time, error)

	// IsNotFound and IsDuplicate classify repository errors.
	IsNotFound(err error) bool
	IsDuplicate(err error) bool
}

// HaikuService provides the haiku use-cases.
type HaikuService struct {
	// Conns supplies the shared database handle.
	Conns ConnProvider
	// DatabaseURL selects the handle.
	DatabaseURL string
	// Repo performs the queries.
	Repo HaikuRepo

	// Location decides which calendar day "today" is.
	Location *time.Location
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
	// NewKey generates internal keys; defaults to uuid.NewString.
	NewKey func() string
}

// NewHaikuService constructs a HaikuService using the local calendar and the
// wall clock.
func NewHaikuService(conns ConnProvider, databaseURL string, r HaikuRepo) *HaikuService {
	return &HaikuService{
		Conns:       conns,
		DatabaseURL: databaseURL,
		Repo:        r,
		Location:    time.Local,
		Now:         time.Now,
		NewKey:      uuid.NewString,
	}
}

// List returns one page of haikus, newest first. A zero-size page is empty
// and does not touch the store.
func (s *HaikuService) List(ctx context.Context, page utils.Page) ([]domain.Haiku, error) {
	ctx, span := otel.Tracer("services/HaikuService").Start(ctx, "List",
		trace.WithAttributes(
			attribute.Int("page.size", page.Size),
			attribute.Int("page.number", page.Number),
		),
	)
	defer span.End()

	offset, err := page.Offset()
	if err != nil {
		return nil, err
	}
	if page.Size == 0 {
		return []domain.Haiku{}, nil
	}

	conn, err := s.conn(ctx)
	if err != nil {
		return nil, s.fail(span, nil, err)
	}
	items, err := s.Repo.ListHaikusPage(ctx, conn.DB(), offset, page.Size)
	if err != nil {
		return nil, s.fail(span, conn, storageErr("find", err))
	}
	if items == nil {
		items = []domain.Haiku{}
	}
	return items, nil
}

// Get returns the haiku for day id, or (nil, nil) when there is none.
func (s *HaikuService) Get(ctx context.Context, id string) (*domain.Haiku, error) {
	ctx, span := otel.Tracer("services/HaikuService").Start(ctx, "Get",
		trace.WithAttributes(attribute.String("haiku.id", id)),
	)
	defer span.End()

	conn, err := s.conn(ctx)
	if err != nil {
		return nil, s.fail(span, nil, err)
	}
	h, err := s.Repo.GetHaiku(ctx, conn.DB(), id)
	switch {
	case err == nil:
		return h, nil
	case s.Repo.IsNotFound(err):
		return nil, nil
	default:
		return nil, s.fail(span, conn, storageErr("findOne", err))
	}
}

// CreateToday writes text as today's haiku and returns the stored document.
//
// Steps, strictly in order:
//  1. derive today's id;
//  2. look it up: present → ErrHaikuExists;
//  3. insert {id, text, noon(today)}: duplicate → ErrHaikuExists;
//  4. read the row back.
//
// text is stored exactly as given. A failure in step 4 is reported even
// though the insert already happened.
func (s *HaikuService) CreateToday(ctx context.Context, text string) (*domain.Haiku, error) {
	now := s.now()
	id := domain.DayID(now)

	ctx, span := otel.Tracer("services/HaikuService").Start(ctx, "CreateToday",
		trace.WithAttributes(attribute.String("haiku.id", id)),
	)
	defer span.End()

	conn, err := s.conn(ctx)
	if err != nil {
		return nil, s.fail(span, nil, err)
	}
	db := conn.DB()

	switch _, err := s.Repo.GetHaiku(ctx, db, id); {
	case err == nil:
		haikuConflicts.Inc()
		return nil, ErrHaikuExists
	case !s.Repo.IsNotFound(err):
		return nil, s.fail(span, conn, storageErr("findOne", err))
	}

	if err := s.Repo.CreateHaiku(ctx, db, domain.NewHaiku(s.newKey(), text, now)); err != nil {
		if s.Repo.IsDuplicate(err) {
			haikuConflicts.Inc()
			return nil, ErrHaikuExists
		}
		return nil, s.fail(span, conn, storageErr("insert", err))
	}
	haikusCreated.Inc()

	h, err := s.Repo.GetHaiku(ctx, db, id)
	if err != nil {
		return nil, s.fail(span, conn, storageErr("findOne", err))
	}
	return h, nil
}

// Stats returns the haiku count and the newest date, for cache validators.
func (s *HaikuService) Stats(ctx context.Context) (int64, *time.Time, error) {
	ctx, span := otel.Tracer("services/HaikuService").Start(ctx, "Stats")
	defer span.End()

	conn, err := s.conn(ctx)
	if err != nil {
		return 0, nil, s.fail(span, nil, err)
	}
	count, latest, err := s.Repo.HaikusStats(ctx, conn.DB())
	if err != nil {
		return 0, nil, s.fail(span, conn, storageErr("count", err))
	}
	span.SetAttributes(attribute.Int64("haiku.count", count))
	return count, latest, nil
}

func (s *HaikuService) conn(ctx context.Context) (*conncache.Conn, error) {
	conn, err := s.Conns.Get(ctx, s.DatabaseURL)
	if err != nil {
		return nil, storageErr("connect", err)
	}
	return conn, nil
}

// fail records err on the span and closes conn when the driver reports the
// link is gone, so the cache reconnects on the next request.
func (s *HaikuService) fail(span trace.Span, conn *conncache.Conn, err error) error {
	if span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if conn != nil && errors.Is(err, sql.ErrConnDone) {
		log.Warn().Err(err).Msg("database link closed; dropping cached handle")
		_ = conn.Close()
	}
	return err
}

func (s *HaikuService) now() time.Time {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	loc := s.Location
	if loc == nil {
		loc = time.Local
	}
	return now().In(loc)
}

func (s *HaikuService) newKey() string {
	if s.NewKey != nil {
		return s.NewKey()
	}
	return uuid.NewString()
}

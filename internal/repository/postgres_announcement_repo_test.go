package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hitoshi/troophub/internal/model"
)

func newAnnouncementRepoMock(t *testing.T) (*PostgresAnnouncementRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresAnnouncementRepo(db), mock
}

func sampleAnnouncement(now time.Time) (*model.Announcement, *model.Notification) {
	a := &model.Announcement{
		ID:        "ann-1",
		UnitID:    "unit-1",
		AuthorID:  "leader-1",
		Title:     "Camp moved",
		Body:      "<p>Sunday</p>",
		CreatedAt: now,
	}
	tmpl := &model.Notification{
		Type:      model.NotificationTypeAnnouncement,
		Title:     "Camp moved",
		Message:   "Sunday",
		ActionURL: "/announcements/ann-1",
		CreatedAt: now,
	}
	return a, tmpl
}

func TestPostgresAnnouncementRepo_CreateWithFanOut(t *testing.T) {
	now := time.Date(2026, 4, 1, 18, 0, 0, 0, time.UTC)

	t.Run("お知らせと通知を同一トランザクションで作成", func(t *testing.T) {
		repo, mock := newAnnouncementRepoMock(t)
		a, tmpl := sampleAnnouncement(now)

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO announcements`).
			WithArgs("ann-1", "unit-1", "leader-1", "Camp moved", "<p>Sunday</p>", now).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO notifications .* SELECT unnest\(\$1::text\[\]\), unnest\(\$2::uuid\[\]\)`).
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "ANNOUNCEMENT", "Camp moved", "Sunday", []byte("{}"), "/announcements/ann-1", now).
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectCommit()

		if err := repo.CreateWithFanOut(context.Background(), a, tmpl, []string{"parent-1", "parent-2"}); err != nil {
			t.Fatalf("CreateWithFanOut: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})

	t.Run("宛先なしは通知を作成しない", func(t *testing.T) {
		repo, mock := newAnnouncementRepoMock(t)
		a, tmpl := sampleAnnouncement(now)
		a.AuthorID = ""

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO announcements`).
			WithArgs("ann-1", "unit-1", nil, "Camp moved", "<p>Sunday</p>", now).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		if err := repo.CreateWithFanOut(context.Background(), a, tmpl, nil); err != nil {
			t.Fatalf("CreateWithFanOut: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})

	t.Run("通知の作成に失敗したらロールバック", func(t *testing.T) {
		repo, mock := newAnnouncementRepoMock(t)
		a, tmpl := sampleAnnouncement(now)
		dbErr := errors.New("foreign key violation")

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO announcements`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO notifications`).WillReturnError(dbErr)
		mock.ExpectRollback()

		err := repo.CreateWithFanOut(context.Background(), a, tmpl, []string{"parent-1"})
		if !errors.Is(err, dbErr) {
			t.Errorf("CreateWithFanOut error = %v, want wrapped %v", err, dbErr)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}

func TestPostgresAnnouncementRepo_ListByUnit(t *testing.T) {
	repo, mock := newAnnouncementRepoMock(t)
	now := time.Date(2026, 4, 1, 18, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM announcements WHERE unit_id = \$1\s+ORDER BY created_at DESC\s+LIMIT \$2`).
		WithArgs("unit-1", 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "unit_id", "author_id", "title", "body", "created_at"}).
			AddRow("ann-2", "unit-1", nil, "Dues", "<p>Due</p>", now).
			AddRow("ann-1", "unit-1", "leader-1", "Camp", "<p>Camp</p>", now.Add(-time.Hour)))

	got, err := repo.ListByUnit(context.Background(), "unit-1", 10)
	if err != nil {
		t.Fatalf("ListByUnit: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].AuthorID != "" {
		t.Errorf("AuthorID of deleted author = %q, want empty", got[0].AuthorID)
	}
	if got[1].AuthorID != "leader-1" {
		t.Errorf("AuthorID = %q, want leader-1", got[1].AuthorID)
	}
}

func TestPostgresAnnouncementRepo_ListByUnit_EmptyIsNonNil(t *testing.T) {
	repo, mock := newAnnouncementRepoMock(t)
	mock.ExpectQuery(`FROM announcements`).
		WithArgs("unit-9", 5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "unit_id", "author_id", "title", "body", "created_at"}))

	got, err := repo.ListByUnit(context.Background(), "unit-9", 5)
	if err != nil {
		t.Fatalf("ListByUnit: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("ListByUnit = %#v, want empty non-nil slice", got)
	}
}

func TestPostgresAnnouncementRepo_FindByID_NotFound(t *testing.T) {
	repo, mock := newAnnouncementRepoMock(t)
	mock.ExpectQuery(`FROM announcements WHERE id = \$1`).WithArgs("missing").WillReturnError(sql.ErrNoRows)

	got, err := repo.FindByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got != nil {
		t.Errorf("FindByID = %+v, want nil", got)
	}
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// gorm models for the relational backend.

type entryRow struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Param     string `gorm:"uniqueIndex;not null"`
	Title     string `gorm:"not null"`
	Thumbnail string
	Synopsis  string
	Genres    string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (entryRow) TableName() string { return "entries" }

type chapterRow struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	EntryID     int64  `gorm:"not null;index;uniqueIndex:idx_chapter_entry_param"`
	Label       string `gorm:"not null"`
	Param       string `gorm:"not null;uniqueIndex:idx_chapter_entry_param"`
	ReleaseDate string
	DetailURL   string
	Seq         int `gorm:"not null"`
	CreatedAt   time.Time
}

func (chapterRow) TableName() string { return "chapters" }

type pageRow struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	ChapterID int64  `gorm:"not null;index;uniqueIndex:idx_page_chapter_idx"`
	Idx       int    `gorm:"not null;uniqueIndex:idx_page_chapter_idx"`
	URL       string `gorm:"not null"`
	CreatedAt time.Time
}

func (pageRow) TableName() string { return "pages" }

type runRow struct {
	ID         int64 `gorm:"primaryKey;autoIncrement"`
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string
	Details    string
}

func (runRow) TableName() string { return "runs" }

// PostgresStore is the relational backend.
type PostgresStore struct {
	db *gorm.DB
}

// OpenPostgres connects with the given DSN and migrates the schema.
func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := db.AutoMigrate(&entryRow{}, &chapterRow{}, &pageRow{}, &runRow{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) FindEntry(ctx context.Context, param string) (*CatalogEntry, error) {
	var row entryRow
	err := s.db.WithContext(ctx).Where("param = ?", param).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find entry %s: %w", param, err)
	}
	return entryFromRow(&row)
}

func (s *PostgresStore) UpsertEntry(ctx context.Context, e *CatalogEntry) (UpsertResult, error) {
	genres, err := json.Marshal(e.Genres)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("marshal genres for %s: %w", e.Param, err)
	}

	var existing entryRow
	findErr := s.db.WithContext(ctx).Where("param = ?", e.Param).First(&existing).Error
	created := errors.Is(findErr, gorm.ErrRecordNotFound)
	if findErr != nil && !created {
		return UpsertResult{}, fmt.Errorf("find entry %s: %w", e.Param, findErr)
	}

	row := entryRow{
		Param:     e.Param,
		Title:     e.Title,
		Thumbnail: e.Thumbnail,
		Synopsis:  e.Synopsis,
		Genres:    string(genres),
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "param"}},
		DoUpdates: clause.AssignmentColumns(
			[]string{"title", "thumbnail", "synopsis", "genres", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return UpsertResult{}, fmt.Errorf("upsert entry %s: %w", e.Param, err)
	}

	id := row.ID
	if !created {
		id = existing.ID
	}
	return UpsertResult{ID: id, Created: created}, nil
}

func (s *PostgresStore) ListChapters(ctx context.Context, entryID int64) ([]Chapter, error) {
	var rows []chapterRow
	err := s.db.WithContext(ctx).
		Where("entry_id = ?", entryID).
		Order("seq desc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}

	out := make([]Chapter, 0, len(rows))
	for _, r := range rows {
		out = append(out, Chapter{
			ID:          r.ID,
			EntryID:     r.EntryID,
			Label:       r.Label,
			Param:       r.Param,
			ReleaseDate: r.ReleaseDate,
			DetailURL:   r.DetailURL,
			Seq:         r.Seq,
			CreatedAt:   r.CreatedAt,
		})
	}
	return out, nil
}

func (s *PostgresStore) InsertChapterIfAbsent(ctx context.Context, entryID int64, ch *Chapter) (InsertResult, error) {
	row := chapterRow{
		EntryID:     entryID,
		Label:       ch.Label,
		Param:       ch.Param,
		ReleaseDate: ch.ReleaseDate,
		DetailURL:   ch.DetailURL,
		Seq:         ch.Seq,
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_id"}, {Name: "param"}},
		DoNothing: true,
	}).Create(&row)
	if res.Error != nil {
		return InsertResult{}, fmt.Errorf("insert chapter %s: %w", ch.Param, res.Error)
	}

	if res.RowsAffected == 0 {
		var winner chapterRow
		err := s.db.WithContext(ctx).
			Where("entry_id = ? AND param = ?", entryID, ch.Param).
			First(&winner).Error
		if err != nil {
			return InsertResult{}, fmt.Errorf("find chapter %s: %w", ch.Param, err)
		}
		return InsertResult{ID: winner.ID, Inserted: false}, nil
	}
	return InsertResult{ID: row.ID, Inserted: true}, nil
}

func (s *PostgresStore) InsertPageIfAbsent(ctx context.Context, chapterID int64, idx int, url string) (bool, error) {
	row := pageRow{ChapterID: chapterID, Idx: idx, URL: url}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chapter_id"}, {Name: "idx"}},
		DoNothing: true,
	}).Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("insert page %d: %w", idx, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *PostgresStore) BeginRun(ctx context.Context) (int64, error) {
	row := runRow{StartedAt: time.Now(), Status: RunRunning}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("begin run: %w", err)
	}
	return row.ID, nil
}

func (s *PostgresStore) EndRun(ctx context.Context, runID int64, status, details string) error {
	now := time.Now()
	err := s.db.WithContext(ctx).Model(&runRow{}).Where("id = ?", runID).Updates(map[string]interface{}{
		"finished_at": &now,
		"status":      status,
		"details":     TruncateDetails(details),
	}).Error
	if err != nil {
		return fmt.Errorf("end run %d: %w", runID, err)
	}
	return nil
}

func (s *PostgresStore) ListEntries(ctx context.Context, offset, limit int) ([]CatalogEntry, int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&entryRow{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count entries: %w", err)
	}

	var rows []entryRow
	err := s.db.WithContext(ctx).
		Order("updated_at desc").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list entries: %w", err)
	}

	out := make([]CatalogEntry, 0, len(rows))
	for i := range rows {
		e, err := entryFromRow(&rows[i])
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *e)
	}
	return out, total, nil
}

func (s *PostgresStore) ListPages(ctx context.Context, chapterID int64) ([]Page, error) {
	var rows []pageRow
	err := s.db.WithContext(ctx).
		Where("chapter_id = ?", chapterID).
		Order("idx asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}

	out := make([]Page, 0, len(rows))
	for _, r := range rows {
		out = append(out, Page{ID: r.ID, ChapterID: r.ChapterID, Idx: r.Idx, URL: r.URL})
	}
	return out, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	var rows []runRow
	err := s.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	out := make([]Run, 0, len(rows))
	for _, r := range rows {
		out = append(out, Run{
			ID:         r.ID,
			StartedAt:  r.StartedAt,
			FinishedAt: r.FinishedAt,
			Status:     r.Status,
			Details:    r.Details,
		})
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

func entryFromRow(r *entryRow) (*CatalogEntry, error) {
	e := &CatalogEntry{
		ID:        r.ID,
		Param:     r.Param,
		Title:     r.Title,
		Thumbnail: r.Thumbnail,
		Synopsis:  r.Synopsis,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.Genres != "" {
		if err := json.Unmarshal([]byte(r.Genres), &e.Genres); err != nil {
			return nil, fmt.Errorf("unmarshal genres for %s: %w", r.Param, err)
		}
	}
	return e, nil
}

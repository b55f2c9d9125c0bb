package store

import (
	"context"
	"errors"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"satwallet/internal/domain"
)

// tradeRow is the persisted form of a domain.TradeSession.
type tradeRow struct {
	SessionID         string            `gorm:"primaryKey;size:64"`
	InitiatorID       string            `gorm:"size:128;index"`
	ParticipantID     string            `gorm:"size:128;index"`
	InitiatorItems    []domain.AssetRef `gorm:"serializer:json"`
	ParticipantItems  []domain.AssetRef `gorm:"serializer:json"`
	InitiatorLocked   bool
	ParticipantLocked bool
	TransactionHex    string `gorm:"type:text"`
	TxID              string `gorm:"size:64"`
	Status            string `gorm:"size:16;index"`
	Revision          uint64 `gorm:"not null"`
	CreatedAt         time.Time
	UpdatedAt         time.Time `gorm:"autoUpdateTime:false"`
}

func (tradeRow) TableName() string { return "trades" }

// tradeRequestRow is the persisted form of a domain.TradeRequest.
type tradeRequestRow struct {
	ID         string `gorm:"primaryKey;size:64"`
	FromUserID string `gorm:"size:128;index"`
	ToUserID   string `gorm:"size:128;index"`
	Status     string `gorm:"size:16"`
	SessionID  string `gorm:"size:64"`
	CreatedAt  time.Time
	UpdatedAt  time.Time `gorm:"autoUpdateTime:false"`
}

func (tradeRequestRow) TableName() string { return "trade_requests" }

// SQLTradeStore persists trades with gorm. Conditional updates compare the
// stored revision in the WHERE clause.
type SQLTradeStore struct {
	db *gorm.DB
}

// OpenSQLiteTradeStore opens (creating if needed) a SQLite database at dsn.
func OpenSQLiteTradeStore(dsn string) (*SQLTradeStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	return NewSQLTradeStore(db)
}

// NewSQLTradeStore migrates the schema on db.
func NewSQLTradeStore(db *gorm.DB) (*SQLTradeStore, error) {
	if err := db.AutoMigrate(&tradeRow{}, &tradeRequestRow{}); err != nil {
		return nil, err
	}
	return &SQLTradeStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *SQLTradeStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLTradeStore) CreateRequest(ctx context.Context, req domain.TradeRequest) error {
	row := requestToRow(req)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&tradeRequestRow{}).Where("id = ?", row.ID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return domain.ErrConflict
		}
		return tx.Create(&row).Error
	})
}

func (s *SQLTradeStore) GetRequest(ctx context.Context, id string) (domain.TradeRequest, error) {
	var row tradeRequestRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return domain.TradeRequest{}, notFound(err)
	}
	return rowToRequest(row), nil
}

func (s *SQLTradeStore) ListRequests(ctx context.Context, f domain.RequestFilter) ([]domain.TradeRequest, error) {
	q := s.db.WithContext(ctx).Model(&tradeRequestRow{})
	if f.FromUserID != "" {
		q = q.Where("from_user_id = ?", f.FromUserID)
	}
	if f.ToUserID != "" {
		q = q.Where("to_user_id = ?", f.ToUserID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	var rows []tradeRequestRow
	if err := q.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.TradeRequest, 0, len(rows))
	for _, r := range rows {
		out = append(out, rowToRequest(r))
	}
	return out, nil
}

func (s *SQLTradeStore) AcceptRequest(ctx context.Context, id string, sess domain.TradeSession) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&tradeRequestRow{}).
			Where("id = ? AND status = ?", id, string(domain.RequestPending)).
			Updates(map[string]any{
				"status":     string(domain.RequestAccepted),
				"session_id": sess.SessionID,
				"updated_at": sess.CreatedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return s.requestMissingOrClosed(tx, id)
		}
		row := sessionToRow(sess)
		return tx.Create(&row).Error
	})
}

func (s *SQLTradeStore) DeclineRequest(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&tradeRequestRow{}).
		Where("id = ? AND status = ?", id, string(domain.RequestPending)).
		Updates(map[string]any{
			"status":     string(domain.RequestDeclined),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.requestMissingOrClosed(s.db.WithContext(ctx), id)
	}
	return nil
}

func (s *SQLTradeStore) requestMissingOrClosed(tx *gorm.DB, id string) error {
	var n int64
	if err := tx.Model(&tradeRequestRow{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return domain.ErrConflict
}

func (s *SQLTradeStore) GetSession(ctx context.Context, id string) (domain.TradeSession, error) {
	var row tradeRow
	if err := s.db.WithContext(ctx).First(&row, "session_id = ?", id).Error; err != nil {
		return domain.TradeSession{}, notFound(err)
	}
	return rowToSession(row), nil
}

func (s *SQLTradeStore) ListSessions(ctx context.Context, f domain.SessionFilter) ([]domain.TradeSession, error) {
	q := s.db.WithContext(ctx).Model(&tradeRow{})
	if f.UserID != "" {
		q = q.Where("initiator_id = ? OR participant_id = ?", f.UserID, f.UserID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	var rows []tradeRow
	if err := q.Order("updated_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.TradeSession, 0, len(rows))
	for _, r := range rows {
		out = append(out, rowToSession(r))
	}
	return out, nil
}

func (s *SQLTradeStore) UpdateSession(ctx context.Context, next domain.TradeSession, expected uint64) error {
	row := sessionToRow(next)
	res := s.db.WithContext(ctx).Model(&row).
		Where("revision = ?", expected).
		Select("*").Omit("created_at").
		Updates(&row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := s.db.WithContext(ctx).Model(&tradeRow{}).Where("session_id = ?", row.SessionID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrNotFound
		}
		return domain.ErrConflict
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	return err
}

func sessionToRow(s domain.TradeSession) tradeRow {
	return tradeRow{
		SessionID:         s.SessionID,
		InitiatorID:       s.InitiatorID,
		ParticipantID:     s.ParticipantID,
		InitiatorItems:    s.InitiatorItems,
		ParticipantItems:  s.ParticipantItems,
		InitiatorLocked:   s.InitiatorLocked,
		ParticipantLocked: s.ParticipantLocked,
		TransactionHex:    s.TransactionHex,
		TxID:              s.TxID,
		Status:            string(s.Status),
		Revision:          s.Revision,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

func rowToSession(r tradeRow) domain.TradeSession {
	return domain.TradeSession{
		SessionID:         r.SessionID,
		InitiatorID:       r.InitiatorID,
		ParticipantID:     r.ParticipantID,
		InitiatorItems:    r.InitiatorItems,
		ParticipantItems:  r.ParticipantItems,
		InitiatorLocked:   r.InitiatorLocked,
		ParticipantLocked: r.ParticipantLocked,
		TransactionHex:    r.TransactionHex,
		TxID:              r.TxID,
		Status:            domain.TradeStatus(r.Status),
		Revision:          r.Revision,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

func requestToRow(r domain.TradeRequest) tradeRequestRow {
	return tradeRequestRow{
		ID:         r.ID,
		FromUserID: r.FromUserID,
		ToUserID:   r.ToUserID,
		Status:     string(r.Status),
		SessionID:  r.SessionID,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func rowToRequest(r tradeRequestRow) domain.TradeRequest {
	return domain.TradeRequest{
		ID:         r.ID,
		FromUserID: r.FromUserID,
		ToUserID:   r.ToUserID,
		Status:     domain.RequestStatus(r.Status),
		SessionID:  r.SessionID,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

var _ domain.TradeStore = (*SQLTradeStore)(nil)

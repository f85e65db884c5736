package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/CyberwizD/Distributed-Notification-System/services/intimation_notifier/internal/models"
)

// tokenRow mirrors the tokens table. Token is NULL until a device registers.
type tokenRow struct {
	EmpID int64   `gorm:"column:emp_id;primaryKey;autoIncrement:false"`
	Token *string `gorm:"column:token"`
	Name  string  `gorm:"column:name;not null"`
}

func (r tokenRow) record() models.TokenRecord {
	rec := models.TokenRecord{EmployeeID: r.EmpID, Name: r.Name}
	if r.Token != nil {
		rec.Token = *r.Token
	}
	return rec
}

// TokenStore reads and mutates the employee token registry.
type TokenStore struct {
	db        *gorm.DB
	tableName string
}

// NewTokenStore migrates the table and returns a store bound to it.
func NewTokenStore(db *gorm.DB, tableName string) (*TokenStore, error) {
	if tableName == "" {
		tableName = "tokens"
	}
	if err := db.Table(tableName).AutoMigrate(&tokenRow{}); err != nil {
		return nil, fmt.Errorf("migrate %s: %w", tableName, err)
	}
	return &TokenStore{
		db:        db,
		tableName: tableName,
	}, nil
}

// LoadAll returns every record ordered by employee id.
func (s *TokenStore) LoadAll(ctx context.Context) ([]models.TokenRecord, error) {
	var rows []tokenRow
	if err := s.table(ctx).Order("emp_id").Find(&rows).Error; err != nil {
		return nil, unavailable("load tokens", err)
	}
	records := make([]models.TokenRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.record())
	}
	return records, nil
}

// Insert creates a record with no token. A repeated insert for the same
// employee refreshes the name and keeps any registered token.
func (s *TokenStore) Insert(ctx context.Context, employeeID int64, name string) error {
	row := tokenRow{EmpID: employeeID, Name: name}
	err := s.table(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "emp_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name"}),
		}).Create(&row).Error
	if err != nil {
		return unavailable("insert token record", err)
	}
	return nil
}

// Remove deletes the employee's record. Removing an absent record is a no-op.
func (s *TokenStore) Remove(ctx context.Context, employeeID int64) error {
	if err := s.table(ctx).Where("emp_id = ?", employeeID).Delete(&tokenRow{}).Error; err != nil {
		return unavailable("delete token record", err)
	}
	return nil
}

// SetToken stores the token when the current one is empty or different and
// reports whether a write happened.
func (s *TokenStore) SetToken(ctx context.Context, employeeID int64, token string) (bool, error) {
	res := s.table(ctx).
		Where("emp_id = ?", employeeID).
		Where("(token IS NULL OR token <> ?)", token).
		Update("token", token)
	if res.Error != nil {
		return false, unavailable("set token", res.Error)
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	if err := s.ensureExists(ctx, employeeID); err != nil {
		return false, err
	}
	return false, nil
}

// ClearToken empties the employee's token.
func (s *TokenStore) ClearToken(ctx context.Context, employeeID int64) error {
	res := s.table(ctx).Where("emp_id = ?", employeeID).Update("token", "")
	if res.Error != nil {
		return unavailable("clear token", res.Error)
	}
	if res.RowsAffected == 0 {
		return s.ensureExists(ctx, employeeID)
	}
	return nil
}

func (s *TokenStore) ensureExists(ctx context.Context, employeeID int64) error {
	var count int64
	if err := s.table(ctx).Where("emp_id = ?", employeeID).Count(&count).Error; err != nil {
		return unavailable("lookup token record", err)
	}
	if count == 0 {
		return fmt.Errorf("employee %d: %w", employeeID, models.ErrNotFound)
	}
	return nil
}

func (s *TokenStore) table(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Table(s.tableName)
}

func unavailable(op string, err error) error {
	if errors.Is(err, models.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", models.ErrStoreUnavailable, op, err)
}

package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ew384/social-auto-upload-sub000/internal/credential"
	"github.com/ew384/social-auto-upload-sub000/internal/types"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ credential.Store = (*AccountStore)(nil)

// AccountStore 基于 accounts 表的凭证元数据存储
type AccountStore struct {
	db *gorm.DB
}

func NewAccountStore(db *gorm.DB) *AccountStore {
	return &AccountStore{db: db}
}

func (s *AccountStore) Get(ctx context.Context, id string) (*credential.Credential, error) {
	var account Account
	err := s.db.WithContext(ctx).First(&account, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", credential.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query account failed: %w", err)
	}
	cred := toCredential(account)
	return &cred, nil
}

func (s *AccountStore) List(ctx context.Context) ([]credential.Credential, error) {
	var accounts []Account
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("query accounts failed: %w", err)
	}
	out := make([]credential.Credential, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toCredential(a))
	}
	return out, nil
}

// Save 按 ID 插入或整行覆盖
func (s *AccountStore) Save(ctx context.Context, cred credential.Credential) error {
	if cred.ID == "" {
		return fmt.Errorf("credential id is empty")
	}
	if !cred.Platform.Valid() {
		return types.NewInvalidRequest("credential %s has invalid platform %d", cred.ID, int(cred.Platform))
	}
	if cred.Verdict == "" {
		cred.Verdict = credential.VerdictUnknown
	}

	account := fromCredential(cred)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"platform", "username", "cookie_path", "verdict", "last_validated_at", "updated_at"}),
	}).Create(&account).Error
	if err != nil {
		return fmt.Errorf("save account %s failed: %w", cred.ID, err)
	}
	return nil
}

func (s *AccountStore) MarkValidated(ctx context.Context, id string, verdict credential.Verdict, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&Account{}).Where("id = ?", id).Updates(map[string]interface{}{
		"verdict":           string(verdict),
		"last_validated_at": at,
	})
	if result.Error != nil {
		return fmt.Errorf("update account verdict failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", credential.ErrNotFound, id)
	}
	return nil
}

func (s *AccountStore) Delete(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Delete(&Account{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("delete account failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", credential.ErrNotFound, id)
	}
	return nil
}

func toCredential(a Account) credential.Credential {
	cred := credential.Credential{
		ID:       a.ID,
		Platform: types.Platform(a.Platform),
		Username: a.Username,
		Path:     a.CookiePath,
		Verdict:  credential.Verdict(a.Verdict),
	}
	if a.LastValidatedAt != nil {
		cred.LastValidatedAt = *a.LastValidatedAt
	}
	return cred
}

func fromCredential(c credential.Credential) Account {
	a := Account{
		ID:         c.ID,
		Platform:   int(c.Platform),
		Username:   c.Username,
		CookiePath: c.Path,
		Verdict:    string(c.Verdict),
	}
	if !c.LastValidatedAt.IsZero() {
		at := c.LastValidatedAt
		a.LastValidatedAt = &at
	}
	return a
}

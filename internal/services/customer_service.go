package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fairwaygolf/assetsync/internal/models"
	"github.com/fairwaygolf/assetsync/pkg/validation"
	"gorm.io/gorm"
)

type CustomerService struct {
	db *gorm.DB
}

func NewCustomerService(db *gorm.DB) *CustomerService {
	return &CustomerService{db: db}
}

// FolderMap returns the current folder_name to customer id mapping.
func (s *CustomerService) FolderMap(ctx context.Context) (map[string]int64, error) {
	resolver, err := BuildCustomerResolver(ctx, s.db)
	if err != nil {
		return nil, err
	}
	return resolver.Map(), nil
}

// ListCustomers returns customers, optionally only those without a folder.
func (s *CustomerService) ListCustomers(ctx context.Context, search string, missingFolder bool, limit, offset int) ([]models.Customer, int64, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := s.db.WithContext(ctx).Model(&models.Customer{})
	if search = strings.TrimSpace(search); search != "" {
		query = query.Where("name LIKE ? OR folder_name LIKE ?", "%"+search+"%", "%"+search+"%")
	}
	if missingFolder {
		query = query.Where("folder_name IS NULL OR folder_name = ''")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var customers []models.Customer
	if err := query.Order("id ASC").Limit(limit).Offset(offset).Find(&customers).Error; err != nil {
		return nil, 0, err
	}
	return customers, total, nil
}

// SetFolderName points a customer at a storage folder key. Two customers may
// not share a folder.
func (s *CustomerService) SetFolderName(ctx context.Context, id int64, folder string) (*models.Customer, error) {
	folder = strings.TrimSpace(folder)
	if !validation.ValidateFolderKey(folder) {
		return nil, fmt.Errorf("%w: folder %q", ErrInvalidInput, folder)
	}

	var customer models.Customer
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&customer, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		var taken int64
		if err := tx.Model(&models.Customer{}).
			Where("folder_name = ? AND id <> ?", folder, id).
			Count(&taken).Error; err != nil {
			return err
		}
		if taken > 0 {
			return fmt.Errorf("%w: folder %q belongs to another customer", ErrAlreadyExists, folder)
		}
		customer.FolderName = &folder
		return tx.Model(&customer).Update("folder_name", folder).Error
	})
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

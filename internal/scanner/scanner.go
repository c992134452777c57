// Package scanner manages paired handheld devices.
package scanner

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/bolttrack/internal/apperr"
	"github.com/zulandar/bolttrack/internal/models"
	"gorm.io/gorm"
)

// Register pairs a scanner or refreshes an existing one. An empty name keeps
// the current name.
func Register(gormDB *gorm.DB, id, name string) (*models.Scanner, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperr.Validation("scanner id is required")
	}
	now := time.Now().UTC()

	var s models.Scanner
	err := gormDB.Where("id = ?", id).First(&s).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if name == "" {
			name = id
		}
		s = models.Scanner{ID: id, Name: name, Status: models.ScannerActive, PairedAt: now, LastSeen: &now}
		if err := gormDB.Create(&s).Error; err != nil {
			return nil, apperr.Internal(err, "scanner: register %s", id)
		}
		return &s, nil
	case err != nil:
		return nil, apperr.Internal(err, "scanner: get %s", id)
	}

	updates := map[string]interface{}{"last_seen": now, "status": models.ScannerActive}
	if name != "" {
		updates["name"] = name
		s.Name = name
	}
	if err := gormDB.Model(&models.Scanner{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, apperr.Internal(err, "scanner: refresh %s", id)
	}
	s.LastSeen = &now
	s.Status = models.ScannerActive
	return &s, nil
}

// Get returns the scanner, or nil when it is not registered.
func Get(gormDB *gorm.DB, id string) (*models.Scanner, error) {
	var s models.Scanner
	if err := gormDB.Where("id = ?", id).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanner: get %s: %w", id, err)
	}
	return &s, nil
}

// List returns all scanners ordered by name.
func List(gormDB *gorm.DB) ([]models.Scanner, error) {
	var out []models.Scanner
	if err := gormDB.Order("name ASC, id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("scanner: list: %w", err)
	}
	return out, nil
}

// Delete unpairs a scanner.
func Delete(gormDB *gorm.DB, id string) error {
	result := gormDB.Where("id = ?", id).Delete(&models.Scanner{})
	if result.Error != nil {
		return apperr.Internal(result.Error, "scanner: delete %s", id)
	}
	if result.RowsAffected == 0 {
		return apperr.NotFound("scanner not found: %s", id)
	}
	return nil
}

// Seen stamps last_seen for a registered scanner. Unknown ids are ignored.
func Seen(gormDB *gorm.DB, id string, at time.Time) error {
	if id == "" {
		return nil
	}
	if err := gormDB.Model(&models.Scanner{}).Where("id = ?", id).Update("last_seen", at).Error; err != nil {
		return fmt.Errorf("scanner: seen %s: %w", id, err)
	}
	return nil
}

// Label returns the display name of a scanner, falling back to its id.
func Label(gormDB *gorm.DB, id string) string {
	if id == "" {
		return ""
	}
	s, err := Get(gormDB, id)
	if err != nil || s == nil || s.Name == "" {
		return id
	}
	return s.Name
}

// Live returns how many of ids were seen within window of now.
func Live(gormDB *gorm.DB, ids []string, window time.Duration, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var n int64
	err := gormDB.Model(&models.Scanner{}).
		Where("id IN ? AND last_seen >= ?", ids, now.Add(-window)).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("scanner: count live: %w", err)
	}
	return n, nil
}

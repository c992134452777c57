// Package size manages the registry of size codes printed on barcodes.
package size

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/zulandar/bolttrack/internal/apperr"
	"github.com/zulandar/bolttrack/internal/barcode"
	"github.com/zulandar/bolttrack/internal/db"
	"github.com/zulandar/bolttrack/internal/models"
	"gorm.io/gorm"
)

// List returns the registered sizes ordered by code.
func List(gormDB *gorm.DB) ([]models.Size, error) {
	var out []models.Size
	if err := gormDB.Order("code ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("size: list: %w", err)
	}
	return out, nil
}

// Add registers a size code.
func Add(gormDB *gorm.DB, code string) (*models.Size, error) {
	code = strings.TrimSpace(code)
	if !barcode.ValidSize(code) {
		return nil, apperr.Validation("invalid size %q: letters and digits only", code)
	}
	s := models.Size{Code: code}
	if err := gormDB.Create(&s).Error; err != nil {
		if db.IsDuplicate(err) {
			return nil, apperr.ConflictWrap(err, "size %s already exists", code)
		}
		return nil, apperr.Internal(err, "size: add %s", code)
	}
	return &s, nil
}

// Delete removes a size code. Sizes with issued barcodes cannot be removed.
func Delete(gormDB *gorm.DB, code string) error {
	return gormDB.Transaction(func(tx *gorm.DB) error {
		var s models.Size
		if err := tx.Where("code = ?", code).First(&s).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("size not found: %s", code)
			}
			return apperr.Internal(err, "size: get %s", code)
		}
		var issued int64
		if err := tx.Model(&models.Barcode{}).Where("size = ?", code).Count(&issued).Error; err != nil {
			return apperr.Internal(err, "size: count barcodes for %s", code)
		}
		if issued > 0 {
			return apperr.Conflict("size %s has %d issued barcodes and cannot be deleted", code, issued)
		}
		if err := tx.Where("code = ?", code).Delete(&models.Size{}).Error; err != nil {
			return apperr.Internal(err, "size: delete %s", code)
		}
		return nil
	})
}

// Stats counts issued barcodes and stocked rolls for one size.
type Stats struct {
	Size      string `json:"size"`
	Generated int64  `json:"generated"`
	InStock   int64  `json:"in_stock"`
	OutStock  int64  `json:"out_stock"`
}

// AllStats returns Stats for every registered size plus any size that has
// barcodes or rolls without being registered.
func AllStats(gormDB *gorm.DB) ([]Stats, error) {
	bySize := make(map[string]*Stats)
	get := func(code string) *Stats {
		s, ok := bySize[code]
		if !ok {
			s = &Stats{Size: code}
			bySize[code] = s
		}
		return s
	}

	sizes, err := List(gormDB)
	if err != nil {
		return nil, err
	}
	for _, s := range sizes {
		get(s.Code)
	}

	var generated []struct {
		Size  string
		Count int64
	}
	if err := gormDB.Model(&models.Barcode{}).Select("size, COUNT(*) AS count").Group("size").Scan(&generated).Error; err != nil {
		return nil, fmt.Errorf("size: count generated: %w", err)
	}
	for _, g := range generated {
		get(g.Size).Generated = g.Count
	}

	var rolls []struct {
		Barcode string
		Status  string
	}
	if err := gormDB.Model(&models.Roll{}).Select("barcode, status").Scan(&rolls).Error; err != nil {
		return nil, fmt.Errorf("size: read rolls: %w", err)
	}
	for _, r := range rolls {
		c, err := barcode.Parse(r.Barcode)
		if err != nil {
			continue
		}
		s := get(c.Size)
		if r.Status == models.StatusIn {
			s.InStock++
		} else {
			s.OutStock++
		}
	}

	out := make([]Stats, 0, len(bySize))
	for _, s := range bySize {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Size < out[j].Size })
	return out, nil
}

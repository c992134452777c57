// Package employee manages the operators whose names are snapshotted onto
// roll history.
package employee

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zulandar/bolttrack/internal/apperr"
	"github.com/zulandar/bolttrack/internal/db"
	"github.com/zulandar/bolttrack/internal/models"
	"gorm.io/gorm"
)

// GenerateID returns the next employee id after the highest existing
// E-number, formatted E001, E002 and so on.
func GenerateID(gormDB *gorm.DB) (string, error) {
	var ids []string
	if err := gormDB.Model(&models.Employee{}).Where("employee_id LIKE ?", "E%").Pluck("employee_id", &ids).Error; err != nil {
		return "", fmt.Errorf("employee: generate id: %w", err)
	}
	max := 0
	for _, id := range ids {
		n, err := strconv.Atoi(strings.TrimPrefix(id, "E"))
		if err == nil && n > max {
			max = n
		}
	}
	return fmt.Sprintf("E%03d", max+1), nil
}

// Add creates an ACTIVE employee with a generated id.
func Add(gormDB *gorm.DB, name string) (*models.Employee, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("employee name is required")
	}
	for attempt := 0; attempt < 3; attempt++ {
		id, err := GenerateID(gormDB)
		if err != nil {
			return nil, apperr.Internal(err, "employee: add")
		}
		e := models.Employee{EmployeeID: id, Name: name, Status: models.EmployeeActive}
		err = gormDB.Create(&e).Error
		if err == nil {
			return &e, nil
		}
		if !db.IsDuplicate(err) {
			return nil, apperr.Internal(err, "employee: add %s", name)
		}
	}
	return nil, apperr.Conflict("could not allocate an employee id, retry")
}

// Get returns the employee with the given id.
func Get(gormDB *gorm.DB, employeeID string) (*models.Employee, error) {
	var e models.Employee
	if err := gormDB.Where("employee_id = ?", employeeID).First(&e).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("employee not found: %s", employeeID)
		}
		return nil, apperr.Internal(err, "employee: get %s", employeeID)
	}
	return &e, nil
}

// List returns employees, most recently active first.
func List(gormDB *gorm.DB) ([]models.Employee, error) {
	var out []models.Employee
	err := gormDB.Order("CASE WHEN last_active IS NULL THEN 1 ELSE 0 END, last_active DESC, employee_id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("employee: list: %w", err)
	}
	return out, nil
}

// Terminate marks the employee TERMINATED. History snapshots are kept.
func Terminate(gormDB *gorm.DB, employeeID string) error {
	result := gormDB.Model(&models.Employee{}).Where("employee_id = ?", employeeID).
		Update("status", models.EmployeeTerminated)
	if result.Error != nil {
		return apperr.Internal(result.Error, "employee: terminate %s", employeeID)
	}
	if result.RowsAffected == 0 {
		return apperr.NotFound("employee not found: %s", employeeID)
	}
	return nil
}

// Touch stamps the employee's last activity and, when label is non-empty,
// the scanner they last used. Unknown employees are ignored.
func Touch(gormDB *gorm.DB, employeeID, label string, at time.Time) error {
	updates := map[string]interface{}{"last_active": at}
	if label != "" {
		updates["last_scanner"] = label
	}
	err := gormDB.Model(&models.Employee{}).Where("employee_id = ?", employeeID).Updates(updates).Error
	if err != nil {
		return fmt.Errorf("employee: touch %s: %w", employeeID, err)
	}
	return nil
}

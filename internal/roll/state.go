package roll

import (
	"errors"
	"fmt"

	"github.com/zulandar/bolttrack/internal/apperr"
	"github.com/zulandar/bolttrack/internal/models"
	"gorm.io/gorm"
)

// State is the lifecycle state of a barcode. Absent means no roll record
// exists.
type State int

const (
	Absent State = iota
	In
	Out
)

func (s State) String() string {
	switch s {
	case In:
		return models.StatusIn
	case Out:
		return models.StatusOut
	default:
		return "ABSENT"
	}
}

// Op is a scanner transaction.
type Op int

const (
	OpStockIn Op = iota
	OpStockOut
)

func (o Op) String() string {
	if o == OpStockOut {
		return "stock-out"
	}
	return "stock-in"
}

// rule is one cell of the transition table. A nil reject means the
// transition is allowed.
type rule struct {
	next   State
	reject func(code string) error
}

// transitions is total over State x Op.
var transitions = map[State]map[Op]rule{
	Absent: {
		OpStockIn:  {next: In},
		OpStockOut: {reject: func(code string) error { return apperr.NotFound("roll not found: %s", code) }},
	},
	In: {
		OpStockIn:  {reject: func(code string) error { return apperr.Conflict("roll %s already exists in stock", code) }},
		OpStockOut: {next: Out},
	},
	Out: {
		OpStockIn:  {next: In},
		OpStockOut: {reject: func(code string) error { return apperr.Conflict("roll %s is already checked out", code) }},
	},
}

// Next returns the state reached by applying op in state from, or the
// categorized rejection.
func Next(from State, op Op, code string) (State, error) {
	r, ok := transitions[from][op]
	if !ok {
		return from, apperr.Internal(fmt.Errorf("no rule for %s in %s", op, from), "roll: transition")
	}
	if r.reject != nil {
		return from, r.reject(code)
	}
	return r.next, nil
}

// StateOf maps a stored status to a State.
func StateOf(status string) State {
	switch status {
	case models.StatusIn:
		return In
	case models.StatusOut:
		return Out
	default:
		return Absent
	}
}

// Lookup resolves the current state of code. The roll is nil when Absent.
func Lookup(gormDB *gorm.DB, code string) (State, *models.Roll, error) {
	var r models.Roll
	if err := gormDB.Where("barcode = ?", code).First(&r).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Absent, nil, nil
		}
		return Absent, nil, fmt.Errorf("roll: lookup %s: %w", code, err)
	}
	return StateOf(r.Status), &r, nil
}

// Package dbtypes holds column types shared by the gorm models.
package dbtypes

import (
	"database/sql/driver"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// UUIDArray keeps ids in order as a Postgres uuid[]. SQLite stores the same array literal as text.
type UUIDArray []uuid.UUID

func (UUIDArray) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "uuid[]"
	}
	return "text"
}

func (a *UUIDArray) Scan(src any) error {
	var literal pq.StringArray
	if err := literal.Scan(src); err != nil {
		return fmt.Errorf("scan uuid array: %w", err)
	}
	ids := make(UUIDArray, len(literal))
	for i, raw := range literal {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("scan uuid array element %d: %w", i, err)
		}
		ids[i] = id
	}
	*a = ids
	return nil
}

// Value never writes NULL; the column is NOT NULL and an empty set is "{}".
func (a UUIDArray) Value() (driver.Value, error) {
	literal := make(pq.StringArray, len(a))
	for i, id := range a {
		literal[i] = id.String()
	}
	return literal.Value()
}

func (a UUIDArray) Contains(id uuid.UUID) bool {
	return slices.Contains(a, id)
}

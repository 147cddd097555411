package orders

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewOrderNumber returns a human-readable order number such as ORD-20260114-9F2C1A.
func NewOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:6]
	return "ORD-" + now.UTC().Format("20060102") + "-" + suffix
}

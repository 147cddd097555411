package ledger

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewTransactionID returns an internal reference of the form TXN-YYYYMMDD-XXXXXXXXXXXX.
func NewTransactionID(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:12]
	return "TXN-" + now.UTC().Format("20060102") + "-" + suffix
}

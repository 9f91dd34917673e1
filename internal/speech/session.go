package speech

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewSessionID returns an identifier of the form SOAP-<base36 millis>-<5 chars>.
func NewSessionID(now time.Time) string {
	millis := strconv.FormatInt(now.UnixMilli(), 36)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:5]
	return "SOAP-" + strings.ToUpper(millis) + "-" + strings.ToUpper(suffix)
}

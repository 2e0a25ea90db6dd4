package sqlstore

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// TimeLayout is the textual form of every temporal value leaving the service.
const TimeLayout = "2006-01-02 15:04:05"

// normalizeValue converts a scanned driver value into a form that survives
// JSON encoding and reads well in a prompt. dbType is the column's
// DatabaseTypeName.
func normalizeValue(v any, dbType string) any {
	switch x := v.(type) {
	case nil:
		return nil
	case time.Time:
		return x.Format(TimeLayout)
	case time.Duration:
		return x.String()
	case []byte:
		switch strings.ToUpper(dbType) {
		case "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY":
			return string(x)
		case "UNIQUEIDENTIFIER":
			if len(x) == 16 {
				return formatGUID(x)
			}
		}
		return base64.StdEncoding.EncodeToString(x)
	default:
		return v
	}
}

// formatGUID renders SQL Server's uniqueidentifier bytes. The first three
// groups are stored little-endian.
func formatGUID(b []byte) string {
	return fmt.Sprintf("%02X%02X%02X%02X-%02X%02X-%02X%02X-%02X%02X-%02X%02X%02X%02X%02X%02X",
		b[3], b[2], b[1], b[0],
		b[5], b[4],
		b[7], b[6],
		b[8], b[9],
		b[10], b[11], b[12], b[13], b[14], b[15])
}

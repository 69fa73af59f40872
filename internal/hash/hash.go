package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// DigestLen is the length of a hex encoded SHA-256 digest.
const DigestLen = sha256.Size * 2

// TimestampLayout must stay byte-identical to the database side formatting:
// PostgreSQL to_char(ts AT TIME ZONE 'UTC', 'YYYY.MM.DD HH24:MI:SS') and
// SQLite strftime('%Y.%m.%d %H:%M:%S', ts). Fractional seconds are dropped.
const TimestampLayout = "2006.01.02 15:04:05"

// Genesis is the prior hash of the first row of every chain.
var Genesis = strings.Repeat("0", DigestLen)

func CalculateString(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

func FormatTimestamp(ts time.Time) string {
	return ts.UTC().Format(TimestampLayout)
}

// IsDigest reports whether s is a lowercase hex SHA-256 digest.
func IsDigest(s string) bool {
	if len(s) != DigestLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// NoneFmt renders an optional value the way SQL renders NULL inside a
// formatted string: absent values become "", present values print bare.
func NoneFmt[T any](v *T) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(*v)
}

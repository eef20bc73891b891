// Package validationutils holds small, reusable field-validation helpers
// shared by every record type under pkg/ledgertypes: string length/charset
// checks, UUID and URL format checks, enum range checks, and timestamp
// sanity checks. Each helper returns a plain error wrapping one of
// internal/nexuserrors' sentinels so callers can errors.Is against a
// specific failure kind.
package validationutils

import (
	"fmt"
	"net/url"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/veilledger/veilledger/internal/nexuserrors"
)

// Timestamp mirrors the (seconds, nanos) shape of protobuf's
// well-known Timestamp type without depending on the protobuf runtime —
// callers construct one from a time.Time at the boundary.
type Timestamp struct {
	Seconds int64
	Nanos   int32
}

// IsZero reports whether ts represents the protobuf zero timestamp.
func (ts *Timestamp) IsZero() bool {
	return ts == nil || (ts.Seconds == 0 && ts.Nanos == 0)
}

// Time converts ts to a time.Time in UTC.
func (ts *Timestamp) Time() time.Time {
	if ts == nil {
		return time.Time{}
	}
	return time.Unix(ts.Seconds, int64(ts.Nanos)).UTC()
}

// IsValidUUID reports whether id parses as an RFC 4122 UUID of any version,
// including the all-zero nil UUID (a valid format, just a reserved value).
func IsValidUUID(id string) bool {
	if id == "" {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// IsValidURL reports whether urlStr is a well-formed absolute URL whose
// scheme is in allowedSchemes (or http/https when allowedSchemes is nil).
// An empty urlStr is considered valid — callers treat the field as
// optional and check emptiness separately when it's required.
func IsValidURL(urlStr string, allowedSchemes []string) bool {
	if urlStr == "" {
		return true
	}
	parsed, err := url.ParseRequestURI(urlStr)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return false
	}
	schemes := allowedSchemes
	if len(schemes) == 0 {
		schemes = []string{"http", "https"}
	}
	for _, s := range schemes {
		if parsed.Scheme == s {
			return true
		}
	}
	return false
}

// CheckStringLength validates that len(s) falls within [minLen, maxLen].
// maxLen <= 0 means "no upper bound".
func CheckStringLength(s, fieldName string, minLen, maxLen int) error {
	if len(s) < minLen {
		return fmt.Errorf("%s: %w (min %d, got %d)", fieldName, nexuserrors.ErrStringTooShort, minLen, len(s))
	}
	if maxLen > 0 && len(s) > maxLen {
		return fmt.Errorf("%s: %w (max %d, got %d)", fieldName, nexuserrors.ErrStringTooLong, maxLen, len(s))
	}
	return nil
}

// CheckAllowedChars validates that s fully matches pattern.
func CheckAllowedChars(s, fieldName string, pattern *regexp.Regexp) error {
	if !pattern.MatchString(s) {
		return fmt.Errorf("%s: %w", fieldName, nexuserrors.ErrInvalidCharacters)
	}
	return nil
}

// CheckEnumValue validates that val is a known, non-"unspecified" entry of
// enumNameMap.
func CheckEnumValue[T ~int32](val T, enumNameMap map[int32]string, fieldName string, unspecifiedValue T, enumTypeName string) error {
	if val == unspecifiedValue {
		return fmt.Errorf("%s: %w (%s unspecified)", fieldName, nexuserrors.ErrUnknownEnumValue, enumTypeName)
	}
	if _, ok := enumNameMap[int32(val)]; !ok {
		return fmt.Errorf("%s: %w (%s value %d not recognised)", fieldName, nexuserrors.ErrUnknownEnumValue, enumTypeName, val)
	}
	return nil
}

// CheckTimestamp validates ts against epoch (the earliest acceptable
// value) and, unless allowFuture, against wall-clock now. When allowFuture
// is true, ts may lie up to futureLimit ahead of now.
func CheckTimestamp(ts *Timestamp, fieldName string, epoch int64, allowFuture bool, futureLimit time.Duration) error {
	if ts == nil {
		return fmt.Errorf("%s: %w", fieldName, nexuserrors.ErrMissingField)
	}
	if ts.IsZero() {
		return fmt.Errorf("%s: %w (zero timestamp)", fieldName, nexuserrors.ErrInvalidTimestamp)
	}
	if ts.Seconds < epoch {
		return fmt.Errorf("%s: %w (before epoch %d)", fieldName, nexuserrors.ErrInvalidTimestamp, epoch)
	}
	now := time.Now()
	t := ts.Time()
	if allowFuture {
		if t.After(now.Add(futureLimit)) {
			return fmt.Errorf("%s: %w (exceeds future limit %s)", fieldName, nexuserrors.ErrInvalidTimestamp, futureLimit)
		}
	} else if t.After(now) {
		return fmt.Errorf("%s: %w (in the future)", fieldName, nexuserrors.ErrInvalidTimestamp)
	}
	return nil
}

// CheckLogicalTimestampOrder validates that t2 is not before t1. Either
// timestamp being nil is not this function's concern — individual
// CheckTimestamp calls on each field surface that separately.
func CheckLogicalTimestampOrder(t1, t2 *Timestamp, fieldName1, fieldName2 string) error {
	if t1 == nil || t2 == nil {
		return nil
	}
	if t2.Time().Before(t1.Time()) {
		return fmt.Errorf("%s: %w (%s is before %s)", fieldName2, nexuserrors.ErrInvalidTimestamp, fieldName2, fieldName1)
	}
	return nil
}

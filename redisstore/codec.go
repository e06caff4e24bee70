package redisstore

import (
	"errors"
	"strconv"
	"time"

	"github.com/MrEthical07/authcore/refresh"
)

const (
	fieldUser       = "user"
	fieldHash       = "hash"
	fieldExpires    = "exp"
	fieldCreated    = "created"
	fieldRevoked    = "revoked"
	fieldReplacedBy = "replaced_by"
)

// ErrCorrupt is returned when a stored hash cannot be decoded.
var ErrCorrupt = errors.New("redisstore: corrupt record")

func encode(rec refresh.Record) map[string]any {
	fields := map[string]any{
		fieldUser:    rec.UserID,
		fieldHash:    rec.TokenHash,
		fieldExpires: strconv.FormatInt(rec.ExpiresAt.UnixNano(), 10),
		fieldCreated: strconv.FormatInt(rec.CreatedAt.UnixNano(), 10),
	}
	if rec.RevokedAt != nil {
		fields[fieldRevoked] = strconv.FormatInt(rec.RevokedAt.UnixNano(), 10)
	}
	if rec.ReplacedBy != "" {
		fields[fieldReplacedBy] = rec.ReplacedBy
	}
	return fields
}

// decode returns ok=false for an empty hash, which is how Redis reports a
// missing key.
func decode(id string, fields map[string]string) (refresh.Record, bool, error) {
	if len(fields) == 0 {
		return refresh.Record{}, false, nil
	}

	rec := refresh.Record{
		ID:         id,
		UserID:     fields[fieldUser],
		TokenHash:  fields[fieldHash],
		ReplacedBy: fields[fieldReplacedBy],
	}
	if rec.UserID == "" || rec.TokenHash == "" {
		return refresh.Record{}, false, ErrCorrupt
	}

	var err error
	if rec.ExpiresAt, err = parseTime(fields[fieldExpires]); err != nil {
		return refresh.Record{}, false, err
	}
	if rec.CreatedAt, err = parseTime(fields[fieldCreated]); err != nil {
		return refresh.Record{}, false, err
	}
	if raw, ok := fields[fieldRevoked]; ok {
		at, err := parseTime(raw)
		if err != nil {
			return refresh.Record{}, false, err
		}
		rec.RevokedAt = &at
	}
	return rec, true, nil
}

func parseTime(raw string) (time.Time, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, ErrCorrupt
	}
	return time.Unix(0, n).UTC(), nil
}

package mailbox

import (
	"strconv"
	"strings"
	"time"
)

// Cursors are opaque to the rest of gigdesk. Each protocol prefixes its own
// so that an inbox switched to another protocol starts over instead of
// misreading a foreign cursor.

func formatIMAPCursor(uidValidity, uid uint32) string {
	return "imap:" + strconv.FormatUint(uint64(uidValidity), 10) + ":" + strconv.FormatUint(uint64(uid), 10)
}

func parseIMAPCursor(cursor string) (uidValidity, uid uint32, ok bool) {
	parts := strings.Split(cursor, ":")
	if len(parts) != 3 || parts[0] != "imap" {
		return 0, 0, false
	}
	v, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, false
	}
	u, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return 0, 0, false
	}
	return uint32(v), uint32(u), true
}

func formatInt64Cursor(prefix string, value int64) string {
	return prefix + ":" + strconv.FormatInt(value, 10)
}

// A position cursor names the last delivered message by timestamp and id,
// so a batch cut inside a group of equal timestamps resumes at the next id.
// A bare "prefix:value" cursor reads as a position before every id.
func formatPositionCursor(prefix string, value int64, id string) string {
	return formatInt64Cursor(prefix, value) + ":" + id
}

func parsePositionCursor(prefix, cursor string) (value int64, id string, ok bool) {
	rest, found := strings.CutPrefix(cursor, prefix+":")
	if !found {
		return 0, "", false
	}
	num, id, _ := strings.Cut(rest, ":")
	value, err := strconv.ParseInt(num, 10, 64)
	if err != nil || value < 0 {
		return 0, "", false
	}
	return value, id, true
}

// positionAfter reports whether (value, id) sorts strictly after the position.
func positionAfter(value int64, id string, afterValue int64, afterID string) bool {
	if value != afterValue {
		return value > afterValue
	}
	return id > afterID
}

func millisToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

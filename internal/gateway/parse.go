package gateway

import (
	"strconv"
	"strings"
	"time"
)

// snapshotFromMap reads a /ip/hotspot/active row. Both transports return the same attribute names.
func snapshotFromMap(m map[string]string) SessionSnapshot {
	return SessionSnapshot{
		ExternalID: m[".id"],
		Identity:   m["user"],
		Address:    m["address"],
		MACAddress: m["mac-address"],
		BytesIn:    parseCounter(m["bytes-in"]),
		BytesOut:   parseCounter(m["bytes-out"]),
		Uptime:     parseUptime(m["uptime"]),
	}
}

func credentialFromMap(m map[string]string) *Credential {
	shared, _ := strconv.Atoi(m["shared-users"])
	return &Credential{
		ExternalRef: m[".id"],
		Name:        m["name"],
		Profile:     m["profile"],
		LimitUptime: m["limit-uptime"],
		SharedUsers: shared,
		Comment:     m["comment"],
		Disabled:    parseBool(m["disabled"]),
	}
}

func parseCounter(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes":
		return true
	}
	return false
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// parseUptime parses RouterOS durations such as "1w2d03:04:05", "3h12m5s" or "00:10:00".
// Unparseable input yields 0.
func parseUptime(s string) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	var total time.Duration
	var num int64
	digits := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch >= '0' && ch <= '9':
			num = num*10 + int64(ch-'0')
			digits = true
		case ch == 'w' || ch == 'd' || ch == 'h' || ch == 'm' || ch == 's':
			if !digits {
				return 0
			}
			total += time.Duration(num) * uptimeUnit(ch)
			num, digits = 0, false
		case ch == ':':
			return total + parseClock(s[i-clockPrefixLen(s[:i]):])
		default:
			return 0
		}
	}
	if digits {
		total += time.Duration(num) * time.Second
	}
	return total
}

func uptimeUnit(ch byte) time.Duration {
	switch ch {
	case 'w':
		return 7 * 24 * time.Hour
	case 'd':
		return 24 * time.Hour
	case 'h':
		return time.Hour
	case 'm':
		return time.Minute
	}
	return time.Second
}

// clockPrefixLen returns how many trailing digits of s belong to an hh:mm:ss clock.
func clockPrefixLen(s string) int {
	n := 0
	for n < len(s) && s[len(s)-1-n] >= '0' && s[len(s)-1-n] <= '9' {
		n++
	}
	return n
}

func parseClock(s string) time.Duration {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0
	}
	var d time.Duration
	units := []time.Duration{time.Hour, time.Minute, time.Second}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0
		}
		d += time.Duration(n) * units[i]
	}
	return d
}

package libbento

import (
	"strconv"
	"strings"

	"github.com/docker/go-units"
)

// ParseSize parses a cgroup resource value: the literal string "max", or a
// byte count optionally suffixed with K/k, M/m, or G/g for powers of 1024.
// It returns (value, isMax).
func ParseSize(s string) (int64, bool, error) {
	s = strings.TrimSpace(s)
	if s == "max" {
		return 0, true, nil
	}
	v, err := units.RAMInBytes(s)
	if err != nil {
		return 0, false, newErr("parse-size", KindConfigInvalid, "", err)
	}
	return v, false, nil
}

// FormatSize renders a byte count back into the cgroup file's canonical
// decimal form, or "max".
func FormatSize(v int64, isMax bool) string {
	if isMax {
		return "max"
	}
	return strconv.FormatInt(v, 10)
}

package block

import (
	"regexp"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

var portalNames = mapset.NewSet(
	"PORTAL_VISIBLE_DOWN",
	"PORTAL_VISIBLE_LEFT",
	"PORTAL_VISIBLE_RIGHT",
	"PORTAL_VISIBLE_UP",
	"PORTAL_INVISIBLE_DOWN",
	"PORTAL_INVISIBLE_LEFT",
	"PORTAL_INVISIBLE_RIGHT",
	"PORTAL_INVISIBLE_UP",
)

// IsPortal reports whether name is one of the directional portal kinds.
// Names are compared case-insensitively.
func IsPortal(name string) bool {
	return portalNames.Contains(strings.ToUpper(name))
}

var portalIDPattern = regexp.MustCompile(`^\d{1,5}$`)

// PortalIDToNumber parses a portal id typed by a player: one to five digits
// with no leading zeros.
func PortalIDToNumber(s string) (int, bool) {
	if !portalIDPattern.MatchString(s) {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || strconv.Itoa(n) != s {
		return 0, false
	}
	return n, true
}

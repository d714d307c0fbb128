package cloud

import (
	"fmt"
	"strings"
)

// prefixVersion is one entry of a longest-prefix-match API-version table.
type prefixVersion struct {
	prefix  string
	version string
}

// defaultAPIVersion is used when no prefix in the active profile matches.
const defaultAPIVersion = "2021-04-01"

// haAPIVersions and stackAPIVersions are the two profiles §6 documents,
// selected by templateName. Table order does not affect the result:
// ResolveAPIVersion always picks the longest matching prefix (so
// network/virtualnetworks wins over network/); the table is kept in the same
// order as the spec for readability.
var haAPIVersions = []prefixVersion{
	{"network/", "2024-05-01"},
	{"compute/", "2019-07-01"},
	{"resources/", defaultAPIVersion},
}

var stackAPIVersions = []prefixVersion{
	{"network/virtualnetworks", "2024-05-01"},
	{"network/", "2024-05-01"},
	{"compute/", "2019-07-01"},
	{"resources/", defaultAPIVersion},
}

// ResolveAPIVersion picks the API version for resourceID by longest-prefix
// match of its resource-type segment (case-insensitive) against the active
// profile, selected by isStackProfile. It returns defaultAPIVersion when
// nothing matches.
func ResolveAPIVersion(resourceID string, isStackProfile bool) string {
	table := haAPIVersions
	if isStackProfile {
		table = stackAPIVersions
	}

	segment := resourceTypeSegment(resourceID)

	best := ""
	version := defaultAPIVersion
	for _, pv := range table {
		if strings.HasPrefix(segment, pv.prefix) && len(pv.prefix) > len(best) {
			best = pv.prefix
			version = pv.version
		}
	}
	return version
}

// resourceTypeSegment extracts the lower-cased "providers/<type>/..." tail of
// an ARM resource id, e.g. "/subscriptions/x/resourcegroups/y/providers/
// Microsoft.Network/networkInterfaces/eth0" -> "network/networkinterfaces/eth0".
func resourceTypeSegment(resourceID string) string {
	lower := strings.ToLower(resourceID)
	const marker = "providers/microsoft."
	idx := strings.Index(lower, marker)
	if idx < 0 {
		return lower
	}
	return lower[idx+len(marker):]
}

// WithAPIVersion appends the resolved ?api-version=<v> query parameter to a
// resource id, as §4.2 specifies.
func WithAPIVersion(resourceID string, isStackProfile bool) string {
	return fmt.Sprintf("%s?api-version=%s", resourceID, ResolveAPIVersion(resourceID, isStackProfile))
}

package depopt

import (
	"sort"
	"strconv"
	"strings"

	"github.com/OneOfOne/xxhash"
)

// hashStrings xxhashes the '\x00'-joined input strings, matching the
// teacher's use of xxhash for cheap content hashing throughout cmn/cos.
// Returned as a hex string, the conventional browser_hash/file_hash shape.
func hashStrings(parts ...string) string {
	h := xxhash.New64()
	for _, p := range parts {
		h.WriteString(p)
		h.WriteString("\x00")
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// hashBytes xxhashes a raw byte slice, used for FileHash over bundled
// file contents.
func hashBytes(b []byte) string {
	h := xxhash.New64()
	h.Write(b)
	return strconv.FormatUint(h.Sum64(), 16)
}

// computeBrowserHash implements spec.md 4.3 step 3's formula:
// hash(metadata.hash . serialize(optimized_ids) . serialize(discovered_ids) . session_timestamp)
func computeBrowserHash(configHash string, optimizedIDs, discoveredIDs []string, sessionToken string) string {
	sort.Strings(optimizedIDs)
	sort.Strings(discoveredIDs)
	return hashStrings(configHash, strings.Join(optimizedIDs, ","), strings.Join(discoveredIDs, ","), sessionToken)
}

// computeConfigHash hashes the identity inputs (config + lockfile
// contents) a caller supplies; the optimizer itself is agnostic to what
// constitutes "config identity" -- spec.md says only that it is "a hash
// of the configuration + lockfile identity."
func computeConfigHash(identityParts ...string) string {
	return hashStrings(identityParts...)
}

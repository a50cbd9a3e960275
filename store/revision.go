package store

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// generation returns the numeric prefix of a "N-hash" revision, or 0.
func generation(rev string) int {
	n, _, ok := strings.Cut(rev, "-")
	if !ok {
		return 0
	}
	g, err := strconv.Atoi(n)
	if err != nil {
		return 0
	}
	return g
}

// nextRevision derives the revision that follows prev for the given body.
// The hash covers the previous revision so identical bodies written twice
// still get distinct tokens.
func nextRevision(prev string, body Document, deleted bool) string {
	h := sha1.New()
	h.Write([]byte(prev))
	if deleted {
		h.Write([]byte{0})
	}
	b, _ := json.Marshal(body)
	h.Write(b)
	return fmt.Sprintf("%d-%s", generation(prev)+1, hex.EncodeToString(h.Sum(nil))[:32])
}

// newDocID returns a CouchDB-style 32 character identifier.
func newDocID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

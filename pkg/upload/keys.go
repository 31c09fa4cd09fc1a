package upload

import (
	"fmt"
	"math/rand"
	"mime"
	"strings"
	"time"

	"github.com/tidestore/tidestore/pkg/model"
)

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewStorageKey generates an opaque blob key:
// <userId>_<unixMillis>_<base36-6-char-random><.ext>.
func NewStorageKey(userID, originalName string) string {
	random := make([]byte, 6)
	for i := range random {
		random[i] = base36[rand.Intn(len(base36))]
	}
	return fmt.Sprintf("%s_%d_%s%s", userID, time.Now().UnixMilli(), random, extensionOf(originalName))
}

// InitialTier returns the tier for newly assembled files. It always returns
// hot today; the userID parameter is reserved for per-user tier policy.
func InitialTier(userID string) model.StorageTier {
	return model.TierHot
}

// ResolveMimeType picks the declared type, falling back to the filename
// extension, then to application/octet-stream.
func ResolveMimeType(declared, filename string) string {
	if declared != "" {
		return declared
	}
	if ext := extensionOf(filename); ext != "" {
		if t := mime.TypeByExtension(ext); t != "" {
			// Strip parameters like "; charset=utf-8"
			if i := strings.IndexByte(t, ';'); i >= 0 {
				t = t[:i]
			}
			return strings.TrimSpace(t)
		}
	}
	return "application/octet-stream"
}

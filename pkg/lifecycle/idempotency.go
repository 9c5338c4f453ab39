package lifecycle

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
)

// idempotencyToken derives a stable token for one logical submission:
// identical content with the same nonce always yields the same token,
// so retries (network hiccups, impatient clients) deduplicate instead
// of double-charging. A different nonce is a deliberate new run.
func idempotencyToken(r *AnalysisRequest) (string, error) {
	h := sha256.New()
	fmt.Fprintf(h, "target=%s\n", r.TargetColumn)
	fmt.Fprintf(h, "depth=%d\n", r.DepthIterations)
	fmt.Fprintf(h, "visibility=%s\n", r.Visibility)
	fmt.Fprintf(h, "nonce=%s\n", r.Nonce)

	names := make([]string, 0, len(r.ColumnDescriptions))
	for name := range r.ColumnDescriptions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(h, "col=%s:%s\n", name, r.ColumnDescriptions[name])
	}

	f, err := os.Open(r.FilePath)
	if err != nil {
		return "", fmt.Errorf("open dataset for hashing: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash dataset: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// shortToken truncates a token for log lines.
func shortToken(token string) string {
	if len(token) <= 12 {
		return token
	}
	return token[:12]
}

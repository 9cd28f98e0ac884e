package reporthash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"agentpact/pkg/domain"
)

// CanonicalSHA256 hashes the json.Marshal bytes of v with SHA-256. Audit
// reference checksums and signing payloads both use this form, so the
// two sides of a verification always hash identical bytes.
func CanonicalSHA256(v any) (hexHash string, raw []byte, err error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), b, nil
}

// ReportHash derives the integrity hash stored alongside a settlement
// report: a fixed header plus one line per deliverable result and
// applied penalty, in report order.
func ReportHash(r domain.SettlementReport) string {
	var b strings.Builder
	b.WriteString(r.ContractID)
	b.WriteString("\n")
	fmt.Fprintf(&b, "%.9f\n%.9f\n", r.PerformanceScore, r.RewardsReleased)
	for _, d := range r.Deliverables {
		fmt.Fprintf(&b, "%s:%s:%.9f\n", d.Name, d.Status, d.FulfillmentRate)
	}
	for _, p := range r.Penalties {
		fmt.Fprintf(&b, "%s:%.9f\n", p.ViolationType, p.Amount)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

package upstream

import (
	"github.com/tidwall/gjson"
)

// extractProjectID reads cloudaicompanionProject from a loadCodeAssist body.
func extractProjectID(body []byte) string {
	return gjson.GetBytes(body, "cloudaicompanionProject").String()
}

// extractEmail reads the email field from a userinfo response body.
func extractEmail(body []byte) string {
	return gjson.GetBytes(body, "email").String()
}

// HasPaidTierMarker reports whether the raw loadCodeAssist body contains
// the literal "paidTier" marker, used to decide whether a project id may be
// synthesized when the upstream did not return one.
func HasPaidTierMarker(body []byte) bool {
	return gjson.GetBytes(body, "paidTier").Exists()
}

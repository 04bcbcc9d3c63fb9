package pressreader

import (
	"fmt"
	"strings"
)

// issueNumberSuffix is the fixed trailer the upstream appends to the
// publication id + date when addressing a single issue.
const issueNumberSuffix = "00000000001001"

// IssueNumber encodes a publication's external id and an issue date
// (YYYYMMDD) into the opaque key the upstream uses to address the issue.
func IssueNumber(issueID, issueDate string) string {
	return issueID + issueDate + issueNumberSuffix
}

// SplitIssueNumber recovers the publication id and issue date from an encoded
// issue number.
func SplitIssueNumber(issueNumber string) (issueID, issueDate string, err error) {
	trimmed := strings.TrimSuffix(issueNumber, issueNumberSuffix)
	if trimmed == issueNumber || len(trimmed) <= len("20060102") {
		return "", "", fmt.Errorf("malformed issue number %q", issueNumber)
	}
	split := len(trimmed) - len("20060102")
	return trimmed[:split], trimmed[split:], nil
}

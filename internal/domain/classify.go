package domain

import (
	"regexp"
	"strings"
)

// ErrorClass decides retry behavior for a failed automation attempt.
type ErrorClass string

const (
	ErrorRetryable ErrorClass = "retryable"
	ErrorFatal     ErrorClass = "fatal"
	ErrorUnknown   ErrorClass = "unknown"
)

var retryableKeywords = []string{
	"network",
	"timeout",
	"timed out",
	"connection",
	"refused",
	"reset",
	"unreachable",
	"temporarily",
	"dns",
}

var fatalKeywords = []string{
	"auth",
	"credential",
	"unauthorized",
	"forbidden",
	"login",
	"policy",
	"violation",
	"corrupted",
}

// Classify maps a raw failure onto the retry taxonomy by keyword
// matching over the error message. Fatal keywords win over retryable
// ones: an auth failure wrapped in a connection error must not be
// retried against the platform.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorUnknown
	}
	message := strings.ToLower(err.Error())
	for _, keyword := range fatalKeywords {
		if strings.Contains(message, keyword) {
			return ErrorFatal
		}
	}
	for _, keyword := range retryableKeywords {
		if strings.Contains(message, keyword) {
			return ErrorRetryable
		}
	}
	return ErrorUnknown
}

var secretPattern = regexp.MustCompile(`(?i)(token|secret|cookie|password|key)=\S+`)

const maxReasonLength = 120

// RedactReason produces the short, user-facing failure reason that is
// written back to the record store. Known classes map to fixed phrases
// so credentials embedded in driver errors never leak outward.
func RedactReason(err error) string {
	if err == nil {
		return ""
	}
	switch Classify(err) {
	case ErrorFatal:
		message := strings.ToLower(err.Error())
		if strings.Contains(message, "policy") || strings.Contains(message, "violation") {
			return "content rejected by platform policy"
		}
		return "authentication rejected by platform"
	case ErrorRetryable:
		return "transient network failure, retries exhausted"
	}

	reason := secretPattern.ReplaceAllString(err.Error(), "${1}=[redacted]")
	runes := []rune(reason)
	if len(runes) > maxReasonLength {
		reason = string(runes[:maxReasonLength])
	}
	return reason
}

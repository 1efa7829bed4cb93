// Package blocking classifies responses that are anti-bot challenges or
// rate-limit rejections rather than real result pages.
package blocking

import (
	"bytes"
	"net/http"
)

// Challenge-page signatures seen across Cloudflare, Akamai, DataDome,
// PerimeterX and home-grown registry rate limiters. Matched case-insensitively
// against the response body.
var signatures = [][]byte{
	[]byte("cf-browser-verification"),
	[]byte("cf-turnstile"),
	[]byte("attention required! | cloudflare"),
	[]byte("checking your browser"),
	[]byte("datadome"),
	[]byte("px-captcha"),
	[]byte("g-recaptcha"),
	[]byte("h-captcha"),
	[]byte("verify you are human"),
	[]byte("are you a robot"),
	[]byte("unusual traffic"),
	[]byte("access denied"),
	[]byte("request blocked"),
	[]byte("too many requests"),
}

// Classify decides whether a response is a blocking signal. Status 403/429
// always count; otherwise the body is checked against known challenge
// signatures.
func Classify(statusCode int, body []byte) (string, bool) {
	if statusCode == http.StatusForbidden {
		return "http 403", true
	}
	if statusCode == http.StatusTooManyRequests {
		return "http 429", true
	}
	if len(body) == 0 {
		return "", false
	}
	lower := bytes.ToLower(body)
	for _, sig := range signatures {
		if bytes.Contains(lower, sig) {
			return string(sig), true
		}
	}
	return "", false
}

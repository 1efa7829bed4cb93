package browser

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
)

// fingerprint is a coherent browser identity: the user agent, viewport and
// locale are picked together so they do not contradict each other.
type fingerprint struct {
	userAgent string
	platform  string
	width     int64
	height    int64
	timezone  string
	locale    string
}

var fingerprints = []fingerprint{
	{
		userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		platform:  "Win32",
		width:     1920, height: 1080,
		timezone: "America/New_York",
		locale:   "en-US",
	},
	{
		userAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		platform:  "MacIntel",
		width:     1680, height: 1050,
		timezone: "America/Chicago",
		locale:   "en-US",
	},
	{
		userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
		platform:  "Win32",
		width:     1536, height: 864,
		timezone: "America/Denver",
		locale:   "en-US",
	},
	{
		userAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		platform:  "Linux x86_64",
		width:     1600, height: 900,
		timezone: "America/Los_Angeles",
		locale:   "en-US",
	},
}

func randomFingerprint() fingerprint {
	return fingerprints[rand.IntN(len(fingerprints))]
}

// apply installs the fingerprint on the target before navigation so the
// first request already carries it.
func (fp fingerprint) apply() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		ua := emulation.SetUserAgentOverride(fp.userAgent).
			WithPlatform(fp.platform).
			WithAcceptLanguage(fp.locale)
		if err := ua.Do(ctx); err != nil {
			return fmt.Errorf("set user-agent override: %w", err)
		}
		metrics := emulation.SetDeviceMetricsOverride(fp.width, fp.height, 1.0, false)
		if err := metrics.Do(ctx); err != nil {
			return fmt.Errorf("set device metrics: %w", err)
		}
		if err := emulation.SetTimezoneOverride(fp.timezone).Do(ctx); err != nil {
			return fmt.Errorf("set timezone: %w", err)
		}
		if err := emulation.SetLocaleOverride().WithLocale(fp.locale).Do(ctx); err != nil {
			return fmt.Errorf("set locale: %w", err)
		}
		return nil
	})
}

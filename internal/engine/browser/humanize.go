package browser

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

// Human-like pacing. Registries that fingerprint input timing reject
// zero-delay programmatic fills, so every interaction gets jitter.

func typeDelay() time.Duration {
	return time.Duration(50+rand.IntN(100)) * time.Millisecond
}

func settleDelay() time.Duration {
	return time.Duration(200+rand.IntN(400)) * time.Millisecond
}

// typeInto focuses the input and sends the term one rune at a time with a
// randomized inter-key cadence.
func typeInto(sel, text string) []chromedp.Action {
	actions := []chromedp.Action{
		chromedp.WaitVisible(sel, chromedp.ByQuery),
		chromedp.Click(sel, chromedp.ByQuery),
		chromedp.Sleep(settleDelay()),
	}
	for _, r := range text {
		actions = append(actions,
			chromedp.SendKeys(sel, string(r), chromedp.ByQuery),
			chromedp.Sleep(typeDelay()),
		)
	}
	return actions
}

// submitForm either clicks the configured submit control or presses Enter
// in the query input.
func submitForm(queryInput, submit string) []chromedp.Action {
	if submit == "" {
		return []chromedp.Action{
			chromedp.SendKeys(queryInput, kb.Enter, chromedp.ByQuery),
		}
	}
	return []chromedp.Action{
		chromedp.WaitVisible(submit, chromedp.ByQuery),
		chromedp.Sleep(settleDelay()),
		chromedp.Click(submit, chromedp.ByQuery),
	}
}

// applyPresets sets select/checkbox values before the query is typed.
func applyPresets(presets map[string]string) []chromedp.Action {
	actions := make([]chromedp.Action, 0, len(presets)*2)
	for sel, value := range presets {
		actions = append(actions,
			chromedp.SetValue(sel, value, chromedp.ByQuery),
			chromedp.Sleep(typeDelay()),
		)
	}
	return actions
}

// scrollPage nudges the viewport so lazy-loaded result tables render.
func scrollPage() chromedp.Action {
	js := fmt.Sprintf("window.scrollBy(0, %d)", 300+rand.IntN(500))
	return chromedp.Evaluate(js, nil)
}

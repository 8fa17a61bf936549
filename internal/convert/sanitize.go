package convert

import (
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	policyOnce sync.Once
	policy     *bluemonday.Policy
)

// Policy allows user-generated content plus inline data-URI images and the
// highlight marker attributes.
func Policy() *bluemonday.Policy {
	policyOnce.Do(func() {
		p := bluemonday.UGCPolicy()
		p.AllowDataURIImages()
		p.AllowElements("span", "div")
		p.AllowAttrs("class").Globally()
		p.AllowAttrs("data-tag", "data-annotation-id").OnElements("span")
		policy = p
	})
	return policy
}

// Sanitize strips scripts, styles, event handlers and document chrome.
func Sanitize(raw string) string {
	return Policy().Sanitize(raw)
}

package browser

import (
	"fmt"
	"strings"
)

var prefixes = []struct {
	prefix string
	by     By
}{
	{"xpath:", ByXPath},
	{"id:", ByID},
	{"name:", ByName},
	{"css:", ByCSS},
}

// ParseLocator turns a configured selector such as "xpath://div" or
// "name:password" into a Locator. Unprefixed values are CSS.
func ParseLocator(s string) Locator {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p.prefix) {
			return Locator{By: p.by, Target: strings.TrimPrefix(s, p.prefix)}
		}
	}
	return CSS(s)
}

// cssFor renders non-XPath locators as a CSS selector.
func cssFor(loc Locator) (string, error) {
	switch loc.By {
	case ByCSS:
		return loc.Target, nil
	case ByID:
		return fmt.Sprintf(`[id=%q]`, loc.Target), nil
	case ByName:
		return fmt.Sprintf(`[name=%q]`, loc.Target), nil
	default:
		return "", fmt.Errorf("locator %s has no CSS form", loc)
	}
}

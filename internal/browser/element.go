package browser

import (
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/archive-harvester/internal/harvest"
)

// element pins a DOM node id. Node ids are invalidated by navigation, which
// matches the harvest.Element contract.
type element struct {
	sel  harvest.Selector
	node cdp.NodeID
}

func (e element) Selector() harvest.Selector {
	return e.sel
}

func wrapNodes(sel harvest.Selector, nodes []*cdp.Node) []harvest.Element {
	out := make([]harvest.Element, 0, len(nodes))
	for _, n := range nodes {
		if n == nil {
			continue
		}
		out = append(out, element{sel: sel, node: n.NodeID})
	}
	return out
}

func nodeOf(el harvest.Element) (cdp.NodeID, error) {
	e, ok := el.(element)
	if !ok {
		return 0, fmt.Errorf("%w: %T", ErrForeignElement, el)
	}
	return e.node, nil
}

func queryOption(sel harvest.Selector) chromedp.QueryOption {
	if sel.Kind == harvest.ByXPath {
		return chromedp.BySearch
	}
	return chromedp.ByQueryAll
}

func findCookie(cookies []*network.Cookie, name string) (harvest.Cookie, bool) {
	for _, c := range cookies {
		if c != nil && c.Name == name {
			return harvest.Cookie{Name: c.Name, Value: c.Value}, true
		}
	}
	return harvest.Cookie{}, false
}

func submits(text string) bool {
	return strings.HasSuffix(text, harvest.KeyEnter)
}

package page

// Clickable is the activation gate: an element must be laid out,
// visible, and enabled before any strategy may select it, even on an
// exact text match.
func Clickable(e *Element) bool {
	if e == nil {
		return false
	}
	if e.HasAttr("disabled") {
		return false
	}
	if e.HasAttr("hidden") {
		return false
	}
	if e.Tag() == "input" && e.Attr("type") == "hidden" {
		return false
	}
	// display:none removes the element from layout and is inherited by
	// every descendant, so check the whole ancestor chain.
	for cur := e; cur != nil; cur = cur.Parent() {
		if cur.StyleProp("display") == "none" {
			return false
		}
	}
	if e.StyleProp("visibility") == "hidden" {
		return false
	}
	switch e.StyleProp("opacity") {
	case "0", "0.0", "0%":
		return false
	}
	return true
}

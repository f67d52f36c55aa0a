package detect

import (
	"strings"

	"punchbot/internal/intent"
	"punchbot/internal/page"
)

// selectorSpec is one entry of the fixed selector table used by the
// highest-priority strategy.
type selectorSpec struct {
	desc  string
	match func(e *page.Element, in intent.Intent) bool
}

var selectorTable = []selectorSpec{
	{
		desc: "[data-action]",
		match: func(e *page.Element, in intent.Intent) bool {
			return containsKeyword(e.Attr("data-action"), in)
		},
	},
	{
		desc: "[data-attendance]",
		match: func(e *page.Element, in intent.Intent) bool {
			return e.HasAttr("data-attendance")
		},
	},
	{
		desc: "[role=button]",
		match: func(e *page.Element, in intent.Intent) bool {
			return strings.EqualFold(e.Attr("role"), "button")
		},
	},
	{
		desc: "id/class pattern",
		match: func(e *page.Element, in intent.Intent) bool {
			idc := strings.ToLower(e.ID() + " " + e.Attr("class"))
			for _, pat := range []string{"checkin", "check-in", "checkout", "check-out", "punch", "attendance", "clock"} {
				if strings.Contains(idc, pat) {
					return true
				}
			}
			return false
		},
	},
}

// locateBySelector scans the fixed selector table. A hit must still
// carry an intent keyword in its text/value/title and be clickable.
func locateBySelector(p Page, in intent.Intent) (Result, bool) {
	doc := p.Document()
	if doc == nil {
		return Result{}, false
	}
	for _, spec := range selectorTable {
		for _, e := range doc.Elements() {
			if !spec.match(e, in) {
				continue
			}
			if !containsKeyword(e.Label(), in) && !containsKeyword(e.Attr("data-action"), in) {
				continue
			}
			if !page.Clickable(e) {
				continue
			}
			return Result{Locator: spec.desc, Element: e}, true
		}
	}
	return Result{}, false
}

// locateByText matches buttons, inputs and links whose caption equals a
// canonical label exactly (case and whitespace folded).
func locateByText(p Page, in intent.Intent) (Result, bool) {
	doc := p.Document()
	if doc == nil {
		return Result{}, false
	}
	labels := make([]string, 0, len(in.Labels()))
	for _, l := range in.Labels() {
		labels = append(labels, normalize(l))
	}
	var locator string
	e := doc.Find(func(e *page.Element) bool {
		if !e.IsActionable() {
			return false
		}
		caption := normalize(e.Text())
		if caption == "" {
			caption = normalize(e.Attr("value"))
		}
		for _, l := range labels {
			if caption == l && page.Clickable(e) {
				locator = "label " + l
				return true
			}
		}
		return false
	})
	if e == nil {
		return Result{}, false
	}
	return Result{Locator: locator, Element: e}, true
}

// locateByAccessibleName matches elements whose accessible label
// (aria-label, aria-labelledby, title) contains an intent keyword.
func locateByAccessibleName(p Page, in intent.Intent) (Result, bool) {
	doc := p.Document()
	if doc == nil {
		return Result{}, false
	}
	e := doc.Find(func(e *page.Element) bool {
		if !e.HasAttr("aria-label") && !e.HasAttr("aria-labelledby") && !e.HasAttr("title") {
			return false
		}
		return containsKeyword(e.AccessibleName(), in) && page.Clickable(e)
	})
	if e == nil {
		return Result{}, false
	}
	return Result{Locator: "aria " + e.AccessibleName(), Element: e}, true
}

var containerWords = []string{"attendance", "check", "punch", "clock"}

var containerTags = map[string]bool{
	"form": true, "fieldset": true, "section": true, "div": true, "table": true,
}

// locateByContainer scans form-like containers whose class or aggregate
// text suggests attendance context, then picks the first clickable
// actionable child pointing the right direction.
func locateByContainer(p Page, in intent.Intent) (Result, bool) {
	doc := p.Document()
	if doc == nil {
		return Result{}, false
	}
	containers := doc.FindAll(func(c *page.Element) bool {
		if !containerTags[strings.ToLower(c.Tag())] {
			return false
		}
		if c.HasClass("attendance") {
			return true
		}
		text := strings.ToLower(c.Text())
		for _, w := range containerWords {
			if strings.Contains(text, w) {
				return true
			}
		}
		return false
	})
	for _, c := range containers {
		for _, e := range c.Descendants() {
			if !e.IsActionable() || !page.Clickable(e) {
				continue
			}
			if hasDirectionWord(e.Label(), in) {
				return Result{Locator: "container <" + c.Tag() + ">", Element: e}, true
			}
		}
	}
	return Result{}, false
}

// locateByHook probes well-known page-global function names; failing
// that, it settles for any clickable element whose identifying
// attributes mention attendance.
func locateByHook(p Page, in intent.Intent) (Result, bool) {
	for _, name := range in.HookNames() {
		if p.HasHook(name) {
			return Result{Locator: "fn " + name, Hook: name}, true
		}
	}
	doc := p.Document()
	if doc == nil {
		return Result{}, false
	}
	e := doc.Find(func(e *page.Element) bool {
		return strings.Contains(e.IdentifyingText(), "attendance") &&
			e.IsActionable() && page.Clickable(e)
	})
	if e == nil {
		return Result{}, false
	}
	return Result{Locator: "attr attendance", Element: e}, true
}

// ---- matching helpers ----

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func containsKeyword(s string, in intent.Intent) bool {
	folded := normalize(s)
	if folded == "" {
		return false
	}
	for _, kw := range in.Keywords() {
		if strings.Contains(folded, kw) {
			return true
		}
	}
	return false
}

// hasDirectionWord tokenizes the label and looks for a whole-word
// direction marker, so "in" does not match "print".
func hasDirectionWord(s string, in intent.Intent) bool {
	toks := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	for _, t := range toks {
		for _, d := range in.DirectionWords() {
			if t == d {
				return true
			}
		}
	}
	return false
}

// File: internal/driver/page.go
package driver

import (
	"context"
	"fmt"
	"strings"
)

// MatchAttribute is the data attribute FindActionable stamps on the node it returns.
const MatchAttribute = "data-probe-match"

// Strategy selects how a Locator's value is interpreted.
type Strategy int

const (
	// ByCSS is a CSS selector.
	ByCSS Strategy = iota
	// ByXPath is an XPath expression.
	ByXPath
	// ByName matches form controls by their name attribute.
	ByName
)

func (s Strategy) String() string {
	switch s {
	case ByXPath:
		return "xpath"
	case ByName:
		return "name"
	default:
		return "css"
	}
}

// Locator addresses an element on the current page.
type Locator struct {
	Strategy Strategy
	Value    string
}

// CSS returns a CSS selector locator.
func CSS(selector string) Locator { return Locator{Strategy: ByCSS, Value: selector} }

// XPath returns an XPath locator.
func XPath(expr string) Locator { return Locator{Strategy: ByXPath, Value: expr} }

// Name returns a locator for the form control with the given name attribute.
func Name(name string) Locator { return Locator{Strategy: ByName, Value: name} }

// ParseLocator picks the strategy from the selector text: XPath expressions
// start with "/" or "(", everything else is CSS.
func ParseLocator(selector string) Locator {
	trimmed := strings.TrimSpace(selector)
	if strings.HasPrefix(trimmed, "/") || strings.HasPrefix(trimmed, "(") {
		return XPath(trimmed)
	}
	return CSS(trimmed)
}

// IsZero reports whether the locator addresses nothing.
func (l Locator) IsZero() bool { return l.Value == "" }

// Selector returns the locator as a CSS selector or XPath expression. Name
// locators are rewritten to an attribute selector.
func (l Locator) Selector() string {
	if l.Strategy == ByName {
		return fmt.Sprintf("[name=%q]", l.Value)
	}
	return l.Value
}

// IsXPath reports whether Selector returns an XPath expression.
func (l Locator) IsXPath() bool { return l.Strategy == ByXPath }

func (l Locator) String() string {
	return l.Strategy.String() + "=" + l.Value
}

// Element is a point-in-time snapshot of a DOM node.
type Element struct {
	Index      int               `json:"index"`
	Text       string            `json:"text"`
	Attributes map[string]string `json:"attributes"`
	Visible    bool              `json:"visible"`
	// HasTrigger is set when a visible trigger control is nested inside the node.
	HasTrigger bool `json:"hasTrigger"`
}

// Title returns the first non-empty line of the element text.
func (e Element) Title() string {
	for _, line := range strings.Split(e.Text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

// Target describes a family of actionable units, such as pending-item cards,
// and the control inside each one that acts on it.
type Target struct {
	Container string
	Trigger   string
}

// Page is the browser surface a Session drives. Implementations are not
// required to be safe for concurrent use; a Session serializes its calls.
type Page interface {
	// Navigate loads url and returns once the document has loaded.
	Navigate(ctx context.Context, url string) error
	// Location returns the current document URL.
	Location(ctx context.Context) (string, error)
	// WaitVisible blocks until a node matching loc is visible or ctx ends.
	WaitVisible(ctx context.Context, loc Locator) error
	// Visible reports whether a node matching loc is visible right now.
	Visible(ctx context.Context, loc Locator) (bool, error)
	// Fill clears the first visible node matching loc and enters value.
	// Select elements are set by option value.
	Fill(ctx context.Context, loc Locator, value string) error
	// Click performs a native mouse click on the first visible node matching loc.
	Click(ctx context.Context, loc Locator) error
	// ScriptClick dispatches element.click() from the page's script context.
	ScriptClick(ctx context.Context, loc Locator) error
	// SubmitForm submits the form matching loc, or the form enclosing it.
	SubmitForm(ctx context.Context, loc Locator) error
	// Snapshot lists every node matching t.Container.
	Snapshot(ctx context.Context, t Target) ([]Element, error)
	// Mark stamps MatchAttribute=marker on the container node el was taken
	// from, failing if the node no longer has el's text.
	Mark(ctx context.Context, t Target, el Element, marker string) error
	// ClearCookies drops every cookie held by the browser.
	ClearCookies(ctx context.Context) error
	// Close terminates the browser backing the page.
	Close() error
}

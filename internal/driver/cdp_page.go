// File: internal/driver/cdp_page.go
package driver

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	json "github.com/json-iterator/go"
)

// scriptPrelude defines the helpers every injected script relies on.
const scriptPrelude = `
const __resolve = (strategy, value) => {
  if (strategy === "xpath") {
    const r = document.evaluate(value, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
    const out = [];
    for (let i = 0; i < r.snapshotLength; i++) out.push(r.snapshotItem(i));
    return out;
  }
  return Array.from(document.querySelectorAll(value));
};
const __visible = (el) => {
  if (!el || !el.isConnected) return false;
  const style = window.getComputedStyle(el);
  if (style.visibility === "hidden" || style.display === "none") return false;
  return el.getClientRects().length > 0;
};
const __text = (el) => (el.innerText || el.textContent || "").trim();
`

const visibleScript = `return __resolve(args[0], args[1]).some(__visible);`

const clickScript = `
const nodes = __resolve(args[0], args[1]);
const el = nodes.find(__visible) || nodes[0];
if (!el) return false;
el.scrollIntoView({block: "center"});
el.click();
return true;`

const submitScript = `
const el = __resolve(args[0], args[1])[0];
if (!el) return false;
const form = el.tagName === "FORM" ? el : el.closest("form");
if (!form) return false;
form.submit();
return true;`

const snapshotScript = `
return Array.from(document.querySelectorAll(args[0])).map((el, i) => {
  const attributes = {};
  for (const a of el.attributes) attributes[a.name] = a.value;
  let hasTrigger = true;
  if (args[1]) hasTrigger = Array.from(el.querySelectorAll(args[1])).some(__visible);
  return {index: i, text: __text(el), attributes, visible: __visible(el), hasTrigger};
});`

const markScript = `
document.querySelectorAll("[" + args[3] + "]").forEach((n) => n.removeAttribute(args[3]));
const el = document.querySelectorAll(args[0])[args[1]];
if (!el || __text(el) !== args[2]) return false;
el.setAttribute(args[3], args[4]);
return true;`

// buildScript wraps body in a function receiving the JSON-encoded args.
func buildScript(body string, args ...interface{}) (string, error) {
	encoded, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("failed to encode script arguments: %w", err)
	}
	return fmt.Sprintf("((args) => {%s\n%s\n})(%s)", scriptPrelude, body, encoded), nil
}

func strategyArg(loc Locator) string {
	if loc.IsXPath() {
		return "xpath"
	}
	return "css"
}

func queryOption(loc Locator) chromedp.QueryOption {
	if loc.IsXPath() {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

// cdpPage drives one Chromium tab over the DevTools protocol.
type cdpPage struct {
	tabCtx      context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
}

var _ Page = (*cdpPage)(nil)

// run executes actions on the tab, bounded by both the tab lifetime and ctx.
func (p *cdpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := combineContext(p.tabCtx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func (p *cdpPage) evaluate(ctx context.Context, body string, out interface{}, args ...interface{}) error {
	expr, err := buildScript(body, args...)
	if err != nil {
		return err
	}
	var raw []byte
	if err := p.run(ctx, chromedp.Evaluate(expr, &raw)); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode script result: %w", err)
	}
	return nil
}

func (p *cdpPage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *cdpPage) Location(ctx context.Context) (string, error) {
	var loc string
	if err := p.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

func (p *cdpPage) WaitVisible(ctx context.Context, loc Locator) error {
	return p.run(ctx, chromedp.WaitVisible(loc.Selector(), queryOption(loc)))
}

func (p *cdpPage) Visible(ctx context.Context, loc Locator) (bool, error) {
	var visible bool
	err := p.evaluate(ctx, visibleScript, &visible, strategyArg(loc), loc.Selector())
	return visible, err
}

func (p *cdpPage) Fill(ctx context.Context, loc Locator, value string) error {
	var nodes []*cdp.Node
	if err := p.run(ctx, chromedp.Nodes(loc.Selector(), &nodes, queryOption(loc), chromedp.NodeVisible)); err != nil {
		return err
	}
	if len(nodes) == 0 {
		return fmt.Errorf("no node matches %s", loc)
	}
	ids := []cdp.NodeID{nodes[0].NodeID}
	if strings.EqualFold(nodes[0].NodeName, "select") {
		return p.run(ctx, chromedp.SetValue(ids, value, chromedp.ByNodeID))
	}
	return p.run(ctx,
		chromedp.Clear(ids, chromedp.ByNodeID),
		chromedp.SendKeys(ids, value, chromedp.ByNodeID),
	)
}

func (p *cdpPage) Click(ctx context.Context, loc Locator) error {
	return p.run(ctx, chromedp.Click(loc.Selector(), queryOption(loc), chromedp.NodeVisible))
}

func (p *cdpPage) ScriptClick(ctx context.Context, loc Locator) error {
	var clicked bool
	if err := p.evaluate(ctx, clickScript, &clicked, strategyArg(loc), loc.Selector()); err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("no node matches %s", loc)
	}
	return nil
}

func (p *cdpPage) SubmitForm(ctx context.Context, loc Locator) error {
	var submitted bool
	if err := p.evaluate(ctx, submitScript, &submitted, strategyArg(loc), loc.Selector()); err != nil {
		return err
	}
	if !submitted {
		return fmt.Errorf("no form found for %s", loc)
	}
	return nil
}

func (p *cdpPage) Snapshot(ctx context.Context, t Target) ([]Element, error) {
	var elements []Element
	if err := p.evaluate(ctx, snapshotScript, &elements, t.Container, t.Trigger); err != nil {
		return nil, err
	}
	return elements, nil
}

func (p *cdpPage) Mark(ctx context.Context, t Target, el Element, marker string) error {
	var marked bool
	if err := p.evaluate(ctx, markScript, &marked, t.Container, el.Index, el.Text, MatchAttribute, marker); err != nil {
		return err
	}
	if !marked {
		return fmt.Errorf("node %d of %q changed before it could be marked", el.Index, t.Container)
	}
	return nil
}

func (p *cdpPage) ClearCookies(ctx context.Context) error {
	return p.run(ctx, network.ClearBrowserCookies())
}

// Close shuts the tab down gracefully, then kills the browser process.
func (p *cdpPage) Close() error {
	err := chromedp.Cancel(p.tabCtx)
	p.cancelTab()
	p.cancelAlloc()
	if err != nil && err != context.Canceled {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}

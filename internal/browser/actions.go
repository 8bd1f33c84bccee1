package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/go-rod/rod/lib/proto"
)

const linksScript = `() => Array.from(document.querySelectorAll("a[href]"), a => a.getAttribute("href"))`

// Navigate opens rawURL in the session page and reports the document status.
func (m *Manager) Navigate(ctx context.Context, key, rawURL string) (string, error) {
	if err := validateURL(rawURL); err != nil {
		return "", err
	}
	rec, err := m.acquire(key)
	if err != nil {
		return "", err
	}
	defer rec.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.navigationTimeout())
	defer cancel()
	p := rec.page.Context(ctx)

	status := 0
	wait := p.EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type == proto.NetworkResourceTypeDocument {
			status = e.Response.Status
			return true
		}
		return false
	})
	if err := p.Navigate(rawURL); err != nil {
		return "", fmt.Errorf("navigate to %s: %w", rawURL, err)
	}
	wait()
	_ = p.WaitLoad()

	return fmt.Sprintf("Navigating to %s returned status code %d", rawURL, status), nil
}

// Back goes one step back in the session page history.
func (m *Manager) Back(ctx context.Context, key string) (string, error) {
	rec, err := m.acquire(key)
	if err != nil {
		return "", err
	}
	defer rec.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.navigationTimeout())
	defer cancel()
	p := rec.page.Context(ctx)

	hist, err := proto.PageGetNavigationHistory{}.Call(p)
	if err != nil {
		return "", fmt.Errorf("read history: %w", err)
	}
	if hist.CurrentIndex <= 0 {
		return "Unable to navigate back; no previous page in the history", nil
	}
	if err := p.NavigateBack(); err != nil {
		return "", fmt.Errorf("navigate back: %w", err)
	}
	_ = p.WaitLoad()

	info, err := p.Info()
	if err != nil {
		return "", fmt.Errorf("page info: %w", err)
	}
	return fmt.Sprintf("Navigated back to the previous page with URL '%s'", info.URL), nil
}

// CurrentURL returns the URL of the session page.
func (m *Manager) CurrentURL(ctx context.Context, key string) (string, error) {
	rec, err := m.acquire(key)
	if err != nil {
		return "", err
	}
	defer rec.mu.Unlock()

	info, err := rec.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("page info: %w", err)
	}
	return info.URL, nil
}

// Text returns the visible text of the session page.
func (m *Manager) Text(ctx context.Context, key string) (string, error) {
	rec, err := m.acquire(key)
	if err != nil {
		return "", err
	}
	defer rec.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.navigationTimeout())
	defer cancel()

	body, err := rec.page.Context(ctx).Element("body")
	if err != nil {
		return "", fmt.Errorf("find body: %w", err)
	}
	text, err := body.Text()
	if err != nil {
		return "", fmt.Errorf("read text: %w", err)
	}
	return collapseWhitespace(text), nil
}

// Links returns the unique hyperlinks of the session page as a JSON array.
func (m *Manager) Links(ctx context.Context, key string, absolute bool) (string, error) {
	rec, err := m.acquire(key)
	if err != nil {
		return "", err
	}
	defer rec.mu.Unlock()

	p := rec.page.Context(ctx)
	info, err := p.Info()
	if err != nil {
		return "", fmt.Errorf("page info: %w", err)
	}
	res, err := p.Eval(linksScript)
	if err != nil {
		return "", fmt.Errorf("collect links: %w", err)
	}

	var hrefs []string
	for _, v := range res.Value.Arr() {
		hrefs = append(hrefs, v.Str())
	}
	return toJSON(resolveLinks(info.URL, hrefs, absolute))
}

// Elements returns the requested attributes of every element matching
// selector. "innerText" reads the rendered text.
func (m *Manager) Elements(ctx context.Context, key, selector string, attributes []string) (string, error) {
	if len(attributes) == 0 {
		attributes = []string{"innerText"}
	}
	rec, err := m.acquire(key)
	if err != nil {
		return "", err
	}
	defer rec.mu.Unlock()

	els, err := rec.page.Context(ctx).Elements(selector)
	if err != nil {
		return "", fmt.Errorf("query %q: %w", selector, err)
	}

	results := make([]map[string]string, 0, len(els))
	for _, el := range els {
		values := make(map[string]string, len(attributes))
		for _, attr := range attributes {
			var val string
			if attr == "innerText" {
				val, _ = el.Text()
			} else if v, err := el.Attribute(attr); err == nil && v != nil {
				val = *v
			}
			if val = strings.TrimSpace(val); val != "" {
				values[attr] = val
			}
		}
		if len(values) > 0 {
			results = append(results, values)
		}
	}
	return toJSON(results)
}

// Click clicks the first element matching selector.
func (m *Manager) Click(ctx context.Context, key, selector string) (string, error) {
	rec, err := m.acquire(key)
	if err != nil {
		return "", err
	}
	defer rec.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.elementTimeout())
	defer cancel()

	el, err := rec.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Sprintf("Unable to click on element '%s'", selector), nil
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Sprintf("Unable to click on element '%s'", selector), nil
	}
	return fmt.Sprintf("Clicked element '%s'", selector), nil
}

func validateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be 'http' or 'https', got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid url %q: missing host", raw)
	}
	return nil
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// resolveLinks drops fragments and duplicates, keeping first-seen order.
func resolveLinks(base string, hrefs []string, absolute bool) []string {
	baseURL, baseErr := url.Parse(base)
	out := make([]string, 0, len(hrefs))
	for _, href := range hrefs {
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			continue
		}
		if absolute && baseErr == nil {
			if ref, err := url.Parse(href); err == nil {
				href = baseURL.ResolveReference(ref).String()
			}
		}
		if !slices.Contains(out, href) {
			out = append(out, href)
		}
	}
	return out
}

func toJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(data), nil
}

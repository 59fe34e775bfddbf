package extractor

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Rule reads one candidate value from the document: the text of the first
// element matching Selector, or its Attr attribute when Attr is set. Parse,
// if present, post-processes a non-empty raw value.
type Rule struct {
	Selector string
	Attr     string
	Parse    func(string) string
}

// Apply returns the rule's value in doc, or "" when nothing matches.
func (r Rule) Apply(doc *goquery.Document) string {
	sel := doc.Find(r.Selector).First()
	if sel.Length() == 0 {
		return ""
	}

	var v string
	if r.Attr == "" {
		v = sel.Text()
	} else {
		v, _ = sel.Attr(r.Attr)
	}
	v = strings.TrimSpace(v)
	if v != "" && r.Parse != nil {
		v = strings.TrimSpace(r.Parse(v))
	}
	return v
}

// Chain is a priority-ordered list of rules. Earlier rules always win over
// later ones, whatever the document order of the matched elements.
type Chain []Rule

// First returns the value of the first rule producing a non-empty string
// and that rule's index, or "" and -1.
func (c Chain) First(doc *goquery.Document) (string, int) {
	for i, rule := range c {
		if v := rule.Apply(doc); v != "" {
			return v, i
		}
	}
	return "", -1
}

// TitleRules find the product title.
var TitleRules = Chain{
	{Selector: "#productTitle", Parse: collapseSpace},
	{Selector: `meta[name="title"]`, Attr: "content", Parse: collapseSpace},
}

// PriceRules find the displayed price, most specific container first.
var PriceRules = Chain{
	{Selector: "#corePriceDisplay_desktop_feature_div .a-price .a-offscreen"},
	{Selector: "#corePrice_feature_div .a-offscreen"},
	{Selector: "#priceblock_ourprice"},
	{Selector: "#priceblock_dealprice"},
	{Selector: ".a-price .a-offscreen"},
	{Selector: ".a-price-whole"},
}

// ImageRules find the main product image.
var ImageRules = Chain{
	{Selector: "#landingImage", Attr: "data-old-hires"},
	{Selector: "#landingImage", Attr: "data-a-dynamic-image", Parse: firstJSONKey},
	{Selector: "#landingImage", Attr: "src"},
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// firstJSONKey returns the first key of a JSON object in document order.
// The dynamic image attribute maps image URLs to [width, height] and lists
// the preferred image first.
func firstJSONKey(s string) string {
	dec := json.NewDecoder(strings.NewReader(s))

	tok, err := dec.Token()
	if err != nil {
		return ""
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return ""
	}

	tok, err = dec.Token()
	if err != nil {
		return ""
	}
	key, _ := tok.(string)
	return key
}

package provider

import (
	"fmt"
	"strings"

	"github.com/Boendestodet/r3kt.dev-sub000/scaffold"
)

const (
	// MockName is recorded as the provider when the template generator was used.
	MockName   = "mock"
	MockModel  = "template"
	MockTokens = 100
)

type category struct {
	name     string
	keywords []string
	title    string
	sections []scaffold.Section
	css      string
}

// Checked in order; the first category with a matching keyword wins.
var categories = []category{
	{
		name:     "portfolio",
		keywords: []string{"portfolio", "resume", "résumé", "personal site", "cv"},
		title:    "My Portfolio",
		sections: []scaffold.Section{
			{Heading: "About me", Body: "A short introduction to who I am and what I do."},
			{Heading: "Selected work", Body: "A few projects I am proud of."},
			{Heading: "Contact", Body: "Get in touch for collaborations and commissions."},
		},
		css: ".theme-portfolio { --accent: #6c5ce7; }\n.theme-portfolio .hero h1 { color: var(--accent); }\n",
	},
	{
		name:     "e-commerce",
		keywords: []string{"e-commerce", "ecommerce", "shop", "store", "product", "cart"},
		title:    "The Shop",
		sections: []scaffold.Section{
			{Heading: "Featured products", Body: "Hand-picked items from our latest collection."},
			{Heading: "Free shipping", Body: "On every order over $50."},
			{Heading: "Secure checkout", Body: "Pay with confidence."},
		},
		css: ".theme-e-commerce { --accent: #e17055; }\n.theme-e-commerce .card { border-top: 4px solid var(--accent); }\n",
	},
	{
		name:     "blog",
		keywords: []string{"blog", "article", "post", "journal"},
		title:    "The Blog",
		sections: []scaffold.Section{
			{Heading: "Latest post", Body: "Thoughts, stories and ideas, freshly written."},
			{Heading: "Popular posts", Body: "What readers enjoyed most this month."},
			{Heading: "Subscribe", Body: "Get new posts delivered to your inbox."},
		},
		css: ".theme-blog { --accent: #8d6e63; font-family: Georgia, serif; }\n.theme-blog .card h2 { color: var(--accent); }\n",
	},
	{
		name:     "landing",
		keywords: []string{"landing", "startup", "saas", "launch", "marketing"},
		title:    "Launch Faster",
		sections: []scaffold.Section{
			{Heading: "Why us", Body: "Everything you need to go from idea to launch."},
			{Heading: "Pricing", Body: "Simple plans that grow with you."},
			{Heading: "Get started", Body: "Sign up in less than a minute."},
		},
		css: ".theme-landing { --accent: #0984e3; }\n.theme-landing .hero { text-align: center; padding: 4rem 0; }\n",
	},
	{
		name:     "dashboard",
		keywords: []string{"dashboard", "admin", "analytics", "metrics", "chart"},
		title:    "Dashboard",
		sections: []scaffold.Section{
			{Heading: "Overview", Body: "Key numbers at a glance."},
			{Heading: "Activity", Body: "Recent events across your account."},
			{Heading: "Reports", Body: "Export and share your data."},
		},
		css: ".theme-dashboard { --accent: #00b894; max-width: 1200px; }\n.theme-dashboard .card { display: inline-block; width: 32%; margin-right: 1%; }\n",
	},
}

var genericCategory = category{
	name:  "generic",
	title: "Welcome",
	sections: []scaffold.Section{
		{Heading: "What this is", Body: "A starting point generated from your description."},
		{Heading: "Next steps", Body: "Refine your prompt to shape the app further."},
	},
	css: ".theme-generic { --accent: #2d3436; }\n",
}

// Category returns the template category a prompt falls into.
func Category(prompt string) string {
	return categorize(prompt).name
}

func categorize(prompt string) category {
	p := strings.ToLower(prompt)
	for _, c := range categories {
		for _, k := range c.keywords {
			if strings.Contains(p, k) {
				return c
			}
		}
	}
	return genericCategory
}

// MockGenerator builds a deterministic, stack-correct project from canned
// templates. It is the last step of every failover chain.
type MockGenerator struct{}

// Generate returns the stack's full required file set with the page and
// stylesheet replaced by the category template matching the prompt.
func (MockGenerator) Generate(prompt string, sc scaffold.Scaffolder) (*Result, error) {
	if sc == nil {
		return nil, fmt.Errorf("%s: no scaffolder", MockName)
	}
	c := categorize(prompt)

	files, err := sc.DefaultFiles(c.title)
	if err != nil {
		return nil, fmt.Errorf("%s: default files: %w", MockName, err)
	}
	page, err := sc.RenderPage(scaffold.Page{
		Title:    c.title,
		Tagline:  tagline(prompt),
		Theme:    "theme-" + c.name,
		Sections: c.sections,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", MockName, err)
	}
	files[sc.PagePath()] = page
	files[sc.StylesheetPath()] = scaffold.BaseStylesheet + "\n/* " + c.name + " theme */\n" + c.css

	return &Result{Files: files, TokensUsed: MockTokens, Model: MockModel}, nil
}

func tagline(prompt string) string {
	t := strings.Join(strings.Fields(prompt), " ")
	if t == "" {
		return "Generated from a template."
	}
	if r := []rune(t); len(r) > 140 {
		t = string(r[:140]) + "..."
	}
	return t
}

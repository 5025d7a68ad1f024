// Package cleaner normalizes extracted restaurant data after the pipeline
// phases finish: canonical names, parsed addresses, E.164 phones, and menu
// categories. Cleaning is best-effort: a failed pass leaves the raw value
// in place and never fails the run.
package cleaner

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tableiq/research-cli/internal/cost"
	"github.com/tableiq/research-cli/internal/jsonx"
	"github.com/tableiq/research-cli/internal/model"
)

// Cleaner runs the normalization passes. The fallback generator is used
// when the primary provider errors.
type Cleaner struct {
	primary  Generator
	fallback Generator
	calc     *cost.Calculator
}

// New creates a Cleaner. fallback may be nil.
func New(primary, fallback Generator, calc *cost.Calculator) *Cleaner {
	return &Cleaner{primary: primary, fallback: fallback, calc: calc}
}

// Clean normalizes the record in place and returns the LLM cost incurred.
func (c *Cleaner) Clean(ctx context.Context, rec *model.RestaurantRecord) float64 {
	var costUSD float64
	costUSD += c.canonicalizeName(ctx, rec)
	rec.Phone.E164 = NormalizePhone(rec.Phone.Raw)

	if rec.Address.Raw != "" && rec.Address.Street == "" {
		costUSD += c.cleanAddress(ctx, rec)
	}
	costUSD += c.categorizeMenu(ctx, rec)
	return costUSD
}

const nameSystem = "You pick the customer-facing name of a restaurant from candidate " +
	"strings scraped from different sources. Prefer the name diners use over legal " +
	`entity names and SEO page titles. Respond with only a JSON object with key "name".`

type pickedName struct {
	Name string `json:"name"`
}

// canonicalizeName reconciles the merge winner with the losing candidates
// recorded during merging. Candidates that differ only in casing or
// marketing suffixes collapse without an LLM call; genuinely different
// names are tie-broken by the generator, constrained to the candidate set.
func (c *Cleaner) canonicalizeName(ctx context.Context, rec *model.RestaurantRecord) float64 {
	candidates := distinctNames(append([]string{rec.Name}, rec.NameCandidates...))
	if len(candidates) == 0 {
		rec.Name = ""
		return 0
	}
	rec.Name = candidates[0]
	if len(candidates) == 1 {
		return 0
	}

	gen, costUSD, err := c.generate(ctx, nameSystem, "Candidates:\n"+strings.Join(candidates, "\n"))
	if err != nil {
		zap.L().Warn("name tie-break failed, keeping merge winner",
			zap.String("url", rec.URL),
			zap.Strings("candidates", candidates),
			zap.Error(err))
		return costUSD
	}

	picked, _, err := jsonx.Unmarshal[pickedName](gen.Text)
	if err != nil {
		zap.L().Warn("name tie-break response contained no JSON, keeping merge winner",
			zap.String("url", rec.URL),
			zap.Error(err))
		return costUSD
	}
	for _, cand := range candidates {
		if strings.EqualFold(cand, CanonicalizeName(picked.Name)) {
			rec.Name = cand
			break
		}
	}
	return costUSD
}

// distinctNames canonicalizes each candidate and drops case-insensitive
// duplicates, first-seen order preserved so the merge winner stays in front.
func distinctNames(raw []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, n := range raw {
		n = CanonicalizeName(n)
		if n == "" {
			continue
		}
		key := strings.ToLower(n)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, n)
	}
	return out
}

// nameSuffixes are marketing tails that websites append to the business
// name in titles and schema markup.
var nameSuffixes = []string{
	"official site", "official website", "home", "homepage", "welcome",
}

// CanonicalizeName trims whitespace, strips marketing suffixes, and fixes
// shouting or all-lowercase names. Mixed-case names pass through untouched.
func CanonicalizeName(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return ""
	}

	for _, sep := range []string{"|", "–", "—", " - "} {
		if i := strings.Index(name, sep); i > 0 {
			tail := strings.ToLower(strings.TrimSpace(name[i+len(sep):]))
			for _, suffix := range nameSuffixes {
				if tail == suffix {
					name = strings.TrimSpace(name[:i])
					break
				}
			}
		}
	}

	if name == strings.ToUpper(name) || name == strings.ToLower(name) {
		name = cases.Title(language.English).String(strings.ToLower(name))
	}
	return name
}

// NormalizePhone converts a raw phone string to E.164. Only NANP numbers
// are handled; anything else returns empty and keeps the raw value as the
// displayable form.
func NormalizePhone(raw string) string {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()

	switch {
	case strings.HasPrefix(strings.TrimSpace(raw), "+"):
		if len(d) >= 8 && len(d) <= 15 {
			return "+" + d
		}
	case len(d) == 10:
		return "+1" + d
	case len(d) == 11 && d[0] == '1':
		return "+" + d
	}
	return ""
}

const addressSystem = "You parse postal addresses. Respond with only a JSON object " +
	`with keys "street", "city", "state", "postal", "country". Use empty strings for unknown components.`

type parsedAddress struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	Postal  string `json:"postal"`
	Country string `json:"country"`
}

func (c *Cleaner) cleanAddress(ctx context.Context, rec *model.RestaurantRecord) float64 {
	gen, costUSD, err := c.generate(ctx, addressSystem, "Address: "+rec.Address.Raw)
	if err != nil {
		zap.L().Warn("address cleaning failed, keeping raw value",
			zap.String("url", rec.URL),
			zap.Error(err))
		return costUSD
	}

	parsed, _, err := jsonx.Unmarshal[parsedAddress](gen.Text)
	if err != nil {
		zap.L().Warn("address response contained no JSON, keeping raw value",
			zap.String("url", rec.URL),
			zap.Error(err))
		return costUSD
	}

	rec.Address.Street = parsed.Street
	rec.Address.City = parsed.City
	rec.Address.State = parsed.State
	rec.Address.Postal = parsed.Postal
	rec.Address.Country = parsed.Country
	return costUSD
}

const menuSystem = "You categorize restaurant menu items into one of: appetizer, salad, soup, " +
	"entree, side, dessert, drink, other. Respond with only a JSON array of objects " +
	`with keys "name" and "category".`

type categorizedItem struct {
	Name     string `json:"name"`
	Category string `json:"category"`
}

func (c *Cleaner) categorizeMenu(ctx context.Context, rec *model.RestaurantRecord) float64 {
	var uncategorized []string
	for _, item := range rec.MenuItems {
		if !item.IsHeader && item.Category == "" {
			uncategorized = append(uncategorized, item.Name)
		}
	}
	if len(uncategorized) == 0 {
		return 0
	}

	gen, costUSD, err := c.generate(ctx, menuSystem, "Items:\n"+strings.Join(uncategorized, "\n"))
	if err != nil {
		zap.L().Warn("menu categorization failed, leaving items uncategorized",
			zap.String("url", rec.URL),
			zap.Int("items", len(uncategorized)),
			zap.Error(err))
		return costUSD
	}

	categorized, _, err := jsonx.Unmarshal[[]categorizedItem](gen.Text)
	if err != nil {
		zap.L().Warn("menu categorization response contained no JSON",
			zap.String("url", rec.URL),
			zap.Error(err))
		return costUSD
	}

	byName := make(map[string]string, len(categorized))
	for _, ci := range categorized {
		byName[normalizeKey(ci.Name)] = strings.ToLower(strings.TrimSpace(ci.Category))
	}
	for i := range rec.MenuItems {
		item := &rec.MenuItems[i]
		if item.IsHeader || item.Category != "" {
			continue
		}
		if cat, ok := byName[normalizeKey(item.Name)]; ok && cat != "" {
			item.Category = cat
		}
	}
	return costUSD
}

// generate tries the primary generator, then the fallback. Cost accrues
// for every attempt that returned token counts.
func (c *Cleaner) generate(ctx context.Context, system, user string) (*Generation, float64, error) {
	gen, err := c.primary.Generate(ctx, system, user)
	if err == nil {
		return gen, c.calc.LLM(c.primary.Model(), gen.InputTokens, gen.OutputTokens), nil
	}
	if c.fallback == nil {
		return nil, 0, err
	}

	zap.L().Debug("primary generator failed, trying fallback",
		zap.String("primary", c.primary.Model()),
		zap.String("fallback", c.fallback.Model()),
		zap.Error(err))

	gen, ferr := c.fallback.Generate(ctx, system, user)
	if ferr != nil {
		return nil, 0, eris.Wrapf(err, "cleaner: fallback %s also failed: %v", c.fallback.Model(), ferr)
	}
	return gen, c.calc.LLM(c.fallback.Model(), gen.InputTokens, gen.OutputTokens), nil
}

func normalizeKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

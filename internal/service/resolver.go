package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"

	"github.com/subdrift/subdrift/internal/database/repository"
)

// similarityThreshold is the minimum normalized levenshtein similarity for
// two canonical names to be treated as the same merchant.
const similarityThreshold = 0.80

// stripRule is one ordered normalization step applied to the uppercased
// raw description.
type stripRule struct {
	pattern *regexp.Regexp
	replace string
}

// stripRules run in order: processor prefixes first, then reference noise,
// then trailing decorations. The order matters; a trailing state code can
// only be recognized once the store number after it is gone.
var stripRules = []stripRule{
	// payment processor prefixes (Square, Toast, PayPal, Stripe, Google, Apple)
	{regexp.MustCompile(`^(SQ|SQU|TST|SP|PP|PY|PAYPAL|GOOGLE|APL|AMZN)\s*\*\s*`), ""},
	{regexp.MustCompile(`^(POS DEBIT|POS|DEBIT CARD|CHECKCARD|CHKCARD|ACH|WEB PMT|WEB)\s+`), ""},
	// store and reference numbers
	{regexp.MustCompile(`#\s*\d+`), " "},
	{regexp.MustCompile(`\s+\d{3,}$`), " "},
	// trailing legal suffixes
	{regexp.MustCompile(`\s+(LLC|INC|CORP|CO|LTD)\.?$`), ""},
	// trailing transaction words
	{regexp.MustCompile(`(\s+(PURCHASE|PAYMENT|RECURRING|SUBSCRIPTION|AUTOPAY|BILL PAY))+$`), ""},
	// domain suffixes
	{regexp.MustCompile(`\.(COM|NET|ORG|CO|IO|TV|US)\b`), ""},
	// trailing phone numbers
	{regexp.MustCompile(`\s+\d{3}[-. ]?\d{3}[-. ]?\d{4}$`), ""},
	// trailing 2-letter state codes
	{regexp.MustCompile(`\s+[A-Z]{2}$`), ""},
	// trailing date tokens
	{regexp.MustCompile(`\s+\d{1,2}[/-]\d{1,2}([/-]\d{2,4})?$`), ""},
}

// knownMerchant maps a punctuation-stripped lowercase substring to a fixed
// brand name, so "NETFLIX.COM" and "Netflix 1 800-123-4567" both land on
// the same canonical merchant. Ordered slice: first key found wins.
type knownMerchant struct {
	key   string
	brand string
}

var knownMerchants = []knownMerchant{
	{"netflix", "Netflix"},
	{"spotify", "Spotify"},
	{"hulu", "Hulu"},
	{"disneyplus", "Disney+"},
	{"amazonprime", "Amazon Prime"},
	{"primevideo", "Prime Video"},
	{"audible", "Audible"},
	{"youtubepremium", "YouTube Premium"},
	{"applemusic", "Apple Music"},
	{"appletv", "Apple TV"},
	{"icloud", "iCloud"},
	{"hbomax", "HBO Max"},
	{"paramountplus", "Paramount+"},
	{"peacock", "Peacock"},
	{"crunchyroll", "Crunchyroll"},
	{"dropbox", "Dropbox"},
	{"github", "GitHub"},
	{"patreon", "Patreon"},
	{"nytimes", "The New York Times"},
	{"planetfitness", "Planet Fitness"},
}

// NormalizeMerchantName uppercases the raw description, runs the strip
// rules in order, collapses whitespace and title-cases what remains.
func NormalizeMerchantName(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	for _, r := range stripRules {
		s = r.pattern.ReplaceAllString(s, r.replace)
	}
	return titleCase(collapseWhitespace(s))
}

// knownBrand checks the static service-name table against the normalized
// name with punctuation removed.
func knownBrand(normalized string) (string, bool) {
	flat := flatten(normalized)
	if flat == "" {
		return "", false
	}
	for _, km := range knownMerchants {
		if strings.Contains(flat, km.key) {
			return km.brand, true
		}
	}
	return "", false
}

// nameSimilarity is 1 - editDistance/max(len) over alphanumeric-only
// lowercased strings. Equal strings score 1, empty strings score 0.
func nameSimilarity(a, b string) float64 {
	fa, fb := flatten(a), flatten(b)
	if fa == "" || fb == "" {
		return 0
	}
	if fa == fb {
		return 1
	}
	maxLen := len(fa)
	if len(fb) > maxLen {
		maxLen = len(fb)
	}
	dist := levenshtein.ComputeDistance(fa, fb)
	return 1 - float64(dist)/float64(maxLen)
}

// flatten lowercases and drops everything but letters and digits.
func flatten(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// ResolverService maps raw transaction descriptions to stable merchants.
type ResolverService struct {
	Merchants *repository.MerchantRepo
}

// Resolve returns the merchant id for rawName, creating the merchant and
// alias on first sight.
//
// The alias lookup short-circuits before normalization on purpose: once a
// raw string has been bound to a merchant, later rule changes never move it.
// When the similarity pass has several candidates over the threshold the
// first one in merchant creation order wins; see MerchantRepo.List.
func (s *ResolverService) Resolve(ctx context.Context, rawName string) (string, error) {
	rawName = strings.TrimSpace(rawName)
	if rawName == "" {
		return "", fmt.Errorf("resolve: empty merchant name")
	}

	// fast path: the raw string has been seen before
	if m, err := s.Merchants.GetAlias(ctx, rawName); err != nil {
		return "", fmt.Errorf("alias lookup: %w", err)
	} else if m != nil {
		return m.ID, nil
	}

	canonical := NormalizeMerchantName(rawName)
	if canonical == "" {
		canonical = titleCase(collapseWhitespace(rawName))
	}
	if brand, ok := knownBrand(canonical); ok {
		canonical = brand
	}

	merchantID, err := s.matchOrCreate(ctx, canonical)
	if err != nil {
		return "", err
	}

	if err := s.Merchants.InsertAlias(ctx, rawName, merchantID); err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			// lost the race: another resolution bound the alias first
			m, ferr := s.Merchants.GetAlias(ctx, rawName)
			if ferr == nil && m != nil {
				return m.ID, nil
			}
		}
		return "", fmt.Errorf("record alias %q: %w", rawName, err)
	}
	return merchantID, nil
}

func (s *ResolverService) matchOrCreate(ctx context.Context, canonical string) (string, error) {
	if m, err := s.Merchants.GetByCanonicalName(ctx, canonical); err != nil {
		return "", fmt.Errorf("canonical lookup: %w", err)
	} else if m != nil {
		return m.ID, nil
	}

	existing, err := s.Merchants.List(ctx)
	if err != nil {
		return "", fmt.Errorf("list merchants: %w", err)
	}
	for _, m := range existing {
		if nameSimilarity(canonical, m.CanonicalName) > similarityThreshold {
			return m.ID, nil
		}
	}

	m := repository.Merchant{ID: uuid.NewString(), CanonicalName: canonical}
	if err := s.Merchants.Insert(ctx, m); err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			// concurrent create of the same canonical name
			if got, ferr := s.Merchants.GetByCanonicalName(ctx, canonical); ferr == nil && got != nil {
				return got.ID, nil
			}
		}
		return "", fmt.Errorf("create merchant %q: %w", canonical, err)
	}
	return m.ID, nil
}

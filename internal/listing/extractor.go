package listing

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"time"

	"dwatson385/ticketwatcher/helpers"
	apperr "dwatson385/ticketwatcher/pkg/errors"

	"github.com/PuerkitoBio/goquery"
)

const component = "extractor"

// Selectors for the event page
const (
	selEventName  = "#eventName span:nth-child(1)"
	selVenueName  = "#venueName span:nth-child(2)"
	selCityName   = "#locationShortName span:nth-child(1)"
	selEventDate  = ".inline-datetime"
	selNoListings = "#no-listings-found"
	selListing    = "twickets-listing"
	selBuyButton  = "div.result-row-buy, .buy-button"
	selPrice      = "span strong:nth-child(2)"
	selTier       = "[id^='listingPriceTier']"
	selQuantity   = "div:nth-child(2) span span"
)

// Terms that indicate the site is blocking or rate limiting us rather
// than serving the event page
var blockTerms = []string{
	"429 too many requests",
	"rate limit exceeded",
	"access denied",
	"blocked",
	"forbidden",
	"captcha",
}

// Extract parses a raw page snapshot into a normalized Page. It depends
// only on its input. Partial or malformed rows are skipped so one broken
// listing never fails the whole cycle; only a page with none of the
// expected structure is surfaced as an error.
func Extract(rawHTML string) (*Page, error) {
	if blocked := blockedTerms(rawHTML); len(blocked) > 0 {
		return nil, apperr.New(apperr.ErrorTypeRateLimit, component,
			"blocking page detected: "+strings.Join(blocked, ", "), nil)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, apperr.NewExtraction(component, "failed to parse HTML", err)
	}

	page := &Page{
		EventName: firstText(doc, selEventName),
		Venue:     firstText(doc, selVenueName),
		City:      firstText(doc, selCityName),
		EventDate: firstText(doc, selEventDate),
	}

	noListings := doc.Find(selNoListings).Length() > 0
	rows := doc.Find(selListing)

	// A page with no event header, no listings and no empty-state marker
	// is not the event page at all (maintenance page, interstitial, ...)
	if page.EventName == "" && !noListings && rows.Length() == 0 {
		return nil, apperr.NewExtraction(component, "page structure not recognized", nil)
	}

	if noListings || rows.Length() == 0 {
		return page, nil
	}

	now := time.Now()
	seen := make(map[string]bool)
	rows.Each(func(i int, s *goquery.Selection) {
		l, ok := extractRow(s, now)
		if !ok || seen[l.Id] {
			return
		}
		seen[l.Id] = true
		page.Listings = append(page.Listings, l)
	})

	return page, nil
}

// extractRow pulls a single listing out of a twickets-listing element.
// Rows without a buy button are not purchasable and are skipped.
func extractRow(s *goquery.Selection, now time.Time) (Listing, bool) {
	if s.Find(selBuyButton).Length() == 0 {
		return Listing{}, false
	}

	l := Listing{
		Price:        strings.TrimSpace(s.Find(selPrice).First().Text()),
		Tier:         strings.TrimSpace(s.Find(selTier).First().Text()),
		Quantity:     strings.TrimSpace(s.Find(selQuantity).First().Text()),
		DiscoveredAt: now,
	}

	if l.Price == "" && l.Tier == "" && l.Quantity == "" {
		return Listing{}, false
	}

	l.Id = deriveId(s, l)
	return l, true
}

// deriveId produces a stable identifier for a listing. The element's own
// id attribute or its listing link token is preferred; rows carrying
// neither fall back to a digest of the normalized attributes, which maps
// the same lot to the same identifier on every poll.
func deriveId(s *goquery.Selection, l Listing) string {
	if id, exists := s.Attr("id"); exists && strings.TrimSpace(id) != "" {
		return strings.TrimSpace(id)
	}

	if href, exists := s.Find("a[href*='/listing/']").First().Attr("href"); exists {
		base := strings.Split(href, "?")[0]
		base = strings.TrimRight(base, "/")
		if token, err := helpers.GetSplitPart(base, "/", strings.Count(base, "/")); err == nil && token != "" {
			return token
		}
	}

	sum := sha1.Sum([]byte(strings.ToLower(l.Tier) + "|" + l.Price + "|" + l.Quantity))
	return hex.EncodeToString(sum[:8])
}

func blockedTerms(rawHTML string) []string {
	lower := strings.ToLower(rawHTML)
	var found []string
	for _, term := range blockTerms {
		if strings.Contains(lower, term) {
			found = append(found, term)
		}
	}
	return found
}

func firstText(doc *goquery.Document, selector string) string {
	return strings.TrimSpace(doc.Find(selector).First().Text())
}

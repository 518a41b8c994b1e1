package services

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"ebay-harvester/models"
	"ebay-harvester/utils"
)

var (
	// nonDecimalRegexp strips everything but digits and dots from a cost.
	nonDecimalRegexp = regexp.MustCompile(`[^\d.]`)
	// nonDigitRegexp strips everything but digits from a quantity.
	nonDigitRegexp = regexp.MustCompile(`[^\d]`)
)

// itemIDKeys are tried in order for the listing id.
var itemIDKeys = []string{"listingId", "id", "presentityId"}

// Normalizer turns raw listing cards into Listings. Every missing or
// malformed field falls back to a default; Normalize never fails.
type Normalizer struct {
	logger *utils.Logger
	now    func() time.Time
}

// NewNormalizer creates a Normalizer with the given logger.
func NewNormalizer(logger *utils.Logger) *Normalizer {
	return &Normalizer{logger: logger, now: time.Now}
}

// Normalize maps one card to a Listing.
func (n *Normalizer) Normalize(card map[string]any) models.Listing {
	l := models.Listing{
		ItemID:       utils.Truncate(n.itemID(card), models.MaxItemIDLen),
		SellerID:     utils.Truncate(sellerID(card), models.MaxSellerIDLen),
		Title:        utils.Truncate(spanOrEmpty(card, "title"), models.MaxTitleLen),
		MPN:          utils.Truncate(mpn(card), models.MaxMPNLen),
		Price:        price(card),
		DeliveryCost: parseCost(spanOrEmpty(card, "logisticsCost")),
		Quantity:     parseQuantity(spanOrEmpty(card, "quantity")),
		Category:     utils.Truncate(field(card, "category", "displayName"), models.MaxCategoryLen),
		Link:         field(card, "action", "URL"),
		ImageURL:     field(card, "image", "URL"),
	}
	return l
}

func (n *Normalizer) itemID(card map[string]any) string {
	for _, k := range itemIDKeys {
		v, ok := utils.Lookup(card, k)
		if !ok {
			continue
		}
		// A numeric 0 or false decodes to "0" or "false"; the same strings
		// are treated as missing too since neither names a real listing.
		if s := utils.String(v); s != "" && s != "0" && s != "false" {
			return s
		}
	}
	id := "item_" + strconv.FormatInt(n.now().UnixMilli(), 10)
	if n.logger != nil {
		n.logger.Debug("[normalizer] Card without id, using %s", id)
	}
	return id
}

func sellerID(card map[string]any) string {
	text, _ := utils.SpanText(card, "__search", "sellerInfo", "text")
	if fields := strings.Fields(text); len(fields) > 0 {
		return fields[0]
	}
	return models.UnknownSeller
}

func mpn(card map[string]any) string {
	specs, _ := utils.List(card, "itemSpecifics")
	for _, s := range specs {
		name, _ := utils.Lookup(s, "name")
		switch strings.ToLower(strings.TrimSpace(utils.String(name))) {
		case "mpn", "oem":
			value, _ := utils.Lookup(s, "value")
			return utils.String(value)
		}
	}
	return ""
}

func price(card map[string]any) float64 {
	v, ok := utils.Lookup(card, "displayPrice", "value", "value")
	if !ok {
		return 0
	}
	f, ok := utils.Number(v)
	if !ok || f < 0 || f > models.MaxAmount {
		return 0
	}
	return f
}

// parseCost keeps digits and dots: "$12.50 shipping" -> 12.50. Empty,
// unparseable or out-of-range text gives 0.
func parseCost(raw string) float64 {
	cleaned := nonDecimalRegexp.ReplaceAllString(raw, "")
	if cleaned == "" {
		return 0
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || f < 0 || f > models.MaxAmount {
		return 0
	}
	return f
}

// parseQuantity keeps digits only: "More than 10 available" -> 10. Values
// that do not fit the stock column give 0.
func parseQuantity(raw string) int {
	cleaned := nonDigitRegexp.ReplaceAllString(raw, "")
	if cleaned == "" {
		return 0
	}
	q, err := strconv.Atoi(cleaned)
	if err != nil || q > models.MaxStock {
		return 0
	}
	return q
}

func spanOrEmpty(card map[string]any, keys ...string) string {
	text, _ := utils.SpanText(card, keys...)
	return text
}

func field(card map[string]any, keys ...string) string {
	v, _ := utils.Lookup(card, keys...)
	return utils.String(v)
}

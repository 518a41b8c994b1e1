package models

import (
	"math"
	"time"
)

// Field limits of the normalized schema, matching the column sizes.
const (
	MaxItemIDLen   = 50
	MaxSellerIDLen = 50
	MaxTitleLen    = 300
	MaxMPNLen      = 100
	MaxCategoryLen = 100

	// MaxAmount is the largest value a NUMERIC(10,2) column holds.
	MaxAmount = 99999999.99
	// MaxStock is the largest value an INT column holds.
	MaxStock = math.MaxInt32

	UnknownSeller = "unknown_seller"
)

// Listing is one normalized listing card. It only lives for the duration of
// a batch; Seller, Product and DailyLog are what gets persisted.
type Listing struct {
	ItemID       string  `json:"item_id"`
	SellerID     string  `json:"seller_id"`
	Title        string  `json:"title"`
	MPN          string  `json:"mpn"`
	Price        float64 `json:"price"`
	DeliveryCost float64 `json:"delivery"`
	Quantity     int     `json:"quantity"`
	Category     string  `json:"category"`
	Link         string  `json:"link"`
	ImageURL     string  `json:"image"`
}

// Seller is a row of the sellers table.
type Seller struct {
	SellerID string
	LastScan time.Time
}

// Product is a row of the products table. It is written once; CreatedAt is
// set by the store on first insert.
type Product struct {
	ItemID    string
	SellerID  string
	Title     string
	MPNOEM    string
	Category  string
	URL       string
	ImageURL  string
	CreatedAt time.Time
}

// DailyLog is the price/stock observation of one item for one day.
type DailyLog struct {
	ItemID     string
	LogDate    time.Time
	Price      float64
	Shipping   float64
	StockLevel int
}

// Batch is the unit written to storage in a single transaction, in the
// order Sellers, Products, DailyLogs.
type Batch struct {
	Sellers   []Seller
	Products  []Product
	DailyLogs []DailyLog
}

// ProductPatch lists the product columns that may be changed after insert.
// Nil fields are left untouched.
type ProductPatch struct {
	Title    *string `json:"title,omitempty" validate:"omitempty,max=300"`
	MPNOEM   *string `json:"mpn,omitempty" validate:"omitempty,max=100"`
	Category *string `json:"category,omitempty" validate:"omitempty,max=100"`
	URL      *string `json:"link,omitempty" validate:"omitempty,url"`
	ImageURL *string `json:"image,omitempty" validate:"omitempty,url"`
}

// Empty reports whether the patch changes nothing.
func (p ProductPatch) Empty() bool {
	return p.Title == nil && p.MPNOEM == nil && p.Category == nil && p.URL == nil && p.ImageURL == nil
}

// Apply returns a copy of prod with the patch fields set.
func (p ProductPatch) Apply(prod Product) Product {
	if p.Title != nil {
		prod.Title = *p.Title
	}
	if p.MPNOEM != nil {
		prod.MPNOEM = *p.MPNOEM
	}
	if p.Category != nil {
		prod.Category = *p.Category
	}
	if p.URL != nil {
		prod.URL = *p.URL
	}
	if p.ImageURL != nil {
		prod.ImageURL = *p.ImageURL
	}
	return prod
}

// RunState is the position of a harvest run in its page loop.
type RunState string

const (
	RunStart       RunState = "START"
	RunFetching    RunState = "FETCHING"
	RunNormalizing RunState = "NORMALIZING"
	RunBatching    RunState = "BATCHING"
	RunDone        RunState = "DONE"
	RunFailed      RunState = "FAILED"
)

// PageStat records one fetched page.
type PageStat struct {
	Page     int
	Cards    int
	Proxy    string
	Duration time.Duration
}

// RunSummary is what a harvest run reports to its caller, including on
// early termination.
type RunSummary struct {
	RunID         string
	StoreURL      string
	State         RunState
	TotalItems    int
	IngestedItems int
	Batches       int
	FailedBatches int
	ProxyFailures int
	Pages         []PageStat
	StartedAt     time.Time
	Duration      time.Duration
	Err           string
}

// PageDurations returns the per-page durations in page order.
func (s *RunSummary) PageDurations() []time.Duration {
	out := make([]time.Duration, 0, len(s.Pages))
	for _, p := range s.Pages {
		out = append(out, p.Duration)
	}
	return out
}

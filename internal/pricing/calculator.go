package pricing

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/printdesk/api/internal/domain"
)

// minimumChargeablePages keeps custom selections from producing zero-charge documents.
const minimumChargeablePages = 1

// Priced is the view of a document the calculator needs.
type Priced struct {
	Settings          domain.PrintSettings
	DeclaredPageCount int
	FileType          domain.FileType
}

// CustomPages resolves the black-and-white and colour selections of settings against maxPage.
// Unrestricted results mean the corresponding expression was empty.
func CustomPages(settings domain.PrintSettings, maxPage int) (bw PageSet, color PageSet, err error) {
	bw, bwErr := Resolve(settings.BWPages, maxPage)
	color, colorErr := Resolve(settings.ColorPages, maxPage)
	if bwErr != nil {
		return PageSet{}, PageSet{}, bwErr
	}
	if colorErr != nil {
		return PageSet{}, PageSet{}, colorErr
	}
	return bw, color, nil
}

// EffectivePageCount returns the chargeable page count of a document.
func EffectivePageCount(settings domain.PrintSettings, declaredPageCount int, fileType domain.FileType) int {
	if !fileType.Paginated() {
		return 1
	}
	if settings.PageSelection != domain.PageSelectionCustom {
		return declaredPageCount
	}
	if isBlank(settings.BWPages) && isBlank(settings.ColorPages) {
		return declaredPageCount
	}
	bw, color, err := CustomPages(settings, declaredPageCount)
	if err != nil {
		return minimumChargeablePages
	}
	count := bw.Union(color).Len()
	if count < minimumChargeablePages {
		return minimumChargeablePages
	}
	return count
}

// PerPage selects the per-page price for the colour mode.
func PerPage(settings domain.PrintSettings, pricing domain.ShopPricing) decimal.Decimal {
	perPage := pricing.BW
	if settings.ColorMode == domain.ColorModeColor {
		perPage = pricing.Color
	}
	if perPage.IsNegative() {
		return decimal.Zero
	}
	return perPage
}

// Price computes perPage * effective pages * copies for one document.
func Price(settings domain.PrintSettings, declaredPageCount int, pricing domain.ShopPricing, fileType domain.FileType) decimal.Decimal {
	copies := settings.Copies
	if copies < 1 {
		copies = 1
	}
	pages := EffectivePageCount(settings, declaredPageCount, fileType)
	if pages < 0 {
		pages = 0
	}
	return PerPage(settings, pricing).
		Mul(decimal.NewFromInt(int64(pages))).
		Mul(decimal.NewFromInt(int64(copies)))
}

// TotalPrice sums Price over documents.
func TotalPrice(documents []Priced, pricing domain.ShopPricing) decimal.Decimal {
	total := decimal.Zero
	for _, doc := range documents {
		total = total.Add(Price(doc.Settings, doc.DeclaredPageCount, pricing, doc.FileType))
	}
	return total
}

// FromDocuments adapts session documents for TotalPrice.
func FromDocuments(documents []domain.Document) []Priced {
	out := make([]Priced, 0, len(documents))
	for _, doc := range documents {
		out = append(out, Priced{
			Settings:          doc.Settings,
			DeclaredPageCount: doc.PageCount,
			FileType:          doc.FileType,
		})
	}
	return out
}

func isBlank(value string) bool {
	return strings.TrimSpace(value) == ""
}

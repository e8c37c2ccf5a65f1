package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FileType identifies how a document is treated by the pricing model.
type FileType string

const (
	// FileTypePDF marks paginated documents whose pages can be counted from the content.
	FileTypePDF FileType = "PDF"
	// FileTypeDOCX marks word processor documents printed as a single unit.
	FileTypeDOCX FileType = "DOCX"
	// FileTypePPTX marks presentation decks printed as a single unit.
	FileTypePPTX FileType = "PPTX"
	// FileTypeImage marks raster images printed as a single unit.
	FileTypeImage FileType = "IMAGE"
)

// Paginated reports whether the file type is charged per page.
func (t FileType) Paginated() bool {
	return t == FileTypePDF
}

// Valid reports whether the file type is one of the supported values.
func (t FileType) Valid() bool {
	switch t {
	case FileTypePDF, FileTypeDOCX, FileTypePPTX, FileTypeImage:
		return true
	default:
		return false
	}
}

// ColorMode selects the per-page price applied to a document.
type ColorMode string

const (
	ColorModeColor      ColorMode = "COLOR"
	ColorModeBlackWhite ColorMode = "BLACK_WHITE"
)

// PageSelection selects whether every page or a custom subset is printed.
type PageSelection string

const (
	PageSelectionAll    PageSelection = "ALL"
	PageSelectionCustom PageSelection = "CUSTOM"
)

// PaperSize enumerates the paper stock offered at the counter.
type PaperSize string

const (
	PaperSizeA4     PaperSize = "A4"
	PaperSizeA3     PaperSize = "A3"
	PaperSizeLetter PaperSize = "LETTER"
	PaperSizeLegal  PaperSize = "LEGAL"
)

// Orientation enumerates page orientations.
type Orientation string

const (
	OrientationPortrait  Orientation = "PORTRAIT"
	OrientationLandscape Orientation = "LANDSCAPE"
)

// PrintQuality enumerates printer quality presets.
type PrintQuality string

const (
	PrintQualityDraft  PrintQuality = "DRAFT"
	PrintQualityNormal PrintQuality = "NORMAL"
	PrintQualityHigh   PrintQuality = "HIGH"
)

// PrintSettings captures the per-document print configuration chosen by the customer.
// BWPages and ColorPages hold raw page range expressions used when PageSelection is custom.
type PrintSettings struct {
	ColorMode     ColorMode     `validate:"required,oneof=COLOR BLACK_WHITE"`
	PageSelection PageSelection `validate:"required,oneof=ALL CUSTOM"`
	BWPages       string        `validate:"max=512"`
	ColorPages    string        `validate:"max=512"`
	PaperSize     PaperSize     `validate:"required,oneof=A4 A3 LETTER LEGAL"`
	Orientation   Orientation   `validate:"required,oneof=PORTRAIT LANDSCAPE"`
	Quality       PrintQuality  `validate:"required,oneof=DRAFT NORMAL HIGH"`
	Copies        int           `validate:"min=1,max=999"`
}

// DefaultPrintSettings returns the settings applied to a freshly added document.
func DefaultPrintSettings() PrintSettings {
	return PrintSettings{
		ColorMode:     ColorModeBlackWhite,
		PageSelection: PageSelectionAll,
		PaperSize:     PaperSizeA4,
		Orientation:   OrientationPortrait,
		Quality:       PrintQualityNormal,
		Copies:        1,
	}
}

// Document is a file held by an upload session until the order is submitted.
type Document struct {
	ID             string
	Name           string
	ContentType    string
	Content        []byte
	Size           int64
	FileType       FileType
	PageCount      int
	NeedsPageCount bool
	Settings       PrintSettings
	Price          decimal.Decimal
	AddedAt        time.Time
}

// PaymentStatus enumerates the payment state recorded on an order.
type PaymentStatus string

const (
	PaymentStatusUnpaid PaymentStatus = "unpaid"
	PaymentStatusPaid   PaymentStatus = "paid"
	PaymentStatusFailed PaymentStatus = "failed"
)

// OrderStatus enumerates print lifecycle states. Transitions after submission belong to the shop backend.
type OrderStatus string

const (
	OrderStatusSubmitted OrderStatus = "submitted"
	OrderStatusQueued    OrderStatus = "queued"
	OrderStatusPrinting  OrderStatus = "printing"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// MixedFileType is recorded as the order file type when documents of different types are combined.
const MixedFileType = "MIXED"

// Order is the immutable snapshot persisted at submission time.
type Order struct {
	ID                   string
	CustomerID           string
	CustomerPhone        string
	Documents            []OrderDocument
	DocumentSize         int64
	PageCount            int
	PaymentStatus        PaymentStatus
	PaymentAmount        decimal.Decimal
	GatewayOrderID       string
	GatewayPaymentID     string
	// PaymentFailureReason is set when the last charge attempt was declined.
	PaymentFailureReason string
	Status               OrderStatus
	HasSettings          bool
	IsPaid               bool
	CanAutoPrint         bool
	QueuePriority        int
	FileType             string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// DocumentCount returns the number of documents in the order.
func (o Order) DocumentCount() int {
	return len(o.Documents)
}

// DocumentNames returns document names in submission order.
func (o Order) DocumentNames() []string {
	names := make([]string, 0, len(o.Documents))
	for _, doc := range o.Documents {
		names = append(names, doc.Name)
	}
	return names
}

// OrderDocument is the per-document entry of a persisted order.
type OrderDocument struct {
	ID                 string
	Name               string
	URL                string
	Size               int64
	FileType           FileType
	PageCount          int
	EffectivePageCount int
	Settings           PrintSettings
	Price              decimal.Decimal
}

// PaymentTransaction carries the gateway references recorded when an order is paid.
type PaymentTransaction struct {
	GatewayOrderID string
	TransactionID  string
	Amount         decimal.Decimal
}

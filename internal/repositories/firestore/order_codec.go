package firestore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/printdesk/api/internal/domain"
)

const (
	// orderSchemaVersion is written on every new order record.
	orderSchemaVersion = 2
	// Records without schemaVersion predate the versioned contract.
	legacySchemaVersion = 1
)

var errUnsupportedSchema = errors.New("unsupported order schema version")

// orderRecord is the stored shape of an order. Field names are shared with the shop's print
// station and must not change.
type orderRecord struct {
	SchemaVersion       *int                       `firestore:"schemaVersion,omitempty"`
	OrderID             string                     `firestore:"orderId"`
	CustomerID          string                     `firestore:"customerId"`
	CustomerPhone       string                     `firestore:"customerPhone"`
	DocumentName        []string                   `firestore:"documentName"`
	DocumentURL         []string                   `firestore:"documentUrl"`
	DocumentSize        int64                      `firestore:"documentSize"`
	PageCount           int                        `firestore:"pageCount"`
	PrintSettings       []printSettingsRecord      `firestore:"printSettings"`
	IndividualDocuments []individualDocumentRecord `firestore:"individualDocuments"`
	DocumentCount       int                        `firestore:"documentCount"`
	PaymentStatus       string                     `firestore:"paymentStatus"`
	PaymentAmount       float64                    `firestore:"paymentAmount"`
	RazorpayOrderID     string                     `firestore:"razorpayOrderId"`
	RazorpayPaymentID   string                     `firestore:"razorpayPaymentId"`
	PaymentFailure      string                     `firestore:"paymentFailureReason,omitempty"`
	OrderStatus         string                     `firestore:"orderStatus"`
	HasSettings         bool                       `firestore:"hasSettings"`
	IsPaid              bool                       `firestore:"isPaid"`
	CanAutoPrint        bool                       `firestore:"canAutoPrint"`
	QueuePriority       int                        `firestore:"queuePriority"`
	CreatedAt           time.Time                  `firestore:"createdAt"`
	UpdatedAt           time.Time                  `firestore:"updatedAt"`
	FileType            string                     `firestore:"fileType"`
}

type printSettingsRecord struct {
	ColorMode     string `firestore:"colorMode"`
	PageSelection string `firestore:"pageSelection"`
	BWPages       string `firestore:"bwPages"`
	ColorPages    string `firestore:"colorPages"`
	PaperSize     string `firestore:"paperSize"`
	Orientation   string `firestore:"orientation"`
	Quality       string `firestore:"quality"`
	Copies        int    `firestore:"copies"`
}

type individualDocumentRecord struct {
	DocumentID         string  `firestore:"documentId"`
	DocumentName       string  `firestore:"documentName"`
	DocumentURL        string  `firestore:"documentUrl"`
	DocumentSize       int64   `firestore:"documentSize"`
	FileType           string  `firestore:"fileType"`
	PageCount          int     `firestore:"pageCount"`
	EffectivePageCount int     `firestore:"effectivePageCount"`
	Price              float64 `firestore:"price"`
}

// Wire codes written by schema version 2. Version 1 stored the enum names verbatim.
var (
	colorModeCodes = enumCodes[domain.ColorMode]{
		domain.ColorModeColor:      "color",
		domain.ColorModeBlackWhite: "bw",
	}
	pageSelectionCodes = enumCodes[domain.PageSelection]{
		domain.PageSelectionAll:    "all",
		domain.PageSelectionCustom: "custom",
	}
	paperSizeCodes = enumCodes[domain.PaperSize]{
		domain.PaperSizeA4:     "a4",
		domain.PaperSizeA3:     "a3",
		domain.PaperSizeLetter: "letter",
		domain.PaperSizeLegal:  "legal",
	}
	orientationCodes = enumCodes[domain.Orientation]{
		domain.OrientationPortrait:  "portrait",
		domain.OrientationLandscape: "landscape",
	}
	qualityCodes = enumCodes[domain.PrintQuality]{
		domain.PrintQualityDraft:  "draft",
		domain.PrintQualityNormal: "normal",
		domain.PrintQualityHigh:   "high",
	}
	fileTypeCodes = enumCodes[domain.FileType]{
		domain.FileTypePDF:   "pdf",
		domain.FileTypeDOCX:  "docx",
		domain.FileTypePPTX:  "pptx",
		domain.FileTypeImage: "image",
	}
)

type enumCodes[E ~string] map[E]string

func (c enumCodes[E]) encode(value E) string {
	return c[value]
}

func (c enumCodes[E]) decode(field, raw string, version int) (E, error) {
	trimmed := strings.TrimSpace(raw)
	for value, code := range c {
		if version == legacySchemaVersion {
			if strings.EqualFold(string(value), trimmed) {
				return value, nil
			}
			continue
		}
		if code == trimmed {
			return value, nil
		}
	}
	var zero E
	return zero, fmt.Errorf("%s: unknown value %q", field, raw)
}

func encodeOrder(order domain.Order) orderRecord {
	version := orderSchemaVersion
	rec := orderRecord{
		SchemaVersion:     &version,
		OrderID:           order.ID,
		CustomerID:        order.CustomerID,
		CustomerPhone:     order.CustomerPhone,
		DocumentName:      make([]string, 0, len(order.Documents)),
		DocumentURL:       make([]string, 0, len(order.Documents)),
		DocumentSize:      order.DocumentSize,
		PageCount:         order.PageCount,
		PrintSettings:     make([]printSettingsRecord, 0, len(order.Documents)),
		DocumentCount:     order.DocumentCount(),
		PaymentStatus:     string(order.PaymentStatus),
		PaymentAmount:     order.PaymentAmount.InexactFloat64(),
		RazorpayOrderID:   order.GatewayOrderID,
		RazorpayPaymentID: order.GatewayPaymentID,
		OrderStatus:       string(order.Status),
		HasSettings:       order.HasSettings,
		IsPaid:            order.IsPaid,
		CanAutoPrint:      order.CanAutoPrint,
		QueuePriority:     order.QueuePriority,
		CreatedAt:         order.CreatedAt.UTC(),
		UpdatedAt:         order.UpdatedAt.UTC(),
		FileType:          order.FileType,
	}
	rec.IndividualDocuments = make([]individualDocumentRecord, 0, len(order.Documents))
	for _, doc := range order.Documents {
		rec.DocumentName = append(rec.DocumentName, doc.Name)
		rec.DocumentURL = append(rec.DocumentURL, doc.URL)
		rec.PrintSettings = append(rec.PrintSettings, encodeSettings(doc.Settings))
		rec.IndividualDocuments = append(rec.IndividualDocuments, individualDocumentRecord{
			DocumentID:         doc.ID,
			DocumentName:       doc.Name,
			DocumentURL:        doc.URL,
			DocumentSize:       doc.Size,
			FileType:           fileTypeCodes.encode(doc.FileType),
			PageCount:          doc.PageCount,
			EffectivePageCount: doc.EffectivePageCount,
			Price:              doc.Price.InexactFloat64(),
		})
	}
	return rec
}

func encodeSettings(s domain.PrintSettings) printSettingsRecord {
	return printSettingsRecord{
		ColorMode:     colorModeCodes.encode(s.ColorMode),
		PageSelection: pageSelectionCodes.encode(s.PageSelection),
		BWPages:       s.BWPages,
		ColorPages:    s.ColorPages,
		PaperSize:     paperSizeCodes.encode(s.PaperSize),
		Orientation:   orientationCodes.encode(s.Orientation),
		Quality:       qualityCodes.encode(s.Quality),
		Copies:        s.Copies,
	}
}

// decodeOrder converts a stored record into an order, upgrading legacy records on the way.
func decodeOrder(id string, rec orderRecord) (domain.Order, error) {
	version := legacySchemaVersion
	if rec.SchemaVersion != nil {
		version = *rec.SchemaVersion
	}
	if version != legacySchemaVersion && version != orderSchemaVersion {
		return domain.Order{}, fmt.Errorf("%w: %d", errUnsupportedSchema, version)
	}

	orderID := strings.TrimSpace(rec.OrderID)
	if orderID == "" {
		orderID = id
	}
	if orderID == "" {
		return domain.Order{}, errors.New("orderId is required")
	}
	if len(rec.DocumentName) != len(rec.PrintSettings) || len(rec.DocumentName) != len(rec.DocumentURL) {
		return domain.Order{}, fmt.Errorf("document arrays disagree: %d names, %d urls, %d settings",
			len(rec.DocumentName), len(rec.DocumentURL), len(rec.PrintSettings))
	}
	if version == orderSchemaVersion && len(rec.IndividualDocuments) != len(rec.DocumentName) {
		return domain.Order{}, fmt.Errorf("individualDocuments has %d entries, want %d",
			len(rec.IndividualDocuments), len(rec.DocumentName))
	}
	if rec.DocumentCount != len(rec.DocumentName) {
		return domain.Order{}, fmt.Errorf("documentCount %d does not match %d documents", rec.DocumentCount, len(rec.DocumentName))
	}

	paymentStatus, err := decodePaymentStatus(rec.PaymentStatus)
	if err != nil {
		return domain.Order{}, err
	}
	orderStatus, err := decodeOrderStatus(rec.OrderStatus)
	if err != nil {
		return domain.Order{}, err
	}

	order := domain.Order{
		ID:                   orderID,
		CustomerID:           rec.CustomerID,
		CustomerPhone:        rec.CustomerPhone,
		Documents:            make([]domain.OrderDocument, 0, len(rec.DocumentName)),
		DocumentSize:         rec.DocumentSize,
		PageCount:            rec.PageCount,
		PaymentStatus:        paymentStatus,
		PaymentAmount:        decimal.NewFromFloat(rec.PaymentAmount),
		GatewayOrderID:       rec.RazorpayOrderID,
		GatewayPaymentID:     rec.RazorpayPaymentID,
		PaymentFailureReason: rec.PaymentFailure,
		Status:               orderStatus,
		HasSettings:          rec.HasSettings,
		IsPaid:               rec.IsPaid,
		CanAutoPrint:         rec.CanAutoPrint,
		QueuePriority:        rec.QueuePriority,
		FileType:             rec.FileType,
		CreatedAt:            rec.CreatedAt.UTC(),
		UpdatedAt:            rec.UpdatedAt.UTC(),
	}

	for i, name := range rec.DocumentName {
		settings, err := decodeSettings(rec.PrintSettings[i], version)
		if err != nil {
			return domain.Order{}, fmt.Errorf("printSettings[%d]: %w", i, err)
		}
		doc := domain.OrderDocument{Name: name, URL: rec.DocumentURL[i], Settings: settings}
		if version == orderSchemaVersion {
			ind := rec.IndividualDocuments[i]
			fileType, err := fileTypeCodes.decode("fileType", ind.FileType, version)
			if err != nil {
				return domain.Order{}, fmt.Errorf("individualDocuments[%d]: %w", i, err)
			}
			doc.ID = ind.DocumentID
			doc.Size = ind.DocumentSize
			doc.FileType = fileType
			doc.PageCount = ind.PageCount
			doc.EffectivePageCount = ind.EffectivePageCount
			doc.Price = decimal.NewFromFloat(ind.Price)
		} else {
			upgradeLegacyDocument(&doc, i, rec)
		}
		order.Documents = append(order.Documents, doc)
	}
	return order, nil
}

// upgradeLegacyDocument fills what version 1 records did not store per document. Legacy orders
// were single-type, so the order file type is carried to each document.
func upgradeLegacyDocument(doc *domain.OrderDocument, index int, rec orderRecord) {
	doc.ID = fmt.Sprintf("%s-%d", rec.OrderID, index+1)
	if ft := domain.FileType(strings.ToUpper(strings.TrimSpace(rec.FileType))); ft.Valid() {
		doc.FileType = ft
	}
	if index < len(rec.IndividualDocuments) {
		ind := rec.IndividualDocuments[index]
		doc.Size = ind.DocumentSize
		doc.PageCount = ind.PageCount
		doc.EffectivePageCount = ind.EffectivePageCount
		doc.Price = decimal.NewFromFloat(ind.Price)
		if ft := domain.FileType(strings.ToUpper(strings.TrimSpace(ind.FileType))); ft.Valid() {
			doc.FileType = ft
		}
		return
	}
	if len(rec.DocumentName) == 1 {
		doc.Size = rec.DocumentSize
		doc.PageCount = rec.PageCount
		doc.Price = decimal.NewFromFloat(rec.PaymentAmount)
	}
}

func decodeSettings(rec printSettingsRecord, version int) (domain.PrintSettings, error) {
	var (
		out domain.PrintSettings
		err error
	)
	if out.ColorMode, err = colorModeCodes.decode("colorMode", rec.ColorMode, version); err != nil {
		return out, err
	}
	if out.PageSelection, err = pageSelectionCodes.decode("pageSelection", rec.PageSelection, version); err != nil {
		return out, err
	}
	if out.PaperSize, err = paperSizeCodes.decode("paperSize", rec.PaperSize, version); err != nil {
		return out, err
	}
	if out.Orientation, err = orientationCodes.decode("orientation", rec.Orientation, version); err != nil {
		return out, err
	}
	if out.Quality, err = qualityCodes.decode("quality", rec.Quality, version); err != nil {
		return out, err
	}
	if rec.Copies < 1 {
		return out, fmt.Errorf("copies: must be positive, got %d", rec.Copies)
	}
	out.Copies = rec.Copies
	out.BWPages = rec.BWPages
	out.ColorPages = rec.ColorPages
	return out, nil
}

func decodePaymentStatus(raw string) (domain.PaymentStatus, error) {
	switch status := domain.PaymentStatus(strings.ToLower(strings.TrimSpace(raw))); status {
	case domain.PaymentStatusUnpaid, domain.PaymentStatusPaid, domain.PaymentStatusFailed:
		return status, nil
	default:
		return "", fmt.Errorf("paymentStatus: unknown value %q", raw)
	}
}

func decodeOrderStatus(raw string) (domain.OrderStatus, error) {
	switch status := domain.OrderStatus(strings.ToLower(strings.TrimSpace(raw))); status {
	case domain.OrderStatusSubmitted, domain.OrderStatusQueued, domain.OrderStatusPrinting,
		domain.OrderStatusCompleted, domain.OrderStatusCancelled:
		return status, nil
	default:
		return "", fmt.Errorf("orderStatus: unknown value %q", raw)
	}
}

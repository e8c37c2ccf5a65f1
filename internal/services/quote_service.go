package services

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/printdesk/api/internal/pricing"
)

// QuoteServiceDeps bundles collaborators for the quote service.
type QuoteServiceDeps struct {
	Sessions UploadSessionService
	Shop     ShopSettingsSource
	// Currency is used when the shop settings carry none.
	Currency string
	Locale   language.Tag
}

type quoteService struct {
	sessions UploadSessionService
	shop     ShopSettingsSource
	currency string
	printer  *message.Printer
}

// NewQuoteService constructs a QuoteService pricing sessions with the live shop settings.
func NewQuoteService(deps QuoteServiceDeps) (QuoteService, error) {
	if deps.Sessions == nil {
		return nil, errors.New("quote service: session service is required")
	}
	if deps.Shop == nil {
		return nil, errors.New("quote service: shop settings source is required")
	}
	locale := deps.Locale
	if locale == language.Und {
		locale = language.English
	}
	code := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if code == "" {
		code = "INR"
	}
	return &quoteService{
		sessions: deps.Sessions,
		shop:     deps.Shop,
		currency: code,
		printer:  message.NewPrinter(locale),
	}, nil
}

func (s *quoteService) Quote(ctx context.Context, customerID, sessionID string) (Quote, error) {
	session, err := s.sessions.Get(ctx, customerID, sessionID)
	if err != nil {
		return Quote{}, err
	}
	return s.build(session, s.shop.Current()), nil
}

// WatchQuote re-prices the session whenever it changes or the shop pricing changes. The channel is
// closed when ctx ends or the session expires.
func (s *quoteService) WatchQuote(ctx context.Context, customerID, sessionID string) (<-chan Quote, error) {
	ctx, cancel := context.WithCancel(ctx)
	sessionUpdates, err := s.sessions.Subscribe(ctx, customerID, sessionID)
	if err != nil {
		cancel()
		return nil, err
	}
	shopUpdates := s.shop.Subscribe(ctx)

	out := make(chan Quote, 1)
	go func() {
		defer cancel()
		defer close(out)

		session, ok := <-sessionUpdates
		if !ok {
			return
		}
		settings, ok := <-shopUpdates
		if !ok {
			return
		}
		offerLatest(out, s.build(session, settings))
		for {
			select {
			case <-ctx.Done():
				return
			case next, ok := <-sessionUpdates:
				if !ok {
					return
				}
				session = next
			case next, ok := <-shopUpdates:
				if !ok {
					return
				}
				settings = next
			}
			offerLatest(out, s.build(session, settings))
		}
	}()
	return out, nil
}

func (s *quoteService) build(session UploadSession, settings ShopSettings) Quote {
	code := strings.ToUpper(strings.TrimSpace(settings.Currency))
	if code == "" {
		code = s.currency
	}
	quote := Quote{
		SessionID:      session.ID,
		Currency:       code,
		Documents:      make([]DocumentQuote, 0, len(session.Documents)),
		Total:          decimal.Zero,
		ShopOpen:       settings.IsOpen,
		PricingAsOf:    settings.UpdatedAt,
		SessionVersion: session.Version,
	}
	for _, doc := range session.Documents {
		copies := doc.Settings.Copies
		if copies < 1 {
			copies = 1
		}
		price := pricing.Price(doc.Settings, doc.PageCount, settings.Pricing, doc.FileType)
		quote.Documents = append(quote.Documents, DocumentQuote{
			DocumentID:         doc.ID,
			Name:               doc.Name,
			FileType:           doc.FileType,
			EffectivePageCount: pricing.EffectivePageCount(doc.Settings, doc.PageCount, doc.FileType),
			PerPage:            pricing.PerPage(doc.Settings, settings.Pricing),
			Copies:             copies,
			Price:              price,
			Problems:           validateDocument(doc),
		})
		quote.Total = quote.Total.Add(price)
	}
	quote.TotalDisplay = s.formatAmount(quote.Total, code)
	return quote
}

func (s *quoteService) formatAmount(amount decimal.Decimal, code string) string {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return code + " " + amount.StringFixed(2)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return s.printer.Sprint(currency.Symbol(unit.Amount(amount.Round(int32(scale)).InexactFloat64())))
}

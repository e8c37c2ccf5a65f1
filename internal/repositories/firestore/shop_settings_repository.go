package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"

	"github.com/printdesk/api/internal/domain"
	pfirestore "github.com/printdesk/api/internal/platform/firestore"
	"github.com/printdesk/api/internal/repositories"
)

const defaultShopSettingsCollection = "shop_settings"

type shopSettingsDocument struct {
	IsOpen    bool                `firestore:"isOpen"`
	Pricing   shopPricingDocument `firestore:"pricing"`
	Currency  string              `firestore:"currency"`
	UpdatedAt time.Time           `firestore:"updatedAt"`
}

type shopPricingDocument struct {
	BW    float64 `firestore:"bw"`
	Color float64 `firestore:"color"`
}

// ShopSettingsRepository reads the operator-managed shop document. The core never writes it.
type ShopSettingsRepository struct {
	base       *pfirestore.BaseRepository[domain.ShopSettings]
	documentID string
}

var _ repositories.ShopSettingsRepository = (*ShopSettingsRepository)(nil)

// NewShopSettingsRepository binds the repository to collection/documentID.
func NewShopSettingsRepository(provider *pfirestore.Provider, collection, documentID string) (*ShopSettingsRepository, error) {
	if provider == nil {
		return nil, errors.New("shop settings repository requires firestore provider")
	}
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return nil, errors.New("shop settings repository requires document id")
	}
	if strings.TrimSpace(collection) == "" {
		collection = defaultShopSettingsCollection
	}
	base := pfirestore.NewBaseRepository[domain.ShopSettings](provider, collection, nil, decodeShopSettings)
	return &ShopSettingsRepository{base: base, documentID: documentID}, nil
}

func decodeShopSettings(_ context.Context, snap *firestore.DocumentSnapshot) (domain.ShopSettings, error) {
	var doc shopSettingsDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.ShopSettings{}, err
	}
	return shopSettingsFromDocument(snap.Ref.ID, doc)
}

func shopSettingsFromDocument(id string, doc shopSettingsDocument) (domain.ShopSettings, error) {
	if doc.Pricing.BW < 0 || doc.Pricing.Color < 0 {
		return domain.ShopSettings{}, errors.New("pricing must not be negative")
	}
	return domain.ShopSettings{
		ShopID: id,
		IsOpen: doc.IsOpen,
		Pricing: domain.ShopPricing{
			BW:    decimal.NewFromFloat(doc.Pricing.BW),
			Color: decimal.NewFromFloat(doc.Pricing.Color),
		},
		Currency:  strings.ToUpper(strings.TrimSpace(doc.Currency)),
		UpdatedAt: doc.UpdatedAt.UTC(),
	}, nil
}

// Get reads the current settings.
func (r *ShopSettingsRepository) Get(ctx context.Context) (domain.ShopSettings, error) {
	if r == nil || r.base == nil {
		return domain.ShopSettings{}, errors.New("shop settings repository not initialised")
	}
	doc, err := r.base.Get(ctx, r.documentID)
	if err != nil {
		return domain.ShopSettings{}, err
	}
	return doc.Data, nil
}

// Watch emits the settings document on every change.
func (r *ShopSettingsRepository) Watch(ctx context.Context, emit func(domain.ShopSettings, bool) error) error {
	if r == nil || r.base == nil {
		return errors.New("shop settings repository not initialised")
	}
	if emit == nil {
		return errors.New("shop settings repository: emit callback is required")
	}
	return r.base.WatchDocument(ctx, r.documentID, func(doc pfirestore.Document[domain.ShopSettings], ok bool) error {
		if !ok {
			return emit(domain.ShopSettings{ShopID: r.documentID}, false)
		}
		return emit(doc.Data, true)
	})
}

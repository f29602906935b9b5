package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/souqline/api/internal/domain"
	pfirestore "github.com/souqline/api/internal/platform/firestore"
	"github.com/souqline/api/internal/repositories"
)

const (
	settingsCollection = "settings"
	settingsDocumentID = "shop"
)

type settingsDocument struct {
	FreeShippingThreshold int64     `firestore:"freeShippingThreshold"`
	DefaultShippingFee    int64     `firestore:"defaultShippingFee"`
	UpdatedAt             time.Time `firestore:"updatedAt"`
}

// SettingsRepository owns the shop settings singleton document, creating it
// lazily with defaults on first read.
type SettingsRepository struct {
	provider *pfirestore.Provider
	settings *pfirestore.BaseRepository[settingsDocument]
}

func NewSettingsRepository(provider *pfirestore.Provider) (*SettingsRepository, error) {
	if provider == nil {
		return nil, errors.New("settings repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[settingsDocument](provider, settingsCollection, nil, nil)
	return &SettingsRepository{provider: provider, settings: base}, nil
}

func (r *SettingsRepository) Get(ctx context.Context, defaults domain.ShopSettings) (domain.ShopSettings, error) {
	if r == nil || r.provider == nil {
		return domain.ShopSettings{}, errors.New("settings repository not initialised")
	}

	var result domain.ShopSettings
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.settings.DocumentRef(ctx, settingsDocumentID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) != codes.NotFound {
				return err
			}
			doc := settingsDocument{
				FreeShippingThreshold: defaults.FreeShippingThreshold,
				DefaultShippingFee:    defaults.DefaultShippingFee,
				UpdatedAt:             time.Now().UTC(),
			}
			if err := tx.Create(ref, doc); err != nil {
				return err
			}
			result = doc.toDomain()
			return nil
		}
		var doc settingsDocument
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		result = doc.toDomain()
		return nil
	})
	if err != nil {
		return domain.ShopSettings{}, pfirestore.WrapError("settings.get", err)
	}
	return result, nil
}

func (r *SettingsRepository) Update(ctx context.Context, settings domain.ShopSettings) (domain.ShopSettings, error) {
	if r == nil || r.settings == nil {
		return domain.ShopSettings{}, errors.New("settings repository not initialised")
	}
	if settings.UpdatedAt.IsZero() {
		settings.UpdatedAt = time.Now().UTC()
	}
	doc := settingsDocument{
		FreeShippingThreshold: settings.FreeShippingThreshold,
		DefaultShippingFee:    settings.DefaultShippingFee,
		UpdatedAt:             settings.UpdatedAt.UTC(),
	}
	if _, err := r.settings.Set(ctx, settingsDocumentID, doc); err != nil {
		return domain.ShopSettings{}, err
	}
	return doc.toDomain(), nil
}

func (d settingsDocument) toDomain() domain.ShopSettings {
	return domain.ShopSettings{
		FreeShippingThreshold: d.FreeShippingThreshold,
		DefaultShippingFee:    d.DefaultShippingFee,
		UpdatedAt:             d.UpdatedAt,
	}
}

var _ repositories.SettingsRepository = (*SettingsRepository)(nil)

package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/printdesk/api/internal/platform/firestore"
)

const defaultCollection = "idempotency_keys"

// FirestoreStore keeps reservations in a Firestore collection. Configure a TTL policy on the
// expiresAt field to purge old records.
type FirestoreStore struct {
	provider   *pfirestore.Provider
	collection string
}

var _ Store = (*FirestoreStore)(nil)

// NewFirestoreStore constructs a store writing to collection (default idempotency_keys).
func NewFirestoreStore(provider *pfirestore.Provider, collection string) *FirestoreStore {
	if collection == "" {
		collection = defaultCollection
	}
	return &FirestoreStore{provider: provider, collection: collection}
}

type firestoreRecord struct {
	Key            string              `firestore:"key"`
	Fingerprint    string              `firestore:"fingerprint"`
	Completed      bool                `firestore:"completed"`
	ResponseStatus int                 `firestore:"responseStatus"`
	Headers        map[string][]string `firestore:"responseHeaders"`
	Body           []byte              `firestore:"responseBody"`
	CreatedAt      time.Time           `firestore:"createdAt"`
	ExpiresAt      time.Time           `firestore:"expiresAt"`
}

func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, StoredResponse, error) {
	ref, err := s.ref(ctx, key)
	if err != nil {
		return 0, StoredResponse{}, err
	}

	var (
		outcome Outcome
		stored  StoredResponse
	)
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		var record firestoreRecord
		if err == nil {
			if err := snap.DataTo(&record); err != nil {
				return err
			}
		}
		if err != nil || !now.Before(record.ExpiresAt) {
			outcome = OutcomeReserved
			return tx.Set(ref, firestoreRecord{Key: key, Fingerprint: fingerprint, CreatedAt: now, ExpiresAt: now.Add(ttl)})
		}
		if record.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}
		if !record.Completed {
			outcome = OutcomeInFlight
			return nil
		}
		outcome = OutcomeReplay
		stored = StoredResponse{Status: record.ResponseStatus, Headers: record.Headers, Body: record.Body}
		return nil
	})
	return outcome, stored, err
}

func (s *FirestoreStore) Complete(ctx context.Context, key, fingerprint string, resp StoredResponse, now time.Time, ttl time.Duration) error {
	ref, err := s.ref(ctx, key)
	if err != nil {
		return err
	}
	_, err = ref.Set(ctx, firestoreRecord{
		Key:            key,
		Fingerprint:    fingerprint,
		Completed:      true,
		ResponseStatus: resp.Status,
		Headers:        resp.Headers,
		Body:           resp.Body,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	})
	return pfirestore.WrapError("idempotency.complete", err)
}

func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	ref, err := s.ref(ctx, key)
	if err != nil {
		return err
	}
	_, err = ref.Delete(ctx)
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return pfirestore.WrapError("idempotency.release", err)
}

func (s *FirestoreStore) ref(ctx context.Context, key string) (*firestore.DocumentRef, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(s.collection).Doc(documentID(key)), nil
}

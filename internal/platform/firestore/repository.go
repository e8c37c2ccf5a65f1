package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Document represents a strongly typed Firestore document with metadata timestamps.
type Document[T any] struct {
	ID         string
	Data       T
	CreateTime time.Time
	UpdateTime time.Time
}

// Snapshot is one decoded view of a query. Documents that failed to decode are reported in
// Failures and left out of Documents.
type Snapshot[T any] struct {
	Documents []Document[T]
	Failures  []*DecodeError
	ReadTime  time.Time
}

// Encoder serialises the strongly typed entity prior to persistence.
type Encoder[T any] func(ctx context.Context, value T) (any, error)

// Decoder hydrates the strongly typed entity from a snapshot.
type Decoder[T any] func(ctx context.Context, snap *firestore.DocumentSnapshot) (T, error)

// QueryBuilder customises Firestore queries before execution.
type QueryBuilder func(query firestore.Query) firestore.Query

// BaseRepository provides typed helpers wrapping Firestore collection access.
type BaseRepository[T any] struct {
	provider   *Provider
	collection string
	encode     Encoder[T]
	decode     Decoder[T]
}

// NewBaseRepository constructs a BaseRepository bound to a collection.
func NewBaseRepository[T any](provider *Provider, collection string, encode Encoder[T], decode Decoder[T]) *BaseRepository[T] {
	if encode == nil {
		encode = func(_ context.Context, value T) (any, error) { return value, nil }
	}
	if decode == nil {
		decode = func(_ context.Context, snap *firestore.DocumentSnapshot) (T, error) {
			var target T
			err := snap.DataTo(&target)
			return target, err
		}
	}
	return &BaseRepository[T]{
		provider:   provider,
		collection: strings.TrimSpace(collection),
		encode:     encode,
		decode:     decode,
	}
}

// Create writes value under id and fails with a conflict when the document already exists.
func (r *BaseRepository[T]) Create(ctx context.Context, id string, value T) (time.Time, error) {
	doc, err := r.DocumentRef(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	payload, err := r.encode(ctx, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("firestore: encode document %s: %w", id, err)
	}
	result, err := doc.Create(ctx, payload)
	if err != nil {
		return time.Time{}, WrapError(r.op("create"), err)
	}
	return result.UpdateTime, nil
}

// Update applies partial updates to an existing document.
func (r *BaseRepository[T]) Update(ctx context.Context, id string, updates []firestore.Update, opts ...firestore.Precondition) (time.Time, error) {
	doc, err := r.DocumentRef(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	result, err := doc.Update(ctx, updates, opts...)
	if err != nil {
		return time.Time{}, WrapError(r.op("update"), err)
	}
	return result.UpdateTime, nil
}

// Get fetches and decodes the document by ID.
func (r *BaseRepository[T]) Get(ctx context.Context, id string) (Document[T], error) {
	doc, err := r.DocumentRef(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}
	snapshot, err := doc.Get(ctx)
	if err != nil {
		return Document[T]{}, WrapError(r.op("get"), err)
	}
	return r.Decode(ctx, snapshot)
}

// Query executes a collection query. Undecodable documents are reported, not fatal.
func (r *BaseRepository[T]) Query(ctx context.Context, build QueryBuilder) (Snapshot[T], error) {
	query, err := r.query(ctx, build)
	if err != nil {
		return Snapshot[T]{}, err
	}
	iter := query.Documents(ctx)
	defer iter.Stop()

	var out Snapshot[T]
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return Snapshot[T]{}, WrapError(r.op("query"), err)
		}
		r.collect(ctx, &out, snap)
	}
	return out, nil
}

// Watch listens to the query and calls emit with every decoded snapshot. It returns when ctx ends,
// when emit returns an error, or when the listener fails.
func (r *BaseRepository[T]) Watch(ctx context.Context, build QueryBuilder, emit func(Snapshot[T]) error) error {
	query, err := r.query(ctx, build)
	if err != nil {
		return err
	}
	iter := query.Snapshots(ctx)
	defer iter.Stop()

	for {
		qs, err := iter.Next()
		if err != nil {
			if ctx.Err() != nil || status.Code(err) == codes.Canceled {
				return ctx.Err()
			}
			return WrapError(r.op("watch"), err)
		}
		snaps, err := qs.Documents.GetAll()
		if err != nil {
			return WrapError(r.op("watch"), err)
		}
		out := Snapshot[T]{ReadTime: qs.ReadTime}
		for _, snap := range snaps {
			r.collect(ctx, &out, snap)
		}
		if err := emit(out); err != nil {
			return err
		}
	}
}

// WatchDocument listens to one document. emit receives ok=false while the document does not exist.
func (r *BaseRepository[T]) WatchDocument(ctx context.Context, id string, emit func(doc Document[T], ok bool) error) error {
	ref, err := r.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	iter := ref.Snapshots(ctx)
	defer iter.Stop()

	for {
		snap, err := iter.Next()
		if err != nil {
			if ctx.Err() != nil || status.Code(err) == codes.Canceled {
				return ctx.Err()
			}
			return WrapError(r.op("watch"), err)
		}
		if snap == nil || !snap.Exists() {
			if err := emit(Document[T]{ID: id}, false); err != nil {
				return err
			}
			continue
		}
		doc, err := r.Decode(ctx, snap)
		if err != nil {
			return err
		}
		if err := emit(doc, true); err != nil {
			return err
		}
	}
}

// DocumentRef exposes the underlying document reference for transactions.
func (r *BaseRepository[T]) DocumentRef(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(r.op("document"), errors.New("document id is required"))
	}
	coll, err := r.collectionRef(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

// Decode converts a snapshot into a typed document, tagging failures with ErrRecordDecode.
func (r *BaseRepository[T]) Decode(ctx context.Context, snapshot *firestore.DocumentSnapshot) (Document[T], error) {
	entity, err := r.decode(ctx, snapshot)
	if err != nil {
		return Document[T]{}, &DecodeError{DocumentID: snapshot.Ref.ID, Err: err}
	}
	return Document[T]{
		ID:         snapshot.Ref.ID,
		Data:       entity,
		CreateTime: snapshot.CreateTime,
		UpdateTime: snapshot.UpdateTime,
	}, nil
}

func (r *BaseRepository[T]) collect(ctx context.Context, out *Snapshot[T], snap *firestore.DocumentSnapshot) {
	doc, err := r.Decode(ctx, snap)
	if err != nil {
		var decodeErr *DecodeError
		if errors.As(err, &decodeErr) {
			out.Failures = append(out.Failures, decodeErr)
		}
		return
	}
	out.Documents = append(out.Documents, doc)
}

func (r *BaseRepository[T]) query(ctx context.Context, build QueryBuilder) (firestore.Query, error) {
	coll, err := r.collectionRef(ctx)
	if err != nil {
		return firestore.Query{}, err
	}
	query := coll.Query
	if build != nil {
		query = build(query)
	}
	return query, nil
}

func (r *BaseRepository[T]) collectionRef(ctx context.Context) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, WrapError(r.op("collection"), errors.New("provider is nil"))
	}
	if r.collection == "" {
		return nil, WrapError(r.op("collection"), errors.New("collection name is required"))
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(r.collection), nil
}

func (r *BaseRepository[T]) op(action string) string {
	name := "firestore"
	if r != nil && r.collection != "" {
		name = r.collection
	}
	return name + "." + action
}

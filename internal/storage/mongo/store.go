package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/pribylovaa/recycle-communities/internal/pkg/log"
	"github.com/pribylovaa/recycle-communities/internal/storage"
)

// Get читает документ по id.
func (m *Mongo) Get(ctx context.Context, collection, id string, out any) error {
	const op = "storage/mongo/Get"

	if err := m.coll(collection).FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(out); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Query выбирает документы по фильтрам; сортировка по OrderBy, затем по _id в том же направлении.
func (m *Mongo) Query(ctx context.Context, collection string, q storage.Query, out any) error {
	const op = "storage/mongo/Query"

	dir := 1
	if q.Desc {
		dir = -1
	}

	sort := bson.D{}
	if q.OrderBy != "" {
		sort = append(sort, bson.E{Key: q.OrderBy, Value: dir})
	}
	sort = append(sort, bson.E{Key: "_id", Value: dir})

	findOpts := options.Find().SetSort(sort)
	if q.Limit > 0 {
		findOpts.SetLimit(q.Limit)
	}

	cur, err := m.coll(collection).Find(ctx, toFilter("", q.Filters), findOpts)
	if err != nil {
		return fmt.Errorf("%s: find: %w", op, err)
	}
	defer cur.Close(ctx)

	if err := cur.All(ctx, out); err != nil {
		return fmt.Errorf("%s: decode: %w", op, err)
	}

	return nil
}

// Count считает документы по фильтрам.
func (m *Mongo) Count(ctx context.Context, collection string, filters ...storage.Filter) (int64, error) {
	const op = "storage/mongo/Count"

	n, err := m.coll(collection).CountDocuments(ctx, toFilter("", filters))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

// Create вставляет документ со случайным UUID в качестве _id.
func (m *Mongo) Create(ctx context.Context, collection string, doc any) (string, error) {
	id := uuid.NewString()
	if err := m.Insert(ctx, collection, id, doc); err != nil {
		return "", err
	}

	return id, nil
}

// Insert вставляет документ с заданным id; дубль _id или уникального индекса - storage.ErrConflict.
func (m *Mongo) Insert(ctx context.Context, collection, id string, doc any) error {
	const op = "storage/mongo/Insert"

	if id == "" {
		return fmt.Errorf("%s: %w", op, storage.ErrInvalidArgument)
	}

	d, err := withID(doc, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if _, err := m.coll(collection).InsertOne(ctx, d); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrConflict)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Set записывает документ с upsert: merge=true - $set полей, иначе замена целиком.
func (m *Mongo) Set(ctx context.Context, collection, id string, doc any, merge bool) error {
	const op = "storage/mongo/Set"

	if id == "" {
		return fmt.Errorf("%s: %w", op, storage.ErrInvalidArgument)
	}

	d, err := withID(doc, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	filter := bson.D{{Key: "_id", Value: id}}
	if merge {
		_, err = m.coll(collection).UpdateOne(ctx, filter,
			bson.D{{Key: "$set", Value: d[1:]}},
			options.Update().SetUpsert(true))
	} else {
		_, err = m.coll(collection).ReplaceOne(ctx, filter, d, options.Replace().SetUpsert(true))
	}

	if err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrConflict)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// InsertMany вставляет отсутствующие документы одним неупорядоченным BulkWrite ($setOnInsert + upsert).
// Уже существующие документы не трогаются, поэтому повтор пакета безопасен.
func (m *Mongo) InsertMany(ctx context.Context, collection string, docs []storage.Keyed) (int64, error) {
	const op = "storage/mongo/InsertMany"

	if len(docs) > storage.MaxBatchSize {
		return 0, fmt.Errorf("%s: %d docs: %w", op, len(docs), storage.ErrInvalidArgument)
	}

	if len(docs) == 0 {
		return 0, nil
	}

	writes := make([]mongodriver.WriteModel, 0, len(docs))
	for _, k := range docs {
		if k.ID == "" {
			return 0, fmt.Errorf("%s: %w", op, storage.ErrInvalidArgument)
		}

		d, err := withID(k.Doc, k.ID)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", op, err)
		}

		writes = append(writes, mongodriver.NewUpdateOneModel().
			SetFilter(bson.D{{Key: "_id", Value: k.ID}}).
			SetUpdate(bson.D{{Key: "$setOnInsert", Value: d[1:]}}).
			SetUpsert(true))
	}

	res, err := m.coll(collection).BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return res.UpsertedCount, nil
}

// Update выставляет поля существующего документа.
func (m *Mongo) Update(ctx context.Context, collection, id string, fields storage.Fields) error {
	const op = "storage/mongo/Update"

	res, err := m.coll(collection).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$set", Value: bson.M(fields)}})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}

// UpdateIf выставляет поля, только если документ с id удовлетворяет cond.
func (m *Mongo) UpdateIf(ctx context.Context, collection, id string, cond []storage.Filter, fields storage.Fields) (bool, error) {
	const op = "storage/mongo/UpdateIf"

	filters := append([]storage.Filter{storage.Eq("_id", id)}, cond...)
	res, err := m.coll(collection).UpdateOne(ctx,
		toFilter("", filters),
		bson.D{{Key: "$set", Value: bson.M(fields)}})
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return res.MatchedCount > 0, nil
}

// UpdateWhere выставляет поля у всех подходящих документов.
func (m *Mongo) UpdateWhere(ctx context.Context, collection string, filters []storage.Filter, fields storage.Fields) (int64, error) {
	const op = "storage/mongo/UpdateWhere"

	res, err := m.coll(collection).UpdateMany(ctx,
		toFilter("", filters),
		bson.D{{Key: "$set", Value: bson.M(fields)}})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return res.MatchedCount, nil
}

// Increment атомарно прибавляет deltas одним $inc.
func (m *Mongo) Increment(ctx context.Context, collection, id string, deltas storage.Deltas) error {
	const op = "storage/mongo/Increment"

	res, err := m.coll(collection).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$inc", Value: bson.M(toAnyMap(deltas))}})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}

// Delete удаляет документ по id.
func (m *Mongo) Delete(ctx context.Context, collection, id string) error {
	const op = "storage/mongo/Delete"

	res, err := m.coll(collection).DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if res.DeletedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}

// resumeAttempts - сколько раз подряд переоткрывается оборвавшийся change stream.
const resumeAttempts = 3

// resumeBackoff - пауза перед первой попыткой; дальше удваивается.
var resumeBackoff = 200 * time.Millisecond

// Subscribe отдаёт выборку сразу, а затем перечитывает её на каждое событие change stream,
// затрагивающее подходящие документы. Требует replica set.
// Оборвавшийся поток переоткрывается с resume token; если это не удалось resumeAttempts раз
// подряд, fn получает storage.FailedSnapshot.
func (m *Mongo) Subscribe(ctx context.Context, collection string, q storage.Query, fn func(storage.Snapshot)) (func(), error) {
	const op = "storage/mongo/Subscribe"

	ctx, cancel := context.WithCancel(ctx)

	match := bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "operationType", Value: "delete"}},
		toFilter("fullDocument.", q.Filters),
	}}}
	pipeline := mongodriver.Pipeline{{{Key: "$match", Value: match}}}

	stream, err := m.watch(ctx, collection, pipeline, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%s: watch: %w", op, err)
	}

	snap, err := m.snapshot(ctx, collection, q)
	if err != nil {
		cancel()
		_ = stream.Close(context.Background())
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	fn(snap)

	go func() {
		lg := log.From(ctx).With("op", op, "collection", collection)
		failures := 0

		for {
			seen, err := m.follow(ctx, stream, collection, q, fn)
			token := stream.ResumeToken()
			_ = stream.Close(context.Background())

			if ctx.Err() != nil {
				return
			}

			if seen > 0 {
				failures = 0
			}
			lg.Warn("change_stream_interrupted", "err", err, "events", seen)

			stream, err = m.reopen(ctx, collection, pipeline, token, &failures)
			if err != nil {
				if ctx.Err() != nil {
					return
				}

				lg.Error("change_stream_resume_failed", "err", err, "attempts", failures)
				fn(storage.FailedSnapshot(fmt.Errorf("%s: %w", op, err)))
				return
			}

			// Изменение, на котором упал прошлый снимок, уже за токеном: перечитываем выборку.
			snap, err := m.snapshot(ctx, collection, q)
			if err != nil {
				_ = stream.Close(context.Background())
				if ctx.Err() != nil {
					return
				}

				lg.Error("change_stream_snapshot_failed", "err", err)
				fn(storage.FailedSnapshot(fmt.Errorf("%s: %w", op, err)))
				return
			}
			fn(snap)
		}
	}()

	return cancel, nil
}

func (m *Mongo) watch(ctx context.Context, collection string, pipeline mongodriver.Pipeline, token bson.Raw) (*mongodriver.ChangeStream, error) {
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	if token != nil {
		opts.SetResumeAfter(token)
	}

	return m.coll(collection).Watch(ctx, pipeline, opts)
}

// follow перечитывает выборку на каждое событие, пока поток жив.
// Возвращает число обработанных событий и причину остановки.
func (m *Mongo) follow(ctx context.Context, stream *mongodriver.ChangeStream, collection string, q storage.Query, fn func(storage.Snapshot)) (int, error) {
	seen := 0
	for stream.Next(ctx) {
		snap, err := m.snapshot(ctx, collection, q)
		if err != nil {
			return seen, fmt.Errorf("snapshot: %w", err)
		}
		fn(snap)
		seen++
	}

	if err := stream.Err(); err != nil {
		return seen, err
	}

	return seen, errors.New("change stream closed")
}

// reopen переоткрывает поток с экспоненциальной паузой; *failures - счётчик подряд идущих неудач.
// Токен, который сервер уже не может продолжить, отбрасывается: выборку всё равно перечитают.
func (m *Mongo) reopen(ctx context.Context, collection string, pipeline mongodriver.Pipeline, token bson.Raw, failures *int) (*mongodriver.ChangeStream, error) {
	var lastErr error

	for *failures < resumeAttempts {
		delay := resumeBackoff << *failures
		*failures++

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		stream, err := m.watch(ctx, collection, pipeline, token)
		if err == nil {
			return stream, nil
		}

		lastErr = err
		token = nil
	}

	if lastErr == nil {
		lastErr = errors.New("change stream keeps failing")
	}

	return nil, lastErr
}

func (m *Mongo) snapshot(ctx context.Context, collection string, q storage.Query) (storage.Snapshot, error) {
	var docs []bson.M
	if err := m.Query(ctx, collection, q, &docs); err != nil {
		return storage.Snapshot{}, err
	}

	return storage.NewSnapshot(docs)
}

func toAnyMap(deltas storage.Deltas) map[string]any {
	out := make(map[string]any, len(deltas))
	for k, v := range deltas {
		out[k] = v
	}

	return out
}

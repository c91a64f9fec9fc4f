// Package memory реализует storage.Store в памяти процесса.
// Документы хранятся в том же BSON-представлении, что и в MongoDB, поэтому теги моделей
// и семантика фильтров совпадают с боевой реализацией.
package memory

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/pribylovaa/recycle-communities/internal/storage"
)

type subscription struct {
	collection string
	query      storage.Query
	fn         func(storage.Snapshot)
}

// Store - потокобезопасное хранилище документов в памяти.
type Store struct {
	mu     sync.RWMutex
	colls  map[string]map[string]bson.M
	subs   map[int]*subscription
	nextID int
}

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{
		colls: make(map[string]map[string]bson.M),
		subs:  make(map[int]*subscription),
	}
}

var _ storage.Store = (*Store)(nil)

// coll возвращает коллекцию, создавая её; вызывать только под s.mu.Lock.
func (s *Store) coll(name string) map[string]bson.M {
	c, ok := s.colls[name]
	if !ok {
		c = make(map[string]bson.M)
		s.colls[name] = c
	}

	return c
}

// toDoc приводит произвольный документ к bson.M через маршалинг.
func toDoc(doc any) (bson.M, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("memory: marshal: %w", err)
	}

	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("memory: unmarshal: %w", err)
	}

	return m, nil
}

// normalize приводит значение фильтра или поля к хранимому BSON-виду.
func normalize(v any) any {
	if v == nil {
		return nil
	}

	m, err := toDoc(bson.M{"v": v})
	if err != nil {
		return v
	}

	return m["v"]
}

func clone(doc bson.M) bson.M {
	out := make(bson.M, len(doc))
	for k, v := range doc {
		out[k] = v
	}

	return out
}

func decodeInto(doc bson.M, out any) error {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("memory: marshal: %w", err)
	}

	return bson.Unmarshal(raw, out)
}

// Get читает документ по id.
func (s *Store) Get(ctx context.Context, collection, id string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	doc, ok := s.colls[collection][id]
	if ok {
		doc = clone(doc)
	}
	s.mu.RUnlock()

	if !ok {
		return storage.ErrNotFound
	}

	return decodeInto(doc, out)
}

// Query выбирает документы по фильтрам с сортировкой и лимитом.
func (s *Store) Query(ctx context.Context, collection string, q storage.Query, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	snap, err := s.snapshot(collection, q)
	if err != nil {
		return err
	}

	return snap.Decode(out)
}

func (s *Store) snapshot(collection string, q storage.Query) (storage.Snapshot, error) {
	s.mu.RLock()
	docs := s.selectLocked(collection, q)
	s.mu.RUnlock()

	return storage.NewSnapshot(docs)
}

func (s *Store) selectLocked(collection string, q storage.Query) []bson.M {
	docs := make([]bson.M, 0)
	for _, doc := range s.colls[collection] {
		if match(doc, q.Filters) {
			docs = append(docs, clone(doc))
		}
	}

	sort.SliceStable(docs, func(i, j int) bool {
		if q.OrderBy != "" {
			if c, ok := compare(docs[i][q.OrderBy], docs[j][q.OrderBy]); ok && c != 0 {
				if q.Desc {
					return c > 0
				}
				return c < 0
			}
		}

		a, _ := docs[i]["_id"].(string)
		b, _ := docs[j]["_id"].(string)
		if q.Desc {
			return a > b
		}
		return a < b
	})

	if q.Limit > 0 && int64(len(docs)) > q.Limit {
		docs = docs[:q.Limit]
	}

	return docs
}

// Count считает документы по фильтрам.
func (s *Store) Count(ctx context.Context, collection string, filters ...storage.Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, doc := range s.colls[collection] {
		if match(doc, filters) {
			n++
		}
	}

	return n, nil
}

// Create вставляет документ с новым UUID.
func (s *Store) Create(ctx context.Context, collection string, doc any) (string, error) {
	id := uuid.NewString()
	if err := s.Insert(ctx, collection, id, doc); err != nil {
		return "", err
	}

	return id, nil
}

// Insert вставляет документ с заданным id; занятый id - storage.ErrConflict.
func (s *Store) Insert(ctx context.Context, collection, id string, doc any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if id == "" {
		return storage.ErrInvalidArgument
	}

	m, err := toDoc(doc)
	if err != nil {
		return err
	}
	m["_id"] = id

	s.mu.Lock()
	c := s.coll(collection)
	if _, exists := c[id]; exists {
		s.mu.Unlock()
		return storage.ErrConflict
	}
	c[id] = m
	s.mu.Unlock()

	s.notify(collection, m)
	return nil
}

// Set записывает документ целиком или сливает поля (merge).
func (s *Store) Set(ctx context.Context, collection, id string, doc any, merge bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if id == "" {
		return storage.ErrInvalidArgument
	}

	m, err := toDoc(doc)
	if err != nil {
		return err
	}
	m["_id"] = id

	s.mu.Lock()
	c := s.coll(collection)
	prev, exists := c[id]
	next := m
	if merge && exists {
		next = clone(prev)
		for k, v := range m {
			next[k] = v
		}
	}
	c[id] = next
	s.mu.Unlock()

	s.notify(collection, prev, next)
	return nil
}

// InsertMany вставляет отсутствующие документы пакетом.
func (s *Store) InsertMany(ctx context.Context, collection string, docs []storage.Keyed) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if len(docs) > storage.MaxBatchSize {
		return 0, storage.ErrInvalidArgument
	}

	prepared := make([]bson.M, 0, len(docs))
	for _, d := range docs {
		if d.ID == "" {
			return 0, storage.ErrInvalidArgument
		}

		m, err := toDoc(d.Doc)
		if err != nil {
			return 0, err
		}
		m["_id"] = d.ID
		prepared = append(prepared, m)
	}

	var inserted []bson.M
	s.mu.Lock()
	c := s.coll(collection)
	for _, m := range prepared {
		id := m["_id"].(string)
		if _, exists := c[id]; exists {
			continue
		}
		c[id] = m
		inserted = append(inserted, m)
	}
	s.mu.Unlock()

	s.notify(collection, inserted...)
	return int64(len(inserted)), nil
}

// Update выставляет поля существующего документа.
func (s *Store) Update(ctx context.Context, collection, id string, fields storage.Fields) error {
	ok, err := s.update(ctx, collection, id, nil, fields)
	if err != nil {
		return err
	}

	if !ok {
		return storage.ErrNotFound
	}

	return nil
}

// UpdateIf выставляет поля, если документ удовлетворяет cond.
func (s *Store) UpdateIf(ctx context.Context, collection, id string, cond []storage.Filter, fields storage.Fields) (bool, error) {
	return s.update(ctx, collection, id, cond, fields)
}

func (s *Store) update(ctx context.Context, collection, id string, cond []storage.Filter, fields storage.Fields) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	c := s.coll(collection)
	prev, ok := c[id]
	if !ok || !match(prev, cond) {
		s.mu.Unlock()
		return false, nil
	}

	next := clone(prev)
	for k, v := range fields {
		next[k] = normalize(v)
	}
	c[id] = next
	s.mu.Unlock()

	s.notify(collection, prev, next)
	return true, nil
}

// UpdateWhere выставляет поля у всех подходящих документов.
func (s *Store) UpdateWhere(ctx context.Context, collection string, filters []storage.Filter, fields storage.Fields) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var changed []bson.M
	s.mu.Lock()
	c := s.coll(collection)
	for id, doc := range c {
		if !match(doc, filters) {
			continue
		}

		next := clone(doc)
		for k, v := range fields {
			next[k] = normalize(v)
		}
		c[id] = next
		changed = append(changed, doc, next)
	}
	s.mu.Unlock()

	s.notify(collection, changed...)
	return int64(len(changed) / 2), nil
}

// Increment атомарно (под общей блокировкой) прибавляет deltas.
func (s *Store) Increment(ctx context.Context, collection, id string, deltas storage.Deltas) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	c := s.coll(collection)
	prev, ok := c[id]
	if !ok {
		s.mu.Unlock()
		return storage.ErrNotFound
	}

	next := clone(prev)
	for field, delta := range deltas {
		cur, _ := toFloat(next[field])
		next[field] = int64(cur) + delta
	}
	c[id] = next
	s.mu.Unlock()

	s.notify(collection, prev, next)
	return nil
}

// Delete удаляет документ.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	c := s.coll(collection)
	prev, ok := c[id]
	if !ok {
		s.mu.Unlock()
		return storage.ErrNotFound
	}
	delete(c, id)
	s.mu.Unlock()

	s.notify(collection, prev)
	return nil
}

// Subscribe регистрирует живой запрос; fn вызывается сразу и после каждого подходящего изменения.
func (s *Store) Subscribe(ctx context.Context, collection string, q storage.Query, fn func(storage.Snapshot)) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = &subscription{collection: collection, query: q, fn: fn}
	s.mu.Unlock()

	snap, err := s.snapshot(collection, q)
	if err != nil {
		return nil, err
	}
	fn(snap)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}

	go func() {
		<-ctx.Done()
		cancel()
	}()

	return cancel, nil
}

// notify пересчитывает выборки подписчиков, которых касаются изменённые документы.
// Вызывается без удержания s.mu.
func (s *Store) notify(collection string, changed ...bson.M) {
	if len(changed) == 0 {
		return
	}

	s.mu.RLock()
	var subs []*subscription
	for _, sub := range s.subs {
		if sub.collection != collection {
			continue
		}

		for _, doc := range changed {
			if doc != nil && match(doc, sub.query.Filters) {
				subs = append(subs, sub)
				break
			}
		}
	}
	s.mu.RUnlock()

	for _, sub := range subs {
		snap, err := s.snapshot(collection, sub.query)
		if err != nil {
			continue
		}
		sub.fn(snap)
	}
}

// Close ничего не освобождает; оставлен для совместимости с контрактом.
func (s *Store) Close(context.Context) error { return nil }

func match(doc bson.M, filters []storage.Filter) bool {
	for _, f := range filters {
		v, ok := doc[f.Field]

		switch f.Op {
		case storage.OpIsNull:
			if ok && v != nil {
				return false
			}
		case storage.OpEq:
			if !equal(v, ok, f.Value) {
				return false
			}
		case storage.OpNe:
			if equal(v, ok, f.Value) {
				return false
			}
		case storage.OpLt:
			if !ok {
				return false
			}
			c, comparable := compare(v, normalize(f.Value))
			if !comparable || c >= 0 {
				return false
			}
		default:
			return false
		}
	}

	return true
}

func equal(v any, present bool, want any) bool {
	if want == nil {
		return !present || v == nil
	}

	if !present {
		return false
	}

	want = normalize(want)
	if c, ok := compare(v, want); ok {
		return c == 0
	}

	return reflect.DeepEqual(v, want)
}

// compare сравнивает скаляры одного рода: строки, bool, числа, даты.
func compare(a, b any) (int, bool) {
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		}
		return 1, true
	}

	if x, ok := toMillis(a); ok {
		y, ok := toMillis(b)
		if !ok {
			return 0, false
		}
		return cmpInt(x, y), true
	}

	x, ok := toFloat(a)
	if !ok {
		return 0, false
	}

	y, ok := toFloat(b)
	if !ok {
		return 0, false
	}

	switch {
	case x < y:
		return -1, true
	case x > y:
		return 1, true
	}

	return 0, true
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}

	return 0
}

func toMillis(v any) (int64, bool) {
	switch t := v.(type) {
	case primitive.DateTime:
		return int64(t), true
	case time.Time:
		return t.UnixMilli(), true
	}

	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}

	return 0, false
}

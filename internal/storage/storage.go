// Package storage описывает контракт документного хранилища, которым пользуется сервис.
// Реализации: storage/mongo (боевая) и storage/memory (тесты и локальный запуск).
package storage

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

var (
	// ErrNotFound - документ отсутствует.
	ErrNotFound = errors.New("not found")
	// ErrConflict - документ с таким id (или уникальным ключом) уже есть.
	ErrConflict = errors.New("conflict")
	// ErrInvalidArgument - запрос к хранилищу некорректен (пустой id, слишком большой батч).
	ErrInvalidArgument = errors.New("invalid argument")
)

// Коллекции сервиса.
const (
	Communities   = "communities"
	Posts         = "posts"
	Comments      = "comments"
	Votes         = "votes"
	Memberships   = "memberships"
	Notifications = "notifications"
	FanoutEvents  = "fanout_events"
)

// MaxBatchSize - максимальный размер одной пакетной записи.
const MaxBatchSize = 500

// Op - оператор сравнения в фильтре.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpLt
	// OpIsNull истинен, если поля нет или оно null; Value игнорируется.
	OpIsNull
)

// Filter - условие на одно поле документа.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Eq - сокращение для равенства.
func Eq(field string, value any) Filter { return Filter{Field: field, Op: OpEq, Value: value} }

// Ne - сокращение для неравенства.
func Ne(field string, value any) Filter { return Filter{Field: field, Op: OpNe, Value: value} }

// Lt - сокращение для «строго меньше».
func Lt(field string, value any) Filter { return Filter{Field: field, Op: OpLt, Value: value} }

// IsNull - поле отсутствует или равно null.
func IsNull(field string) Filter { return Filter{Field: field, Op: OpIsNull} }

// Query - выборка: все фильтры через AND, сортировка по одному полю (затем по _id), лимит (0 - без лимита).
type Query struct {
	Filters []Filter
	OrderBy string
	Desc    bool
	Limit   int64
}

// Fields - набор полей для $set. Значение nil записывает null.
type Fields map[string]any

// Deltas - приращения числовых полей для атомарного $inc.
type Deltas map[string]int64

// Keyed - документ с заранее известным идентификатором.
type Keyed struct {
	ID  string
	Doc any
}

// Snapshot - результат живого запроса, декодируется в указатель на слайс.
// Снимок с Err() != nil означает, что подписка оборвалась и других снимков не будет.
type Snapshot struct {
	raw bson.RawValue
	err error
}

// FailedSnapshot - последний снимок оборвавшейся подписки.
func FailedSnapshot(err error) Snapshot {
	return Snapshot{err: err}
}

// Err возвращает причину обрыва подписки.
func (s Snapshot) Err() error { return s.err }

// NewSnapshot упаковывает слайс документов в Snapshot.
func NewSnapshot(docs any) (Snapshot, error) {
	raw, err := bson.Marshal(bson.M{"items": docs})
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: %w", err)
	}

	return Snapshot{raw: bson.Raw(raw).Lookup("items")}, nil
}

// Decode раскладывает снимок в out (указатель на слайс).
func (s Snapshot) Decode(out any) error {
	if s.err != nil {
		return s.err
	}

	if s.raw.Type == 0 {
		return nil
	}

	return s.raw.Unmarshal(out)
}

// Store - документное хранилище. Все методы безопасны для конкурентного вызова.
type Store interface {
	// Get читает документ по id в out. ErrNotFound, если документа нет.
	Get(ctx context.Context, collection, id string, out any) error
	// Query выбирает документы в out (указатель на слайс).
	Query(ctx context.Context, collection string, q Query, out any) error
	// Count считает документы по фильтрам.
	Count(ctx context.Context, collection string, filters ...Filter) (int64, error)

	// Create вставляет документ со сгенерированным id и возвращает его.
	Create(ctx context.Context, collection string, doc any) (string, error)
	// Insert вставляет документ с заданным id. ErrConflict, если id занят.
	Insert(ctx context.Context, collection, id string, doc any) error
	// Set записывает документ с заданным id: merge=true сливает поля, иначе заменяет целиком.
	Set(ctx context.Context, collection, id string, doc any, merge bool) error
	// InsertMany вставляет документы с заданными id, пропуская уже существующие.
	// Возвращает число реально вставленных; больше MaxBatchSize - ErrInvalidArgument.
	InsertMany(ctx context.Context, collection string, docs []Keyed) (int64, error)

	// Update выставляет поля. ErrNotFound, если документа нет.
	Update(ctx context.Context, collection, id string, fields Fields) error
	// UpdateIf выставляет поля, только если документ удовлетворяет cond (compare-and-set).
	// Возвращает false, если документа нет или условие не выполнено.
	UpdateIf(ctx context.Context, collection, id string, cond []Filter, fields Fields) (bool, error)
	// UpdateWhere выставляет поля у всех документов по фильтрам и возвращает число изменённых.
	UpdateWhere(ctx context.Context, collection string, filters []Filter, fields Fields) (int64, error)
	// Increment атомарно прибавляет deltas. ErrNotFound, если документа нет.
	Increment(ctx context.Context, collection, id string, deltas Deltas) error

	// Delete удаляет документ. ErrNotFound, если документа нет.
	Delete(ctx context.Context, collection, id string) error

	// Subscribe вызывает fn с актуальной выборкой q сразу и после каждого изменения
	// подходящих документов. Возвращённая функция отменяет подписку.
	// Если подписку не удалось продолжить, fn получает FailedSnapshot и больше не вызывается.
	Subscribe(ctx context.Context, collection string, q Query, fn func(Snapshot)) (func(), error)

	// Close освобождает ресурсы.
	Close(ctx context.Context) error
}

// Images - хранилище бинарных изображений (баннеры и иконки сообществ).
type Images interface {
	// DeleteImage удаляет объект по его публичному URL.
	DeleteImage(ctx context.Context, url string) error
}

package mongo

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/pribylovaa/recycle-communities/internal/config"
	"github.com/pribylovaa/recycle-communities/internal/storage"
)

const defaultDBName = "communities"

// Mongo - реализация storage.Store поверх MongoDB.
type Mongo struct {
	cfg    *config.Config
	client *mongodriver.Client
	db     *mongodriver.Database
}

var _ storage.Store = (*Mongo)(nil)

// New подключается к MongoDB, проверяет соединение и обеспечивает индексацию.
func New(ctx context.Context, cfg *config.Config) (*Mongo, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mongo: nil config")
	}

	if cfg.DB.URL == "" {
		return nil, fmt.Errorf("mongo: empty cfg.DB.URL")
	}

	cli, err := mongodriver.Connect(ctx, options.Client().ApplyURI(cfg.DB.URL))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	if err := cli.Ping(ctx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	m := &Mongo{
		cfg:    cfg,
		client: cli,
		db:     cli.Database(databaseFromURI(cfg.DB.URL)),
	}

	if err := m.ensureIndexes(ctx); err != nil {
		_ = m.Close(ctx)
		return nil, err
	}

	return m, nil
}

// Close закрывает соединение с кластером.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func (m *Mongo) coll(name string) *mongodriver.Collection {
	return m.db.Collection(name)
}

// ensureIndexes создаёт индексы под выборки сервиса:
// - уникальный slug сообщества (гонка создания проигрывает с ErrConflict);
// - лента постов сообщества и глобальная лента по created_at(desc);
// - комментарии поста по created_at(asc);
// - активные участники сообщества (community_id + left_at);
// - уведомления пользователя по created_at(desc) и непрочитанные;
// - очередь outbox по status + created_at.
func (m *Mongo) ensureIndexes(ctx context.Context) error {
	indexes := map[string][]mongodriver.IndexModel{
		storage.Communities: {
			{
				Keys:    bson.D{{Key: "slug", Value: 1}},
				Options: options.Index().SetName("slug_unique").SetUnique(true),
			},
			{
				Keys:    bson.D{{Key: "category", Value: 1}, {Key: "created_at", Value: -1}},
				Options: options.Index().SetName("category_created_desc"),
			},
		},
		storage.Posts: {
			{
				Keys:    bson.D{{Key: "community_id", Value: 1}, {Key: "created_at", Value: -1}},
				Options: options.Index().SetName("community_created_desc"),
			},
			{
				Keys:    bson.D{{Key: "created_at", Value: -1}},
				Options: options.Index().SetName("created_desc"),
			},
		},
		storage.Comments: {
			{
				Keys:    bson.D{{Key: "post_id", Value: 1}, {Key: "created_at", Value: 1}},
				Options: options.Index().SetName("post_created_asc"),
			},
		},
		storage.Votes: {
			{
				Keys:    bson.D{{Key: "post_id", Value: 1}},
				Options: options.Index().SetName("post"),
			},
		},
		storage.Memberships: {
			{
				Keys:    bson.D{{Key: "community_id", Value: 1}, {Key: "left_at", Value: 1}},
				Options: options.Index().SetName("community_left"),
			},
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "left_at", Value: 1}},
				Options: options.Index().SetName("user_left"),
			},
		},
		storage.Notifications: {
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
				Options: options.Index().SetName("user_created_desc"),
			},
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "read", Value: 1}},
				Options: options.Index().SetName("user_read"),
			},
		},
		storage.FanoutEvents: {
			{
				Keys:    bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}},
				Options: options.Index().SetName("status_created_asc"),
			},
		},
	}

	for name, models := range indexes {
		if _, err := m.coll(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("mongo ensure indexes %s: %w", name, err)
		}
	}

	return nil
}

// databaseFromURI извлекает имя базы данных из пути URI.
// Если его нет, возвращает имя по умолчанию.
func databaseFromURI(uri string) string {
	u, err := url.Parse(uri)
	if err == nil {
		if name := strings.Trim(u.Path, "/"); name != "" {
			return name
		}
	}

	return defaultDBName
}

// toFilter переводит условия storage в фильтр MongoDB; prefix нужен для change stream (fullDocument.).
func toFilter(prefix string, filters []storage.Filter) bson.D {
	parts := make(bson.A, 0, len(filters))
	for _, f := range filters {
		key := prefix + f.Field

		switch f.Op {
		case storage.OpEq:
			parts = append(parts, bson.D{{Key: key, Value: f.Value}})
		case storage.OpNe:
			parts = append(parts, bson.D{{Key: key, Value: bson.D{{Key: "$ne", Value: f.Value}}}})
		case storage.OpLt:
			parts = append(parts, bson.D{{Key: key, Value: bson.D{{Key: "$lt", Value: f.Value}}}})
		case storage.OpIsNull:
			// {field: null} совпадает и с отсутствующим полем.
			parts = append(parts, bson.D{{Key: key, Value: nil}})
		}
	}

	switch len(parts) {
	case 0:
		return bson.D{}
	case 1:
		return parts[0].(bson.D)
	}

	return bson.D{{Key: "$and", Value: parts}}
}

// withID маршалит документ и принудительно выставляет _id.
func withID(doc any, id string) (bson.D, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	var src bson.D
	if err := bson.Unmarshal(raw, &src); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	out := make(bson.D, 0, len(src)+1)
	out = append(out, bson.E{Key: "_id", Value: id})
	for _, e := range src {
		if e.Key != "_id" {
			out = append(out, e)
		}
	}

	return out, nil
}

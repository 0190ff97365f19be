// Package mongostore is a document container backed by a MongoDB collection, including the Cosmos DB
// API for MongoDB. Documents are read in "id" order and exchanged as relaxed extended json, so
// values such as object ids and dates survive a read then replace.
package mongostore

import (
	"context"
	"time"

	"github.com/autom8ter/foreach"
	"github.com/autom8ter/foreach/errors"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Cosmos DB reports request rate throttling with this server error code
const throttledCode = 16500

func init() {
	foreach.Register("mongo", Open)
}

// Config configures a mongo container
type Config struct {
	URI              string        `mapstructure:"uri" validate:"required"`
	Database         string        `mapstructure:"database" validate:"required"`
	Collection       string        `mapstructure:"collection" validate:"required"`
	PartitionKeyPath string        `mapstructure:"partition_key_path"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
}

// Collection is the subset of *mongo.Collection used by the container
type Collection interface {
	Find(ctx context.Context, filter any, opts ...*options.FindOptions) (*mongo.Cursor, error)
	DeleteOne(ctx context.Context, filter any, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	ReplaceOne(ctx context.Context, filter any, replacement any, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
}

// Container is a foreach.Container over a mongo collection
type Container struct {
	client     *mongo.Client
	collection Collection
	pkField    string
}

// ParseConfig decodes and validates container params. The collection may also be given as "container".
func ParseConfig(params map[string]any) (Config, error) {
	cfg := Config{ConnectTimeout: 10 * time.Second}
	params = lo.Assign(params)
	if _, ok := params["collection"]; !ok {
		if container, ok := params["container"]; ok {
			params["collection"] = container
		}
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           &cfg,
	})
	if err != nil {
		return cfg, err
	}
	if err := decoder.Decode(params); err != nil {
		return cfg, errors.Wrap(err, errors.Validation, "invalid mongo container params")
	}
	if err := validator.New().Struct(cfg); err != nil {
		return cfg, errors.Wrap(err, errors.Validation, "invalid mongo container params")
	}
	return cfg, nil
}

// Open connects to mongo and returns a container over the configured collection
func Open(ctx context.Context, params map[string]any) (foreach.Container, error) {
	cfg, err := ParseConfig(params)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, errors.Wrap(classify(err), errors.Unavailable, "failed to create mongo client")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(classify(err), errors.Unavailable, "failed to connect to mongo")
	}
	c := New(client.Database(cfg.Database).Collection(cfg.Collection), cfg)
	c.client = client
	return c, nil
}

// New creates a container over the collection
func New(collection Collection, cfg Config) *Container {
	return &Container{
		collection: collection,
		pkField:    foreach.PartitionKeyField(cfg.PartitionKeyPath),
	}
}

// ReadPage reads up to pageSize documents with ids greater than the continuation. Paging relies on
// a string "id" field, so a document without one fails the read instead of ending it early.
func (c *Container) ReadPage(ctx context.Context, continuation string, pageSize int) (*foreach.Page, error) {
	if pageSize < 1 {
		pageSize = foreach.DefaultPageSize
	}
	filter := bson.M{}
	if continuation != "" {
		filter[foreach.IDField] = bson.M{"$gt": continuation}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: foreach.IDField, Value: 1}}).
		SetLimit(int64(pageSize) + 1)
	cursor, err := c.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, classify(err)
	}
	defer cursor.Close(ctx)
	page := &foreach.Page{}
	for cursor.Next(ctx) {
		if len(page.Documents) == pageSize {
			page.Continuation = page.Documents[len(page.Documents)-1].ID()
			break
		}
		if _, ok := cursor.Current.Lookup(foreach.IDField).StringValueOK(); !ok {
			return nil, errors.New(errors.Validation, "document %s has no string %s field",
				cursor.Current.Lookup("_id").String(), foreach.IDField)
		}
		doc, err := toDocument(cursor.Current)
		if err != nil {
			return nil, err
		}
		page.Documents = append(page.Documents, doc)
	}
	if err := cursor.Err(); err != nil {
		return nil, classify(err)
	}
	return page, nil
}

// DeleteItem deletes the document with the id in the partition
func (c *Container) DeleteItem(ctx context.Context, id string, partitionKey any) error {
	filter := bson.M{foreach.IDField: id}
	if c.pkField != "" {
		filter[c.pkField] = partitionKey
	}
	result, err := c.collection.DeleteOne(ctx, filter)
	if err != nil {
		return classify(err)
	}
	if result.DeletedCount == 0 {
		return errors.New(errors.NotFound, "document %s not found", id)
	}
	return nil
}

// UpsertItem inserts or replaces the document with the same id
func (c *Container) UpsertItem(ctx context.Context, doc *foreach.Document) error {
	replacement, err := fromDocument(doc)
	if err != nil {
		return err
	}
	_, err = c.collection.ReplaceOne(ctx, bson.M{foreach.IDField: doc.ID()}, replacement, options.Replace().SetUpsert(true))
	return classify(err)
}

// Close disconnects the client if the container created it
func (c *Container) Close(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	return c.client.Disconnect(ctx)
}

func toDocument(raw bson.Raw) (*foreach.Document, error) {
	bits, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return nil, errors.Wrap(err, errors.Internal, "failed to encode document")
	}
	return foreach.NewDocumentFromBytes(bits)
}

func fromDocument(doc *foreach.Document) (bson.D, error) {
	var d bson.D
	if err := bson.UnmarshalExtJSON(doc.Bytes(), false, &d); err != nil {
		return nil, errors.Wrap(err, errors.Validation, "failed to decode document %s", doc.ID())
	}
	return d, nil
}

// classify maps driver errors onto error codes so transient failures are retried
func classify(err error) error {
	if err == nil {
		return nil
	}
	var serverErr mongo.ServerError
	switch {
	case mongo.IsDuplicateKeyError(err):
		return errors.Wrap(err, errors.Conflict, "")
	case errors.As(err, &serverErr) && serverErr.HasErrorCode(throttledCode):
		return errors.Wrap(err, errors.Throttled, "")
	case mongo.IsTimeout(err):
		return errors.Wrap(err, errors.Timeout, "")
	case mongo.IsNetworkError(err):
		return errors.Wrap(err, errors.Unavailable, "")
	default:
		return err
	}
}

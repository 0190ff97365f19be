// Package cosmos is a document container backed by an Azure Cosmos DB for NoSQL container.
package cosmos

import (
	"context"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azcosmos"
	"github.com/autom8ter/foreach"
	"github.com/autom8ter/foreach/errors"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cast"
)

// DefaultQuery reads every item of the container
const DefaultQuery = "SELECT * FROM c"

// Cosmos DB asks clients to retry a conflicting concurrent operation with this status
const statusRetryWith = 449

func init() {
	foreach.Register("cosmos", Open)
}

// Config configures a cosmos container
type Config struct {
	// Account is the account endpoint url, e.g. https://myaccount.documents.azure.com:443/
	Account          string `mapstructure:"account" validate:"required"`
	Key              string `mapstructure:"key" validate:"required"`
	Database         string `mapstructure:"database" validate:"required"`
	Container        string `mapstructure:"container" validate:"required"`
	PartitionKeyPath string `mapstructure:"partition_key_path"`
	// Query selects the documents to read. Defaults to DefaultQuery.
	Query string `mapstructure:"query"`
}

// Items is the subset of *azcosmos.ContainerClient used by the container
type Items interface {
	NewQueryItemsPager(query string, partitionKey azcosmos.PartitionKey, o *azcosmos.QueryOptions) *runtime.Pager[azcosmos.QueryItemsResponse]
	DeleteItem(ctx context.Context, partitionKey azcosmos.PartitionKey, itemId string, o *azcosmos.ItemOptions) (azcosmos.ItemResponse, error)
	UpsertItem(ctx context.Context, partitionKey azcosmos.PartitionKey, item []byte, o *azcosmos.ItemOptions) (azcosmos.ItemResponse, error)
}

// Container is a foreach.Container over a cosmos container
type Container struct {
	items            Items
	query            string
	partitionKeyPath string
}

// ParseConfig decodes and validates container params
func ParseConfig(params map[string]any) (Config, error) {
	var cfg Config
	if err := mapstructure.WeakDecode(params, &cfg); err != nil {
		return cfg, errors.Wrap(err, errors.Validation, "invalid cosmos container params")
	}
	if err := validator.New().Struct(cfg); err != nil {
		return cfg, errors.Wrap(err, errors.Validation, "invalid cosmos container params")
	}
	return cfg, nil
}

// Open creates a cosmos client authenticated with the account key
func Open(ctx context.Context, params map[string]any) (foreach.Container, error) {
	cfg, err := ParseConfig(params)
	if err != nil {
		return nil, err
	}
	cred, err := azcosmos.NewKeyCredential(cfg.Key)
	if err != nil {
		return nil, errors.Wrap(err, errors.Validation, "invalid cosmos key")
	}
	client, err := azcosmos.NewClientWithKey(cfg.Account, cred, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.Validation, "failed to create cosmos client")
	}
	container, err := client.NewContainer(cfg.Database, cfg.Container)
	if err != nil {
		return nil, errors.Wrap(err, errors.Validation, "failed to create container client")
	}
	return New(container, cfg), nil
}

// New creates a container over the items client
func New(items Items, cfg Config) *Container {
	if cfg.Query == "" {
		cfg.Query = DefaultQuery
	}
	return &Container{
		items:            items,
		query:            cfg.Query,
		partitionKeyPath: cfg.PartitionKeyPath,
	}
}

// ReadPage runs the container query across partitions and returns a single page of results
func (c *Container) ReadPage(ctx context.Context, continuation string, pageSize int) (*foreach.Page, error) {
	switch {
	case pageSize < 1:
		pageSize = foreach.DefaultPageSize
	case pageSize > foreach.MaxPageSize:
		pageSize = foreach.MaxPageSize
	}
	opts := &azcosmos.QueryOptions{PageSizeHint: int32(pageSize)}
	if continuation != "" {
		opts.ContinuationToken = &continuation
	}
	pager := c.items.NewQueryItemsPager(c.query, azcosmos.NewPartitionKey(), opts)
	page := &foreach.Page{}
	if !pager.More() {
		return page, nil
	}
	resp, err := pager.NextPage(ctx)
	if err != nil {
		return nil, classify(err)
	}
	for _, item := range resp.Items {
		doc, err := foreach.NewDocumentFromBytes(item)
		if err != nil {
			return nil, errors.Wrap(err, errors.Internal, "invalid item in query response")
		}
		page.Documents = append(page.Documents, doc)
	}
	if resp.ContinuationToken != nil {
		page.Continuation = *resp.ContinuationToken
	}
	return page, nil
}

// DeleteItem deletes the item with the id in the partition
func (c *Container) DeleteItem(ctx context.Context, id string, partitionKey any) error {
	pk, err := PartitionKey(partitionKey)
	if err != nil {
		return err
	}
	_, err = c.items.DeleteItem(ctx, pk, id, nil)
	return classify(err)
}

// UpsertItem inserts or replaces the item. The partition key is read from the document.
func (c *Container) UpsertItem(ctx context.Context, doc *foreach.Document) error {
	if c.partitionKeyPath == "" {
		return errors.New(errors.Validation, "a partition key path is required to upsert %s", doc.ID())
	}
	pk, err := PartitionKey(doc.PartitionKey(c.partitionKeyPath))
	if err != nil {
		return err
	}
	_, err = c.items.UpsertItem(ctx, pk, doc.Bytes(), nil)
	return classify(err)
}

// Close is a no-op; cosmos clients hold no connections that need releasing
func (c *Container) Close(ctx context.Context) error {
	return nil
}

// PartitionKey converts a partition key value (string, number, bool or nil) into a cosmos partition key
func PartitionKey(value any) (azcosmos.PartitionKey, error) {
	switch value := value.(type) {
	case nil:
		return azcosmos.NullPartitionKey, nil
	case string:
		return azcosmos.NewPartitionKeyString(value), nil
	case bool:
		return azcosmos.NewPartitionKeyBool(value), nil
	}
	f, err := cast.ToFloat64E(value)
	if err != nil {
		return azcosmos.PartitionKey{}, errors.New(errors.Validation, "unsupported partition key type %T", value)
	}
	return azcosmos.NewPartitionKeyNumber(f), nil
}

// classify maps cosmos response errors onto error codes so transient failures are retried
func classify(err error) error {
	if err == nil {
		return nil
	}
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return err
	}
	switch respErr.StatusCode {
	case http.StatusTooManyRequests:
		return errors.Wrap(err, errors.Throttled, "")
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return errors.Wrap(err, errors.Timeout, "")
	case http.StatusServiceUnavailable, http.StatusBadGateway, statusRetryWith:
		return errors.Wrap(err, errors.Unavailable, "")
	case http.StatusNotFound:
		return errors.Wrap(err, errors.NotFound, "")
	case http.StatusConflict:
		return errors.Wrap(err, errors.Conflict, "")
	case http.StatusPreconditionFailed:
		return errors.Wrap(err, errors.PreconditionFailed, "")
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return errors.Wrap(err, errors.Validation, "")
	default:
		return errors.Wrap(err, errors.Internal, "")
	}
}

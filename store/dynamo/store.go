// Package dynamo implements store.Store on top of DynamoDB.
//
// Every resource maps to one table (Config.TablePrefix + resource) keyed by
// Config.KeyAttribute. Documents are stored as top level attributes next to
// three managed attributes: a version token rewritten on every write and the
// create/update timestamps. Transactions read with TransactGetItems and
// commit with TransactWriteItems; every document read inside a transaction
// is guarded by a version condition so concurrent writers surface as
// contention and the attempt is retried.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jacentio/trellis-odm/internal/batch"
	"github.com/jacentio/trellis-odm/store"
)

// API is the subset of *dynamodb.Client used by the Store.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	BatchGetItem(ctx context.Context, in *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	TransactGetItems(ctx context.Context, in *dynamodb.TransactGetItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactGetItemsOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

var _ API = (*dynamodb.Client)(nil)

// Store provides document operations over DynamoDB.
type Store struct {
	client API
	config Config
	logger *zap.Logger
	now    func() time.Time
}

var _ store.Store = (*Store)(nil)

// New creates a new Store instance.
func New(client API, config Config) *Store {
	config.validate()
	return &Store{
		client: client,
		config: config,
		logger: zap.NewNop(),
		now:    time.Now,
	}
}

// WithLogger sets the logger on the store.
func (s *Store) WithLogger(l *zap.Logger) {
	s.logger = l
}

// Backend implements store.Store.
func (s *Store) Backend() store.Backend { return store.BackendDynamo }

// TableName returns the table that holds resource.
func (s *Store) TableName(resource string) string {
	return s.config.TablePrefix + resource
}

// ResourceName returns the resource stored in table, or false when the table
// does not carry the configured prefix.
func (s *Store) ResourceName(table string) (string, bool) {
	resource, ok := strings.CutPrefix(table, s.config.TablePrefix)
	if !ok || resource == "" {
		return "", false
	}
	return resource, true
}

func (s *Store) key(ref store.DocRef) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		s.config.KeyAttribute: &types.AttributeValueMemberS{Value: ref.ID},
	}
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, ref store.DocRef) (store.Snapshot, error) {
	if err := ref.Validate(); err != nil {
		return store.Snapshot{}, err
	}
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.TableName(ref.Resource)),
		Key:            s.key(ref),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return store.Snapshot{}, mapError(err)
	}
	return s.snapshot(ref, result.Item)
}

// BatchGet implements store.Store.
func (s *Store) BatchGet(ctx context.Context, refs []store.DocRef) ([]store.Snapshot, error) {
	for _, ref := range refs {
		if err := ref.Validate(); err != nil {
			return nil, err
		}
	}

	found := make(map[string]map[string]types.AttributeValue, len(refs))
	unique := batch.Unique(refs, store.DocRef.Path)
	for _, chunk := range batch.Chunk(unique, batch.MaxDynamoItems) {
		if err := s.batchGetChunk(ctx, chunk, found); err != nil {
			return nil, err
		}
	}

	snapshots := make([]store.Snapshot, 0, len(refs))
	for _, ref := range refs {
		snap, err := s.snapshot(ref, found[ref.Path()])
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}

func (s *Store) batchGetChunk(ctx context.Context, refs []store.DocRef, found map[string]map[string]types.AttributeValue) error {
	request := make(map[string]types.KeysAndAttributes)
	for _, ref := range refs {
		table := s.TableName(ref.Resource)
		ka := request[table]
		ka.Keys = append(ka.Keys, s.key(ref))
		ka.ConsistentRead = aws.Bool(true)
		request[table] = ka
	}

	for attempt := 0; len(request) > 0; attempt++ {
		if attempt > s.config.MaxUnprocessedRetries {
			return &store.ProviderError{
				Code:    store.CodeResourceExhausted,
				Details: "batch get left unprocessed keys after retries",
			}
		}
		out, err := s.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: request})
		if err != nil {
			return mapError(err)
		}
		for table, items := range out.Responses {
			resource, _ := s.ResourceName(table)
			for _, item := range items {
				id, ok := item[s.config.KeyAttribute].(*types.AttributeValueMemberS)
				if !ok {
					continue
				}
				found[store.Ref(resource, id.Value).Path()] = item
			}
		}
		request = out.UnprocessedKeys
	}
	return nil
}

// Create implements store.Store.
func (s *Store) Create(ctx context.Context, ref store.DocRef, data store.Data) error {
	item, err := s.newItem(ref, data)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.TableName(ref.Resource)),
		Item:                     item,
		ConditionExpression:      aws.String(notExistsCondition()),
		ExpressionAttributeNames: s.keyNames(),
	})
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return alreadyExists(ref)
	}
	return mapError(err)
}

// Update implements store.Store.
func (s *Store) Update(ctx context.Context, ref store.DocRef, data store.Data) error {
	in, err := s.updateInput(ref, data, condition{})
	if err != nil {
		return err
	}
	_, err = s.client.UpdateItem(ctx, in)
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return notFound(ref)
	}
	return mapError(err)
}

// Set implements store.Store.
func (s *Store) Set(ctx context.Context, ref store.DocRef, data store.Data) error {
	item, err := s.newItem(ref, data)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.TableName(ref.Resource)),
		Item:      item,
	})
	return mapError(err)
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, ref store.DocRef) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.TableName(ref.Resource)),
		Key:       s.key(ref),
	})
	return mapError(err)
}

// RunTransaction implements store.Store. Each attempt reads through
// TransactGetItems and commits every buffered write in a single
// TransactWriteItems call.
func (s *Store) RunTransaction(ctx context.Context, fn store.TxFunc, opts store.TxOptions) error {
	attempt := 0
	return store.RunAttempts(ctx, opts.MaxAttempts, func(ctx context.Context) error {
		attempt++
		tx := newTransaction(s)
		if err := fn(ctx, tx); err != nil {
			return err
		}
		err := tx.commit(ctx)
		if store.IsContention(err) {
			s.logger.Debug("transaction contention",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return err
	})
}

// newItem marshals data into a full item with fresh managed attributes.
func (s *Store) newItem(ref store.DocRef, data store.Data) (map[string]types.AttributeValue, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		return nil, &store.ProviderError{Code: store.CodeInvalidArgument, Details: fmt.Sprintf("marshal document %s: %v", ref, err), Err: err}
	}
	now := s.timestamp()
	item[s.config.KeyAttribute] = &types.AttributeValueMemberS{Value: ref.ID}
	item[attrVersion] = &types.AttributeValueMemberS{Value: newVersion()}
	item[attrCreatedAt] = &types.AttributeValueMemberS{Value: now}
	item[attrUpdatedAt] = &types.AttributeValueMemberS{Value: now}
	return item, nil
}

// updateInput builds an UpdateItem merging data into ref. The document must
// exist; extra adds further conditions.
func (s *Store) updateInput(ref store.DocRef, data store.Data, extra condition) (*dynamodb.UpdateItemInput, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		return nil, &store.ProviderError{Code: store.CodeInvalidArgument, Details: fmt.Sprintf("marshal document %s: %v", ref, err), Err: err}
	}
	expr, names, values := s.updateExpression(item, newVersion(), s.timestamp())
	return &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.TableName(ref.Resource)),
		Key:                       s.key(ref),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String(andConditions(existsCondition(), extra.expr)),
		ExpressionAttributeNames:  mergeExprNames(names, s.keyNames(), extra.names),
		ExpressionAttributeValues: mergeExprValues(values, extra.values),
	}, nil
}

// documentIDField is the id field every document carries. A differently
// named key attribute is not part of the document.
const documentIDField = "id"

// snapshot converts a raw item into a store.Snapshot. A nil item is a missing
// document.
func (s *Store) snapshot(ref store.DocRef, item map[string]types.AttributeValue) (store.Snapshot, error) {
	snap := store.Snapshot{Ref: ref}
	if item == nil {
		return snap, nil
	}

	data := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		if k == s.config.KeyAttribute && k != documentIDField {
			continue
		}
		switch k {
		case attrCreatedAt:
			snap.CreateTime = parseTime(v)
		case attrUpdatedAt:
			snap.UpdateTime = parseTime(v)
		case attrVersion:
		default:
			data[k] = v
		}
	}

	var doc store.Data
	if err := attributevalue.UnmarshalMap(data, &doc); err != nil {
		return store.Snapshot{}, &store.ProviderError{Code: store.CodeDataLoss, Details: fmt.Sprintf("unmarshal document %s: %v", ref, err), Err: err}
	}
	snap.Data = doc
	snap.Exists = true
	return snap, nil
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func versionOf(item map[string]types.AttributeValue) string {
	if v, ok := item[attrVersion].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func newVersion() string {
	return uuid.NewString()
}

func parseTime(v types.AttributeValue) time.Time {
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s.Value)
	return t
}

// Package stream provides DynamoDB Streams handlers keeping model mirrors in
// sync with the store.
package stream

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/jacentio/trellis-odm/model"
	"github.com/jacentio/trellis-odm/store"
	"github.com/jacentio/trellis-odm/store/dynamo"
)

// Stream event names.
const (
	EventInsert = "INSERT"
	EventModify = "MODIFY"
	EventRemove = "REMOVE"
)

// Resolver maps a table name to the resource stored in it. *dynamo.Store
// implements it.
type Resolver interface {
	ResourceName(table string) (string, bool)
}

// Handler processes DynamoDB stream events and replays the changes on the
// mirror of the changed model.
type Handler struct {
	registry     *model.Registry
	resolver     Resolver
	keyAttribute string
	logger       *zap.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithKeyAttribute sets the partition key attribute holding the document
// id. Default: "id".
func WithKeyAttribute(name string) Option {
	return func(h *Handler) { h.keyAttribute = name }
}

// WithLogger sets the logger of the handler.
func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// NewHandler creates a new stream handler.
func NewHandler(registry *model.Registry, resolver Resolver, opts ...Option) *Handler {
	h := &Handler{
		registry:     registry,
		resolver:     resolver,
		keyAttribute: "id",
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleMirrorSync applies every record of event to the mirror of its
// model. A failing record does not stop the batch; all failures are
// returned together so the batch is retried.
// This function is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleMirrorSync(ctx context.Context, event events.DynamoDBEvent) error {
	var errs error
	for i := range event.Records {
		record := &event.Records[i]
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to sync record",
				zap.String("eventID", record.EventID),
				zap.String("eventName", record.EventName),
				zap.Error(err),
			)
			errs = multierr.Append(errs, fmt.Errorf("record %s: %w", record.EventID, err))
		}
	}
	return errs
}

func (h *Handler) processRecord(ctx context.Context, record *events.DynamoDBEventRecord) error {
	switch record.EventName {
	case EventInsert, EventModify, EventRemove:
	default:
		return nil
	}

	table := tableFromARN(record.EventSourceArn)
	resource, ok := h.resolver.ResourceName(table)
	if !ok {
		h.logger.Debug("skipping record of unknown table", zap.String("table", table))
		return nil
	}
	m, ok := h.registry.Lookup(resource)
	if !ok || m.Mirror() == nil {
		return nil
	}

	id := getStringAttr(record.Change.Keys, h.keyAttribute)
	if id == "" {
		return store.Errorf(store.KindInvalidArgument, "record has no %q key", h.keyAttribute)
	}

	mirror := m.Mirror()
	switch record.EventName {
	case EventRemove:
		return mirror.Delete(ctx, id)
	case EventInsert:
		doc, err := h.decode(record.Change.NewImage)
		if err != nil {
			return err
		}
		return mirror.Create(ctx, id, doc)
	default:
		doc, err := h.decode(record.Change.NewImage)
		if err != nil {
			return err
		}
		return mirror.Index(ctx, id, doc)
	}
}

// decode is DecodeImage without a key attribute other than the document id.
func (h *Handler) decode(image map[string]events.DynamoDBAttributeValue) (store.Data, error) {
	doc, err := DecodeImage(image)
	if err != nil {
		return nil, err
	}
	if h.keyAttribute != "id" {
		delete(doc, h.keyAttribute)
	}
	return doc, nil
}

// tableFromARN extracts the table name from a stream ARN such as
// arn:aws:dynamodb:eu-west-1:123456789012:table/accounts/stream/2024-01-01T00:00:00.000.
func tableFromARN(arn string) string {
	_, rest, ok := strings.Cut(arn, ":table/")
	if !ok {
		return ""
	}
	table, _, _ := strings.Cut(rest, "/")
	return table
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// DecodeImage converts a stream image into a document. Store managed
// attributes are dropped.
func DecodeImage(image map[string]events.DynamoDBAttributeValue) (store.Data, error) {
	item := ConvertImage(image)
	for k := range item {
		if dynamo.IsManagedAttribute(k) {
			delete(item, k)
		}
	}
	doc := store.Data{}
	if err := attributevalue.UnmarshalMap(item, &doc); err != nil {
		return nil, store.Errorf(store.KindDataLoss, "decode stream image: %v", err)
	}
	return doc, nil
}

// ConvertImage converts a DynamoDB stream image to SDK attribute values.
func ConvertImage(image map[string]events.DynamoDBAttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue, len(image))
	for k, v := range image {
		if av := convertAttribute(v); av != nil {
			result[k] = av
		}
	}
	return result
}

func convertAttribute(v events.DynamoDBAttributeValue) types.AttributeValue {
	switch v.DataType() {
	case events.DataTypeString:
		return &types.AttributeValueMemberS{Value: v.String()}
	case events.DataTypeNumber:
		return &types.AttributeValueMemberN{Value: v.Number()}
	case events.DataTypeBinary:
		return &types.AttributeValueMemberB{Value: v.Binary()}
	case events.DataTypeBoolean:
		return &types.AttributeValueMemberBOOL{Value: v.Boolean()}
	case events.DataTypeNull:
		return &types.AttributeValueMemberNULL{Value: true}
	case events.DataTypeStringSet:
		return &types.AttributeValueMemberSS{Value: v.StringSet()}
	case events.DataTypeNumberSet:
		return &types.AttributeValueMemberNS{Value: v.NumberSet()}
	case events.DataTypeBinarySet:
		return &types.AttributeValueMemberBS{Value: v.BinarySet()}
	case events.DataTypeList:
		list := make([]types.AttributeValue, 0, len(v.List()))
		for _, item := range v.List() {
			if av := convertAttribute(item); av != nil {
				list = append(list, av)
			}
		}
		return &types.AttributeValueMemberL{Value: list}
	case events.DataTypeMap:
		return &types.AttributeValueMemberM{Value: ConvertImage(v.Map())}
	}
	return nil
}

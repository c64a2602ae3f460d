// Package stream provides a DynamoDB Streams handler that turns document
// table changes into domain change notifications.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/cocodrino/couch-ar/domain"
	"github.com/cocodrino/couch-ar/store"
)

// Stream attributes managed by the DynamoDB store.
const (
	attrTTL    = "ttl"
	attrTypePK = "type_pk"
)

// ChangeKind classifies a document change.
type ChangeKind string

const (
	// ChangeSaved is a document created, updated or written over a tombstone.
	ChangeSaved ChangeKind = "saved"

	// ChangeRemoved is a document that just became a tombstone.
	ChangeRemoved ChangeKind = "removed"

	// ChangePurged is a tombstone deleted from the table.
	ChangePurged ChangeKind = "purged"
)

// Change is one document change of a registered type.
type Change struct {
	Kind ChangeKind

	// Type is the domain type of the document.
	Type *domain.Type

	// Entity is the new image for ChangeSaved and the last live image otherwise.
	Entity *domain.Entity

	// EventID is the stream record's event ID.
	EventID string
}

// Listener receives changes. An error fails the batch so it is retried.
type Listener func(ctx context.Context, c Change) error

// Handler processes DynamoDB stream events of a document table.
type Handler struct {
	registry *domain.Registry
	logger   *slog.Logger

	mu        sync.RWMutex
	listeners map[string][]Listener
}

// NewHandler creates a new stream handler.
func NewHandler(registry *domain.Registry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry:  registry,
		logger:    logger,
		listeners: make(map[string][]Listener),
	}
}

// Subscribe registers l for changes of typeName, or of every type when typeName is "".
func (h *Handler) Subscribe(typeName string, l Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners[typeName] = append(h.listeners[typeName], l)
}

func (h *Handler) listenersFor(typeName string) []Listener {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Listener, 0, len(h.listeners[typeName])+len(h.listeners[""]))
	out = append(out, h.listeners[typeName]...)
	return append(out, h.listeners[""]...)
}

// HandleChanges processes a batch of stream records in order.
// This function is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleChanges(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

// processRecord classifies one stream record and dispatches it.
func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	var (
		kind  ChangeKind
		image map[string]events.DynamoDBAttributeValue
	)
	switch record.EventName {
	case "INSERT", "MODIFY":
		oldTTL := getNumberAttr(record.Change.OldImage, attrTTL)
		newTTL := getNumberAttr(record.Change.NewImage, attrTTL)
		switch {
		case newTTL == 0:
			kind, image = ChangeSaved, record.Change.NewImage
		case oldTTL == 0:
			kind, image = ChangeRemoved, record.Change.OldImage
		default:
			return nil // Tombstone rewritten
		}
	case "REMOVE":
		kind, image = ChangePurged, record.Change.OldImage
	default:
		return nil
	}

	id := getStringAttr(image, store.FieldID)
	typeName := getStringAttr(image, store.FieldType)
	if id == "" || typeName == "" || store.IsDesignID(id) {
		return nil
	}
	typ, ok := h.registry.Lookup(typeName)
	if !ok {
		h.logger.Debug("skipping unregistered type",
			"type", typeName,
			"id", id,
		)
		return nil
	}

	rec, err := ConvertImage(image)
	if err != nil {
		return fmt.Errorf("convert %s %s: %w", typeName, id, err)
	}
	change := Change{
		Kind:    kind,
		Type:    typ,
		Entity:  typ.Create(rec),
		EventID: record.EventID,
	}

	h.logger.Info("dispatching change",
		"kind", kind,
		"type", typeName,
		"id", id,
	)
	for _, l := range h.listenersFor(typeName) {
		if err := l(ctx, change); err != nil {
			return fmt.Errorf("listener for %s %s: %w", typeName, id, err)
		}
	}
	return nil
}

// ConvertImage converts a stream image into a store record, dropping
// store-managed attributes.
func ConvertImage(image map[string]events.DynamoDBAttributeValue) (store.Record, error) {
	item := make(map[string]types.AttributeValue, len(image))
	for k, v := range image {
		if k == attrTTL || k == attrTypePK {
			continue
		}
		av, err := convertAttr(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", k, err)
		}
		item[k] = av
	}
	var rec map[string]any
	if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidRecord, err)
	}
	return store.Record(rec), nil
}

// convertAttr converts a stream attribute into its SDK form.
func convertAttr(v events.DynamoDBAttributeValue) (types.AttributeValue, error) {
	switch v.DataType() {
	case events.DataTypeString:
		return &types.AttributeValueMemberS{Value: v.String()}, nil
	case events.DataTypeNumber:
		return &types.AttributeValueMemberN{Value: v.Number()}, nil
	case events.DataTypeBinary:
		return &types.AttributeValueMemberB{Value: v.Binary()}, nil
	case events.DataTypeBoolean:
		return &types.AttributeValueMemberBOOL{Value: v.Boolean()}, nil
	case events.DataTypeNull:
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case events.DataTypeStringSet:
		return &types.AttributeValueMemberSS{Value: v.StringSet()}, nil
	case events.DataTypeNumberSet:
		return &types.AttributeValueMemberNS{Value: v.NumberSet()}, nil
	case events.DataTypeBinarySet:
		return &types.AttributeValueMemberBS{Value: v.BinarySet()}, nil
	case events.DataTypeList:
		list := v.List()
		out := make([]types.AttributeValue, 0, len(list))
		for i, item := range list {
			av, err := convertAttr(item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out = append(out, av)
		}
		return &types.AttributeValueMemberL{Value: out}, nil
	case events.DataTypeMap:
		m := v.Map()
		out := make(map[string]types.AttributeValue, len(m))
		for k, item := range m {
			av, err := convertAttr(item)
			if err != nil {
				return nil, fmt.Errorf(".%s: %w", k, err)
			}
			out[k] = av
		}
		return &types.AttributeValueMemberM{Value: out}, nil
	}
	return nil, fmt.Errorf("unsupported data type %v", v.DataType())
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// getNumberAttr extracts a number attribute from a DynamoDB stream image.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeNumber {
			n, _ := strconv.ParseInt(v.Number(), 10, 64)
			return n
		}
	}
	return 0
}

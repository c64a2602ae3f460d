package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/cocodrino/couch-ar/internal/shard"
)

// tableActiveTimeout bounds how long Create waits for a new table.
const tableActiveTimeout = 5 * time.Minute

// Client is the subset of the DynamoDB API the Store uses.
// *dynamodb.Client satisfies it.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	UpdateTimeToLive(ctx context.Context, params *dynamodb.UpdateTimeToLiveInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error)
}

// Store is a document database backed by a single DynamoDB table.
type Store struct {
	client Client
	config Config
	newID  func() string
}

var _ Adapter = (*Store)(nil)

// New creates a new Store instance.
func New(client Client, config Config) *Store {
	config.validate()
	return &Store{
		client: client,
		config: config,
		newID:  NewIDFunc(config.IDScheme),
	}
}

// Config returns the validated configuration.
func (s *Store) Config() Config {
	return s.config
}

// typePK computes the sharded type-index key for a document.
func (s *Store) typePK(typeName, id string) string {
	return shard.TypePK(typeName, id, s.config.NumShards)
}

// Exists reports whether the table exists.
func (s *Store) Exists(ctx context.Context) (bool, error) {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.config.Table),
	})
	if err != nil {
		var rnf *types.ResourceNotFoundException
		if errors.As(err, &rnf) {
			return false, nil
		}
		return false, fmt.Errorf("describe table: %w", err)
	}
	return true, nil
}

// Create creates the table with its type index, waits for it to become
// active, then enables TTL-based purging of tombstones.
func (s *Store) Create(ctx context.Context) error {
	// 1. Create the table and the sparse type index
	_, err := s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(s.config.Table),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(FieldID), KeyType: types.KeyTypeHash},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(FieldID), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(attrTypePK), AttributeType: types.ScalarAttributeTypeS},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
			{
				IndexName: aws.String(s.config.TypeIndex),
				KeySchema: []types.KeySchemaElement{
					{AttributeName: aws.String(attrTypePK), KeyType: types.KeyTypeHash},
					{AttributeName: aws.String(FieldID), KeyType: types.KeyTypeRange},
				},
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
			},
		},
		BillingMode: types.BillingModePayPerRequest,
		StreamSpecification: &types.StreamSpecification{
			StreamEnabled:  aws.Bool(true),
			StreamViewType: types.StreamViewTypeNewAndOldImages,
		},
	})
	if err != nil {
		return fmt.Errorf("create table %s: %w", s.config.Table, err)
	}

	// 2. Wait until the table is usable
	waiter := dynamodb.NewTableExistsWaiter(s.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.config.Table),
	}, tableActiveTimeout); err != nil {
		return fmt.Errorf("wait for table %s: %w", s.config.Table, err)
	}

	// 3. Let DynamoDB purge tombstones on its own
	_, err = s.client.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: aws.String(s.config.Table),
		TimeToLiveSpecification: &types.TimeToLiveSpecification{
			AttributeName: aws.String(attrTTL),
			Enabled:       aws.Bool(true),
		},
	})
	if err != nil {
		return fmt.Errorf("enable ttl: %w", err)
	}
	return nil
}

// Get retrieves a document by key, returning ErrNotFound if deleted or missing.
func (s *Store) Get(ctx context.Context, key string) (Record, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.config.Table),
		Key:            s.key(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, s.mapError(err)
	}
	if result.Item == nil || IsDeleted(result.Item) {
		return nil, ErrNotFound
	}
	return s.unmarshalItem(result.Item)
}

// current reads the stored revision of key and whether it is live.
// A missing item yields an empty revision.
func (s *Store) current(ctx context.Context, key string) (string, bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.config.Table),
		Key:            s.key(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", false, s.mapError(err)
	}
	if result.Item == nil {
		return "", false, nil
	}
	return getS(result.Item, FieldRev), !IsDeleted(result.Item), nil
}

// Save writes a document under optimistic concurrency control.
//
// With key == "" a new ID is generated. With an empty revision the document
// is created under key, replacing a tombstone if one exists; the new revision
// then continues from the tombstone's. Otherwise the stored revision must
// equal rec's revision.
func (s *Store) Save(ctx context.Context, key string, rec Record) (Response, error) {
	prevRev := rec.Rev()
	generated := key == ""
	if generated {
		key = s.newID()
	}

	// 1. Pick the base revision and the write condition
	var (
		base   = prevRev
		cond   string
		names  map[string]string
		values map[string]types.AttributeValue
	)
	switch {
	case generated:
		cond = "attribute_not_exists(#id)"
		names = map[string]string{"#id": FieldID}
	case prevRev == "":
		tombRev, live, err := s.current(ctx, key)
		if err != nil {
			return Response{}, err
		}
		if live {
			return Response{OK: false, ID: key}, ErrConflict
		}
		if tombRev == "" {
			cond = "attribute_not_exists(#id)"
			names = map[string]string{"#id": FieldID}
			break
		}
		base = tombRev
		cond = "#rev = :rev AND #ttl <= :now"
		names = mergeExprNames(map[string]string{"#rev": FieldRev}, TTLFilterNames())
		values = mergeExprValues(TTLFilterValues(), map[string]types.AttributeValue{
			":rev": &types.AttributeValueMemberS{Value: tombRev},
		})
	default:
		cond = "#rev = :rev AND attribute_not_exists(#ttl)"
		names = mergeExprNames(map[string]string{"#rev": FieldRev}, TTLFilterNames())
		values = map[string]types.AttributeValue{
			":rev": &types.AttributeValueMemberS{Value: prevRev},
		}
	}

	// 2. Stamp identity and the next revision
	doc := rec.Clone()
	doc[FieldID] = key
	delete(doc, FieldRev)
	rev, err := NextRevision(base, doc)
	if err != nil {
		return Response{}, err
	}
	doc[FieldRev] = rev

	item, err := attributevalue.MarshalMap(map[string]any(doc))
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if typeName := doc.Type(); typeName != "" && !IsDesignID(key) {
		item[attrTypePK] = &types.AttributeValueMemberS{Value: s.typePK(typeName, key)}
	}

	// 3. Conditional put
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.config.Table),
		Item:                      item,
		ConditionExpression:       aws.String(cond),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return Response{OK: false, ID: key}, ErrConflict
		}
		return Response{}, s.mapError(err)
	}
	return Response{OK: true, ID: key, Rev: rev}, nil
}

// Remove marks a document deleted by setting its TTL, if rev is current.
// The tombstone leaves the type index and gets a new revision.
func (s *Store) Remove(ctx context.Context, key, rev string) (Response, error) {
	newRev, err := NextRevision(rev, Record{FieldID: key, "_deleted": true})
	if err != nil {
		return Response{}, err
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.config.Table),
		Key:                 s.key(key),
		UpdateExpression:    aws.String("SET #ttl = :now, #rev = :new_rev REMOVE #type_pk"),
		ConditionExpression: aws.String("#rev = :rev AND attribute_not_exists(#ttl)"),
		ExpressionAttributeNames: map[string]string{
			"#ttl":     attrTTL,
			"#rev":     FieldRev,
			"#type_pk": attrTypePK,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now":     nowValue(),
			":rev":     &types.AttributeValueMemberS{Value: rev},
			":new_rev": &types.AttributeValueMemberS{Value: newRev},
		},
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			if condErr.Item == nil || IsDeleted(condErr.Item) {
				return Response{OK: false, ID: key}, ErrNotFound
			}
			return Response{OK: false, ID: key}, ErrConflict
		}
		return Response{}, s.mapError(err)
	}
	return Response{OK: true, ID: key, Rev: newRev}, nil
}

// Query runs a view of a design document against the type index.
func (s *Store) Query(ctx context.Context, q Query) ([]Record, error) {
	// 1. Resolve the view definition
	design, err := s.Get(ctx, DesignID(q.Design))
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: design %q", ErrIndexNotFound, q.Design)
	}
	if err != nil {
		return nil, err
	}
	view, err := ResolveView(design, q)
	if err != nil {
		return nil, err
	}

	// 2. Build the per-shard query
	input, ok, err := s.viewQueryInput(view, q)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	// 3. Fan out over shards
	var rows []Record
	if s.config.NumShards == 1 {
		rows, err = s.queryShard(ctx, input, shard.ShardPK(view.Type, 0))
	} else {
		rows, err = s.queryShards(ctx, input, view.Type)
	}
	if err != nil {
		return nil, err
	}

	SortRows(rows, view.Key)
	return rows, nil
}

// viewQueryInput builds the query template for a view; the ":pk" value is
// filled per shard. It returns false when the key can never match.
func (s *Store) viewQueryInput(view View, q Query) (dynamodb.QueryInput, bool, error) {
	keyCond := "#type_pk = :pk"
	filterExpr := TTLFilterExpr()
	names := mergeExprNames(map[string]string{"#type_pk": attrTypePK}, TTLFilterNames())
	values := TTLFilterValues()

	if q.HasKey {
		keyAttr, err := attributevalue.Marshal(q.Key)
		if err != nil {
			return dynamodb.QueryInput{}, false, fmt.Errorf("%w: key: %v", ErrInvalidRecord, err)
		}
		if view.Key == FieldID {
			// The range key only holds strings
			if _, isString := keyAttr.(*types.AttributeValueMemberS); !isString {
				return dynamodb.QueryInput{}, false, nil
			}
			keyCond += " AND #key = :key"
		} else {
			filterExpr = fmt.Sprintf("(%s) AND #key = :key", filterExpr)
		}
		names["#key"] = view.Key
		values[":key"] = keyAttr
	}

	return dynamodb.QueryInput{
		TableName:                 aws.String(s.config.Table),
		IndexName:                 aws.String(s.config.TypeIndex),
		KeyConditionExpression:    aws.String(keyCond),
		FilterExpression:          aws.String(filterExpr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}, true, nil
}

// queryShard pages through one shard of the type index.
func (s *Store) queryShard(ctx context.Context, template dynamodb.QueryInput, shardPK string) ([]Record, error) {
	input := template
	input.ExpressionAttributeValues = mergeExprValues(template.ExpressionAttributeValues, map[string]types.AttributeValue{
		":pk": &types.AttributeValueMemberS{Value: shardPK},
	})

	var rows []Record
	paginator := dynamodb.NewQueryPaginator(s.client, &input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, s.mapError(err)
		}
		for _, raw := range page.Items {
			rec, err := s.unmarshalItem(raw)
			if err != nil {
				return nil, err
			}
			rows = append(rows, rec)
		}
	}
	return rows, nil
}

// queryShards fans a view query out over every shard of a type.
func (s *Store) queryShards(ctx context.Context, template dynamodb.QueryInput, typeName string) ([]Record, error) {
	numShards := s.config.NumShards

	var mu sync.Mutex
	var allRows []Record
	var wg sync.WaitGroup
	errs := make(chan error, numShards)

	for shardNum := 0; shardNum < numShards; shardNum++ {
		wg.Add(1)
		go func(shardNum int) {
			defer wg.Done()

			rows, err := s.queryShard(ctx, template, shard.ShardPK(typeName, shardNum))
			if err != nil {
				errs <- fmt.Errorf("shard %02x: %w", shardNum, err)
				return
			}

			mu.Lock()
			allRows = append(allRows, rows...)
			mu.Unlock()
		}(shardNum)
	}

	go func() {
		wg.Wait()
		close(errs)
	}()

	for err := range errs {
		if err != nil {
			return nil, err
		}
	}

	return allRows, nil
}

// Compact deletes tombstones that DynamoDB's TTL sweeper hasn't purged yet.
func (s *Store) Compact(ctx context.Context) error {
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:                 aws.String(s.config.Table),
		FilterExpression:          aws.String("attribute_exists(#ttl) AND #ttl <= :now"),
		ProjectionExpression:      aws.String("#id, #rev"),
		ExpressionAttributeNames:  mergeExprNames(map[string]string{"#id": FieldID, "#rev": FieldRev}, TTLFilterNames()),
		ExpressionAttributeValues: TTLFilterValues(),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return s.mapError(err)
		}
		for _, item := range page.Items {
			rev, _ := item[FieldRev].(*types.AttributeValueMemberS)
			if rev == nil {
				continue
			}
			_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName:                aws.String(s.config.Table),
				Key:                      map[string]types.AttributeValue{FieldID: item[FieldID]},
				ConditionExpression:      aws.String("#rev = :rev"),
				ExpressionAttributeNames: map[string]string{"#rev": FieldRev},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":rev": &types.AttributeValueMemberS{Value: rev.Value},
				},
			})
			// Ignore condition failure - resurrected since the scan
			var condErr *types.ConditionalCheckFailedException
			if err != nil && !errors.As(err, &condErr) {
				return s.mapError(err)
			}
		}
	}
	return nil
}

// CleanupStaleIndexes re-keys documents whose type-index partition no
// longer matches the configured shard count.
func (s *Store) CleanupStaleIndexes(ctx context.Context) error {
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:            aws.String(s.config.Table),
		FilterExpression:     aws.String("attribute_exists(#type_pk)"),
		ProjectionExpression: aws.String("#id, #type, #type_pk"),
		ExpressionAttributeNames: map[string]string{
			"#id":      FieldID,
			"#type":    FieldType,
			"#type_pk": attrTypePK,
		},
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return s.mapError(err)
		}
		for _, item := range page.Items {
			id := getS(item, FieldID)
			typeName := getS(item, FieldType)
			if id == "" || typeName == "" {
				continue
			}
			want := s.typePK(typeName, id)
			if getS(item, attrTypePK) == want {
				continue
			}
			_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
				TableName:           aws.String(s.config.Table),
				Key:                 s.key(id),
				UpdateExpression:    aws.String("SET #type_pk = :pk"),
				ConditionExpression: aws.String("attribute_exists(#type_pk)"),
				ExpressionAttributeNames: map[string]string{
					"#type_pk": attrTypePK,
				},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":pk": &types.AttributeValueMemberS{Value: want},
				},
			})
			// Ignore condition failure - removed since the scan
			var condErr *types.ConditionalCheckFailedException
			if err != nil && !errors.As(err, &condErr) {
				return s.mapError(err)
			}
		}
	}
	return nil
}

// key builds the primary key for a document ID.
func (s *Store) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		FieldID: &types.AttributeValueMemberS{Value: id},
	}
}

// mapError maps a missing table to ErrDatabaseMissing.
func (s *Store) mapError(err error) error {
	var rnf *types.ResourceNotFoundException
	if errors.As(err, &rnf) {
		return fmt.Errorf("%w: %s", ErrDatabaseMissing, s.config.Table)
	}
	return err
}

// unmarshalItem converts a DynamoDB item to a Record, dropping store-managed attributes.
func (s *Store) unmarshalItem(raw map[string]types.AttributeValue) (Record, error) {
	var rec map[string]any
	if err := attributevalue.UnmarshalMap(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	delete(rec, attrTTL)
	delete(rec, attrTypePK)
	return Record(rec), nil
}

// getS extracts a string attribute from an item.
func getS(item map[string]types.AttributeValue, key string) string {
	if v, ok := item[key].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

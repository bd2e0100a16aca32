package docstore

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/pkg/errors"
)

// DynamoCollectionIndex is the GSI ordering a collection by creation time.
const DynamoCollectionIndex = "collection-created-index"

// DynamoAPI is the subset of the DynamoDB client the backend uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

type dynamoItem struct {
	Path       string `dynamodbav:"path"`
	Collection string `dynamodbav:"collection"`
	Data       []byte `dynamodbav:"data,omitempty"`
	Version    int64  `dynamodbav:"version"`
	Created    int64  `dynamodbav:"created"`
	Exists     bool   `dynamodbav:"exists"`
}

func (it dynamoItem) snapshot() Snapshot {
	snap := Snapshot{Path: it.Path, Version: it.Version, Exists: it.Exists}
	if it.Exists {
		snap.Data = it.Data
		snap.Created = it.Created
	}
	return snap
}

// DynamoBackend keeps one item per document, keyed by path. Commits are a
// single TransactWriteItems call whose condition expressions pin the version
// of every document read or written.
type DynamoBackend struct {
	client DynamoAPI
	table  string
	now    func() time.Time
}

func NewDynamoBackend(client DynamoAPI, table string) *DynamoBackend {
	return &DynamoBackend{client: client, table: table, now: time.Now}
}

// NewDynamoClient loads the default AWS config for region.
func NewDynamoClient(ctx context.Context, region string) (*dynamodb.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, errors.Wrap(err, "load AWS config")
	}
	return dynamodb.NewFromConfig(cfg), nil
}

func pathKey(path string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"path": &types.AttributeValueMemberS{Value: path}}
}

func (b *DynamoBackend) Read(ctx context.Context, path string) (Snapshot, error) {
	out, err := b.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(b.table),
		Key:            pathKey(path),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Snapshot{}, errors.Wrapf(err, "get item %s", path)
	}
	if out.Item == nil {
		return Snapshot{Path: path}, nil
	}
	var it dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return Snapshot{}, errors.Wrapf(err, "decode item %s", path)
	}
	return it.snapshot(), nil
}

// versionCondition matches an item at version v; version 0 means the item
// has never been written.
func versionCondition(v int64) (string, map[string]string, map[string]types.AttributeValue) {
	if v == 0 {
		return "attribute_not_exists(#p)", map[string]string{"#p": "path"}, nil
	}
	return "#v = :v", map[string]string{"#v": "version"},
		map[string]types.AttributeValue{":v": &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}}
}

func (b *DynamoBackend) Commit(ctx context.Context, reads map[string]int64, writes []Write) ([]Snapshot, error) {
	written := make(map[string]bool, len(writes))
	items := make([]types.TransactWriteItem, 0, len(reads)+len(writes))
	out := make([]Snapshot, 0, len(writes))

	for _, w := range writes {
		written[w.Path] = true

		// Blind writes still need the current version to bump it; pin it so
		// a concurrent writer turns into a conflict.
		cur, err := b.Read(ctx, w.Path)
		if err != nil {
			return nil, err
		}
		if want, ok := reads[w.Path]; ok && want != cur.Version {
			return nil, ErrTxConflict
		}

		next := dynamoItem{
			Path:       w.Path,
			Collection: Collection(w.Path),
			Version:    cur.Version + 1,
			Exists:     w.Op == OpSet,
		}
		if next.Exists {
			next.Data = w.Data
			next.Created = cur.Created
			if !cur.Exists {
				next.Created = b.now().UnixNano()
			}
		}
		av, err := attributevalue.MarshalMap(next)
		if err != nil {
			return nil, errors.Wrapf(err, "encode item %s", w.Path)
		}
		cond, names, values := versionCondition(cur.Version)
		items = append(items, types.TransactWriteItem{Put: &types.Put{
			TableName:                 aws.String(b.table),
			Item:                      av,
			ConditionExpression:       aws.String(cond),
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
		}})
		out = append(out, next.snapshot())
	}

	for path, want := range reads {
		if written[path] {
			continue
		}
		cond, names, values := versionCondition(want)
		items = append(items, types.TransactWriteItem{ConditionCheck: &types.ConditionCheck{
			TableName:                 aws.String(b.table),
			Key:                       pathKey(path),
			ConditionExpression:       aws.String(cond),
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
		}})
	}

	_, err := b.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			return nil, ErrTxConflict
		}
		return nil, errors.Wrap(err, "transact write")
	}
	return out, nil
}

func (b *DynamoBackend) Query(ctx context.Context, q Query) ([]Snapshot, error) {
	var out []Snapshot
	var startKey map[string]types.AttributeValue
	for {
		res, err := b.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(b.table),
			IndexName:              aws.String(DynamoCollectionIndex),
			KeyConditionExpression: aws.String("#c = :c"),
			FilterExpression:       aws.String("#e = :t"),
			ExpressionAttributeNames: map[string]string{
				"#c": "collection",
				"#e": "exists",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":c": &types.AttributeValueMemberS{Value: q.Collection},
				":t": &types.AttributeValueMemberBOOL{Value: true},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "query %s", q.Collection)
		}

		var page []dynamoItem
		if err := attributevalue.UnmarshalListOfMaps(res.Items, &page); err != nil {
			return nil, errors.Wrap(err, "decode query page")
		}
		for _, it := range page {
			snap := it.snapshot()
			if q.excluded(snap.ID()) {
				continue
			}
			out = append(out, snap)
			if q.Limit > 0 && len(out) == q.Limit {
				return out, nil
			}
		}

		if len(res.LastEvaluatedKey) == 0 {
			return out, nil
		}
		startKey = res.LastEvaluatedKey
	}
}

// EnsureTable creates the documents table and its collection index when
// the table does not exist yet.
func (b *DynamoBackend) EnsureTable(ctx context.Context) error {
	_, err := b.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(b.table)})
	if err == nil {
		return nil
	}
	var missing *types.ResourceNotFoundException
	if !errors.As(err, &missing) {
		return errors.Wrap(err, "describe table")
	}

	_, err = b.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(b.table),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("path"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("collection"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("created"), AttributeType: types.ScalarAttributeTypeN},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("path"), KeyType: types.KeyTypeHash},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{{
			IndexName: aws.String(DynamoCollectionIndex),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("collection"), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String("created"), KeyType: types.KeyTypeRange},
			},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		}},
	})
	return errors.Wrap(err, "create table")
}

func (b *DynamoBackend) Close() error { return nil }

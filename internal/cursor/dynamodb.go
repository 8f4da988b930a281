package cursor

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DefaultDynamoDBTable is the cursor table used when none is configured.
const DefaultDynamoDBTable = "mirrorfm_cursors"

// DynamoDBAPI is the subset of the DynamoDB client used by the store.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, opts ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoDBConfig configures the DynamoDB client.
type DynamoDBConfig struct {
	Region string
	// Endpoint overrides the service endpoint, e.g. for DynamoDB Local.
	Endpoint string
	// AccessKeyID and SecretAccessKey select static credentials.
	// When empty the default AWS credential chain is used.
	AccessKeyID     string
	SecretAccessKey string
}

// NewDynamoDBClient builds a DynamoDB client from cfg.
func NewDynamoDBClient(ctx context.Context, cfg DynamoDBConfig) (*dynamodb.Client, error) {
	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// item is the stored shape of one cursor.
type item struct {
	Name  string `dynamodbav:"name"`
	Value string `dynamodbav:"value"`
}

// DynamoDB stores cursors in a DynamoDB table keyed by "name".
type DynamoDB struct {
	client DynamoDBAPI
	table  string
}

// NewDynamoDB creates a Store using table. An empty table selects DefaultDynamoDBTable.
func NewDynamoDB(client DynamoDBAPI, table string) *DynamoDB {
	if table == "" {
		table = DefaultDynamoDBTable
	}
	return &DynamoDB{client: client, table: table}
}

func (d *DynamoDB) key(name string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"name": &types.AttributeValueMemberS{Value: name},
	}
}

// Get reads the cursor with a consistent read. It returns ErrNotFound when
// the item is absent.
func (d *DynamoDB) Get(ctx context.Context, name string) (string, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            d.key(name),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("getting cursor %s: %w", name, err)
	}
	if len(out.Item) == 0 {
		return "", ErrNotFound
	}

	var it item
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return "", fmt.Errorf("decoding cursor %s: %w", name, err)
	}
	return it.Value, nil
}

// Put stores value under name, replacing any previous item.
func (d *DynamoDB) Put(ctx context.Context, name, value string) error {
	av, err := attributevalue.MarshalMap(item{Name: name, Value: value})
	if err != nil {
		return fmt.Errorf("encoding cursor %s: %w", name, err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("putting cursor %s: %w", name, err)
	}
	return nil
}

// Delete removes the item for name.
func (d *DynamoDB) Delete(ctx context.Context, name string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.table),
		Key:       d.key(name),
	})
	if err != nil {
		return fmt.Errorf("deleting cursor %s: %w", name, err)
	}
	return nil
}

// Apply writes every op in one TransactWriteItems call.
func (d *DynamoDB) Apply(ctx context.Context, ops ...Op) error {
	ops = collapse(ops)
	if len(ops) == 0 {
		return nil
	}

	items := make([]types.TransactWriteItem, 0, len(ops))
	for _, op := range ops {
		if op.Delete {
			items = append(items, types.TransactWriteItem{
				Delete: &types.Delete{TableName: aws.String(d.table), Key: d.key(op.Name)},
			})
			continue
		}
		av, err := attributevalue.MarshalMap(item{Name: op.Name, Value: op.Value})
		if err != nil {
			return fmt.Errorf("encoding cursor %s: %w", op.Name, err)
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{TableName: aws.String(d.table), Item: av},
		})
	}

	_, err := d.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		return fmt.Errorf("applying cursor batch: %w", err)
	}
	return nil
}

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/tusflow/tusflow/internal/config"
)

// DynamoDBStore is a session store engine backed by a DynamoDB table. Each
// session is one item keyed by pk = KeyPrefix + id, with the record held as
// a JSON attribute and a numeric expires_at attribute for the table's native
// TTL sweep. Expiry is also enforced on read since DynamoDB TTL deletion is
// best effort.
type DynamoDBStore struct {
	client    *dynamodb.Client
	tableName string
}

// NewDynamoDBStore creates a DynamoDBStore from the given configuration.
func NewDynamoDBStore(cfg config.DynamoDBConfig) (*DynamoDBStore, error) {
	if cfg.Table == "" {
		return nil, fmt.Errorf("dynamodb table name is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	if cfg.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.EndpointURL)
	}

	return &DynamoDBStore{
		client:    dynamodb.NewFromConfig(awsCfg),
		tableName: cfg.Table,
	}, nil
}

func (s *DynamoDBStore) Ping(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	})
	return err
}

func (s *DynamoDBStore) Close() error {
	return nil
}

func (s *DynamoDBStore) Get(ctx context.Context, id string) (*Session, error) {
	resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: KeyPrefix + id},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("getting session %s: %w", id, err)
	}
	if resp.Item == nil {
		return nil, nil
	}
	if expired(resp.Item) {
		return nil, nil
	}

	var sess Session
	if err := json.Unmarshal([]byte(getItemString(resp.Item, "record")), &sess); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id, err)
	}
	return &sess, nil
}

func (s *DynamoDBStore) Set(ctx context.Context, id string, sess *Session, ttl time.Duration) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", id, err)
	}

	expiresAt := time.Now().Add(ttl).Unix()
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"pk":         &types.AttributeValueMemberS{Value: KeyPrefix + id},
			"record":     &types.AttributeValueMemberS{Value: string(data)},
			"expires_at": &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt, 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("setting session %s: %w", id, err)
	}
	return nil
}

func (s *DynamoDBStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: KeyPrefix + id},
		},
	})
	if err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	return nil
}

func (s *DynamoDBStore) ListIDs(ctx context.Context) ([]string, error) {
	var ids []string
	var exclusiveStartKey map[string]types.AttributeValue

	for {
		input := &dynamodb.ScanInput{
			TableName:        aws.String(s.tableName),
			FilterExpression: aws.String("begins_with(pk, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":prefix": &types.AttributeValueMemberS{Value: KeyPrefix},
			},
			ProjectionExpression: aws.String("pk, expires_at"),
		}
		if exclusiveStartKey != nil {
			input.ExclusiveStartKey = exclusiveStartKey
		}

		resp, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("scanning sessions: %w", err)
		}

		for _, item := range resp.Items {
			if expired(item) {
				continue
			}
			ids = append(ids, strings.TrimPrefix(getItemString(item, "pk"), KeyPrefix))
		}

		if resp.LastEvaluatedKey == nil {
			break
		}
		exclusiveStartKey = resp.LastEvaluatedKey
	}

	return ids, nil
}

func expired(item map[string]types.AttributeValue) bool {
	v, ok := item["expires_at"]
	if !ok {
		return false
	}
	nv, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	n, err := strconv.ParseInt(nv.Value, 10, 64)
	if err != nil {
		return false
	}
	return time.Now().Unix() >= n
}

func getItemString(item map[string]types.AttributeValue, key string) string {
	if v, ok := item[key]; ok {
		if sv, ok := v.(*types.AttributeValueMemberS); ok {
			return sv.Value
		}
	}
	return ""
}

var _ Store = (*DynamoDBStore)(nil)

// Package dynamodb implements ledger.Ledger on a DynamoDB table.
//
// Each commit appends one item with a monotonically increasing version per
// index. The version is written with a conditional put, so two writers that
// read the same log race on the same version and exactly one wins. The loser
// re-reads the log and re-checks for overlap.
//
// Table schema:
//   - Partition key: index_name (string)
//   - Sort key: version (number)
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name ivf-builds \
//	  --attribute-definitions AttributeName=index_name,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=index_name,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/ivfbuild/ledger"
	"github.com/hupe1980/ivfbuild/model"
)

const (
	attrIndex   = "index_name"
	attrVersion = "version"
	attrStart   = "range_start"
	attrEnd     = "range_end"

	defaultMaxRetries = 5
)

// Client is the interface for DynamoDB operations.
type Client interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

var _ Client = (*dynamodb.Client)(nil)

// Ledger is a ledger.Ledger stored in a DynamoDB table.
type Ledger struct {
	client     Client
	table      string
	maxRetries int
}

var _ ledger.Ledger = (*Ledger)(nil)

// Option configures a Ledger.
type Option func(*Ledger)

// WithMaxRetries sets how often Commit retries after losing a version race.
func WithMaxRetries(n int) Option {
	return func(l *Ledger) {
		l.maxRetries = n
	}
}

// New creates a ledger over table.
func New(client Client, table string, opts ...Option) *Ledger {
	l := &Ledger{client: client, table: table, maxRetries: defaultMaxRetries}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type entry struct {
	version uint64
	r       model.PartitionRange
}

// Commit implements ledger.Ledger.
func (l *Ledger) Commit(ctx context.Context, index string, r model.PartitionRange) error {
	if r.Len() == 0 {
		return fmt.Errorf("%w: %s is empty", model.ErrInvalidRange, r)
	}

	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		entries, err := l.load(ctx, index)
		if err != nil {
			return err
		}

		var latest uint64
		ranges := make([]model.PartitionRange, 0, len(entries))
		for _, e := range entries {
			latest = max(latest, e.version)
			ranges = append(ranges, e.r)
		}
		if err := ledger.CheckOverlap(ranges, r); err != nil {
			return err
		}

		err = l.put(ctx, index, latest+1, r)
		if err == nil {
			return nil
		}
		var condErr *types.ConditionalCheckFailedException
		if !errors.As(err, &condErr) {
			return fmt.Errorf("failed to commit range to DynamoDB: %w", err)
		}
	}
	return ledger.ErrConcurrentModification
}

// Committed implements ledger.Ledger.
func (l *Ledger) Committed(ctx context.Context, index string) ([]model.PartitionRange, error) {
	entries, err := l.load(ctx, index)
	if err != nil {
		return nil, err
	}
	ranges := make([]model.PartitionRange, 0, len(entries))
	for _, e := range entries {
		ranges = append(ranges, e.r)
	}
	ledger.SortRanges(ranges)
	return ranges, nil
}

func (l *Ledger) put(ctx context.Context, index string, version uint64, r model.PartitionRange) error {
	_, err := l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.table),
		Item: map[string]types.AttributeValue{
			attrIndex:   &types.AttributeValueMemberS{Value: index},
			attrVersion: &types.AttributeValueMemberN{Value: strconv.FormatUint(version, 10)},
			attrStart:   &types.AttributeValueMemberN{Value: strconv.FormatUint(uint64(r.Start), 10)},
			attrEnd:     &types.AttributeValueMemberN{Value: strconv.FormatUint(uint64(r.End), 10)},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	return err
}

// load reads every commit of index, following pagination.
func (l *Ledger) load(ctx context.Context, index string) ([]entry, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(l.table),
		KeyConditionExpression: aws.String("index_name = :idx"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":idx": &types.AttributeValueMemberS{Value: index},
		},
		ConsistentRead: aws.Bool(true),
	}

	var entries []entry
	for {
		resp, err := l.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query DynamoDB: %w", err)
		}
		for _, item := range resp.Items {
			e, err := decodeEntry(item)
			if err != nil {
				return nil, err
			}
			entries = append(entries, e)
		}
		if len(resp.LastEvaluatedKey) == 0 {
			return entries, nil
		}
		input.ExclusiveStartKey = resp.LastEvaluatedKey
	}
}

func decodeEntry(item map[string]types.AttributeValue) (entry, error) {
	version, err := numberAttr(item, attrVersion, 64)
	if err != nil {
		return entry{}, err
	}
	start, err := numberAttr(item, attrStart, 32)
	if err != nil {
		return entry{}, err
	}
	end, err := numberAttr(item, attrEnd, 32)
	if err != nil {
		return entry{}, err
	}
	return entry{version: version, r: model.PartitionRange{Start: uint32(start), End: uint32(end)}}, nil
}

func numberAttr(item map[string]types.AttributeValue, name string, bits int) (uint64, error) {
	attr, ok := item[name].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("invalid %s attribute in DynamoDB", name)
	}
	v, err := strconv.ParseUint(attr.Value, 10, bits)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return v, nil
}

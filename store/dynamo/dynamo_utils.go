package dynamo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/zlnvch/learnlink/store"
)

const maxBatchWriteItems = 25

func getTables(client *dynamodb.Client, ctx context.Context) ([]string, error) {
	var tables []string
	paginator := dynamodb.NewListTablesPaginator(client, &dynamodb.ListTablesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		tables = append(tables, page.TableNames...)
	}
	return tables, nil
}

func itemKey(pk string, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// getItem retrieves an item of type T from DynamoDB by PK and SK
func getItem[T any](dynamoStore *DynamoClassroomStore, ctx context.Context, pk string, sk string, consistentRead bool) (T, error) {
	var zero T

	resp, err := dynamoStore.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(dynamoStore.tableName),
		Key:            itemKey(pk, sk),
		ConsistentRead: aws.Bool(consistentRead),
	})
	if err != nil {
		return zero, fmt.Errorf("GetItem failed: %w", err)
	}
	if resp.Item == nil {
		return zero, store.ErrItemNotFound
	}

	var item T
	if err := attributevalue.UnmarshalMap(resp.Item, &item); err != nil {
		return zero, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	return item, nil
}

// putItemIfAbsent inserts item only when its PK+SK is free.
func putItemIfAbsent[T any](dynamoStore *DynamoClassroomStore, ctx context.Context, item T) error {
	avMap, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	if _, ok := avMap["PK"]; !ok {
		return errors.New("struct missing PK field")
	}
	if _, ok := avMap["SK"]; !ok {
		return errors.New("struct missing SK field")
	}

	_, err = dynamoStore.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(dynamoStore.tableName),
		Item:                avMap,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return store.ErrItemExists
		}
		return fmt.Errorf("failed to put item: %w", err)
	}
	return nil
}

func putRequests[T any](items []T) ([]types.WriteRequest, error) {
	requests := make([]types.WriteRequest, 0, len(items))
	for _, item := range items {
		avMap, err := attributevalue.MarshalMap(item)
		if err != nil {
			return nil, fmt.Errorf("marshal error: %w", err)
		}
		requests = append(requests, types.WriteRequest{
			PutRequest: &types.PutRequest{Item: avMap},
		})
	}
	return requests, nil
}

// queryAllByPK returns all items of type T with the given PK, ordered by SK, with a limit.
func queryAllByPK[T any](dynamoStore *DynamoClassroomStore, ctx context.Context, pk string, scanIndexForward bool, limit int32) ([]T, error) {
	var results []T

	input := &dynamodb.QueryInput{
		TableName:              aws.String(dynamoStore.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
		},
		ScanIndexForward: aws.Bool(scanIndexForward),
	}
	if limit > 0 {
		input.Limit = aws.Int32(limit)
	}

	// Limit applies per page, so it is enforced globally as well
	paginator := dynamodb.NewQueryPaginator(dynamoStore.client, input)
	for paginator.HasMorePages() {
		if limit > 0 && len(results) >= int(limit) {
			break
		}

		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query failed: %w", err)
		}

		var pageItems []T
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &pageItems); err != nil {
			return nil, fmt.Errorf("failed to unmarshal page items: %w", err)
		}
		results = append(results, pageItems...)
	}

	if limit > 0 && len(results) > int(limit) {
		results = results[:limit]
	}
	return results, nil
}

func gsiQueryInput(tableName string, indexName string, pkField string, pkValue string) *dynamodb.QueryInput {
	return &dynamodb.QueryInput{
		TableName:              aws.String(tableName),
		IndexName:              aws.String(indexName),
		KeyConditionExpression: aws.String("#pk = :pk"),
		ExpressionAttributeNames: map[string]string{
			"#pk": pkField,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pkValue},
		},
	}
}

// queryAllByGSI returns every item of type T under one GSI partition.
func queryAllByGSI[T any](dynamoStore *DynamoClassroomStore, ctx context.Context, indexName string, pkField string, pkValue string) ([]T, error) {
	var results []T

	paginator := dynamodb.NewQueryPaginator(dynamoStore.client, gsiQueryInput(dynamoStore.tableName, indexName, pkField, pkValue))
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query GSI failed: %w", err)
		}

		var pageItems []T
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &pageItems); err != nil {
			return nil, fmt.Errorf("failed to unmarshal page items: %w", err)
		}
		results = append(results, pageItems...)
	}
	return results, nil
}

// queryKeysByGSI returns only the main table PK strings for a GSI partition.
func queryKeysByGSI(dynamoStore *DynamoClassroomStore, ctx context.Context, indexName string, pkField string, pkValue string) ([]string, error) {
	var results []string

	input := gsiQueryInput(dynamoStore.tableName, indexName, pkField, pkValue)
	input.ProjectionExpression = aws.String("PK")

	paginator := dynamodb.NewQueryPaginator(dynamoStore.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query GSI failed: %w", err)
		}

		for _, item := range page.Items {
			if pk, ok := item["PK"].(*types.AttributeValueMemberS); ok {
				results = append(results, pk.Value)
			}
		}
	}
	return results, nil
}

// writeBatchRequests handles batch writes (Put or Delete) with retries
// Returns any unprocessed items as []T
func writeBatchRequests[T any](dynamoStore *DynamoClassroomStore, ctx context.Context, requests []types.WriteRequest) ([]T, error) {
	if len(requests) == 0 {
		return nil, nil
	}

	backoff := 50 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return unmarshalUnprocessed[T](requests), ctx.Err()
		default:
		}

		resp, err := dynamoStore.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{
				dynamoStore.tableName: requests,
			},
		})
		if err != nil {
			return unmarshalUnprocessed[T](requests), fmt.Errorf("BatchWriteItem failed: %w", err)
		}

		unprocessed := resp.UnprocessedItems[dynamoStore.tableName]
		if len(unprocessed) == 0 {
			return nil, nil
		}
		requests = unprocessed

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return unmarshalUnprocessed[T](requests), ctx.Err()
		case <-timer.C:
		}

		if backoff < time.Second {
			backoff *= 2
		}
	}
}

func unmarshalUnprocessed[T any](reqs []types.WriteRequest) []T {
	failed := make([]T, 0, len(reqs))
	for _, wr := range reqs {
		var attrs map[string]types.AttributeValue
		switch {
		case wr.PutRequest != nil:
			attrs = wr.PutRequest.Item
		case wr.DeleteRequest != nil:
			// Deletes only carry the key
			attrs = wr.DeleteRequest.Key
		default:
			continue
		}

		var item T
		if err := attributevalue.UnmarshalMap(attrs, &item); err == nil {
			failed = append(failed, item)
		}
	}
	return failed
}

// equalityCondition renders "#f0 = :c0 AND #f1 = :c1 ..." in field-name order
// into the given expression maps.
func equalityCondition(conditions map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) string {
	fields := make([]string, 0, len(conditions))
	for field := range conditions {
		fields = append(fields, field)
	}
	slices.Sort(fields)

	parts := make([]string, 0, len(fields))
	for i, field := range fields {
		name := "#c" + strconv.Itoa(i)
		value := ":c" + strconv.Itoa(i)
		names[name] = field
		values[value] = conditions[field]
		parts = append(parts, name+" = "+value)
	}
	return strings.Join(parts, " AND ")
}

// existenceError tells a missing item apart from a failed condition.
func existenceError(dynamoStore *DynamoClassroomStore, ctx context.Context, key map[string]types.AttributeValue) error {
	getResp, err := dynamoStore.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(dynamoStore.tableName),
		Key:       key,
	})
	if err != nil {
		return fmt.Errorf("condition failed, and GetItem check also failed: %w", err)
	}
	if getResp.Item == nil {
		return store.ErrItemNotFound
	}
	return store.ErrConditionFailed
}

// deleteItemWithCondition deletes an item by PK and SK, only if every listed field equals its value.
// Returns ErrItemNotFound or ErrConditionFailed when the delete was refused.
func deleteItemWithCondition(dynamoStore *DynamoClassroomStore, ctx context.Context, pk string, sk string, conditions map[string]string) error {
	key := itemKey(pk, sk)

	input := &dynamodb.DeleteItemInput{
		TableName:           aws.String(dynamoStore.tableName),
		Key:                 key,
		ConditionExpression: aws.String("attribute_exists(PK)"),
	}

	if len(conditions) > 0 {
		avConditions := make(map[string]types.AttributeValue, len(conditions))
		for field, value := range conditions {
			avConditions[field] = &types.AttributeValueMemberS{Value: value}
		}
		names := make(map[string]string)
		values := make(map[string]types.AttributeValue)
		input.ConditionExpression = aws.String("attribute_exists(PK) AND " + equalityCondition(avConditions, names, values))
		input.ExpressionAttributeNames = names
		input.ExpressionAttributeValues = values
	}

	_, err := dynamoStore.client.DeleteItem(ctx, input)
	if err != nil {
		if isConditionFailed(err) {
			return existenceError(dynamoStore, ctx, key)
		}
		return fmt.Errorf("delete failed: %w", err)
	}
	return nil
}

// batchDeleteThrottled pages through a query and deletes every returned item
// in 25-item batches, sleeping between batches so purges do not starve live writes.
func batchDeleteThrottled(dynamoStore *DynamoClassroomStore, ctx context.Context, input *dynamodb.QueryInput, throttle time.Duration) error {
	const queryPageSize int32 = 200
	input.Limit = aws.Int32(queryPageSize)

	for {
		resp, err := dynamoStore.client.Query(ctx, input)
		if err != nil {
			return fmt.Errorf("query failed: %w", err)
		}

		delRequests := make([]types.WriteRequest, 0, len(resp.Items))
		for _, item := range resp.Items {
			pkAttr, okPK := item["PK"]
			skAttr, okSK := item["SK"]
			if !okPK || !okSK {
				continue
			}
			delRequests = append(delRequests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{
					Key: map[string]types.AttributeValue{"PK": pkAttr, "SK": skAttr},
				},
			})
		}

		if len(resp.Items) > 0 && len(delRequests) == 0 {
			return errors.New("query returned items without PK/SK")
		}

		for i := 0; i < len(delRequests); i += maxBatchWriteItems {
			end := min(i+maxBatchWriteItems, len(delRequests))
			startTime := time.Now()

			_, err := writeBatchRequests[map[string]types.AttributeValue](dynamoStore, ctx, delRequests[i:end])
			if err != nil {
				return fmt.Errorf("batch delete failed: %w", err)
			}

			if elapsed := time.Since(startTime); elapsed < throttle {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(throttle - elapsed):
				}
			}
		}

		if resp.LastEvaluatedKey == nil {
			return nil
		}
		input.ExclusiveStartKey = resp.LastEvaluatedKey
	}
}

// updateItem sets the given attributes on an existing item and returns the
// new image. Every entry of conditions must match the stored value.
func updateItem[T any](
	dynamoStore *DynamoClassroomStore,
	ctx context.Context,
	pk string,
	sk string,
	set map[string]types.AttributeValue,
	conditions map[string]types.AttributeValue,
) (T, error) {
	var zero T
	if len(set) == 0 {
		return zero, errors.New("nothing to update")
	}

	fields := make([]string, 0, len(set))
	for field := range set {
		if field == "PK" || field == "SK" {
			return zero, errors.New("keys cannot be updated")
		}
		fields = append(fields, field)
	}
	slices.Sort(fields)

	names := make(map[string]string)
	values := make(map[string]types.AttributeValue)
	assignments := make([]string, 0, len(fields))
	for i, field := range fields {
		name := "#u" + strconv.Itoa(i)
		value := ":u" + strconv.Itoa(i)
		names[name] = field
		values[value] = set[field]
		assignments = append(assignments, name+" = "+value)
	}

	condition := "attribute_exists(PK) AND attribute_exists(SK)"
	if len(conditions) > 0 {
		condition += " AND " + equalityCondition(conditions, names, values)
	}

	key := itemKey(pk, sk)
	out, err := dynamoStore.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(dynamoStore.tableName),
		Key:                       key,
		UpdateExpression:          aws.String("SET " + strings.Join(assignments, ", ")),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ConditionExpression:       aws.String(condition),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return zero, existenceError(dynamoStore, ctx, key)
		}
		return zero, fmt.Errorf("update failed: %w", err)
	}

	var updated T
	if err := attributevalue.UnmarshalMap(out.Attributes, &updated); err != nil {
		return zero, fmt.Errorf("failed to unmarshal updated item: %w", err)
	}
	return updated, nil
}

// incrementCounter atomically adds count to a numeric field.
// With createIfNotExists false the item must already exist.
func incrementCounter(
	dynamoStore *DynamoClassroomStore,
	ctx context.Context,
	pk string,
	sk string,
	counterField string,
	count int,
	createIfNotExists bool,
) error {
	exprAttrValues := map[string]types.AttributeValue{
		":val":  &types.AttributeValueMemberN{Value: strconv.Itoa(count)},
		":zero": &types.AttributeValueMemberN{Value: "0"},
	}

	input := &dynamodb.UpdateItemInput{
		TableName:                 aws.String(dynamoStore.tableName),
		Key:                       itemKey(pk, sk),
		UpdateExpression:          aws.String("SET #c = if_not_exists(#c, :zero) + :val"),
		ExpressionAttributeNames:  map[string]string{"#c": counterField},
		ExpressionAttributeValues: exprAttrValues,
	}
	if !createIfNotExists {
		input.ConditionExpression = aws.String("attribute_exists(PK)")
	}

	_, err := dynamoStore.client.UpdateItem(ctx, input)
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("increment %s on %s: %w", counterField, pk, store.ErrItemNotFound)
		}
		return fmt.Errorf("increment counter failed: %w", err)
	}
	return nil
}

package infra

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/fixkar/hubble/domain/model"
)

type DynamoDB struct {
	db *dynamodb.Client
}

var tableNamePrefix = "hubble"
var ticketTableName = tableNamePrefix + "_ticket_rows"
var configTableName = tableNamePrefix + "_channel_configs"
var templateTableName = tableNamePrefix + "_field_templates"
var counterTableName = tableNamePrefix + "_counters"

func NewDynamoDB() (*DynamoDB, error) {
	if os.Getenv("DYNAMO_TABLE_NAME_PREFIX") != "" {
		tableNamePrefix = os.Getenv("DYNAMO_TABLE_NAME_PREFIX")
		ticketTableName = tableNamePrefix + "_ticket_rows"
		configTableName = tableNamePrefix + "_channel_configs"
		templateTableName = tableNamePrefix + "_field_templates"
		counterTableName = tableNamePrefix + "_counters"
	}

	var db *dynamodb.Client
	if os.Getenv("DYNAMO_LOCAL") != "" {
		cfg, err := config.LoadDefaultConfig(context.TODO(),
			config.WithRegion("dummy"),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("dummy", "dummy", "dummy")),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %v", err)
		}
		db = dynamodb.NewFromConfig(cfg,
			func(o *dynamodb.Options) {
				o.BaseEndpoint = aws.String("http://localhost:8000")
			},
		)
	} else {
		cfg, err := config.LoadDefaultConfig(context.TODO())
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %v", err)
		}
		db = dynamodb.NewFromConfig(cfg)
	}
	d := &DynamoDB{db: db}
	if os.Getenv("DYNAMO_LOCAL") != "" {
		if err := d.EnsureTables(); err != nil {
			return nil, err
		}
	}
	return d, nil
}

const (
	waitInterval = 2 * time.Second
	maxRetries   = 30
)

func (d *DynamoDB) EnsureTables() error {
	for _, tableName := range []string{ticketTableName, configTableName, templateTableName, counterTableName} {
		if err := d.ensureSingleTable(tableName); err != nil {
			return fmt.Errorf("failed to ensure table %s: %v", tableName, err)
		}
	}
	return nil
}

func (d *DynamoDB) ensureSingleTable(tableName string) error {
	_, err := d.db.DescribeTable(context.TODO(), &dynamodb.DescribeTableInput{
		TableName: aws.String(tableName),
	})
	if err == nil {
		return nil
	}

	if err := d.createTable(tableName); err != nil {
		return err
	}

	for i := 0; i < maxRetries; i++ {
		out, err := d.db.DescribeTable(context.TODO(), &dynamodb.DescribeTableInput{
			TableName: aws.String(tableName),
		})
		if err != nil {
			return fmt.Errorf("failed to describe table %s: %v", tableName, err)
		}
		if out.Table.TableStatus == types.TableStatusActive {
			return nil
		}
		time.Sleep(waitInterval)
	}
	return fmt.Errorf("table %s creation timed out", tableName)
}

func (d *DynamoDB) createTable(tableName string) error {
	throughput := &types.ProvisionedThroughput{
		ReadCapacityUnits:  aws.Int64(5),
		WriteCapacityUnits: aws.Int64(5),
	}

	var createTableInput *dynamodb.CreateTableInput
	switch tableName {
	case ticketTableName:
		createTableInput = &dynamodb.CreateTableInput{
			TableName: aws.String(tableName),
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String("ticket_id"), AttributeType: types.ScalarAttributeTypeS},
				{AttributeName: aws.String("seq"), AttributeType: types.ScalarAttributeTypeN},
			},
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("ticket_id"), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String("seq"), KeyType: types.KeyTypeRange},
			},
			ProvisionedThroughput: throughput,
		}
	case configTableName:
		createTableInput = &dynamodb.CreateTableInput{
			TableName: aws.String(tableName),
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String("channel_id"), AttributeType: types.ScalarAttributeTypeS},
			},
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("channel_id"), KeyType: types.KeyTypeHash},
			},
			ProvisionedThroughput: throughput,
		}
	case templateTableName:
		createTableInput = &dynamodb.CreateTableInput{
			TableName: aws.String(tableName),
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String("template_key"), AttributeType: types.ScalarAttributeTypeS},
				{AttributeName: aws.String("field_id"), AttributeType: types.ScalarAttributeTypeS},
			},
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("template_key"), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String("field_id"), KeyType: types.KeyTypeRange},
			},
			ProvisionedThroughput: throughput,
		}
	case counterTableName:
		createTableInput = &dynamodb.CreateTableInput{
			TableName: aws.String(tableName),
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String("name"), AttributeType: types.ScalarAttributeTypeS},
			},
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("name"), KeyType: types.KeyTypeHash},
			},
			ProvisionedThroughput: throughput,
		}
	default:
		return fmt.Errorf("unknown table name: %s", tableName)
	}

	_, err := d.db.CreateTable(context.TODO(), createTableInput)
	if err != nil {
		return fmt.Errorf("failed to create table %s: %v", tableName, err)
	}
	return nil
}

func getStringValue(item map[string]types.AttributeValue, key string) string {
	if v, ok := item[key].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func getNumberValue(item map[string]types.AttributeValue, key string) (int64, error) {
	if v, ok := item[key].(*types.AttributeValueMemberN); ok {
		return strconv.ParseInt(v.Value, 10, 64)
	}
	return 0, fmt.Errorf("failed to parse %s", key)
}

// Items missing attributes read as "": historical rows can be narrower
// than the current schema.
func itemToTicket(item map[string]types.AttributeValue) model.Ticket {
	return model.Ticket{
		TicketID:         getStringValue(item, "ticket_id"),
		ThreadLink:       getStringValue(item, "thread_link"),
		Requester:        getStringValue(item, "requester_display"),
		Status:           getStringValue(item, "status"),
		Priority:         getStringValue(item, "priority"),
		Assignee:         getStringValue(item, "assignee_display"),
		CreatedAt:        getStringValue(item, "created_at"),
		FirstResponse:    getStringValue(item, "first_response"),
		ResolvedAt:       getStringValue(item, "resolved_at"),
		Description:      getStringValue(item, "description"),
		ChannelID:        getStringValue(item, "channel_id"),
		ChannelName:      getStringValue(item, "channel_name"),
		CustomFieldsJSON: getStringValue(item, "custom_fields_json"),
		InternalRef:      getStringValue(item, "internal_message_ref"),
	}
}

func (d *DynamoDB) AppendTicket(t *model.Ticket) error {
	existing, err := d.latestItemSeq(t.TicketID)
	if err != nil {
		return err
	}
	if existing != 0 {
		return ErrDuplicateTicket
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(ticketTableName),
		Item: map[string]types.AttributeValue{
			"ticket_id":            &types.AttributeValueMemberS{Value: t.TicketID},
			"seq":                  &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().UnixNano(), 10)},
			"thread_link":          &types.AttributeValueMemberS{Value: t.ThreadLink},
			"requester_display":    &types.AttributeValueMemberS{Value: t.Requester},
			"status":               &types.AttributeValueMemberS{Value: t.Status},
			"priority":             &types.AttributeValueMemberS{Value: t.Priority},
			"assignee_display":     &types.AttributeValueMemberS{Value: t.Assignee},
			"created_at":           &types.AttributeValueMemberS{Value: t.CreatedAt},
			"first_response":       &types.AttributeValueMemberS{Value: t.FirstResponse},
			"resolved_at":          &types.AttributeValueMemberS{Value: t.ResolvedAt},
			"description":          &types.AttributeValueMemberS{Value: t.Description},
			"channel_id":           &types.AttributeValueMemberS{Value: t.ChannelID},
			"channel_name":         &types.AttributeValueMemberS{Value: t.ChannelName},
			"custom_fields_json":   &types.AttributeValueMemberS{Value: t.CustomFieldsJSON},
			"internal_message_ref": &types.AttributeValueMemberS{Value: t.InternalRef},
		},
	}
	_, err = d.db.PutItem(context.TODO(), input)
	return err
}

func (d *DynamoDB) GetTickets() ([]model.Ticket, error) {
	type seqTicket struct {
		seq    int64
		ticket model.Ticket
	}
	var rows []seqTicket

	var lastKey map[string]types.AttributeValue
	for {
		out, err := d.db.Scan(context.TODO(), &dynamodb.ScanInput{
			TableName:         aws.String(ticketTableName),
			ExclusiveStartKey: lastKey,
		})
		if err != nil {
			return nil, err
		}
		for _, item := range out.Items {
			seq, err := getNumberValue(item, "seq")
			if err != nil {
				continue
			}
			rows = append(rows, seqTicket{seq: seq, ticket: itemToTicket(item)})
		}
		if out.LastEvaluatedKey == nil {
			break
		}
		lastKey = out.LastEvaluatedKey
	}

	// Scan order is not physical order, so rebuild it from seq.
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })

	index := map[string]int{}
	var tickets []model.Ticket
	for _, r := range rows {
		if r.ticket.TicketID == "" {
			continue
		}
		if at, ok := index[r.ticket.TicketID]; ok {
			tickets[at] = r.ticket
			continue
		}
		index[r.ticket.TicketID] = len(tickets)
		tickets = append(tickets, r.ticket)
	}
	return tickets, nil
}

func (d *DynamoDB) GetTicket(id string) (*model.Ticket, error) {
	seq, err := d.latestItemSeq(id)
	if err != nil {
		return nil, err
	}
	if seq == 0 {
		return nil, nil
	}
	out, err := d.db.GetItem(context.TODO(), &dynamodb.GetItemInput{
		TableName: aws.String(ticketTableName),
		Key:       ticketKey(id, seq),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, nil
	}
	t := itemToTicket(out.Item)
	return &t, nil
}

func ticketKey(id string, seq int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"ticket_id": &types.AttributeValueMemberS{Value: id},
		"seq":       &types.AttributeValueMemberN{Value: strconv.FormatInt(seq, 10)},
	}
}

// latestItemSeq returns 0 when the ticket has no rows.
func (d *DynamoDB) latestItemSeq(id string) (int64, error) {
	out, err := d.db.Query(context.TODO(), &dynamodb.QueryInput{
		TableName:              aws.String(ticketTableName),
		KeyConditionExpression: aws.String("ticket_id = :ticket_id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ticket_id": &types.AttributeValueMemberS{Value: id},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, err
	}
	if len(out.Items) == 0 {
		return 0, nil
	}
	return getNumberValue(out.Items[0], "seq")
}

func (d *DynamoDB) UpdateTicketFields(id string, fields map[model.Column]string) error {
	seq, err := d.latestItemSeq(id)
	if err != nil {
		return err
	}
	if seq == 0 {
		return ErrTicketNotFound
	}

	var applied []model.Column
	for _, col := range model.TicketColumns {
		value, ok := fields[col]
		if !ok {
			continue
		}
		_, err := d.db.UpdateItem(context.TODO(), &dynamodb.UpdateItemInput{
			TableName:        aws.String(ticketTableName),
			Key:              ticketKey(id, seq),
			UpdateExpression: aws.String("SET #f = :v"),
			ExpressionAttributeNames: map[string]string{
				"#f": string(col),
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":v": &types.AttributeValueMemberS{Value: value},
			},
		})
		if err != nil {
			slog.Error("partial ticket update",
				slog.String("ticket_id", id),
				slog.String("failed_field", string(col)),
				slog.Any("applied_fields", applied))
			return fmt.Errorf("update field %s failed (applied %v): %w", col, applied, err)
		}
		applied = append(applied, col)
	}
	return nil
}

func (d *DynamoDB) MergeCustomFields(id string, partial map[string]string) error {
	ticket, err := d.GetTicket(id)
	if err != nil {
		return err
	}
	if ticket == nil {
		return ErrTicketNotFound
	}
	merged := ticket.CustomFields()
	for k, v := range partial {
		merged[k] = v
	}
	return d.UpdateTicketFields(id, map[model.Column]string{
		model.ColCustomFields: model.EncodeCustomFields(merged),
	})
}

func (d *DynamoDB) ClearAllTickets() error {
	var lastKey map[string]types.AttributeValue
	for {
		out, err := d.db.Scan(context.TODO(), &dynamodb.ScanInput{
			TableName:            aws.String(ticketTableName),
			ProjectionExpression: aws.String("ticket_id, seq"),
			ExclusiveStartKey:    lastKey,
		})
		if err != nil {
			return err
		}
		for _, item := range out.Items {
			seq, err := getNumberValue(item, "seq")
			if err != nil {
				continue
			}
			_, err = d.db.DeleteItem(context.TODO(), &dynamodb.DeleteItemInput{
				TableName: aws.String(ticketTableName),
				Key:       ticketKey(getStringValue(item, "ticket_id"), seq),
			})
			if err != nil {
				return err
			}
		}
		if out.LastEvaluatedKey == nil {
			return nil
		}
		lastKey = out.LastEvaluatedKey
	}
}

func (d *DynamoDB) NextTicketID() (int64, error) {
	out, err := d.db.UpdateItem(context.TODO(), &dynamodb.UpdateItemInput{
		TableName: aws.String(counterTableName),
		Key: map[string]types.AttributeValue{
			"name": &types.AttributeValueMemberS{Value: "ticket_id"},
		},
		UpdateExpression: aws.String("ADD #v :one"),
		ExpressionAttributeNames: map[string]string{
			"#v": "value",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, err
	}
	return getNumberValue(out.Attributes, "value")
}

func (d *DynamoDB) GetChannelConfig(channelID string) (*model.ChannelConfig, error) {
	out, err := d.db.GetItem(context.TODO(), &dynamodb.GetItemInput{
		TableName: aws.String(configTableName),
		Key: map[string]types.AttributeValue{
			"channel_id": &types.AttributeValueMemberS{Value: channelID},
		},
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, nil
	}
	return &model.ChannelConfig{
		ChannelID:         getStringValue(out.Item, "channel_id"),
		ChannelName:       getStringValue(out.Item, "channel_name"),
		AdminUserIDs:      getStringValue(out.Item, "admin_user_ids"),
		DefaultAssignee:   getStringValue(out.Item, "default_assignee"),
		Priorities:        getStringValue(out.Item, "priorities"),
		TemplateKey:       getStringValue(out.Item, "template_key"),
		InternalChannelID: getStringValue(out.Item, "internal_channel_id"),
	}, nil
}

func (d *DynamoDB) SaveChannelConfig(cfg *model.ChannelConfig) error {
	_, err := d.db.PutItem(context.TODO(), &dynamodb.PutItemInput{
		TableName: aws.String(configTableName),
		Item: map[string]types.AttributeValue{
			"channel_id":          &types.AttributeValueMemberS{Value: cfg.ChannelID},
			"channel_name":        &types.AttributeValueMemberS{Value: cfg.ChannelName},
			"admin_user_ids":      &types.AttributeValueMemberS{Value: cfg.AdminUserIDs},
			"default_assignee":    &types.AttributeValueMemberS{Value: cfg.DefaultAssignee},
			"priorities":          &types.AttributeValueMemberS{Value: cfg.Priorities},
			"template_key":        &types.AttributeValueMemberS{Value: cfg.TemplateKey},
			"internal_channel_id": &types.AttributeValueMemberS{Value: cfg.InternalChannelID},
		},
	})
	return err
}

func (d *DynamoDB) GetFieldTemplate(templateKey string) ([]model.FieldDescriptor, error) {
	out, err := d.db.Query(context.TODO(), &dynamodb.QueryInput{
		TableName:              aws.String(templateTableName),
		KeyConditionExpression: aws.String("template_key = :key"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":key": &types.AttributeValueMemberS{Value: templateKey},
		},
	})
	if err != nil {
		return nil, err
	}

	var fields []model.FieldDescriptor
	for _, item := range out.Items {
		order, err := getNumberValue(item, "field_order")
		if err != nil {
			order = 999
		}
		required, _ := getNumberValue(item, "required")
		fields = append(fields, model.FieldDescriptor{
			TemplateKey: getStringValue(item, "template_key"),
			FieldID:     getStringValue(item, "field_id"),
			Label:       getStringValue(item, "label"),
			Type:        getStringValue(item, "type"),
			Required:    required == 1,
			Options:     getStringValue(item, "options"),
			Order:       int(order),
		})
	}
	return model.SortFields(fields), nil
}

func (d *DynamoDB) SaveFieldTemplate(fields []model.FieldDescriptor) error {
	for _, f := range fields {
		required := "0"
		if f.Required {
			required = "1"
		}
		_, err := d.db.PutItem(context.TODO(), &dynamodb.PutItemInput{
			TableName: aws.String(templateTableName),
			Item: map[string]types.AttributeValue{
				"template_key": &types.AttributeValueMemberS{Value: f.TemplateKey},
				"field_id":     &types.AttributeValueMemberS{Value: f.FieldID},
				"label":        &types.AttributeValueMemberS{Value: f.Label},
				"type":         &types.AttributeValueMemberS{Value: f.Type},
				"required":     &types.AttributeValueMemberN{Value: required},
				"options":      &types.AttributeValueMemberS{Value: f.Options},
				"field_order":  &types.AttributeValueMemberN{Value: strconv.Itoa(f.Order)},
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

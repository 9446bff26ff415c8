package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/cyverse-de/inquiry-notifier/common"
	"github.com/cyverse-de/inquiry-notifier/inquiries"
	"github.com/cyverse-de/inquiry-notifier/model"
	"github.com/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/streadway/amqp"
)

// inquirySchemaURL is the location the inquiry schema is registered under in the schema compiler.
const inquirySchemaURL = "inquiry.json"

// InquirySchema is the JSON schema that inquiry messages must satisfy.
const InquirySchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "email", "mobile", "message"],
  "properties": {
    "name": {"type": "string", "minLength": 1, "maxLength": 200},
    "email": {"type": "string", "minLength": 3, "maxLength": 254},
    "mobile": {"type": "string", "minLength": 1, "maxLength": 50},
    "message": {"type": "string", "minLength": 1, "maxLength": 5000},
    "timestamp": {"type": "string"}
  }
}`

// InquiryRequest represents a deserialized inquiry message.
type InquiryRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Mobile    string `json:"mobile"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Creator stores new inquiries.
type Creator interface {
	Create(ctx context.Context, submitted inquiries.NewInquiry) (model.Inquiry, error)
}

// Inquiry is a message handler for inquiries published by the intake process.
type Inquiry struct {
	creator Creator
	schema  *jsonschema.Schema
}

// compileInquirySchema compiles InquirySchema.
func compileInquirySchema() (*jsonschema.Schema, error) {
	wrapMsg := "unable to compile the inquiry schema"

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(InquirySchema))
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(inquirySchemaURL, doc); err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}
	schema, err := compiler.Compile(inquirySchemaURL)
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}
	return schema, nil
}

// NewInquiry returns a new inquiry message handler.
func NewInquiry(creator Creator) (*Inquiry, error) {
	schema, err := compileInquirySchema()
	if err != nil {
		return nil, err
	}
	return &Inquiry{creator: creator, schema: schema}, nil
}

// HandleMessage handles a single AMQP delivery.
func (ih *Inquiry) HandleMessage(ctx context.Context, _ string, delivery amqp.Delivery) error {

	// Validate the message body against the schema.
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(delivery.Body))
	if err != nil {
		return WrapUnrecoverable(err, "unable to parse message body")
	}
	if err := ih.schema.Validate(instance); err != nil {
		return WrapUnrecoverable(err, "invalid message body")
	}

	// Parse the message body.
	var request InquiryRequest
	if err := json.Unmarshal(delivery.Body, &request); err != nil {
		return WrapUnrecoverable(err, "unable to parse message body")
	}

	// Validate the email address.
	email := strings.ToLower(strings.TrimSpace(request.Email))
	if err := common.ValidateEmailAddress(email); err != nil {
		return WrapUnrecoverable(err, "invalid email address")
	}

	submitted := inquiries.NewInquiry{
		Name:    request.Name,
		Email:   email,
		Mobile:  request.Mobile,
		Message: request.Message,
	}

	// Parse the timestamp if one was provided.
	if request.Timestamp != "" {
		submitted.CreatedAt, err = common.ParseTimestamp(request.Timestamp)
		if err != nil {
			return WrapUnrecoverable(err, "unable to parse timestamp")
		}
	}

	// Store the inquiry.
	_, err = ih.creator.Create(ctx, submitted)
	if inquiries.IsValidationError(err) {
		return WrapUnrecoverable(err, "inquiry rejected")
	}
	if err != nil {
		return WrapRecoverable(err, "unable to store inquiry")
	}

	return nil
}

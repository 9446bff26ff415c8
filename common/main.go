package common

import (
	"github.com/mcnijman/go-emailaddress"
)

// AMQPSettings represents the settings that we require in order to consume inquiries from the AMQP exchange.
type AMQPSettings struct {
	URI           string
	ExchangeName  string
	ExchangeType  string
	QueueName     string
	PrefetchCount int
}

// ValidateEmailAddress returns an error if the format of an email address is invalid.
func ValidateEmailAddress(emailAddress string) error {
	_, err := emailaddress.Parse(emailAddress)
	return err
}

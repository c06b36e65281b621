// Package queue carries duplication jobs from the HTTP process to workers.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"gumroad/internal/domain"
)

var ErrQueueFull = errors.New("queue is full")

// Message is the wire payload of one duplication job.
type Message struct {
	JobID     string `json:"job_id" validate:"required,uuid"`
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
}

// Handler performs the job. A non-nil error asks the backend to redeliver.
type Handler func(ctx context.Context, jobID string) error

var validate = validator.New()

func NewMessage(job domain.DuplicationJob) Message {
	return Message{JobID: job.ID, ProductID: job.SourceProductID}
}

func (m Message) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}
	return nil
}

func Encode(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

func Decode(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	return m, m.Validate()
}

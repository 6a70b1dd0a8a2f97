// Package queue carries render requests from the API to workers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Message asks a worker to render one project.
type Message struct {
	RunID       string `json:"run_id"`
	ProjectID   string `json:"project_id"`
	ProjectName string `json:"project_name"`
	Bucket      string `json:"bucket"`
}

func (m Message) Validate() error {
	if strings.TrimSpace(m.RunID) == "" || strings.TrimSpace(m.ProjectID) == "" {
		return fmt.Errorf("run_id and project_id are required")
	}
	return nil
}

// Delivery is a popped message that has not been acknowledged yet.
type Delivery struct {
	Body    []byte
	receipt string
}

// Message decodes and validates the delivery body.
func (d *Delivery) Message() (Message, error) {
	var m Message
	if err := json.Unmarshal(d.Body, &m); err != nil {
		return Message{}, fmt.Errorf("decode queue message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

type Queue interface {
	Push(ctx context.Context, m Message) error
	// Pop waits for the next delivery. It returns nil, nil when nothing
	// arrived before the backend's wait time ran out.
	Pop(ctx context.Context) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	Ping(ctx context.Context) error
	Close() error
}

func encode(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

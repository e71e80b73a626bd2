// Package codec serializes jobs into a self-describing JSON envelope.
//
// The envelope is what the pebble driver stores and what recovery snapshots
// hold. Decode(Encode(job)) yields a job equal to the input field for field,
// provided its times are in UTC.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jdziat/durable-queue/pkg/core"
)

// Version is written into every envelope.
const Version = 1

// ErrInvalidPayload is returned when a job payload is not valid JSON.
var ErrInvalidPayload = errors.New("codec: payload is not valid JSON")

type envelope struct {
	V           int                  `json:"v"`
	ID          string               `json:"id"`
	Type        string               `json:"type"`
	Queue       string               `json:"queue"`
	Args        json.RawMessage      `json:"args,omitempty"`
	Attempts    int                  `json:"attempts"`
	MaxAttempts int                  `json:"max_attempts"`
	Priority    int                  `json:"priority,omitempty"`
	AvailableAt time.Time            `json:"available_at"`
	Reserved    bool                 `json:"reserved,omitempty"`
	ReservedBy  string               `json:"reserved_by,omitempty"`
	ReservedAt  *time.Time           `json:"reserved_at,omitempty"`
	Timeout     time.Duration        `json:"timeout,omitempty"`
	Backend     string               `json:"backend,omitempty"`
	UniqueKey   string               `json:"unique_key,omitempty"`
	ChainID     *string              `json:"chain_id,omitempty"`
	ChainStep   int                  `json:"chain_step,omitempty"`
	BatchID     *string              `json:"batch_id,omitempty"`
	LastError   string               `json:"last_error,omitempty"`
	History     []core.AttemptRecord `json:"history,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
}

// Encode serializes job.
func Encode(job *core.Job) ([]byte, error) {
	if job == nil {
		return nil, errors.New("codec: nil job")
	}
	if len(job.Payload) > 0 && !json.Valid(job.Payload) {
		return nil, ErrInvalidPayload
	}
	env := envelope{
		V:           Version,
		ID:          job.ID,
		Type:        job.Type,
		Queue:       job.Queue,
		Args:        json.RawMessage(job.Payload),
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		Priority:    job.Priority,
		AvailableAt: job.AvailableAt,
		Reserved:    job.Reserved,
		ReservedBy:  job.ReservedBy,
		ReservedAt:  job.ReservedAt,
		Timeout:     job.Timeout,
		Backend:     job.Backend,
		UniqueKey:   job.UniqueKey,
		ChainID:     job.ChainID,
		ChainStep:   job.ChainStep,
		BatchID:     job.BatchID,
		LastError:   job.LastError,
		History:     job.History,
		CreatedAt:   job.CreatedAt,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("codec: encode job %s: %w", job.ID, err)
	}
	return data, nil
}

// Decode rebuilds a job from an envelope produced by Encode.
func Decode(data []byte) (*core.Job, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("codec: decode: %w", err)
	}
	if env.V > Version {
		return nil, fmt.Errorf("codec: unsupported envelope version %d", env.V)
	}
	if env.Type == "" {
		return nil, errors.New("codec: envelope has no job type")
	}
	job := &core.Job{
		ID:          env.ID,
		Type:        env.Type,
		Queue:       env.Queue,
		Attempts:    env.Attempts,
		MaxAttempts: env.MaxAttempts,
		Priority:    env.Priority,
		AvailableAt: env.AvailableAt.UTC(),
		Reserved:    env.Reserved,
		ReservedBy:  env.ReservedBy,
		Timeout:     env.Timeout,
		Backend:     env.Backend,
		UniqueKey:   env.UniqueKey,
		ChainID:     env.ChainID,
		ChainStep:   env.ChainStep,
		BatchID:     env.BatchID,
		LastError:   env.LastError,
		History:     env.History,
		CreatedAt:   env.CreatedAt.UTC(),
	}
	if len(env.Args) > 0 {
		job.Payload = []byte(env.Args)
	}
	if env.ReservedAt != nil {
		at := env.ReservedAt.UTC()
		job.ReservedAt = &at
	}
	for i := range job.History {
		job.History[i].At = job.History[i].At.UTC()
	}
	return job, nil
}

// EncodeArgs marshals handler arguments into a job payload. Nil args
// produce an empty payload.
func EncodeArgs(args any) ([]byte, error) {
	if args == nil {
		return nil, nil
	}
	if raw, ok := args.(json.RawMessage); ok {
		if !json.Valid(raw) {
			return nil, ErrInvalidPayload
		}
		return []byte(raw), nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("codec: encode args: %w", err)
	}
	return data, nil
}

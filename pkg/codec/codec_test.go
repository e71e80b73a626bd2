package codec

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/durable-queue/pkg/core"
)

func fullJob() *core.Job {
	now := time.Now().UTC()
	reservedAt := now.Add(time.Second)
	chainID := "chain-1"
	batchID := "batch-1"
	return &core.Job{
		ID:          "job-1",
		Type:        "send-email",
		Queue:       "emails",
		Payload:     []byte(`{"to":"a@example.com","n":3}`),
		Attempts:    2,
		MaxAttempts: 5,
		Priority:    7,
		AvailableAt: now.Add(time.Minute),
		Reserved:    true,
		ReservedBy:  "worker-1",
		ReservedAt:  &reservedAt,
		Timeout:     30 * time.Second,
		Backend:     "pebble",
		UniqueKey:   "k",
		ChainID:     &chainID,
		ChainStep:   2,
		BatchID:     &batchID,
		LastError:   "boom",
		History: []core.AttemptRecord{
			{Attempt: 1, At: now, Delay: time.Second, ErrorKind: "*errors.errorString", Error: "boom"},
		},
		CreatedAt: now,
	}
}

func TestRoundTrip(t *testing.T) {
	job := fullJob()

	data, err := Encode(job)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, job, decoded)
}

func TestRoundTrip_MinimalJob(t *testing.T) {
	job := &core.Job{ID: "j", Type: "noop", Queue: core.DefaultQueue, MaxAttempts: 1}

	data, err := Encode(job)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, job, decoded)
	assert.Nil(t, decoded.Payload)
}

func TestEncode_RejectsInvalidPayload(t *testing.T) {
	_, err := Encode(&core.Job{Type: "x", Payload: []byte("not json")})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = Encode(nil)
	assert.Error(t, err)
}

func TestEncode_ArgsAreInlined(t *testing.T) {
	data, err := Encode(&core.Job{ID: "j", Type: "x", Payload: []byte(`{"a":1}`)})
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.JSONEq(t, `{"a":1}`, string(raw["args"]))
	assert.Equal(t, "1", string(raw["v"]))
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode([]byte("{"))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"v":1,"id":"x"}`))
	assert.ErrorContains(t, err, "no job type")

	_, err = Decode([]byte(`{"v":99,"type":"x"}`))
	assert.ErrorContains(t, err, "version")
}

func TestEncodeArgs(t *testing.T) {
	data, err := EncodeArgs(nil)
	require.NoError(t, err)
	assert.Nil(t, data)

	data, err = EncodeArgs(map[string]int{"n": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(data))

	data, err = EncodeArgs(json.RawMessage(`[1,2]`))
	require.NoError(t, err)
	assert.Equal(t, `[1,2]`, string(data))

	_, err = EncodeArgs(json.RawMessage(`nope`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

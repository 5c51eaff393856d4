package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeMessages(t *testing.T) {
	msgs, err := encodeMessages([]Event{
		{Key: "read file", Value: map[string]int{"k": 10}},
		{Key: "sort list", Value: "plain"},
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, "read file", string(msgs[0].Key))
	assert.JSONEq(t, `{"k":10}`, string(msgs[0].Value))
	assert.Equal(t, `"plain"`, string(msgs[1].Value))
}

func TestEncodeMessagesRejectsUnencodable(t *testing.T) {
	_, err := encodeMessages([]Event{{Key: "bad", Value: make(chan int)}})
	assert.ErrorContains(t, err, "bad")
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Query string `json:"query"`
	}
	got, err := DecodeJSON[payload]([]byte(`{"query":"read file"}`))
	require.NoError(t, err)
	assert.Equal(t, "read file", got.Query)

	_, err = DecodeJSON[payload]([]byte(`{`))
	assert.Error(t, err)
}

package mq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConnection_InvalidURL(t *testing.T) {
	_, err := NewConnection("http://localhost:5672/", AppID+".test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "helpdesk-sync.test")
}

func TestNewPublisher_InvalidURL(t *testing.T) {
	_, err := NewPublisher("not a url")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "helpdesk-sync.outbox")
}

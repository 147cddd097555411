package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/codevault-backend/pkg/config"
)

func TestTopicName(t *testing.T) {
	assert.Equal(t, "projects/codevault-prod/topics/cv-order-events", TopicName("codevault-prod", "cv-order-events"))
	assert.Equal(t, "projects/other/topics/x", TopicName("codevault-prod", "projects/other/topics/x"))
	assert.Equal(t, "projects/other/topics/x", TopicName("", "projects/other/topics/x"))
	assert.Empty(t, TopicName("codevault-prod", "  "))
	assert.Empty(t, TopicName("", "cv-order-events"))
}

func TestResourceNamesSkipsBlank(t *testing.T) {
	names := resourceNames("p", []string{"orders", " ", "alerts"})
	assert.Equal(t, []string{"projects/p/topics/orders", "projects/p/topics/alerts"}, names)
}

func TestNewClientValidatesInput(t *testing.T) {
	_, err := NewClient(context.Background(), config.GCPConfig{}, []string{"orders"}, nil)
	require.ErrorIs(t, err, errProjectIDRequired)

	_, err = NewClient(context.Background(), config.GCPConfig{ProjectID: "p"}, []string{" "}, nil)
	require.ErrorIs(t, err, errNoTopics)
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	assert.Nil(t, c.Publisher("orders"))
	assert.NoError(t, c.Close())
	assert.ErrorIs(t, c.Ping(context.Background()), errNotInitialized)
}

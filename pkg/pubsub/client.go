// Package pubsub owns the Pub/Sub v2 connection and one cached publisher per topic.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/codevault-backend/pkg/config"
	"github.com/angelmondragon/codevault-backend/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoTopics          = errors.New("at least one pubsub topic is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

type Client struct {
	api     *pubsub.Client
	project string
	topics  []string

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// NewClient connects to projectID and fails unless every topic already exists. Topics are
// provisioned by infrastructure, never created here.
func NewClient(ctx context.Context, gcp config.GCPConfig, topics []string, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, errProjectIDRequired
	}
	names := resourceNames(project, topics)
	if len(names) == 0 {
		return nil, errNoTopics
	}

	api, err := pubsub.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := &Client{api: api, project: project, topics: names, publishers: map[string]*pubsub.Publisher{}}
	if err := c.Ping(ctx); err != nil {
		_ = api.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"project": project, "topics": names}), "pubsub client initialized")
	}
	return c, nil
}

// Ping looks up every configured topic in parallel.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.api == nil {
		return errNotInitialized
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, topic := range c.topics {
		g.Go(func() error {
			_, err := c.api.TopicAdminClient.GetTopic(gctx, &pubsubpb.GetTopicRequest{Topic: topic})
			switch {
			case status.Code(err) == codes.NotFound:
				return fmt.Errorf("topic %s does not exist", topic)
			case err != nil:
				return fmt.Errorf("checking topic %s: %w", topic, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Publisher returns the cached publisher for a topic id or full resource name.
func (c *Client) Publisher(topic string) *pubsub.Publisher {
	if c == nil || c.api == nil {
		return nil
	}
	name := TopicName(c.project, topic)
	if name == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.publishers[name]
	if !ok {
		p = c.api.Publisher(name)
		c.publishers[name] = p
	}
	return p
}

// Close flushes outstanding messages and releases the connection.
func (c *Client) Close() error {
	if c == nil || c.api == nil {
		return nil
	}
	c.mu.Lock()
	publishers := c.publishers
	c.publishers = map[string]*pubsub.Publisher{}
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range publishers {
		wg.Go(p.Stop)
	}
	wg.Wait()
	return c.api.Close()
}

// TopicName expands a topic id to projects/<project>/topics/<id>. Full names pass through.
func TopicName(project, topic string) string {
	topic = strings.TrimSpace(topic)
	switch {
	case topic == "":
		return ""
	case strings.HasPrefix(topic, "projects/") && strings.Contains(topic, "/topics/"):
		return topic
	case strings.TrimSpace(project) == "":
		return ""
	}
	return "projects/" + strings.TrimSpace(project) + "/topics/" + topic
}

func resourceNames(project string, topics []string) []string {
	names := make([]string, 0, len(topics))
	for _, topic := range topics {
		if name := TopicName(project, topic); name != "" {
			names = append(names, name)
		}
	}
	return names
}

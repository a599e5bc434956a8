package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/stockledger-backend/pkg/config"
	"github.com/angelmondragon/stockledger-backend/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoTopic           = errors.New("pubsub audit topic is required")
	errClientClosed      = errors.New("pubsub client not initialized")
)

// Client owns the Pub/Sub connection and one cached Topic per topic name.
// Publishers batch in the background, so they are created once and stopped
// on Close rather than per message.
type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig

	mu     sync.Mutex
	topics map[string]*Topic
}

// Topic publishes to a single topic.
type Topic struct {
	name    string
	inner   *pubsub.Publisher
	ordered bool
}

// NewClient dials Pub/Sub and verifies the audit topic exists.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, errProjectIDRequired
	}
	if strings.TrimSpace(cfg.AuditTopic) == "" {
		return nil, errNoTopic
	}

	psClient, err := pubsub.NewClient(ctx, gcp.ProjectID, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{
		client:    psClient,
		projectID: gcp.ProjectID,
		cfg:       cfg,
		topics:    make(map[string]*Topic),
	}
	if err := c.Ping(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}

	if logg != nil {
		ctx = logg.WithFields(ctx, map[string]any{
			"audit_topic": c.topicResourceName(cfg.AuditTopic),
			"ordered":     cfg.OrderedDelivery,
		})
		logg.Info(ctx, "pubsub client initialized")
	}
	return c, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	var opts []option.ClientOption
	switch {
	case strings.TrimSpace(gcp.CredentialsJSON) != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(gcp.CredentialsJSON)))
	case strings.TrimSpace(gcp.ApplicationCredentials) != "":
		opts = append(opts, option.WithCredentialsFile(gcp.ApplicationCredentials))
	}
	return opts
}

// Topic returns the cached publisher for name, creating it on first use.
// name may be a bare topic id or a full projects/<p>/topics/<t> path.
func (c *Client) Topic(name string) *Topic {
	if c == nil || c.client == nil {
		return nil
	}
	fullName := c.topicResourceName(name)
	if fullName == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if topic, ok := c.topics[fullName]; ok {
		return topic
	}

	inner := c.client.Publisher(fullName)
	inner.EnableMessageOrdering = c.cfg.OrderedDelivery
	if c.cfg.BatchDelayMS > 0 {
		inner.PublishSettings.DelayThreshold = time.Duration(c.cfg.BatchDelayMS) * time.Millisecond
	}
	topic := &Topic{name: fullName, inner: inner, ordered: c.cfg.OrderedDelivery}
	c.topics[fullName] = topic
	return topic
}

// AuditTopic returns the publisher for audit events.
func (c *Client) AuditTopic() *Topic {
	if c == nil {
		return nil
	}
	return c.Topic(c.cfg.AuditTopic)
}

// Ping verifies connectivity by looking up the audit topic.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errClientClosed
	}
	name := strings.TrimSpace(c.cfg.AuditTopic)
	if name == "" {
		return errNoTopic
	}
	_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: c.topicResourceName(name)})
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("topic %q does not exist", name)
	default:
		return fmt.Errorf("checking topic %q: %w", name, err)
	}
}

// Close flushes and stops every cached publisher before closing the client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	for name, topic := range c.topics {
		topic.inner.Stop()
		delete(c.topics, name)
	}
	c.mu.Unlock()
	return c.client.Close()
}

func (c *Client) topicResourceName(name string) string {
	if c == nil {
		return ""
	}
	n := strings.TrimSpace(name)
	switch {
	case n == "":
		return ""
	case strings.HasPrefix(n, "projects/") && strings.Contains(n, "/topics/"):
		return n
	case strings.TrimSpace(c.projectID) == "":
		return ""
	}
	return "projects/" + strings.TrimSpace(c.projectID) + "/topics/" + n
}

// Name is the full topic resource name.
func (t *Topic) Name() string {
	if t == nil {
		return ""
	}
	return t.name
}

// Publish sends msg and blocks until the server acknowledges it. When
// ordering is enabled a failed publish pauses msg.OrderingKey; the key is
// resumed here so the caller's retry of the same aggregate is accepted.
func (t *Topic) Publish(ctx context.Context, msg *pubsub.Message) (string, error) {
	if t == nil || t.inner == nil {
		return "", errClientClosed
	}
	if !t.ordered {
		msg.OrderingKey = ""
	}
	id, err := t.inner.Publish(ctx, msg).Get(ctx)
	if err != nil && msg.OrderingKey != "" {
		t.inner.ResumePublish(msg.OrderingKey)
	}
	return id, err
}

package pubsub

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/buttonbid-backend/pkg/config"
	"github.com/angelmondragon/buttonbid-backend/pkg/logger"
)

const (
	topicsCollection        = "topics"
	subscriptionsCollection = "subscriptions"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoSubscriptions   = errors.New("pubsub subscription name is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

// Client wraps the Pub/Sub v2 client for the feed: ordered publishers per
// topic and subscribers for the notification and analytics consumers.
type Client struct {
	ps      *pubsub.Client
	project string
	cfg     config.PubSubConfig
	logg    *logger.Logger
}

// NewClient dials Pub/Sub and fails when a configured subscription is
// missing.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, errProjectIDRequired
	}
	ps, err := pubsub.NewClient(ctx, project, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{ps: ps, project: project, cfg: cfg, logg: logg}
	if err := c.checkSubscriptions(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "project", project), "pubsub client ready")
	}
	return c, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	if raw := strings.TrimSpace(gcp.CredentialsJSON); raw != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(raw))}
	}
	if path := strings.TrimSpace(gcp.ApplicationCredentials); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

// subscriptionNames lists the non-blank consumer subscriptions.
func subscriptionNames(cfg config.PubSubConfig) []string {
	return nonBlank(cfg.NotificationSubscription, cfg.AnalyticsSubscription)
}

// FeedTopics lists the distinct topics feed events are published to.
func FeedTopics(cfg config.PubSubConfig) []string {
	return nonBlank(cfg.AuctionTopic, cfg.LedgerTopic)
}

func nonBlank(values ...string) []string {
	out := []string{}
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

// qualify expands a short id into projects/<project>/<collection>/<id>.
// Names already qualified for the collection pass through; an empty result
// means the name cannot be resolved.
func qualify(project, collection, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if strings.HasPrefix(name, "projects/") && strings.Contains(name, "/"+collection+"/") {
		return name
	}
	if project = strings.TrimSpace(project); project == "" {
		return ""
	}
	return "projects/" + project + "/" + collection + "/" + name
}

// lookupErr turns an admin API error into a readable one.
func lookupErr(err error, kind, name string) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%s %q does not exist", kind, name)
	}
	return fmt.Errorf("checking %s %q: %w", kind, name, err)
}

func (c *Client) checkSubscriptions(ctx context.Context) error {
	names := subscriptionNames(c.cfg)
	if len(names) == 0 {
		return errNoSubscriptions
	}
	for _, name := range names {
		if err := c.checkSubscription(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) checkSubscription(ctx context.Context, name string) error {
	path := qualify(c.project, subscriptionsCollection, name)
	if path == "" {
		return fmt.Errorf("subscription %q not configured", name)
	}
	sub, err := c.ps.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: path})
	if err != nil {
		return lookupErr(err, "subscription", name)
	}
	if !sub.GetEnableMessageOrdering() && c.logg != nil {
		// per-auction order only holds on ordered subscriptions
		c.logg.Warn(c.logg.WithField(ctx, "subscription", name), "subscription does not enable message ordering")
	}
	return nil
}

// EnsureTopic fails when a feed topic is missing, so the publisher never
// starts against a typo.
func (c *Client) EnsureTopic(ctx context.Context, name string) error {
	path := qualify(c.project, topicsCollection, name)
	if path == "" {
		return fmt.Errorf("topic %q not configured", name)
	}
	if _, err := c.ps.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: path}); err != nil {
		return lookupErr(err, "topic", name)
	}
	return nil
}

// Subscription returns a Subscriber for an id or full resource name, or nil
// when the name cannot be resolved.
func (c *Client) Subscription(name string) *pubsub.Subscriber {
	if c == nil || c.ps == nil {
		return nil
	}
	if path := qualify(c.project, subscriptionsCollection, name); path != "" {
		return c.ps.Subscriber(path)
	}
	return nil
}

func (c *Client) NotificationSubscription() *pubsub.Subscriber {
	return c.Subscription(c.cfg.NotificationSubscription)
}

func (c *Client) AnalyticsSubscription() *pubsub.Subscriber {
	return c.Subscription(c.cfg.AnalyticsSubscription)
}

// Publisher returns an ordered publisher for a topic id or full resource
// name. Messages sharing an ordering key are delivered in publish order, and
// after a failed publish the caller must ResumePublish that key.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.ps == nil {
		return nil
	}
	path := qualify(c.project, topicsCollection, name)
	if path == "" {
		return nil
	}
	p := c.ps.Publisher(path)
	p.EnableMessageOrdering = true
	return p
}

// Ping re-checks the consumer subscriptions.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.ps == nil {
		return errNotInitialized
	}
	return c.checkSubscriptions(ctx)
}

func (c *Client) Close() error {
	if c == nil || c.ps == nil {
		return nil
	}
	return c.ps.Close()
}

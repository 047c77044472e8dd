// Package pubsub wraps the Pub/Sub v2 client. The outbox publisher writes to
// the domain topic; the worker reads the notification, receipt and analytics
// subscriptions attached to it.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/tradeline-backend/pkg/config"
	"github.com/angelmondragon/tradeline-backend/pkg/logger"
)

// Role selects which resources a process depends on and therefore checks.
type Role int

const (
	RolePublisher Role = iota + 1
	RoleConsumer
)

func (r Role) String() string {
	switch r {
	case RolePublisher:
		return "publisher"
	case RoleConsumer:
		return "consumer"
	default:
		return "unknown"
	}
}

var (
	ErrNotConfigured   = errors.New("pubsub not configured")
	ErrMissingResource = errors.New("pubsub resource does not exist")
)

type Client struct {
	ps      *pubsub.Client
	project string
	role    Role
	cfg     config.PubSubConfig
}

// NewClient connects and verifies that the resources role needs exist.
// Topics and subscriptions are provisioned by infrastructure, never here.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, role Role, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, fmt.Errorf("%w: gcp project id", ErrNotConfigured)
	}
	if role != RolePublisher && role != RoleConsumer {
		return nil, fmt.Errorf("%w: role %d", ErrNotConfigured, role)
	}

	ps, err := pubsub.NewClient(ctx, project, credentialOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := &Client{ps: ps, project: project, role: role, cfg: cfg}
	if err := c.Ping(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "pubsub_role", role.String()), "pubsub client ready")
	}
	return c, nil
}

func credentialOptions(gcp config.GCPConfig) []option.ClientOption {
	if raw := strings.TrimSpace(gcp.CredentialsJSON); raw != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(raw))}
	}
	if path := strings.TrimSpace(gcp.ApplicationCredentials); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

// Ping re-checks the role's topic or subscriptions.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.ps == nil {
		return ErrNotConfigured
	}
	if c.role == RolePublisher {
		return c.checkTopic(ctx, c.cfg.DomainTopic)
	}
	subs := consumerSubscriptions(c.cfg)
	if len(subs) == 0 {
		return fmt.Errorf("%w: no subscriptions", ErrNotConfigured)
	}
	for _, name := range subs {
		if err := c.checkSubscription(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func consumerSubscriptions(cfg config.PubSubConfig) []string {
	var names []string
	for _, name := range []string{cfg.NotificationSubscription, cfg.ReceiptSubscription, cfg.AnalyticsSubscription} {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	return names
}

func (c *Client) checkTopic(ctx context.Context, name string) error {
	full := resourceName(c.project, "topics", name)
	if full == "" {
		return fmt.Errorf("%w: domain topic", ErrNotConfigured)
	}
	_, err := c.ps.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: full})
	return describeLookupError("topic", name, err)
}

func (c *Client) checkSubscription(ctx context.Context, name string) error {
	full := resourceName(c.project, "subscriptions", name)
	_, err := c.ps.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: full})
	return describeLookupError("subscription", name, err)
}

func describeLookupError(kind, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("%w: %s %q", ErrMissingResource, kind, name)
	default:
		return fmt.Errorf("checking %s %q: %w", kind, name, err)
	}
}

// Subscription returns a receive handle for an id or full resource name.
func (c *Client) Subscription(name string) *pubsub.Subscriber {
	if c == nil || c.ps == nil {
		return nil
	}
	full := resourceName(c.project, "subscriptions", name)
	if full == "" {
		return nil
	}
	return c.ps.Subscriber(full)
}

func (c *Client) NotificationSubscription() *pubsub.Subscriber {
	return c.Subscription(c.cfg.NotificationSubscription)
}

func (c *Client) ReceiptSubscription() *pubsub.Subscriber {
	return c.Subscription(c.cfg.ReceiptSubscription)
}

func (c *Client) AnalyticsSubscription() *pubsub.Subscriber {
	return c.Subscription(c.cfg.AnalyticsSubscription)
}

// Publisher returns a publish handle for a topic id or full resource name.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.ps == nil {
		return nil
	}
	full := resourceName(c.project, "topics", name)
	if full == "" {
		return nil
	}
	return c.ps.Publisher(full)
}

func (c *Client) Close() error {
	if c == nil || c.ps == nil {
		return nil
	}
	return c.ps.Close()
}

// resourceName expands a bare id to projects/<project>/<collection>/<id>.
// Names that are already fully qualified pass through.
func resourceName(project, collection, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if strings.HasPrefix(name, "projects/") && strings.Contains(name, "/"+collection+"/") {
		return name
	}
	if project == "" {
		return ""
	}
	return "projects/" + project + "/" + collection + "/" + name
}

package scheduler

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/artpar/cafedeploy/internal/shell/orchestrator"
)

// subscriberBuffer bounds how far a slow subscriber may fall behind before
// events are dropped for it.
const subscriberBuffer = 256

// Subscriber represents a deployment event stream subscriber.
type Subscriber struct {
	ID           string
	DeploymentID string // Empty receives every deployment
	Ch           chan orchestrator.Event
	CreatedAt    time.Time
}

// Broker fans pipeline events out to subscribers.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber // subscriber ID -> subscriber
	logger      *slog.Logger
}

// NewBroker creates a new event broker.
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		subscribers: make(map[string]*Subscriber),
		logger:      logger.With("component", "event_broker"),
	}
}

// Subscribe creates a new subscription for deploymentID's events.
func (b *Broker) Subscribe(deploymentID string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscriber{
		ID:           uuid.NewString(),
		DeploymentID: deploymentID,
		Ch:           make(chan orchestrator.Event, subscriberBuffer),
		CreatedAt:    time.Now(),
	}

	b.subscribers[sub.ID] = sub
	b.logger.Debug("subscriber added", "subscriber_id", sub.ID, "deployment_id", deploymentID)

	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[sub.ID]; exists {
		close(sub.Ch)
		delete(b.subscribers, sub.ID)
		b.logger.Debug("subscriber removed", "subscriber_id", sub.ID)
	}
}

// Publish sends an event to all matching subscribers without blocking.
func (b *Broker) Publish(e orchestrator.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if sub.DeploymentID != "" && sub.DeploymentID != e.DeploymentID {
			continue
		}
		select {
		case sub.Ch <- e:
		default:
			b.logger.Warn("subscriber channel full, dropping event",
				"subscriber_id", sub.ID,
				"deployment_id", e.DeploymentID,
				"event", e.Type,
			)
		}
	}
}

// CloseDeployment ends every subscription bound to deploymentID. Called
// once a run has settled so readers see the end of the stream.
func (b *Broker) CloseDeployment(deploymentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subscribers {
		if sub.DeploymentID == deploymentID {
			close(sub.Ch)
			delete(b.subscribers, id)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

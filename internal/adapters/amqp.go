package adapters

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/oriys/skysweep/internal/logging"
	"github.com/oriys/skysweep/internal/sources"
	"github.com/oriys/skysweep/internal/stats"
)

// AMQP is the topic + dead-letter + system_alert consumer: one
// connection per adapter, one concurrent subscription per requested
// topic plus its dl_<topic> companion.
type AMQP struct {
	site  sources.Site
	stats *stats.Handle
	id    string
}

// NewAMQP constructs an AMQP adapter bound to site. The credential
// bundle is either a vhost bundle naming the AMQP vhost to connect to,
// or anonymous, in which case the base URL is dialled as given.
func NewAMQP(site sources.Site, st *stats.Handle) (*AMQP, error) {
	if err := site.Credential.Accepts(sources.CredVhost, sources.CredAnonymous); err != nil {
		return nil, err
	}
	return &AMQP{site: site, stats: st, id: uuid.NewString()}, nil
}

func (a *AMQP) Name() string   { return a.site.Name }
func (a *AMQP) Format() string { return "amqp" }

func (a *AMQP) Authenticate(context.Context) (string, error) { return "", nil }

type amqpArgs struct {
	Topics []string `json:"topics"`
}

// Stream dials the broker, subscribes concurrently to every requested
// topic plus its dead-letter queue and the shared system_alert queue,
// and emits each delivery's body as a Record until ctx is cancelled.
func (a *AMQP) Stream(ctx context.Context, out chan<- sources.Record, _ string, args json.RawMessage) error {
	var decoded amqpArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &decoded); err != nil {
			return fmt.Errorf("adapters: decode amqp args: %w", err)
		}
	}
	if len(decoded.Topics) == 0 {
		return fmt.Errorf("adapters: amqp stream requires at least one topic")
	}

	uri := a.dsn()
	conn, err := amqp.DialConfig(uri, amqp.Config{Vhost: a.site.Credential.Vhost})
	if err != nil {
		a.stats.Error()
		return fmt.Errorf("adapters: amqp dial: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		a.stats.Error()
		return fmt.Errorf("adapters: amqp channel: %w", err)
	}
	defer ch.Close()

	queues := make([]string, 0, len(decoded.Topics)*2+1)
	for _, topic := range decoded.Topics {
		queues = append(queues, topic, "dl_"+topic)
	}
	queues = append(queues, "system_alert")

	deliveries := make(map[string]<-chan amqp.Delivery, len(queues))
	for _, q := range queues {
		if _, err := ch.QueueDeclarePassive(q, true, false, false, false, nil); err != nil {
			logging.Op().Warn("amqp queue not declared, skipping", "site", a.site.Name, "queue", q, "error", err)
			continue
		}
		d, err := ch.Consume(q, a.site.Name+"-"+q+"-"+a.id, false, false, false, false, nil)
		if err != nil {
			a.stats.Error()
			return fmt.Errorf("adapters: amqp consume %s: %w", q, err)
		}
		deliveries[q] = d
	}

	return a.fanIn(ctx, out, deliveries)
}

func (a *AMQP) fanIn(ctx context.Context, out chan<- sources.Record, deliveries map[string]<-chan amqp.Delivery) error {
	merged := make(chan amqp.Delivery)
	done := make(chan struct{})
	var active int
	for name, d := range deliveries {
		active++
		go func(name string, d <-chan amqp.Delivery) {
			for msg := range d {
				select {
				case merged <- msg:
				case <-done:
					return
				}
			}
		}(name, d)
	}
	defer close(done)
	if active == 0 {
		return fmt.Errorf("adapters: amqp no queues available for %s", a.site.Name)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-merged:
			if !ok {
				return nil
			}
			a.handleDelivery(ctx, out, msg)
		}
	}
}

func (a *AMQP) handleDelivery(ctx context.Context, out chan<- sources.Record, msg amqp.Delivery) {
	if msg.RoutingKey == "system_alert" || msg.Exchange == "system_alert" {
		logging.Op().Warn("amqp system alert", "site", a.site.Name, "body", string(msg.Body))
		a.stats.Error()
		_ = msg.Ack(false)
		return
	}

	record := append(append([]byte{}, msg.Body...), '\n')
	select {
	case out <- sources.Record(record):
		_ = msg.Ack(false)
		a.stats.Pkts(1)
		a.stats.Bytes(int64(len(record)))
	case <-ctx.Done():
		_ = msg.Nack(false, true)
	}
}

func (a *AMQP) dsn() string {
	cred := a.site.Credential
	if cred.Kind == sources.CredVhost && cred.Vhost != "" {
		return fmt.Sprintf("amqps://%s/%s", trimScheme(a.site.BaseURL), cred.Vhost)
	}
	return a.site.BaseURL
}

func trimScheme(url string) string {
	for _, prefix := range []string{"amqp://", "amqps://", "https://", "http://"} {
		if len(url) > len(prefix) && url[:len(prefix)] == prefix {
			return url[len(prefix):]
		}
	}
	return url
}

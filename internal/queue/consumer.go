package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

type MessageHandler func(ctx context.Context, msg jetstream.Msg) error

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &Consumer{nc: nc, js: js}, nil
}

// fetchLoop pulls batches from cons until ctx is cancelled and feeds each
// message to out. Closes out on exit so downstream workers drain and stop.
func fetchLoop(ctx context.Context, cons jetstream.Consumer, batchSize int, label string, out chan<- jetstream.Msg) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		batch, err := cons.Fetch(batchSize, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("fetch error", "stream", label, "error", err)
			time.Sleep(time.Second)
			continue
		}

		for msg := range batch.Messages() {
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// handleMsg acks on success and naks on handler error so JetStream redelivers
// up to the consumer's MaxDeliver.
func handleMsg(ctx context.Context, handler MessageHandler, msg jetstream.Msg, label string) {
	if err := handler(ctx, msg); err != nil {
		slog.Error("handle message", "stream", label, "subject", msg.Subject(), "error", err)
		_ = msg.Nak()
		return
	}
	_ = msg.Ack()
}

// ConsumeDetectTasks consumes from the DETECT stream with workerCount
// goroutines. workerCount bounds the CPU-side concurrency and is tuned
// independently of the API's I/O limits.
func (c *Consumer) ConsumeDetectTasks(ctx context.Context, consumerName string, handler MessageHandler, workerCount int) error {
	stream, err := c.js.Stream(ctx, DetectStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", DetectStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       2 * time.Minute,
		MaxDeliver:    3,
		FilterSubject: DetectSubjectBase + ".>",
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	msgCh := make(chan jetstream.Msg, workerCount*2)
	go fetchLoop(ctx, cons, workerCount, "detect", msgCh)

	for i := 0; i < workerCount; i++ {
		go func() {
			for msg := range msgCh {
				handleMsg(ctx, handler, msg, "detect")
			}
		}()
	}

	slog.Info("detect consumer started", "consumer", consumerName, "workers", workerCount)
	return nil
}

// ConsumeProcessed consumes photo-processed notifications (the API relays
// them to WebSocket clients). Single worker; ordering matters more than
// throughput here.
func (c *Consumer) ConsumeProcessed(ctx context.Context, consumerName string, handler MessageHandler) error {
	stream, err := c.js.Stream(ctx, ProcessedStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", ProcessedStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       10 * time.Second,
		MaxDeliver:    3,
		FilterSubject: ProcessedSubjectBase + ".>",
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	msgCh := make(chan jetstream.Msg, 10)
	go fetchLoop(ctx, cons, 10, "processed", msgCh)
	go func() {
		for msg := range msgCh {
			handleMsg(ctx, handler, msg, "processed")
		}
	}()

	slog.Info("processed-event consumer started", "consumer", consumerName)
	return nil
}

func (c *Consumer) Close() {
	c.nc.Close()
}

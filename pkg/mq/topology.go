package mq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DLQName 每个消费队列对应一个死信队列
func DLQName(queue string) string {
	return queue + ".dlq"
}

// DeclareTopology declares the events exchange, the dead letter exchange, the
// consumer queue bound to routingKeys and its dead letter queue.
func DeclareTopology(ch *amqp.Channel, queue string, routingKeys []string) (amqp.Queue, error) {
	if err := DeclareExchange(ch); err != nil {
		return amqp.Queue{}, fmt.Errorf("failed to declare exchange: %w", err)
	}
	if err := ch.ExchangeDeclare(DLXName, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return amqp.Queue{}, fmt.Errorf("failed to declare dead letter exchange: %w", err)
	}

	dlq, err := ch.QueueDeclare(DLQName(queue), true, false, false, false, nil)
	if err != nil {
		return amqp.Queue{}, fmt.Errorf("failed to declare DLQ queue: %w", err)
	}
	// 死信保留原 routing key，用 # 全部接住
	if err := ch.QueueBind(dlq.Name, "#", DLXName, false, nil); err != nil {
		return amqp.Queue{}, fmt.Errorf("failed to bind DLQ queue: %w", err)
	}

	q, err := ch.QueueDeclare(queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange": DLXName,
	})
	if err != nil {
		return amqp.Queue{}, fmt.Errorf("failed to declare queue: %w", err)
	}
	for _, key := range routingKeys {
		if err := ch.QueueBind(q.Name, key, ExchangeName, false, nil); err != nil {
			return amqp.Queue{}, fmt.Errorf("failed to bind queue to %s: %w", key, err)
		}
	}
	return q, nil
}

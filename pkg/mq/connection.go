package mq

import (
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const (
	// ExchangeName 同步事件 topic exchange，routing key 形如 deal.synced / activity.synced
	ExchangeName = "crm.events"

	// AppID 写在每条发布消息上，用于在 broker 管理界面区分来源
	AppID = "helpdesk-sync"

	heartbeat = 10 * time.Second
)

// NewConnection 连接 broker；name 作为 connection_name 出现在管理界面
func NewConnection(url, name string) (*amqp091.Connection, error) {
	props := amqp091.NewConnectionProperties()
	props.SetClientConnectionName(name)

	conn, err := amqp091.DialConfig(url, amqp091.Config{
		Heartbeat:  heartbeat,
		Locale:     "en_US",
		Properties: props,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ as %s: %w", name, err)
	}
	return conn, nil
}

// DeclareExchange 声明持久化的 topic exchange，发布端和消费端都会调用
func DeclareExchange(ch *amqp091.Channel) error {
	const (
		durable    = true
		autoDelete = false
		internal   = false
		noWait     = false
	)
	if err := ch.ExchangeDeclare(ExchangeName, amqp091.ExchangeTopic, durable, autoDelete, internal, noWait, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", ExchangeName, err)
	}
	return nil
}

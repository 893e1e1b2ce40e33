// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// AuditEvent records one notable occurrence on a session for the audit
// trail: auth success/failure, channel open/close, rekey, and disconnect.
type AuditEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	SessionID  string    `json:"session_id"`
	Kind       string    `json:"kind"`
	Username   string    `json:"username,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// AuditSink receives AuditEvents as they occur. Implementations must not
// block the caller for long: the connection's read loop may be the one
// calling Publish.
type AuditSink interface {
	Publish(event AuditEvent)
}

// NopAuditSink discards every event; it is the default when no sink is
// configured.
type NopAuditSink struct{}

func (NopAuditSink) Publish(AuditEvent) {}

// LogAuditSink relays events to a logrus.FieldLogger as structured
// fields (session_id, remote_addr, username, kind).
type LogAuditSink struct {
	Logger logrus.FieldLogger
}

func (s LogAuditSink) Publish(event AuditEvent) {
	logger := s.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger.WithFields(logrus.Fields{
		"session_id":  event.SessionID,
		"remote_addr": event.RemoteAddr,
		"username":    event.Username,
		"kind":        event.Kind,
	}).Info(event.Detail)
}

// AMQPAuditSink publishes AuditEvents as JSON to a configured exchange,
// for deployments that collect audit trails off-host.
type AMQPAuditSink struct {
	Channel  *amqp.Channel
	Exchange string
	Logger   logrus.FieldLogger

	// RoutingKey, if empty, defaults to "ssh.audit".
	RoutingKey string
}

// NewAMQPAuditSink dials url, opens a channel, and declares a durable
// topic exchange named exchange (created if absent).
func NewAMQPAuditSink(url, exchange string, logger logrus.FieldLogger) (*AMQPAuditSink, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, err
	}
	sink := &AMQPAuditSink{Channel: ch, Exchange: exchange, Logger: logger}
	closeFn := func() error {
		ch.Close()
		return conn.Close()
	}
	return sink, closeFn, nil
}

func (s *AMQPAuditSink) Publish(event AuditEvent) {
	body, err := json.Marshal(event)
	if err != nil {
		return
	}
	routingKey := s.RoutingKey
	if routingKey == "" {
		routingKey = "ssh.audit." + event.Kind
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = s.Channel.PublishWithContext(ctx, s.Exchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		Timestamp:   event.Timestamp,
	})
	if err != nil && s.Logger != nil {
		s.Logger.WithError(err).Warn("ssh: failed to publish audit event")
	}
}

/*
 * Copyright 2025 Cong Wang
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package smpp implements the SMPP delivery channel: pooled persistent
// binds per tenant, rate-limited submission, and delivery-receipt
// correlation back to message rows.
package smpp

import (
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	libsmpp "github.com/fiorix/go-smpp/smpp"
	"github.com/fiorix/go-smpp/smpp/pdu"
	"github.com/fiorix/go-smpp/smpp/pdu/pdufield"
	"github.com/fiorix/go-smpp/smpp/pdu/pdutext"
	"golang.org/x/time/rate"

	"github.com/messagehub-project/messagehub/internal/config"
	"github.com/messagehub-project/messagehub/internal/logging"
)

// respTimeout bounds how long a submit waits for its submit_sm_resp
const respTimeout = 10 * time.Second

// ReceiptMode selects the registered_delivery request on submits
type ReceiptMode int

const (
	ReceiptNone ReceiptMode = iota
	ReceiptFinal
	ReceiptFailure
)

// Conn is one SMPP session as the pool and channel see it
type Conn interface {
	Bound() bool
	Submit(src, dst, text string, receipts ReceiptMode) (string, error)
	Close() error
}

// binder is the common surface of the fiorix session types
type binder interface {
	Bind() <-chan libsmpp.ConnStatus
	Close() error
}

// submitter is the sending surface of transceiver and transmitter binds
type submitter interface {
	SubmitLongMsg(sm *libsmpp.ShortMessage) ([]libsmpp.ShortMessage, error)
}

// Client is one bound SMPP session. The underlying library keeps the
// session alive with enquire_link and rebinds after a disconnect once the
// first bind has succeeded; the status watcher tracks where it stands.
type Client struct {
	config *config.SMPPChannelConfig
	logger *logging.Logger

	conn binder
	sub  submitter

	mux    sync.RWMutex
	status libsmpp.ConnStatusID
	done   chan struct{}
	once   sync.Once
}

var _ Conn = (*Client)(nil)

// NewClient connects and binds a session for the tenant's SMPP config.
// The receipt handler must be registered before the bind is issued so no
// deliver_sm can slip past it; the fiorix handler is wired exactly there.
func NewClient(channelConfig *config.SMPPChannelConfig, handler func(p pdu.Body), logger *logging.Logger) (*Client, error) {
	if channelConfig == nil {
		return nil, fmt.Errorf("smpp config cannot be nil")
	}

	addr := net.JoinHostPort(channelConfig.Host, strconv.Itoa(channelConfig.Port))

	var tlsConfig *tls.Config
	if channelConfig.TLS.Enabled {
		tlsConfig = &tls.Config{InsecureSkipVerify: channelConfig.TLS.InsecureSkipVerify}
	}

	// The library paces submits itself; this is the native send-speed
	// limit, not the tenant HTTP limiter
	var limiter libsmpp.RateLimiter
	if channelConfig.Rate.MaxMessagesPerSecond > 0 {
		burst := channelConfig.Rate.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(channelConfig.Rate.MaxMessagesPerSecond), burst)
	}

	enquireLink := channelConfig.EnquireLink
	if enquireLink <= 0 {
		enquireLink = 30 * time.Second
	}

	c := &Client{
		config: channelConfig,
		logger: logger.WithComponent("smpp-client"),
		done:   make(chan struct{}),
	}

	switch strings.ToLower(channelConfig.BindType) {
	case "", "transceiver":
		tx := &libsmpp.Transceiver{
			Addr:        addr,
			User:        channelConfig.SystemID,
			Passwd:      channelConfig.Password,
			SystemType:  channelConfig.SystemType,
			EnquireLink: enquireLink,
			RespTimeout: respTimeout,
			TLS:         tlsConfig,
			Handler:     handler,
			RateLimiter: limiter,
		}
		c.conn = tx
		c.sub = tx

	case "transmitter":
		tx := &libsmpp.Transmitter{
			Addr:        addr,
			User:        channelConfig.SystemID,
			Passwd:      channelConfig.Password,
			SystemType:  channelConfig.SystemType,
			EnquireLink: enquireLink,
			RespTimeout: respTimeout,
			TLS:         tlsConfig,
			RateLimiter: limiter,
		}
		c.conn = tx
		c.sub = tx

	case "receiver":
		rx := &libsmpp.Receiver{
			Addr:        addr,
			User:        channelConfig.SystemID,
			Passwd:      channelConfig.Password,
			SystemType:  channelConfig.SystemType,
			EnquireLink: enquireLink,
			TLS:         tlsConfig,
			Handler:     handler,
		}
		c.conn = rx

	default:
		return nil, fmt.Errorf("unsupported bind type: %s", channelConfig.BindType)
	}

	connectTimeout := channelConfig.Pool.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}

	statusCh := c.conn.Bind()
	select {
	case status := <-statusCh:
		if status.Status() != libsmpp.Connected {
			_ = c.conn.Close()
			return nil, fmt.Errorf("smpp bind failed: %s: %v", status.Status(), status.Error())
		}
		c.status = libsmpp.Connected
	case <-time.After(connectTimeout):
		_ = c.conn.Close()
		return nil, fmt.Errorf("smpp bind timed out after %s", connectTimeout)
	}

	go c.watchStatus(statusCh)

	return c, nil
}

// watchStatus follows the session's connection events. The library
// rebinds on its own; the pool only needs the current standing.
func (c *Client) watchStatus(statusCh <-chan libsmpp.ConnStatus) {
	for {
		select {
		case <-c.done:
			return
		case status, ok := <-statusCh:
			if !ok {
				return
			}

			c.mux.Lock()
			c.status = status.Status()
			c.mux.Unlock()

			switch status.Status() {
			case libsmpp.Connected:
				c.logger.Infof("smpp session bound (%s)", c.config.Host)
			case libsmpp.Disconnected:
				c.logger.Warnf("smpp session lost (%s): %v", c.config.Host, status.Error())
			case libsmpp.ConnectionFailed, libsmpp.BindFailed:
				c.logger.Warnf("smpp rebind failing (%s): %s: %v", c.config.Host, status.Status(), status.Error())
			}
		}
	}
}

// Bound reports whether the session is currently usable for submits
func (c *Client) Bound() bool {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return c.status == libsmpp.Connected
}

// Submit sends one message, splitting it into parts when it exceeds a
// single PDU. Returns the provider message id of the first part.
func (c *Client) Submit(src, dst, text string, receipts ReceiptMode) (string, error) {
	if c.sub == nil {
		return "", fmt.Errorf("bind type %s cannot submit", c.config.BindType)
	}

	register := pdufield.NoDeliveryReceipt
	switch receipts {
	case ReceiptFinal:
		register = pdufield.FinalDeliveryReceipt
	case ReceiptFailure:
		register = pdufield.FailureDeliveryReceipt
	}

	parts, err := c.sub.SubmitLongMsg(&libsmpp.ShortMessage{
		Src:      src,
		Dst:      dst,
		Text:     pdutext.Raw([]byte(text)),
		Register: register,
	})
	if err != nil {
		return "", err
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no submit response received")
	}

	return respMessageID(&parts[0]), nil
}

// respMessageID reads the provider message id off a submit_sm_resp
func respMessageID(sm *libsmpp.ShortMessage) string {
	resp := sm.Resp()
	if resp == nil {
		return ""
	}
	if f := resp.Fields()[pdufield.MessageID]; f != nil {
		return f.String()
	}
	return ""
}

// Close unbinds and tears the session down
func (c *Client) Close() error {
	c.once.Do(func() {
		close(c.done)
	})
	return c.conn.Close()
}

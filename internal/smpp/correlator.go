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

package smpp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fiorix/go-smpp/smpp/pdu"

	"github.com/messagehub-project/messagehub/internal/logging"
	"github.com/messagehub-project/messagehub/internal/storage"
	"github.com/messagehub-project/messagehub/internal/types"
)

const (
	// correlatorSweepInterval is how often stale entries are removed
	correlatorSweepInterval = time.Hour
	// pendingReceiptTTL bounds how long an early receipt waits for its
	// submit to record the correlation
	pendingReceiptTTL = time.Hour
	// updateTimeout bounds each repository write from a receipt
	updateTimeout = 5 * time.Second
)

type correlation struct {
	messageID string
	createdAt time.Time
}

type pendingReceipt struct {
	receipt   *Receipt
	createdAt time.Time
}

// Correlator matches delivery receipts to message rows by the provider
// message id. Receipts can arrive before the submit path has recorded
// the correlation; those are buffered and replayed from Track.
type Correlator struct {
	store     storage.MessageStore
	logger    *logging.Logger
	retention time.Duration

	mux          sync.Mutex
	correlations map[string]*correlation
	pending      map[string]*pendingReceipt

	done chan struct{}
	once sync.Once
}

// NewCorrelator creates a correlator and starts its hourly sweep.
// retentionDays bounds how long an unanswered correlation is kept.
func NewCorrelator(store storage.MessageStore, retentionDays int, logger *logging.Logger) *Correlator {
	if retentionDays <= 0 {
		retentionDays = 7
	}

	c := &Correlator{
		store:        store,
		logger:       logger.WithComponent("smpp-correlator"),
		retention:    time.Duration(retentionDays) * 24 * time.Hour,
		correlations: make(map[string]*correlation),
		pending:      make(map[string]*pendingReceipt),
		done:         make(chan struct{}),
	}

	go c.sweepLoop()

	return c
}

// Track records that externalID belongs to messageID. A receipt that
// arrived ahead of the submit response is applied right away.
func (c *Correlator) Track(messageID, externalID string) {
	if messageID == "" || externalID == "" {
		return
	}

	c.mux.Lock()
	c.correlations[externalID] = &correlation{messageID: messageID, createdAt: time.Now()}
	early, hadEarly := c.pending[externalID]
	if hadEarly {
		delete(c.pending, externalID)
	}
	c.mux.Unlock()

	if hadEarly {
		c.applyReceipt(early.receipt)
	}
}

// HandlePDU is the deliver_sm handler registered on every bound session
func (c *Correlator) HandlePDU(p pdu.Body) {
	if p.Header().ID != pdu.DeliverSMID {
		return
	}

	receipt := ParseReceipt(receiptPDUText(p))
	if receipt == nil {
		// Mobile-originated traffic, not a receipt
		c.logger.Debugf("ignoring deliver_sm without receipt fields")
		return
	}

	c.applyReceipt(receipt)
}

func (c *Correlator) applyReceipt(receipt *Receipt) {
	c.mux.Lock()
	match, matched := c.correlations[receipt.ID]
	c.mux.Unlock()

	if !matched {
		c.bufferReceipt(receipt)
		c.logger.LogReceipt(receipt.ID, "", receipt.Stat, false)
		return
	}

	c.logger.LogReceipt(receipt.ID, match.messageID, receipt.Stat, true)

	status, transition := receipt.MessageStatus()
	if !transition {
		// ACCEPTD or UNKNOWN; the final receipt is still to come, so
		// the correlation stays
		return
	}

	update := storage.StatusUpdate{Status: &status, SkipIfTerminal: true}
	if status == types.StatusFailed {
		reason := fmt.Sprintf("SMPP delivery failed: stat=%s err=%s", receipt.Stat, receipt.Err)
		update.ErrorMessage = &reason
	}

	ctx, cancel := context.WithTimeout(context.Background(), updateTimeout)
	defer cancel()
	if err := c.store.UpdateStatus(ctx, match.messageID, update); err != nil {
		c.logger.Errorf(err, "failed to apply receipt for message %s", match.messageID)
		return
	}

	c.mux.Lock()
	delete(c.correlations, receipt.ID)
	c.mux.Unlock()
}

func (c *Correlator) bufferReceipt(receipt *Receipt) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.pending[receipt.ID] = &pendingReceipt{receipt: receipt, createdAt: time.Now()}
}

func (c *Correlator) sweepLoop() {
	ticker := time.NewTicker(correlatorSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.sweep(time.Now())
		}
	}
}

// sweep drops correlations past retention and buffered receipts whose
// submit never showed up
func (c *Correlator) sweep(now time.Time) {
	correlationCutoff := now.Add(-c.retention)
	pendingCutoff := now.Add(-pendingReceiptTTL)

	c.mux.Lock()
	defer c.mux.Unlock()

	for id, entry := range c.correlations {
		if entry.createdAt.Before(correlationCutoff) {
			delete(c.correlations, id)
		}
	}
	for id, entry := range c.pending {
		if entry.createdAt.Before(pendingCutoff) {
			delete(c.pending, id)
		}
	}
}

// GetStats returns correlator counters
func (c *Correlator) GetStats() map[string]interface{} {
	c.mux.Lock()
	defer c.mux.Unlock()

	return map[string]interface{}{
		"correlations":     len(c.correlations),
		"pending_receipts": len(c.pending),
	}
}

// Close stops the sweeper
func (c *Correlator) Close() {
	c.once.Do(func() {
		close(c.done)
	})
}

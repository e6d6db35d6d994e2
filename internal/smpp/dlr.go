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
	"regexp"
	"strings"

	"github.com/fiorix/go-smpp/smpp/pdu"
	"github.com/fiorix/go-smpp/smpp/pdu/pdufield"

	"github.com/messagehub-project/messagehub/internal/types"
)

// Receipt is a parsed SMSC delivery receipt (SMPP 3.4 appendix B format)
type Receipt struct {
	ID         string
	Sub        string
	Dlvrd      string
	SubmitDate string
	DoneDate   string
	Stat       string
	Err        string
	Text       string
}

var (
	receiptField = regexp.MustCompile(`(id|sub|dlvrd|submit date|done date|stat|err):([^ ]*)`)
	receiptText  = regexp.MustCompile(`(?i)text:(.*)$`)
)

// ParseReceipt parses the delivery receipt text. Returns nil when the
// text carries no stat field, which marks a mobile-originated message
// rather than a receipt.
func ParseReceipt(text string) *Receipt {
	if text == "" {
		return nil
	}

	r := &Receipt{}
	for _, match := range receiptField.FindAllStringSubmatch(text, -1) {
		value := match[2]
		switch match[1] {
		case "id":
			r.ID = value
		case "sub":
			r.Sub = value
		case "dlvrd":
			r.Dlvrd = value
		case "submit date":
			r.SubmitDate = value
		case "done date":
			r.DoneDate = value
		case "stat":
			r.Stat = value
		case "err":
			r.Err = value
		}
	}

	if r.Stat == "" {
		return nil
	}

	if match := receiptText.FindStringSubmatch(text); match != nil {
		r.Text = strings.TrimSpace(match[1])
	}

	return r
}

// MessageStatus maps the receipt's stat field to a message transition.
// The second return is false for receipts that must not move the row:
// ACCEPTD arrives before the final receipt and UNKNOWN says nothing.
func (r *Receipt) MessageStatus() (types.MessageStatus, bool) {
	switch strings.ToUpper(r.Stat) {
	case "DELIVRD":
		return types.StatusDelivered, true
	case "EXPIRED", "DELETED", "UNDELIV", "REJECTD":
		return types.StatusFailed, true
	default:
		// ACCEPTD, UNKNOWN and vendor-specific states
		return "", false
	}
}

// receiptPDUText extracts the receipt body from a deliver_sm
func receiptPDUText(p pdu.Body) string {
	if f := p.Fields()[pdufield.ShortMessage]; f != nil {
		return f.String()
	}
	return ""
}

package storage

import (
	"reflect"
	"testing"
	"time"

	"github.com/messagehub-project/messagehub/internal/types"
)

func TestMessageRecord_BeforeCreate_SetsTimestamps(t *testing.T) {
	record := &MessageRecord{}
	_ = record.BeforeCreate(nil)
	if record.CreatedAt.IsZero() {
		t.Errorf("CreatedAt should be set by BeforeCreate")
	}
	if !record.UpdatedAt.Equal(record.CreatedAt) {
		t.Errorf("UpdatedAt should match CreatedAt on create")
	}
}

func TestMessageRecord_BeforeCreate_KeepsExistingTimestamp(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	record := &MessageRecord{CreatedAt: created}
	_ = record.BeforeCreate(nil)
	if !record.CreatedAt.Equal(created) {
		t.Errorf("Expected CreatedAt to be preserved, got %v", record.CreatedAt)
	}
}

func TestMessageRecord_GetSetProviderResponse(t *testing.T) {
	record := &MessageRecord{}
	body := map[string]interface{}{"sid": "SM123", "status": "queued"}
	if err := record.SetProviderResponse(body); err != nil {
		t.Fatalf("SetProviderResponse failed: %v", err)
	}
	got, err := record.GetProviderResponse()
	if err != nil {
		t.Fatalf("GetProviderResponse failed: %v", err)
	}
	if !reflect.DeepEqual(got, body) {
		t.Errorf("Provider response mismatch: got %v, want %v", got, body)
	}
}

func TestMessageRecord_GetProviderResponse_Empty(t *testing.T) {
	record := &MessageRecord{}
	got, err := record.GetProviderResponse()
	if err != nil {
		t.Fatalf("GetProviderResponse failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil provider response, got %v", got)
	}
}

func TestMessageRecord_SetProviderResponse_Nil(t *testing.T) {
	record := &MessageRecord{}
	_ = record.SetProviderResponse(map[string]interface{}{"id": "x"})
	_ = record.SetProviderResponse(nil)
	if len(record.ProviderResponse) != 0 {
		t.Errorf("Expected ProviderResponse to be empty, got %v", record.ProviderResponse)
	}
}

func TestMessageRecord_TableName(t *testing.T) {
	var r MessageRecord
	if r.TableName() != "messages" {
		t.Errorf("MessageRecord table name incorrect")
	}
}

func TestRecordConversion_RoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	msg := &types.Message{
		MessageID:         "msg-1",
		SubscriptionKey:   "tenant-key",
		Recipient:         "+15551230001",
		Content:           "hello",
		ChannelType:       types.ChannelSMPP,
		Status:            types.StatusSent,
		ExternalMessageID: "smsc-42",
		ErrorMessage:      "",
		RetryCount:        2,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	record := recordFromMessage(msg)
	if record.ExternalMessageID == nil || *record.ExternalMessageID != "smsc-42" {
		t.Fatalf("Expected external id pointer to be set")
	}
	if record.ErrorMessage != nil {
		t.Fatalf("Expected nil error message for empty string")
	}

	back := messageFromRecord(record)
	if !reflect.DeepEqual(msg, back) {
		t.Errorf("Round trip mismatch:\n got %+v\nwant %+v", back, msg)
	}
}

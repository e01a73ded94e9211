package telegram

import (
	"encoding/json"
	"testing"

	"github.com/go-telegram/bot/models"

	"voice_scribe_bot/internal/domain"
)

func decodeUpdate(t *testing.T, raw string) models.Update {
	t.Helper()

	var u models.Update
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		t.Fatalf("decode update: %v", err)
	}
	return u
}

func TestClassifyPrecedence(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want domain.Kind
	}{
		{
			name: "pre-checkout wins over message",
			raw: `{"update_id":1,
				"pre_checkout_query":{"id":"q1","from":{"id":9,"is_bot":false,"first_name":"A"},"currency":"XTR","total_amount":1,"invoice_payload":"access_9"},
				"message":{"message_id":3,"date":0,"chat":{"id":9,"type":"private"},"voice":{"file_id":"f","file_unique_id":"u","duration":2}}}`,
			want: domain.KindPreCheckout,
		},
		{
			name: "successful payment wins over business message",
			raw: `{"update_id":2,
				"message":{"message_id":3,"date":0,"chat":{"id":9,"type":"private"},"successful_payment":{"currency":"XTR","total_amount":1,"invoice_payload":"access_9","telegram_payment_charge_id":"ch","provider_payment_charge_id":""}},
				"business_message":{"message_id":4,"date":0,"business_connection_id":"b","chat":{"id":9,"type":"private"},"text":"hi"}}`,
			want: domain.KindSuccessfulPayment,
		},
		{
			name: "business message",
			raw:  `{"update_id":3,"business_message":{"message_id":4,"date":0,"business_connection_id":"b","chat":{"id":9,"type":"private"},"voice":{"file_id":"f","file_unique_id":"u","duration":2}}}`,
			want: domain.KindBusinessMessage,
		},
		{
			name: "group voice",
			raw:  `{"update_id":4,"message":{"message_id":5,"date":0,"chat":{"id":-100,"type":"group","title":"G"},"voice":{"file_id":"f","file_unique_id":"u","duration":2}}}`,
			want: domain.KindGroupVoice,
		},
		{
			name: "supergroup voice",
			raw:  `{"update_id":5,"message":{"message_id":5,"date":0,"chat":{"id":-100,"type":"supergroup","title":"G"},"voice":{"file_id":"f","file_unique_id":"u","duration":2}}}`,
			want: domain.KindGroupVoice,
		},
		{
			name: "private voice",
			raw:  `{"update_id":6,"message":{"message_id":5,"date":0,"chat":{"id":9,"type":"private"},"voice":{"file_id":"f","file_unique_id":"u","duration":2}}}`,
			want: domain.KindPrivateVoice,
		},
		{
			name: "pay command",
			raw:  `{"update_id":7,"message":{"message_id":5,"date":0,"chat":{"id":9,"type":"private"},"text":"/pay"}}`,
			want: domain.KindCommand,
		},
		{
			name: "plain text",
			raw:  `{"update_id":8,"message":{"message_id":5,"date":0,"chat":{"id":9,"type":"private"},"text":"hello"}}`,
			want: domain.KindOther,
		},
		{
			name: "edited message",
			raw:  `{"update_id":9,"edited_message":{"message_id":5,"date":0,"chat":{"id":9,"type":"private"},"text":"hello!"}}`,
			want: domain.KindOther,
		},
		{
			name: "business connection only",
			raw:  `{"update_id":10,"business_connection":{"id":"b","user":{"id":9,"is_bot":false,"first_name":"A"},"user_chat_id":9,"date":0,"can_reply":true,"is_enabled":true}}`,
			want: domain.KindUnsupported,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := Classify(decodeUpdate(t, tt.raw))
			if env.Kind != tt.want {
				t.Fatalf("expected kind %s, got %s", tt.want, env.Kind)
			}
		})
	}
}

func TestClassifyPreCheckoutCarriesOnlyQuery(t *testing.T) {
	env := Classify(decodeUpdate(t, `{"update_id":11,
		"pre_checkout_query":{"id":"q1","from":{"id":9,"is_bot":false,"first_name":"A","username":"alice"},"currency":"XTR","total_amount":5,"invoice_payload":"access_9"},
		"message":{"message_id":3,"date":0,"chat":{"id":9,"type":"private"},"text":"/pay"}}`))

	if env.Message != nil {
		t.Fatalf("pre-checkout envelope must not carry a message")
	}
	q := env.PreCheckout
	if q == nil || q.ID != "q1" || q.From.ID != 9 || q.From.Username != "alice" {
		t.Fatalf("unexpected query %+v", q)
	}
	if q.Currency != "XTR" || q.TotalAmount != 5 || q.InvoicePayload != "access_9" {
		t.Fatalf("unexpected query amounts %+v", q)
	}
	if env.UpdateID != 11 {
		t.Fatalf("expected update id 11, got %d", env.UpdateID)
	}
}

func TestClassifyDecodesMessageFields(t *testing.T) {
	env := Classify(decodeUpdate(t, `{"update_id":12,"business_message":{
		"message_id":4,"date":0,"business_connection_id":"biz-1",
		"from":{"id":77,"is_bot":false,"first_name":"Ann","last_name":"Lee"},
		"chat":{"id":77,"type":"private","first_name":"Ann"},
		"voice":{"file_id":"voice-file","file_unique_id":"u","duration":12}}}`))

	msg := env.Message
	if msg == nil {
		t.Fatalf("expected message")
	}
	if msg.BusinessConnectionID != "biz-1" || msg.ContentType != domain.ContentVoice {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.Voice == nil || msg.Voice.FileID != "voice-file" || msg.Voice.Duration != 12 {
		t.Fatalf("unexpected voice %+v", msg.Voice)
	}
	if msg.From == nil || msg.From.DisplayName() != "Ann Lee" {
		t.Fatalf("unexpected sender %+v", msg.From)
	}
}

func TestClassifyDecodesSuccessfulPayment(t *testing.T) {
	env := Classify(decodeUpdate(t, `{"update_id":13,"message":{"message_id":3,"date":0,"chat":{"id":9,"type":"private"},
		"successful_payment":{"currency":"XTR","total_amount":250,"invoice_payload":"access_9","telegram_payment_charge_id":"tg-ch","provider_payment_charge_id":"p"}}}`))

	p := env.Message.Payment
	if p == nil || p.ChargeID != "tg-ch" || p.Amount != 250 || p.Currency != "XTR" {
		t.Fatalf("unexpected payment %+v", p)
	}
	if env.Message.ContentType != domain.ContentSuccessfulPayment {
		t.Fatalf("unexpected content type %s", env.Message.ContentType)
	}
}

func TestParseCommand(t *testing.T) {
	tests := map[string]string{
		"/pay":                domain.CommandPay,
		"/pay@VoiceScribeBot": domain.CommandPay,
		"/BALANCE extra":      domain.CommandBalance,
		"/start":              "",
		"pay":                 "",
		"":                    "",
	}

	for text, want := range tests {
		if got := parseCommand(text); got != want {
			t.Fatalf("parseCommand(%q) = %q, want %q", text, got, want)
		}
	}
}

func TestContentTypeOfMedia(t *testing.T) {
	env := Classify(decodeUpdate(t, `{"update_id":14,"message":{"message_id":3,"date":0,"chat":{"id":9,"type":"private"},
		"photo":[{"file_id":"p","file_unique_id":"u","width":1,"height":1}]}}`))

	if env.Message.ContentType != "photo" {
		t.Fatalf("expected photo content type, got %s", env.Message.ContentType)
	}
}

package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"wandabot/internal/config"
	"wandabot/internal/domain"
)

func TestEvolution_SendMessage(t *testing.T) {
	var gotPath, gotAPIKey string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("apikey")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	e := NewEvolution(EvolutionChannelConfig{
		Config: config.EvolutionConfig{
			Enabled:  true,
			APIBase:  srv.URL,
			APIKey:   "evo-key",
			Instance: "wandinha",
		},
		Logger: testLogger(),
	})

	err := e.Send(context.Background(), "user@s.whatsapp.net", "olá")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if gotPath != "/message/sendText/wandinha" {
		t.Errorf("unexpected path: %s", gotPath)
	}
	if gotAPIKey != "evo-key" {
		t.Errorf("apikey header not set: %q", gotAPIKey)
	}
	if gotBody["number"] != "user@s.whatsapp.net" || gotBody["text"] != "olá" {
		t.Errorf("unexpected body: %v", gotBody)
	}
}

func TestEvolution_SendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid apikey"}`))
	}))
	defer srv.Close()

	e := NewEvolution(EvolutionChannelConfig{
		Config: config.EvolutionConfig{APIBase: srv.URL, Instance: "x"},
		Logger: testLogger(),
	})

	if err := e.Send(context.Background(), "u", "oi"); err == nil {
		t.Fatal("expected error for 401 response")
	}
}

func TestEvolution_OutboundHandlerRegistered(t *testing.T) {
	sent := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		sent <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := NewEvolution(EvolutionChannelConfig{
		Config: config.EvolutionConfig{APIBase: srv.URL, APIKey: "k", Instance: "i"},
		Logger: testLogger(),
	})

	bus := newRecordingBus()
	if err := e.Start(context.Background(), bus); err != nil {
		t.Fatalf("start: %v", err)
	}

	bus.SendOutbound(domain.OutboundMessage{Channel: "evolution", To: "u1", Text: "resposta"})

	body := <-sent
	if body["number"] != "u1" || body["text"] != "resposta" {
		t.Errorf("unexpected body: %v", body)
	}
}

type deliveryEntry struct {
	channel string
	to      string
	ok      bool
	detail  string
}

type recordingDeliveryLog struct {
	entries chan deliveryEntry
}

func newRecordingDeliveryLog() *recordingDeliveryLog {
	return &recordingDeliveryLog{entries: make(chan deliveryEntry, 8)}
}

func (l *recordingDeliveryLog) LogDelivery(ctx context.Context, channel, recipient string, ok bool, detail string) error {
	l.entries <- deliveryEntry{channel: channel, to: recipient, ok: ok, detail: detail}
	return nil
}

func TestEvolution_DeliveryOutcomesLogged(t *testing.T) {
	var fail bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	deliveries := newRecordingDeliveryLog()
	e := NewEvolution(EvolutionChannelConfig{
		Config:     config.EvolutionConfig{APIBase: srv.URL, APIKey: "k", Instance: "i"},
		Deliveries: deliveries,
		Logger:     testLogger(),
	})

	bus := newRecordingBus()
	if err := e.Start(context.Background(), bus); err != nil {
		t.Fatalf("start: %v", err)
	}

	bus.SendOutbound(domain.OutboundMessage{Channel: "evolution", To: "u1", Text: "oi"})
	entry := <-deliveries.entries
	if entry.channel != "evolution" || entry.to != "u1" || !entry.ok || entry.detail != "" {
		t.Errorf("unexpected success entry: %+v", entry)
	}

	fail = true
	bus.SendOutbound(domain.OutboundMessage{Channel: "evolution", To: "u2", Text: "oi"})
	entry = <-deliveries.entries
	if entry.ok || !strings.Contains(entry.detail, "500") {
		t.Errorf("failed send should log ok=false with the error: %+v", entry)
	}
}

func TestSendTimeoutConfigurable(t *testing.T) {
	e := NewEvolution(EvolutionChannelConfig{
		Config:      config.EvolutionConfig{APIBase: "http://x", Instance: "i"},
		SendTimeout: 7 * time.Second,
		Logger:      testLogger(),
	})
	if e.client.Timeout != 7*time.Second {
		t.Errorf("evolution client timeout not applied: %v", e.client.Timeout)
	}

	w := NewWhatsApp(WhatsAppChannelConfig{
		Config:      config.WhatsAppConfig{PhoneNumberID: "1"},
		SendTimeout: 7 * time.Second,
		Logger:      testLogger(),
	})
	if w.client.Timeout != 7*time.Second {
		t.Errorf("whatsapp client timeout not applied: %v", w.client.Timeout)
	}

	def := NewEvolution(EvolutionChannelConfig{
		Config: config.EvolutionConfig{APIBase: "http://x", Instance: "i"},
		Logger: testLogger(),
	})
	if def.client.Timeout != defaultSendTimeout {
		t.Errorf("zero timeout should fall back to the default: %v", def.client.Timeout)
	}
}

func TestSplitMessage(t *testing.T) {
	if got := splitMessage("curto", 4000); len(got) != 1 || got[0] != "curto" {
		t.Fatalf("short text should be a single chunk: %v", got)
	}

	long := strings.Repeat("linha de texto\n", 500) // ~7500 chars
	chunks := splitMessage(long, 4000)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	var total int
	for _, c := range chunks {
		if len(c) > 4000 {
			t.Errorf("chunk exceeds limit: %d", len(c))
		}
		total += len(c)
	}
	if total != len(long) {
		t.Errorf("chunks lost content: %d != %d", total, len(long))
	}
}

func TestSplitMessage_NeverCutsInsideRune(t *testing.T) {
	accented := strings.Repeat("çã", 40) // 4 bytes per repetition, no newlines

	for _, maxLen := range []int{5, 7, 16, 33} {
		chunks := splitMessage(accented, maxLen)
		var rebuilt strings.Builder
		for i, c := range chunks {
			if !utf8.ValidString(c) {
				t.Errorf("maxLen=%d chunk %d is invalid UTF-8: %q", maxLen, i, c)
			}
			if len(c) > maxLen {
				t.Errorf("maxLen=%d chunk %d exceeds limit: %d bytes", maxLen, i, len(c))
			}
			rebuilt.WriteString(c)
		}
		if rebuilt.String() != accented {
			t.Errorf("maxLen=%d chunks do not reassemble the input", maxLen)
		}
	}
}

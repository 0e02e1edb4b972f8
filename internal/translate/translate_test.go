package translate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/snarg/dubsync/internal/timesync"
)

func chatServer(t *testing.T, reply func(user string) string) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		user := req.Messages[len(req.Messages)-1].Content
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply(user)},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestChatTranslator(t *testing.T) {
	srv, calls := chatServer(t, func(user string) string { return " hola mundo \n" })
	ct := NewChatTranslator("sk-test", srv.URL+"/v1", "gpt-4o-mini")

	got, err := ct.Translate(context.Background(), "hello world", "en", "es")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got != "hola mundo" {
		t.Errorf("Translate = %q, want %q", got, "hola mundo")
	}

	t.Run("same_language_skips_request", func(t *testing.T) {
		before := calls.Load()
		got, err := ct.Translate(context.Background(), "hello", "en", "EN")
		if err != nil || got != "hello" {
			t.Errorf("Translate = %q, %v", got, err)
		}
		if calls.Load() != before {
			t.Error("expected no request for identical languages")
		}
	})

	t.Run("empty_reply_is_error", func(t *testing.T) {
		srv, _ := chatServer(t, func(string) string { return "  " })
		ct := NewChatTranslator("sk-test", srv.URL+"/v1", "m")
		if _, err := ct.Translate(context.Background(), "hi", "en", "es"); err == nil {
			t.Error("expected error for empty reply")
		}
	})
}

type fakeTranslator struct{}

func (f fakeTranslator) Translate(_ context.Context, text, _, target string) (string, error) {
	if text == "boom" {
		return "", errors.New("rate limited")
	}
	return strings.ToUpper(text) + "@" + target, nil
}

func TestTranslateAll(t *testing.T) {
	segs := []timesync.Segment{
		{Index: 0, Start: 0.5, End: 1.0, Text: "one"},
		{Index: 1, Start: 1.5, End: 2.0, Text: "two"},
		{Index: 2, Start: 2.5, End: 3.0, Text: "three"},
	}

	got, err := TranslateAll(context.Background(), fakeTranslator{}, segs, "en", "fr", 2, zerolog.Nop())
	if err != nil {
		t.Fatalf("TranslateAll: %v", err)
	}
	for i, s := range got {
		if s.Index != segs[i].Index || s.Start != segs[i].Start || s.End != segs[i].End {
			t.Errorf("segment %d timing changed: %+v", i, s)
		}
		if want := strings.ToUpper(segs[i].Text) + "@fr"; s.Text != want {
			t.Errorf("segment %d text = %q, want %q", i, s.Text, want)
		}
	}
	if segs[0].Text != "one" {
		t.Error("input segments were modified")
	}

	segs[1].Text = "boom"
	if _, err := TranslateAll(context.Background(), fakeTranslator{}, segs, "en", "fr", 2, zerolog.Nop()); err == nil || !strings.Contains(err.Error(), "segment 1") {
		t.Errorf("err = %v, want failure for segment 1", err)
	}
}

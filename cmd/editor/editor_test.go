package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"readback/api/internal/client"
	"readback/api/internal/content"
	"readback/api/internal/editor"
)

func TestShowPrintsDocument(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"storage":"file","history":"git"}`))
	})
	mux.HandleFunc("/api/content", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content":[{"type":"text","content":"hello"},{"type":"image","content":"https://example.com/a.png"}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"show", "--server", srv.URL, "--log-level", "error"})
	require.NoError(t, root.Execute())

	assert.Equal(t, "storage: file (durable: false)\n"+
		"history: git\n"+
		"--- 2 items ---\n"+
		"[0] text  hello\n"+
		"[1] image https://example.com/a.png\n", out.String())
}

func TestListViewPrintsOnlyChanges(t *testing.T) {
	var out bytes.Buffer
	v := &listView{out: &out}
	list := content.List{content.Text("a")}

	v.Show(list)
	v.Show(list.Clone())
	assert.Equal(t, "--- 1 items ---\n[0] text  a\n", out.String())

	v.Show(content.List{})
	assert.Contains(t, out.String(), "--- 0 items ---")
}

func TestPlayRejectsIntervalOutOfRange(t *testing.T) {
	for _, interval := range []string{"0", "86401", "9223372036854775807"} {
		root := newRootCommand()
		root.SetOut(&bytes.Buffer{})
		root.SetErr(&bytes.Buffer{})
		root.SetArgs([]string{"play", "--interval", interval, "--server", "http://127.0.0.1:1", "--surface", t.TempDir() + "/surface.html", "--log-level", "error"})
		assert.Error(t, root.Execute(), "interval %s", interval)
	}
}

func TestSaveOnBlurOutlivesCancelledContext(t *testing.T) {
	var mu sync.Mutex
	var saved []content.List
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			var env content.Envelope
			require.NoError(t, json.NewDecoder(r.Body).Decode(&env))
			mu.Lock()
			saved = append(saved, env.Content)
			mu.Unlock()
			_, _ = w.Write([]byte(`{"success":true}`))
			return
		}
		_, _ = w.Write([]byte(`{"content":[]}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "surface.html")
	surface, err := editor.NewFileSurface(path, time.Hour, zap.NewNop())
	require.NoError(t, err)
	defer surface.Close()

	session := editor.New(surface, client.New(srv.URL), editor.Config{PollInterval: time.Hour, Debounce: time.Hour})
	require.NoError(t, session.Open(context.Background()))
	defer session.Close()

	require.NoError(t, os.WriteFile(path, []byte("<p>last edit</p>"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	saveOnBlur(ctx, session, zap.NewNop())()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, saved)
	assert.Equal(t, content.List{content.Text("last edit")}, saved[len(saved)-1])
}

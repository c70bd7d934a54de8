package proxy

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/trufae/notelink/src/discovery"
)

func newTestRegistry(t *testing.T) *discovery.Registry {
	t.Helper()
	return discovery.New(filepath.Join(t.TempDir(), "server.json"))
}

func backendPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return port
}

func TestProxyRelaysOneRequestAndResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
	}))
	defer srv.Close()

	reg := newTestRegistry(t)
	if _, err := reg.Publish("127.0.0.1", backendPort(t, srv), os.Getpid()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var out bytes.Buffer
	in := bytes.NewBufferString(`{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n")
	p := New(reg, DefaultConfig(), in, &out)

	if err := p.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !bytes.Contains(out.Bytes(), []byte(`"result":{}`)) {
		t.Fatalf("expected relayed response, got %q", out.String())
	}
}

func TestProxyNotificationProducesNoFrame(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	reg := newTestRegistry(t)
	if _, err := reg.Publish("127.0.0.1", backendPort(t, srv), os.Getpid()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var out bytes.Buffer
	in := bytes.NewBufferString(`{"jsonrpc":"2.0","method":"notifications/initialized"}` + "\n")
	p := New(reg, DefaultConfig(), in, &out)

	if err := p.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected no output frame for a notification, got %q", out.String())
	}
}

func TestProxyTranslates4xxToInvalidRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	reg := newTestRegistry(t)
	if _, err := reg.Publish("127.0.0.1", backendPort(t, srv), os.Getpid()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var out bytes.Buffer
	in := bytes.NewBufferString(`{"jsonrpc":"2.0","id":7,"method":"ping"}` + "\n")
	p := New(reg, DefaultConfig(), in, &out)

	if err := p.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	var resp struct {
		ID    float64 `json:"id"`
		Error struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(bytes.TrimRight(out.Bytes(), "\n"), &resp); err != nil {
		t.Fatalf("unmarshal response: %v (body %q)", err, out.String())
	}
	if resp.Error.Code != -32600 {
		t.Fatalf("expected invalid-request code -32600, got %d", resp.Error.Code)
	}
	if resp.ID != 7 {
		t.Fatalf("expected id preserved as 7, got %v", resp.ID)
	}
}

func TestProxyTranslates5xxToServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	reg := newTestRegistry(t)
	if _, err := reg.Publish("127.0.0.1", backendPort(t, srv), os.Getpid()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var out bytes.Buffer
	in := bytes.NewBufferString(`{"jsonrpc":"2.0","id":8,"method":"ping"}` + "\n")
	p := New(reg, DefaultConfig(), in, &out)

	if err := p.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	var resp struct {
		Error struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(bytes.TrimRight(out.Bytes(), "\n"), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Error.Code != -32000 {
		t.Fatalf("expected server-error code -32000, got %d", resp.Error.Code)
	}
}

func TestProxyStaleRecordIsIgnoredAndTimesOut(t *testing.T) {
	reg := newTestRegistry(t)
	// A pid that is essentially guaranteed not to exist.
	if _, err := reg.Publish("127.0.0.1", 1, 999999); err != nil {
		t.Fatalf("publish: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Timeout = 150 * time.Millisecond
	cfg.PollInterval = 20 * time.Millisecond

	var out bytes.Buffer
	in := bytes.NewBufferString(`{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n")
	p := New(reg, cfg, in, &out)

	err := p.Run()
	if err == nil {
		t.Fatalf("expected timeout error when no live backend ever appears")
	}
}

func TestProxyPipelinesMultipleFramesInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := json.Marshal(map[string]interface{}{})
		var req struct {
			ID interface{} `json:"id"`
		}
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": json.RawMessage(body)}
		respData, _ := json.Marshal(resp)
		w.Write(respData)
	}))
	defer srv.Close()

	reg := newTestRegistry(t)
	if _, err := reg.Publish("127.0.0.1", backendPort(t, srv), os.Getpid()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var out bytes.Buffer
	in := bytes.NewBufferString(
		`{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n" +
			`{"jsonrpc":"2.0","id":2,"method":"ping"}` + "\n" +
			`{"jsonrpc":"2.0","id":3,"method":"ping"}` + "\n",
	)
	p := New(reg, DefaultConfig(), in, &out)
	if err := p.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}

	lines := bytes.Split(bytes.TrimRight(out.Bytes(), "\n"), []byte("\n"))
	if len(lines) != 3 {
		t.Fatalf("expected 3 response frames, got %d: %q", len(lines), out.String())
	}
	for i, line := range lines {
		var resp struct {
			ID float64 `json:"id"`
		}
		if err := json.Unmarshal(line, &resp); err != nil {
			t.Fatalf("line %d: %v", i, err)
		}
		if int(resp.ID) != i+1 {
			t.Fatalf("responses out of order: line %d has id %v", i, resp.ID)
		}
	}
}

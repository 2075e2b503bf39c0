package apihttp

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"magnetstream/internal/domain"
	"magnetstream/internal/registry"
)

func dialWS(t *testing.T, server *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntilType(t *testing.T, conn *websocket.Conn, want string) wsMessage {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(deadline)
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read ws message: %v", err)
		}
		if msg.Type == want {
			return msg
		}
	}
	t.Fatalf("timed out waiting for %q message", want)
	return wsMessage{}
}

func TestWSAddTorrentFlow(t *testing.T) {
	handle := &streamHandle{
		info:    "cccc3333",
		content: testContent(),
		files: []domain.FileEntry{
			{Index: 0, Name: "clip.webm", Path: "clip/clip.webm", Length: 1000},
		},
	}
	eng := &streamEngine{handles: map[string]*streamHandle{"magnet:?xt=urn:btih:cccc3333": handle}}

	reg := registry.New(eng, nil, testLogger(), registry.Config{ProgressInterval: 20 * time.Millisecond})
	t.Cleanup(reg.Shutdown)

	server := NewServer(reg, WithLogger(testLogger()))
	t.Cleanup(server.Close)

	conn := dialWS(t, server)
	err := conn.WriteJSON(map[string]interface{}{
		"type": "add-torrent",
		"data": map[string]string{"magnet": "magnet:?xt=urn:btih:cccc3333"},
	})
	if err != nil {
		t.Fatalf("write add-torrent: %v", err)
	}

	info := readUntilType(t, conn, "torrent-info")
	var infoData infoEventPayload
	raw, _ := json.Marshal(info.Data)
	if err := json.Unmarshal(raw, &infoData); err != nil {
		t.Fatalf("decode info payload: %v", err)
	}
	if infoData.InfoHash != "cccc3333" || len(infoData.Files) != 1 {
		t.Fatalf("unexpected info payload: %+v", infoData)
	}

	progress := readUntilType(t, conn, "download-progress")
	var snap domain.ProgressSnapshot
	raw, _ = json.Marshal(progress.Data)
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatalf("decode progress payload: %v", err)
	}
	if snap.InfoHash != "cccc3333" || snap.Progress != 0.5 {
		t.Fatalf("unexpected progress payload: %+v", snap)
	}
}

func TestWSDoneCarriesBareInfoHash(t *testing.T) {
	handle := &streamHandle{
		info:     "eeee5555",
		content:  testContent(),
		progress: 1.0,
		files: []domain.FileEntry{
			{Index: 0, Name: "done.mp4", Path: "done/done.mp4", Length: 1000},
		},
	}
	eng := &streamEngine{handles: map[string]*streamHandle{"magnet:?xt=urn:btih:eeee5555": handle}}

	reg := registry.New(eng, nil, testLogger(), registry.Config{ProgressInterval: 20 * time.Millisecond})
	t.Cleanup(reg.Shutdown)

	server := NewServer(reg, WithLogger(testLogger()))
	t.Cleanup(server.Close)

	conn := dialWS(t, server)
	err := conn.WriteJSON(map[string]interface{}{
		"type": "add-torrent",
		"data": map[string]string{"magnet": "magnet:?xt=urn:btih:eeee5555"},
	})
	if err != nil {
		t.Fatalf("write add-torrent: %v", err)
	}

	msg := readUntilType(t, conn, "torrent-done")
	hash, ok := msg.Data.(string)
	if !ok {
		t.Fatalf("done data is %T, want a plain string", msg.Data)
	}
	if hash != "eeee5555" {
		t.Fatalf("done data = %q, want eeee5555", hash)
	}
}

func TestWSInvalidMagnetReportsError(t *testing.T) {
	reg := registry.New(&streamEngine{handles: map[string]*streamHandle{}}, nil, testLogger(),
		registry.Config{ProgressInterval: time.Hour})
	t.Cleanup(reg.Shutdown)

	server := NewServer(reg, WithLogger(testLogger()))
	t.Cleanup(server.Close)

	conn := dialWS(t, server)
	err := conn.WriteJSON(map[string]interface{}{
		"type": "add-torrent",
		"data": map[string]string{"magnet": "http://not-a-magnet"},
	})
	if err != nil {
		t.Fatalf("write add-torrent: %v", err)
	}

	msg := readUntilType(t, conn, "error")
	text, ok := msg.Data.(string)
	if !ok {
		t.Fatalf("error data is %T, want a plain string", msg.Data)
	}
	if text == "" {
		t.Fatal("error message is empty")
	}

	// The connection survives an invalid submission.
	if err := conn.WriteJSON(map[string]interface{}{"type": "nonsense"}); err != nil {
		t.Fatalf("write after error: %v", err)
	}
	readUntilType(t, conn, "error")
}

func TestWSResolveFailureReportsError(t *testing.T) {
	// Engine knows no magnets, so resolution fails with not found.
	reg := registry.New(&streamEngine{handles: map[string]*streamHandle{}}, nil, testLogger(),
		registry.Config{ProgressInterval: time.Hour})
	t.Cleanup(reg.Shutdown)

	server := NewServer(reg, WithLogger(testLogger()))
	t.Cleanup(server.Close)

	conn := dialWS(t, server)
	err := conn.WriteJSON(map[string]interface{}{
		"type": "add-torrent",
		"data": map[string]string{"magnet": "magnet:?xt=urn:btih:dddd4444"},
	})
	if err != nil {
		t.Fatalf("write add-torrent: %v", err)
	}

	readUntilType(t, conn, "error")
	if _, ok := reg.Get("dddd4444"); ok {
		t.Fatal("failed resolution left a session behind")
	}
}

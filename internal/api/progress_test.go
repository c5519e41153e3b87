package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/halworsen/footgas/internal/export"
	"github.com/halworsen/footgas/internal/jobs"
)

func dialProgress(t *testing.T, srv *httptest.Server, id string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/exports/" + id + "/progress"
	header := http.Header{"Authorization": []string{"Bearer " + testToken}}
	return websocket.DefaultDialer.Dial(url, header)
}

func readProgress(t *testing.T, conn *websocket.Conn) ProgressMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg ProgressMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON error: %v", err)
	}
	return msg
}

func expectNormalClose(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("ReadMessage error = %v, want normal closure", err)
	}
}

func TestProgress_StreamsUntilTerminal(t *testing.T) {
	broker := jobs.NewBroker()
	cfg := testServerConfig(newFakeService(testJob("run-1", jobs.StatusRunning)))
	cfg.Progress = broker
	srv := httptest.NewServer(NewRouter(cfg))
	defer srv.Close()

	conn, _, err := dialProgress(t, srv, "run-1")
	if err != nil {
		t.Fatalf("Dial error: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for broker.Subscribers("run-1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("handler never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	broker.Publish("run-1", export.Event{Phase: export.PhaseConverging, Percent: 80, Pass: 1, VideoKbps: 1645})
	broker.Publish("run-1", export.Event{Phase: export.PhaseDone, Percent: 100, Pass: 1, SizeBytes: 7 << 20})

	first := readProgress(t, conn)
	if first.JobID != "run-1" || first.Phase != export.PhaseConverging || first.Percent != 80 || first.VideoKbps != 1645 {
		t.Errorf("first = %+v", first)
	}
	last := readProgress(t, conn)
	if last.Phase != export.PhaseDone || last.Percent != 100 || last.SizeBytes != 7<<20 {
		t.Errorf("last = %+v", last)
	}
	expectNormalClose(t, conn)
}

func TestProgress_FinishedJobReplaysTerminal(t *testing.T) {
	failed := testJob("fail-1", jobs.StatusFailed)
	failed.Progress = 40
	failed.Error = "probe failed"
	cfg := testServerConfig(newFakeService(failed))
	cfg.Progress = jobs.NewBroker()
	srv := httptest.NewServer(NewRouter(cfg))
	defer srv.Close()

	conn, _, err := dialProgress(t, srv, "fail-1")
	if err != nil {
		t.Fatalf("Dial error: %v", err)
	}
	defer conn.Close()

	msg := readProgress(t, conn)
	if msg.Phase != export.PhaseFailed || msg.Percent != 40 || msg.Error != "probe failed" {
		t.Errorf("msg = %+v", msg)
	}
	expectNormalClose(t, conn)
}

func TestProgress_UnknownJob(t *testing.T) {
	cfg := testServerConfig(newFakeService())
	cfg.Progress = jobs.NewBroker()
	srv := httptest.NewServer(NewRouter(cfg))
	defer srv.Close()

	_, resp, err := dialProgress(t, srv, "missing")
	if err == nil {
		t.Fatal("Dial should fail for an unknown job")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("response = %v, want 404", resp)
	}
}

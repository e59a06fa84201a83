package view

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fpang/meme-studio/internal/asset"
	"github.com/fpang/meme-studio/internal/lens"
	"github.com/fpang/meme-studio/internal/lens/local"
	"github.com/fpang/meme-studio/internal/media"
	"github.com/fpang/meme-studio/internal/meme"
	"github.com/fpang/meme-studio/internal/voice"
	"github.com/fpang/meme-studio/internal/workflow"
)

type stubGenerator struct{}

func (stubGenerator) GenerateCaptions(ctx context.Context, img meme.Upload) (meme.CaptionSet, error) {
	return meme.NewCaptionSet([]string{"when the code compiles"}, []string{"#dev"}, "a cat"), nil
}

type stubFinalizer struct {
	mu   sync.Mutex
	last meme.FinalizeRequest
}

func (f *stubFinalizer) FinalizeMeme(ctx context.Context, req meme.FinalizeRequest) (meme.FinalizedImage, error) {
	f.mu.Lock()
	f.last = req
	f.mu.Unlock()
	return meme.FinalizedImage{Base64: "Zm9v"}, nil
}

type stubSynth struct {
	available bool
	voices    []voice.Voice
	spoken    chan voice.Request
}

func (s *stubSynth) Available() bool { return s.available }

func (s *stubSynth) Voices(ctx context.Context) ([]voice.Voice, error) {
	return s.voices, nil
}

func (s *stubSynth) Speak(ctx context.Context, req voice.Request) error {
	s.spoken <- req
	return nil
}

type testServer struct {
	*httptest.Server
	engine    *workflow.Engine
	previews  *asset.Registry
	finalizer *stubFinalizer
}

func newTestServer(t *testing.T, mutate func(*Config)) *testServer {
	t.Helper()
	previews := asset.NewRegistry()
	fin := &stubFinalizer{}
	engine := workflow.New(stubGenerator{}, fin, workflow.WithPreviews(previews))
	cfg := Config{Engine: engine, Previews: previews}
	if mutate != nil {
		mutate(&cfg)
	}
	srv := New(context.Background(), cfg)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		engine.Close()
		srv.Close()
	})
	return &testServer{Server: ts, engine: engine, previews: previews, finalizer: fin}
}

func (ts *testServer) postJSON(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func (ts *testServer) upload(t *testing.T, name string, data []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", name)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(data)
	mw.Close()
	resp, err := http.Post(ts.URL+"/api/image", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func errorMessage(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body map[string]string
	decodeBody(t, resp, &body)
	return body["error"]
}

func TestFiltersEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/api/filters")
	if err != nil {
		t.Fatal(err)
	}
	var filters []filterOption
	decodeBody(t, resp, &filters)
	if len(filters) != len(meme.Filters()) {
		t.Fatalf("expected %d filters, got %d", len(meme.Filters()), len(filters))
	}
	if filters[0].Value != "" || filters[0].Label != "No Filter" {
		t.Errorf("first filter should be none, got %+v", filters[0])
	}
}

func TestCaptionsWithoutImage(t *testing.T) {
	ts := newTestServer(t, nil)
	resp := ts.postJSON(t, "/api/captions", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if msg := errorMessage(t, resp); msg != workflow.MsgNoImage {
		t.Errorf("expected %q, got %q", workflow.MsgNoImage, msg)
	}
}

func TestUploadRequiresFile(t *testing.T) {
	ts := newTestServer(t, nil)
	resp := ts.upload(t, "empty.png", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if msg := errorMessage(t, resp); msg != workflow.MsgNoImage {
		t.Errorf("expected %q, got %q", workflow.MsgNoImage, msg)
	}
}

func TestInvalidFilter(t *testing.T) {
	ts := newTestServer(t, nil)
	resp := ts.postJSON(t, "/api/filter", `{"filter":"sparkle"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if msg := errorMessage(t, resp); msg != workflow.MsgInvalidFilter {
		t.Errorf("expected %q, got %q", workflow.MsgInvalidFilter, msg)
	}
}

func TestCaptionAndFinalizeFlow(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.upload(t, "cat.png", []byte("not really a png"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload: expected 200, got %d", resp.StatusCode)
	}
	var snap workflow.Snapshot
	decodeBody(t, resp, &snap)
	if !snap.HasImage || snap.ImageName != "cat.png" {
		t.Fatalf("unexpected snapshot after upload: %+v", snap)
	}
	if !strings.HasPrefix(snap.Preview, asset.PreviewPathPrefix) {
		t.Fatalf("expected preview URL, got %q", snap.Preview)
	}

	preview, err := http.Get(ts.URL + snap.Preview)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(preview.Body)
	preview.Body.Close()
	if preview.StatusCode != http.StatusOK || string(body) != "not really a png" {
		t.Fatalf("preview: status %d body %q", preview.StatusCode, body)
	}

	if resp := ts.postJSON(t, "/api/filter", `{"filter":"Sepia"}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("filter: expected 200, got %d", resp.StatusCode)
	}

	resp = ts.postJSON(t, "/api/captions", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("captions: expected 202, got %d", resp.StatusCode)
	}
	resp.Body.Close()
	ts.engine.Wait()

	state, err := http.Get(ts.URL + "/api/state")
	if err != nil {
		t.Fatal(err)
	}
	decodeBody(t, state, &snap)
	if snap.State != workflow.StateReady || len(snap.Captions.Captions) != 1 {
		t.Fatalf("expected ready with captions, got %+v", snap)
	}

	resp = ts.postJSON(t, "/api/finalize", `{"caption":"when the code compiles"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("finalize: expected 202, got %d", resp.StatusCode)
	}
	resp.Body.Close()
	ts.engine.Wait()

	ts.finalizer.mu.Lock()
	last := ts.finalizer.last
	ts.finalizer.mu.Unlock()
	if last.Filter != meme.FilterSepia || last.Text != "when the code compiles" {
		t.Errorf("unexpected finalize request %+v", last)
	}

	memeResp, err := http.Get(ts.URL + "/api/meme")
	if err != nil {
		t.Fatal(err)
	}
	body, _ = io.ReadAll(memeResp.Body)
	memeResp.Body.Close()
	if memeResp.StatusCode != http.StatusOK || string(body) != "foo" {
		t.Fatalf("meme: status %d body %q", memeResp.StatusCode, body)
	}
	if ct := memeResp.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("expected image/jpeg, got %q", ct)
	}

	// The uploaded preview is released once the meme replaces it.
	gone, err := http.Get(ts.URL + "/api/preview/" + strings.TrimPrefix(snap.Preview, asset.PreviewPathPrefix))
	if err != nil {
		t.Fatal(err)
	}
	gone.Body.Close()
	if gone.StatusCode != http.StatusNotFound {
		t.Errorf("expected released preview to 404, got %d", gone.StatusCode)
	}
}

func TestMemeNotReady(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/api/meme")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestPreviewThumbnail(t *testing.T) {
	var gotSize int
	ts := newTestServer(t, func(c *Config) {
		c.Thumbnail = func(data []byte, maxDim int) ([]byte, string, error) {
			gotSize = maxDim
			return []byte("thumb"), "image/webp", nil
		}
	})
	h := ts.previews.Create([]byte("full"), "image/png")
	defer h.Release()

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantBody   string
		wantType   string
	}{
		{name: "original", query: "", wantStatus: http.StatusOK, wantBody: "full", wantType: "image/png"},
		{name: "thumbnail", query: "?size=64", wantStatus: http.StatusOK, wantBody: "thumb", wantType: "image/webp"},
		{name: "bad size", query: "?size=abc", wantStatus: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(ts.URL + h.URL() + tt.query)
			if err != nil {
				t.Fatal(err)
			}
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
			if tt.wantBody != "" && string(body) != tt.wantBody {
				t.Errorf("expected body %q, got %q", tt.wantBody, body)
			}
			if tt.wantType != "" && resp.Header.Get("Content-Type") != tt.wantType {
				t.Errorf("expected %q, got %q", tt.wantType, resp.Header.Get("Content-Type"))
			}
		})
	}
	if gotSize != 64 {
		t.Errorf("thumbnailer got size %d", gotSize)
	}
}

func TestEventsFeed(t *testing.T) {
	ts := newTestServer(t, nil)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	readState := func() workflow.Snapshot {
		t.Helper()
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if msg.Type != MsgState {
			t.Fatalf("expected state event, got %q", msg.Type)
		}
		var snap workflow.Snapshot
		if err := json.Unmarshal(msg.Data, &snap); err != nil {
			t.Fatal(err)
		}
		return snap
	}

	if first := readState(); first.HasImage {
		t.Fatalf("initial state should have no image: %+v", first)
	}

	resp := ts.upload(t, "dog.jpg", []byte("woof"))
	resp.Body.Close()

	snap := readState()
	if snap.ImageName != "dog.jpg" || snap.State != workflow.StateIdle {
		t.Errorf("unexpected event %+v", snap)
	}
}

func TestCameraNotConfigured(t *testing.T) {
	ts := newTestServer(t, nil)
	for _, path := range []string{"/api/camera/start", "/api/camera/stop", "/api/camera/lens"} {
		resp := ts.postJSON(t, path, `{}`)
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotImplemented {
			t.Errorf("%s: expected 501, got %d", path, resp.StatusCode)
		}
	}
	resp, err := http.Get(ts.URL + "/api/camera/stream")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("stream: expected 409, got %d", resp.StatusCode)
	}
}

func TestCameraLifecycle(t *testing.T) {
	ts := newTestServer(t, func(c *Config) {
		c.Camera = lens.NewController(lens.ControllerConfig{
			Device:    &media.TestPattern{Width: 16, Height: 12, FPS: 30},
			Bootstrap: local.NewBootstrap(nil),
			Token:     "token",
		})
	})

	resp := ts.postJSON(t, "/api/camera/start", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: expected 200, got %d", resp.StatusCode)
	}
	var state cameraState
	decodeBody(t, resp, &state)
	if !state.Active || state.Session == nil || len(state.Session.Lenses) < 2 {
		t.Fatalf("unexpected camera state %+v", state)
	}

	resp = ts.postJSON(t, "/api/camera/start", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second start: expected 409, got %d", resp.StatusCode)
	}

	target := state.Session.Lenses[1].ID
	resp = ts.postJSON(t, "/api/camera/lens", fmt.Sprintf(`{"id":%q}`, target))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("lens: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	lensesResp, err := http.Get(ts.URL + "/api/camera/lenses")
	if err != nil {
		t.Fatal(err)
	}
	var lenses struct {
		Lenses       []lens.Entry `json:"lenses"`
		ActiveLensID string       `json:"activeLensId"`
	}
	decodeBody(t, lensesResp, &lenses)
	if lenses.ActiveLensID != target || len(lenses.Lenses) != len(state.Session.Lenses) {
		t.Errorf("unexpected lenses %+v", lenses)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/camera/stream", nil)
	stream, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if ct := stream.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Fatalf("unexpected stream content type %q", ct)
	}
	line, err := bufio.NewReader(stream.Body).ReadString('\n')
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if strings.TrimSpace(line) != "--"+mjpegBoundary {
		t.Errorf("expected boundary, got %q", line)
	}
	cancel()
	stream.Body.Close()

	resp = ts.postJSON(t, "/api/camera/stop", "")
	decodeBody(t, resp, &state)
	if state.Active {
		t.Error("camera should be inactive after stop")
	}
}

func TestCameraReleasedWhenLastViewerLeaves(t *testing.T) {
	ctrl := lens.NewController(lens.ControllerConfig{
		Device:    &media.TestPattern{Width: 16, Height: 12, FPS: 30},
		Bootstrap: local.NewBootstrap(nil),
		Token:     "token",
	})
	ts := newTestServer(t, func(c *Config) {
		c.Camera = ctrl
		c.ViewerGrace = 100 * time.Millisecond
	})

	resp := ts.postJSON(t, "/api/camera/start", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: expected 200, got %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/camera/stream", nil)
	stream, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := bufio.NewReader(stream.Body).ReadString('\n'); err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if !ctrl.Active() {
		t.Fatal("camera should stay active while a viewer is attached")
	}
	cancel()
	stream.Body.Close()

	deadline := time.Now().Add(3 * time.Second)
	for ctrl.Active() {
		if time.Now().After(deadline) {
			t.Fatal("camera still acquired after its last viewer left")
		}
		time.Sleep(20 * time.Millisecond)
	}

	resp, err = http.Get(ts.URL + "/api/camera/stream")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("stream after release: expected 409, got %d", resp.StatusCode)
	}
}

func TestFanoutIdleAfterGrace(t *testing.T) {
	in := make(chan media.Frame)
	defer close(in)
	idle := make(chan struct{}, 4)
	f := newFrameFanout(in, 50*time.Millisecond, func(*frameFanout) { idle <- struct{}{} })

	_, cancel := f.subscribe()
	time.Sleep(100 * time.Millisecond)
	select {
	case <-idle:
		t.Fatal("idle fired while a viewer was attached")
	default:
	}

	cancel()
	_, cancel = f.subscribe()
	time.Sleep(100 * time.Millisecond)
	select {
	case <-idle:
		t.Fatal("idle fired although a viewer reattached within the grace period")
	default:
	}
	if f.viewers() != 1 {
		t.Errorf("expected one viewer, got %d", f.viewers())
	}

	cancel()
	select {
	case <-idle:
	case <-time.After(2 * time.Second):
		t.Fatal("idle never fired after the last viewer left")
	}
	time.Sleep(100 * time.Millisecond)
	if len(idle) != 0 {
		t.Error("idle should fire once per idle period")
	}
}

func TestCameraErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&media.DeviceError{Device: "/dev/video0", Op: "open", Err: media.ErrDeviceAccessDenied}, http.StatusForbidden},
		{&media.DeviceError{Device: "/dev/video0", Op: "open", Err: media.ErrDeviceUnavailable}, http.StatusServiceUnavailable},
		{lens.ErrSessionActive, http.StatusConflict},
		{lens.ErrStopped, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got, _ := cameraError(tt.err); got != tt.want {
			t.Errorf("cameraError(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestSpeakUnsupported(t *testing.T) {
	ts := newTestServer(t, nil)
	resp := ts.postJSON(t, "/api/speak", `{"text":"hello"}`)
	if resp.StatusCode != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", resp.StatusCode)
	}
	if msg := errorMessage(t, resp); msg != voice.UnsupportedNotice {
		t.Errorf("expected notice, got %q", msg)
	}
}

func TestSpeakAndVoices(t *testing.T) {
	synth := &stubSynth{
		available: true,
		voices: []voice.Voice{
			{Name: "english", Language: "en-GB", Default: true},
			{Name: "french", Language: "fr-FR"},
		},
		spoken: make(chan voice.Request, 1),
	}
	ts := newTestServer(t, func(c *Config) {
		c.Synth = synth
		c.Voices = voice.NewCatalog(synth)
	})

	vresp, err := http.Get(ts.URL + "/api/voices")
	if err != nil {
		t.Fatal(err)
	}
	var voices []voice.Voice
	decodeBody(t, vresp, &voices)
	if len(voices) != 2 {
		t.Fatalf("expected 2 voices, got %d", len(voices))
	}

	resp := ts.postJSON(t, "/api/speak", `{"text":"bonjour","language":"fr"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	select {
	case req := <-synth.spoken:
		if req.Text != "bonjour" || req.Voice.Name != "french" || req.Rate != 1 || req.Pitch != 1 {
			t.Errorf("unexpected utterance %+v", req)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("nothing was spoken")
	}

	resp = ts.postJSON(t, "/api/speak", `{"text":"haha","funny":true}`)
	resp.Body.Close()
	select {
	case req := <-synth.spoken:
		if req.Voice.Name != "english" {
			t.Errorf("expected default voice, got %q", req.Voice.Name)
		}
		if req.Rate < voice.MinFunny || req.Rate > voice.MaxFunny || req.Pitch < voice.MinFunny || req.Pitch > voice.MaxFunny {
			t.Errorf("funny prosody out of range: %+v", req)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("nothing was spoken")
	}
}

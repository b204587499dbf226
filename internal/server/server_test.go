package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"democamera/internal/camera"
	"democamera/internal/config"
	"democamera/internal/gallery"
	"democamera/internal/media/mediatest"
	"democamera/internal/media/mp4"
	"democamera/internal/mediaindex"
	"democamera/internal/merge"
	"democamera/internal/recording"
)

// testEnv はテスト用のサーバーと依存サービス
type testEnv struct {
	server  *Server
	gallery *gallery.Gallery
	index   *mediaindex.Store
	camera  *camera.DefaultController
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Storage.MediaDir = filepath.Join(dir, "Camera app")

	index, err := mediaindex.Open(filepath.Join(dir, "media.db"))
	if err != nil {
		t.Fatalf("mediaindex.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = index.Close() })

	g := gallery.New(cfg.Storage.MediaDir)
	if err := g.EnsureDir(); err != nil {
		t.Fatalf("EnsureDir failed: %v", err)
	}
	controller := camera.NewDefaultController(cfg.CameraSettings())
	merger := merge.NewMerger(mp4.Container{}, merge.Options{})

	srv := New(cfg, Dependencies{
		Gallery:    g,
		Index:      index,
		Merger:     merger,
		Recordings: recording.NewDefaultManager(g, controller, merger, index),
		Camera:     controller,
		Container:  mp4.Container{},
	})
	return &testEnv{server: srv, gallery: g, index: index, camera: controller}
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if len(body) > 0 && (body[0] == '{' || body[0] == '[') {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("レスポンスの解析に失敗: %v (%s)", err, rec.Body.String())
	}
}

// writeSegment はメディアディレクトリに mp4 セグメントを作成する
func writeSegment(t *testing.T, dir, name string, seg mediatest.Segment) string {
	t.Helper()
	path := filepath.Join(dir, name)
	muxer, err := mp4.Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	mediatest.Write(t, muxer, seg)
	return path
}

// TestServerStartAndShutdown はサーバーの起動とシャットダウンをテストする
func TestServerStartAndShutdown(t *testing.T) {
	env := newTestEnv(t)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// サーバーを別ゴルーチンで起動
	errCh := make(chan error, 1)
	go func() {
		errCh <- env.server.Serve(ctx, listener)
	}()

	baseURL := fmt.Sprintf("http://%s", listener.Addr().String())
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get(baseURL + "/health")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("HTTPリクエストでエラーが発生しました: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("予期しないステータスコード: got %d, want %d", resp.StatusCode, http.StatusOK)
	}

	// コンテキストをキャンセルしてサーバーを停止
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("サーバーの起動/停止でエラーが発生しました: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("サーバーの停止がタイムアウトしました")
	}
}

// TestServerEndpoints は基本的なエンドポイントをテストする
func TestServerEndpoints(t *testing.T) {
	env := newTestEnv(t)

	testCases := []struct {
		name           string
		endpoint       string
		expectedStatus int
	}{
		{"ヘルスチェックエンドポイント", "/health", http.StatusOK},
		{"ステータスエンドポイント", "/api/status", http.StatusOK},
		{"メディア一覧", "/api/media", http.StatusOK},
		{"インデックス", "/api/index", http.StatusOK},
		{"カメラ状態", "/api/camera", http.StatusOK},
		{"存在しないメディア", "/api/media/PHOTO_1.jpg", http.StatusNotFound},
		{"存在しない録画", "/api/recordings/rec-unknown", http.StatusNotFound},
		{"存在しないパス", "/unknown", http.StatusNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tc.endpoint, nil)
			if rec.Code != tc.expectedStatus {
				t.Errorf("予期しないステータスコード: got %d, want %d", rec.Code, tc.expectedStatus)
			}
		})
	}

	var status StatusResponse
	decode(t, env.do(t, http.MethodGet, "/api/status", nil), &status)
	if status.Status != "running" || status.Media != "No files yet" || status.Recording {
		t.Errorf("unexpected status: %+v", status)
	}
}

func TestPhotoLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/photos", []byte("jpeg-bytes"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var item gallery.Item
	decode(t, rec, &item)
	if !strings.HasPrefix(item.Name, "PHOTO_") || item.Kind != gallery.KindPhoto {
		t.Errorf("unexpected item: %+v", item)
	}

	rec = env.do(t, http.MethodGet, "/api/media/"+item.Name, nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "jpeg-bytes" {
		t.Errorf("unexpected media response: %d %q", rec.Code, rec.Body.String())
	}

	var list MediaListResponse
	decode(t, env.do(t, http.MethodGet, "/api/media", nil), &list)
	if len(list.Items) != 1 || list.Label != "1 file" {
		t.Errorf("unexpected list: %+v", list)
	}

	var entries []mediaindex.Entry
	decode(t, env.do(t, http.MethodGet, "/api/index", nil), &entries)
	if len(entries) != 1 || entries[0].MIME != "image/jpeg" {
		t.Errorf("写真がインデックスに登録されるべきです: %+v", entries)
	}

	rec = env.do(t, http.MethodDelete, "/api/media/"+item.Name, nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", rec.Code)
	}
	decode(t, env.do(t, http.MethodGet, "/api/index", nil), &entries)
	if len(entries) != 0 {
		t.Errorf("削除したファイルはインデックスからも消えるべきです: %+v", entries)
	}

	rec = env.do(t, http.MethodDelete, "/api/media/..", nil)
	if rec.Code != http.StatusBadRequest && rec.Code != http.StatusNotFound {
		t.Errorf("不正な名前は拒否されるべきです: %d", rec.Code)
	}
}

func TestMergeEndpoint(t *testing.T) {
	env := newTestEnv(t)
	dir := env.gallery.Dir()

	writeSegment(t, dir, "VIDEO_SEGMENT_1_1000.mp4", mediatest.Default("a", 10, 20))
	writeSegment(t, dir, "VIDEO_SEGMENT_2_2000.mp4", mediatest.Default("b", 5, 10))

	body := []byte(`{"output":"VIDEO_FINAL_3000.mp4","inputs":["VIDEO_SEGMENT_1_1000.mp4","VIDEO_SEGMENT_2_2000.mp4"]}`)
	rec := env.do(t, http.MethodPost, "/api/merge", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result merge.Result
	decode(t, rec, &result)
	if result.Segments != 2 || result.VideoSamples != 15 || result.AudioSamples != 30 {
		t.Errorf("unexpected result: %+v", result)
	}

	var info MediaInfoResponse
	decode(t, env.do(t, http.MethodGet, "/api/media/VIDEO_FINAL_3000.mp4/info", nil), &info)
	if info.Media == nil || len(info.Media.Tracks) != 2 {
		t.Fatalf("unexpected info: %+v", info)
	}
	if info.Media.Duration != 600*time.Millisecond {
		t.Errorf("Expected duration 600ms, got %v", info.Media.Duration)
	}

	testCases := []struct {
		name   string
		body   string
		status int
	}{
		{"入力なし", `{"output":"VIDEO_FINAL_4000.mp4","inputs":[]}`, http.StatusBadRequest},
		{"不正な入力名", `{"inputs":["../secret.mp4"]}`, http.StatusBadRequest},
		{"mp4以外の出力", `{"output":"out.txt","inputs":["a.mp4","b.mp4"]}`, http.StatusBadRequest},
		{"出力が入力と同じ", `{"output":"a.mp4","inputs":["a.mp4","b.mp4"]}`, http.StatusBadRequest},
		{"トラックなし", `{"inputs":["missing1.mp4","missing2.mp4"]}`, http.StatusUnprocessableEntity},
		{"JSONではない", `not json`, http.StatusBadRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/merge", []byte(tc.body))
			if rec.Code != tc.status {
				t.Errorf("Expected %d, got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
			if rec.Code >= 400 {
				var resp ErrorResponse
				decode(t, rec, &resp)
				if resp.Error == "" || resp.Message == "" {
					t.Errorf("エラーレスポンスが不正です: %+v", resp)
				}
			}
		})
	}
}

func TestRecordingFlow(t *testing.T) {
	env := newTestEnv(t)
	scratch := t.TempDir()

	rec := env.do(t, http.MethodPost, "/api/recordings", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var session recording.Session
	decode(t, rec, &session)

	if rec := env.do(t, http.MethodPost, "/api/recordings", nil); rec.Code != http.StatusConflict {
		t.Errorf("二重の録画開始は 409 になるべきです: %d", rec.Code)
	}

	base := "/api/recordings/" + session.ID
	for i, seg := range []mediatest.Segment{mediatest.Default("back", 10, 20), mediatest.Default("front", 5, 10)} {
		data, err := os.ReadFile(writeSegment(t, scratch, seg.Tag+".mp4", seg))
		if err != nil {
			t.Fatalf("ReadFile failed: %v", err)
		}
		if rec := env.do(t, http.MethodPost, base+"/segment", data); rec.Code != http.StatusOK {
			t.Fatalf("segment upload failed: %d %s", rec.Code, rec.Body.String())
		}
		if i == 0 {
			rec := env.do(t, http.MethodPost, base+"/switch", nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("switch failed: %d %s", rec.Code, rec.Body.String())
			}
			decode(t, rec, &session)
			if session.Lens != camera.LensFront || len(session.Segments) != 1 {
				t.Errorf("unexpected session after switch: %+v", session)
			}
		}
	}

	rec = env.do(t, http.MethodPost, base+"/stop", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop failed: %d %s", rec.Code, rec.Body.String())
	}
	var outcome recording.Outcome
	decode(t, rec, &outcome)
	if !outcome.Merged || outcome.Message != "Video saved (2 segments merged)" {
		t.Errorf("unexpected outcome: %+v", outcome)
	}

	var list MediaListResponse
	decode(t, env.do(t, http.MethodGet, "/api/media", nil), &list)
	if len(list.Items) != 1 || !strings.HasPrefix(list.Items[0].Name, "VIDEO_FINAL_") {
		t.Errorf("結合後のファイルのみ残るべきです: %+v", list.Items)
	}

	var entries []mediaindex.Entry
	decode(t, env.do(t, http.MethodGet, "/api/index", nil), &entries)
	if len(entries) != 1 || entries[0].MIME != "video/mp4" {
		t.Errorf("結合後のファイルが登録されるべきです: %+v", entries)
	}

	if rec := env.do(t, http.MethodPost, base+"/stop", nil); rec.Code != http.StatusConflict {
		t.Errorf("停止済みのセッションは 409 になるべきです: %d", rec.Code)
	}
	if env.camera.Snapshot().Recording {
		t.Error("録画停止後は録画中ではないべきです")
	}
}

func TestCameraEndpoints(t *testing.T) {
	env := newTestEnv(t)

	var state camera.State
	decode(t, env.do(t, http.MethodPost, "/api/camera/flash", nil), &state)
	if !state.FlashEnabled {
		t.Errorf("フラッシュが有効になるべきです: %+v", state)
	}

	decode(t, env.do(t, http.MethodPost, "/api/camera/lens", nil), &state)
	if state.Lens != camera.LensFront || state.FlashAvailable {
		t.Errorf("unexpected state after toggle: %+v", state)
	}
	if rec := env.do(t, http.MethodPost, "/api/camera/flash", nil); rec.Code != http.StatusConflict {
		t.Errorf("前面カメラのフラッシュは 409 になるべきです: %d", rec.Code)
	}

	decode(t, env.do(t, http.MethodPost, "/api/camera/lens", []byte(`{"lens":"back"}`)), &state)
	if state.Lens != camera.LensBack {
		t.Errorf("Expected back lens, got %s", state.Lens)
	}
	if rec := env.do(t, http.MethodPost, "/api/camera/lens", []byte(`{"lens":"side"}`)); rec.Code != http.StatusBadRequest {
		t.Errorf("不正なレンズは 400 になるべきです: %d", rec.Code)
	}

	decode(t, env.do(t, http.MethodPost, "/api/camera/zoom", []byte(`{"scale":10}`)), &state)
	if state.Zoom != camera.DefaultMaxZoom {
		t.Errorf("Expected zoom %v, got %v", camera.DefaultMaxZoom, state.Zoom)
	}
	if rec := env.do(t, http.MethodPost, "/api/camera/zoom", []byte(`{"scale":0}`)); rec.Code != http.StatusBadRequest {
		t.Errorf("不正な倍率は 400 になるべきです: %d", rec.Code)
	}

	var orientation OrientationResponse
	decode(t, env.do(t, http.MethodPost, "/api/camera/orientation", []byte(`{"degrees":180}`)), &orientation)
	if !orientation.Changed || orientation.State.Rotation != camera.Rotation180 {
		t.Errorf("unexpected orientation: %+v", orientation)
	}
}

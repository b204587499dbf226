package server

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"democamera/internal/camera"
	"democamera/internal/gallery"
	"democamera/internal/media"
	"democamera/internal/mediaindex"
	"democamera/internal/merge"
	"democamera/internal/recording"
)

// ErrorResponse はエラー時のレスポンス
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse はヘルスチェックのレスポンス
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusResponse はシステム状態のレスポンス
type StatusResponse struct {
	Status    string     `json:"status"`
	Server    ServerInfo `json:"server"`
	MediaDir  string     `json:"media_dir"`
	Media     string     `json:"media"` // ファイル数の表示文字列
	Recording bool       `json:"recording"`
	Timestamp time.Time  `json:"timestamp"`
}

// ServerInfo はサーバーの情報
type ServerInfo struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// MediaListResponse はメディア一覧のレスポンス
type MediaListResponse struct {
	Items []gallery.Item `json:"items"`
	Label string         `json:"label"`
}

// MediaInfoResponse はメディア詳細のレスポンス
type MediaInfoResponse struct {
	Item  gallery.Item `json:"item"`
	Media *media.Info  `json:"media,omitempty"`
}

// MergeRequest は結合リクエスト
// ファイル名はメディアディレクトリ内の名前で指定する
type MergeRequest struct {
	Output string   `json:"output"`
	Inputs []string `json:"inputs"`
}

// LensRequest はレンズ切り替えリクエスト
// Lens が空の場合は背面・前面を切り替える
type LensRequest struct {
	Lens string `json:"lens"`
}

// ZoomRequest はピンチ操作のリクエスト
type ZoomRequest struct {
	Scale float64 `json:"scale"`
}

// OrientationRequest は端末の向きの通知
type OrientationRequest struct {
	Degrees int `json:"degrees"`
}

// OrientationResponse は向き更新のレスポンス
type OrientationResponse struct {
	State   camera.State `json:"state"`
	Changed bool         `json:"changed"`
}

// handleHealth はヘルスチェックエンドポイント
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// handleStatus はステータス確認エンドポイント
func (s *Server) handleStatus(c *gin.Context) {
	items, err := s.deps.Gallery.List()
	if err != nil {
		s.respondError(c, err)
		return
	}
	_, recording := s.deps.Recordings.Active()

	c.JSON(http.StatusOK, StatusResponse{
		Status: "running",
		Server: ServerInfo{
			Host: s.config.Server.Host,
			Port: s.config.Server.Port,
		},
		MediaDir:  s.deps.Gallery.Dir(),
		Media:     gallery.CountLabel(len(items)),
		Recording: recording,
		Timestamp: time.Now(),
	})
}

// handleListMedia はメディア一覧を新しい順に返す
func (s *Server) handleListMedia(c *gin.Context) {
	items, err := s.deps.Gallery.List()
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, MediaListResponse{
		Items: items,
		Label: gallery.CountLabel(len(items)),
	})
}

// handleGetMedia はメディアファイルを配信する
func (s *Server) handleGetMedia(c *gin.Context) {
	item, err := s.deps.Gallery.Get(c.Param("name"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.Header("Content-Type", item.MIME)
	c.File(item.Path)
}

// handleMediaInfo はメディアファイルの詳細を返す
// 動画の場合はトラック情報も含める
func (s *Server) handleMediaInfo(c *gin.Context) {
	item, err := s.deps.Gallery.Get(c.Param("name"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	resp := MediaInfoResponse{Item: item}
	if item.Kind == gallery.KindVideo {
		info, err := media.Probe(s.deps.Container, item.Path)
		if err != nil {
			s.respondError(c, err)
			return
		}
		resp.Media = info
	}
	c.JSON(http.StatusOK, resp)
}

// handleDeleteMedia はメディアファイルを削除する
func (s *Server) handleDeleteMedia(c *gin.Context) {
	item, err := s.deps.Gallery.Get(c.Param("name"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if err := s.deps.Gallery.Delete(item.Name); err != nil {
		s.respondError(c, err)
		return
	}

	if s.deps.Index != nil {
		if err := s.deps.Index.Remove(c.Request.Context(), item.Path); err != nil && !errors.Is(err, mediaindex.ErrNotFound) {
			logrus.WithError(err).WithField("path", item.Path).Warn("インデックスからの削除に失敗しました")
		}
	}
	c.Status(http.StatusNoContent)
}

// handleCapturePhoto は写真を保存する
// multipart の photo フィールド、またはリクエストボディをそのまま保存する
func (s *Server) handleCapturePhoto(c *gin.Context) {
	body := io.Reader(c.Request.Body)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		file, err := c.FormFile("photo")
		if err != nil {
			s.respondError(c, badRequest("photo フィールドがありません"))
			return
		}
		f, err := file.Open()
		if err != nil {
			s.respondError(c, err)
			return
		}
		defer f.Close()
		body = f
	}

	var item gallery.Item
	err := s.deps.Camera.TorchForCapture(func() error {
		var err error
		item, err = s.deps.Gallery.SavePhoto(body)
		return err
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	s.register(c, item.Path, item.MIME)
	c.JSON(http.StatusCreated, item)
}

// handleListIndex は登録済みのメディアを返す
func (s *Server) handleListIndex(c *gin.Context) {
	if s.deps.Index == nil {
		c.JSON(http.StatusOK, []mediaindex.Entry{})
		return
	}
	entries, err := s.deps.Index.List(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// handleMerge はメディアディレクトリ内の動画を結合する
func (s *Server) handleMerge(c *gin.Context) {
	var req MergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, badRequest("リクエストの形式が不正です"))
		return
	}

	inputs := make([]string, 0, len(req.Inputs))
	for _, name := range req.Inputs {
		path, err := s.deps.Gallery.Path(name)
		if err != nil {
			s.respondError(c, err)
			return
		}
		inputs = append(inputs, path)
	}

	var output string
	if req.Output == "" {
		if err := s.deps.Gallery.EnsureDir(); err != nil {
			s.respondError(c, err)
			return
		}
		output = s.deps.Gallery.NewFilePath(gallery.PrefixVideoFinal, "mp4")
	} else {
		if !strings.EqualFold(filepath.Ext(req.Output), ".mp4") {
			s.respondError(c, badRequest("出力ファイルは .mp4 である必要があります"))
			return
		}
		path, err := s.deps.Gallery.Path(req.Output)
		if err != nil {
			s.respondError(c, err)
			return
		}
		output = path
	}

	result, err := s.deps.Merger.Merge(c.Request.Context(), output, inputs...)
	if err != nil {
		s.respondError(c, err)
		return
	}

	s.register(c, result.Output, recording.VideoMIME)
	c.JSON(http.StatusOK, result)
}

// handleStartRecording は録画を開始する
func (s *Server) handleStartRecording(c *gin.Context) {
	session, err := s.deps.Recordings.Start(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

// handleGetRecording は録画セッションの状態を返す
func (s *Server) handleGetRecording(c *gin.Context) {
	session, err := s.deps.Recordings.Get(c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// handleUploadSegment は録画中のセグメントを受け取る
//
// error クエリがある場合は録画エラーとしてセグメントを破棄する。
// finalize=true の場合は受け取った後にセグメントを確定する。
func (s *Server) handleUploadSegment(c *gin.Context) {
	id := c.Param("id")

	if recErr := c.Query("error"); recErr != "" {
		session, err := s.deps.Recordings.FinalizeSegment(id, errors.New(recErr))
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, session)
		return
	}

	session, err := s.deps.Recordings.UploadSegment(id, c.Request.Body)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if c.Query("finalize") == "true" {
		session, err = s.deps.Recordings.FinalizeSegment(id, nil)
		if err != nil {
			s.respondError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, session)
}

// handleSwitchCamera は録画中にカメラを切り替える
func (s *Server) handleSwitchCamera(c *gin.Context) {
	session, err := s.deps.Recordings.SwitchCamera(c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// handleStopRecording は録画を停止してセグメントを結合する
func (s *Server) handleStopRecording(c *gin.Context) {
	outcome, err := s.deps.Recordings.Stop(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// handleGetCamera はカメラ制御の状態を返す
func (s *Server) handleGetCamera(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Camera.Snapshot())
}

// handleSetLens はレンズを切り替える
func (s *Server) handleSetLens(c *gin.Context) {
	var req LensRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.respondError(c, badRequest("リクエストの形式が不正です"))
			return
		}
	}

	if req.Lens == "" {
		c.JSON(http.StatusOK, s.deps.Camera.ToggleLens())
		return
	}
	state, err := s.deps.Camera.SetLens(camera.Lens(req.Lens))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// handleToggleFlash はフラッシュの有効/無効を切り替える
func (s *Server) handleToggleFlash(c *gin.Context) {
	state, err := s.deps.Camera.ToggleFlash()
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// handleZoom はピンチ操作の倍率を反映する
func (s *Server) handleZoom(c *gin.Context) {
	var req ZoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, badRequest("リクエストの形式が不正です"))
		return
	}
	state, err := s.deps.Camera.Scale(req.Scale)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// handleOrientation は端末の向きを反映する
func (s *Server) handleOrientation(c *gin.Context) {
	var req OrientationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, badRequest("リクエストの形式が不正です"))
		return
	}
	state, changed := s.deps.Camera.UpdateOrientation(req.Degrees)
	c.JSON(http.StatusOK, OrientationResponse{State: state, Changed: changed})
}

// register は保存したファイルをメディアインデックスに登録する
func (s *Server) register(c *gin.Context, path, mime string) {
	if s.deps.Index == nil {
		return
	}
	if _, err := s.deps.Index.Register(c.Request.Context(), path, mime); err != nil {
		logrus.WithError(err).WithField("path", path).Warn("メディアの登録に失敗しました")
	}
}

// requestError はクライアント側の誤りを表す
type requestError struct {
	message string
}

func (e *requestError) Error() string { return e.message }

func badRequest(message string) error {
	return &requestError{message: message}
}

// respondError はエラーに対応するステータスコードでエラーレスポンスを返す
func (s *Server) respondError(c *gin.Context, err error) {
	status, code := classify(err)
	_ = c.Error(err)
	c.JSON(status, ErrorResponse{
		Error:     code,
		Message:   err.Error(),
		Timestamp: time.Now(),
	})
}

// classify はエラーをステータスコードとエラーコードに変換する
func classify(err error) (int, string) {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, gallery.ErrInvalidName):
		return http.StatusBadRequest, "invalid_name"
	case errors.Is(err, gallery.ErrNotFound):
		return http.StatusNotFound, "media_not_found"
	case errors.Is(err, merge.ErrNoInput), errors.Is(err, merge.ErrOutputIsInput):
		return http.StatusBadRequest, "invalid_merge_request"
	case errors.Is(err, merge.ErrNoTracks):
		return http.StatusUnprocessableEntity, "no_tracks"
	case errors.Is(err, recording.ErrSessionNotFound):
		return http.StatusNotFound, "recording_not_found"
	case errors.Is(err, recording.ErrAlreadyRecording), errors.Is(err, recording.ErrSessionClosed),
		errors.Is(err, recording.ErrNoActiveSegment):
		return http.StatusConflict, "recording_conflict"
	case errors.Is(err, camera.ErrInvalidLens), errors.Is(err, camera.ErrInvalidZoom):
		return http.StatusBadRequest, "invalid_camera_request"
	case errors.Is(err, camera.ErrFlashUnavailable):
		return http.StatusConflict, "flash_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

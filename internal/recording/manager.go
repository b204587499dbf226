package recording

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"democamera/internal/camera"
	"democamera/internal/gallery"
)

// Manager は録画セッションを管理するインターフェース
type Manager interface {
	// Start は新しい録画セッションを開始する
	Start(ctx context.Context) (Session, error)

	// Get はセッションのスナップショットを返す
	Get(id string) (Session, error)

	// Active は録画中のセッションを返す
	Active() (Session, bool)

	// UploadSegment は録画中のセグメントにデータを書き込む
	UploadSegment(id string, r io.Reader) (Session, error)

	// FinalizeSegment は録画中のセグメントを確定し、次のセグメントを払い出す
	FinalizeSegment(id string, recErr error) (Session, error)

	// SwitchCamera はセグメントを確定してレンズを切り替える
	SwitchCamera(id string) (Session, error)

	// Stop は録画を停止してセグメントを結合する
	Stop(ctx context.Context, id string) (Outcome, error)
}

// session は録画セッションの内部状態
type session struct {
	id        string
	status    Status
	startedAt time.Time
	endedAt   time.Time
	current   string
	next      int
	segments  []string
	dropped   int
}

// DefaultManager はManagerのデフォルト実装
type DefaultManager struct {
	gallery    *gallery.Gallery
	controller camera.Controller
	merger     Merger
	indexer    Indexer
	tracer     trace.Tracer

	sessions map[string]*session
	active   string
	mu       sync.RWMutex
	now      func() time.Time
}

// NewDefaultManager は新しいDefaultManagerを作成する
// indexer が nil の場合は登録を行わない
func NewDefaultManager(g *gallery.Gallery, controller camera.Controller, merger Merger, indexer Indexer) *DefaultManager {
	return &DefaultManager{
		gallery:    g,
		controller: controller,
		merger:     merger,
		indexer:    indexer,
		tracer:     otel.Tracer("democamera/internal/recording"),
		sessions:   make(map[string]*session),
		now:        time.Now,
	}
}

var _ Manager = (*DefaultManager)(nil)

// Start は新しい録画セッションを開始する
// 同時に録画できるのは1セッションのみ
func (m *DefaultManager) Start(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != "" {
		return Session{}, fmt.Errorf("%w: %s", ErrAlreadyRecording, m.active)
	}
	if err := m.gallery.EnsureDir(); err != nil {
		return Session{}, err
	}

	s := &session{
		id:        newSessionID(),
		status:    StatusRecording,
		startedAt: m.now(),
	}
	m.controller.SetRecording(true)
	m.allocate(s)

	m.sessions[s.id] = s
	m.active = s.id

	logrus.WithFields(logrus.Fields{
		"session": s.id,
		"segment": s.current,
	}).Info("録画を開始しました")
	return m.snapshot(s), nil
}

// Get はセッションのスナップショットを返す
func (m *DefaultManager) Get(id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return m.snapshot(s), nil
}

// Active は録画中のセッションを返す
func (m *DefaultManager) Active() (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.active == "" {
		return Session{}, false
	}
	return m.snapshot(m.sessions[m.active]), true
}

// UploadSegment は録画中のセグメントファイルに r の内容を書き込む
func (m *DefaultManager) UploadSegment(id string, r io.Reader) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.recording(id)
	if err != nil {
		return Session{}, err
	}
	if s.current == "" {
		return Session{}, ErrNoActiveSegment
	}

	tmp := s.current + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return Session{}, fmt.Errorf("セグメントファイルの作成に失敗: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return Session{}, fmt.Errorf("セグメントの書き込みに失敗: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return Session{}, fmt.Errorf("セグメントの書き込みに失敗: %w", err)
	}
	if err := os.Rename(tmp, s.current); err != nil {
		_ = os.Remove(tmp)
		return Session{}, fmt.Errorf("セグメントの保存に失敗: %w", err)
	}
	return m.snapshot(s), nil
}

// FinalizeSegment は録画中のセグメントを確定し、次のセグメントを払い出す
// recErr が nil でない場合はセグメントを破棄する
func (m *DefaultManager) FinalizeSegment(id string, recErr error) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.recording(id)
	if err != nil {
		return Session{}, err
	}
	if s.current == "" {
		return Session{}, ErrNoActiveSegment
	}

	m.finalize(s, recErr)
	m.allocate(s)
	return m.snapshot(s), nil
}

// SwitchCamera はセグメントを確定してレンズを切り替え、次のセグメントを払い出す
func (m *DefaultManager) SwitchCamera(id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.recording(id)
	if err != nil {
		return Session{}, err
	}

	if s.current != "" && fileExists(s.current) {
		m.finalize(s, nil)
	}
	state := m.controller.ToggleLens()
	m.allocate(s)

	logrus.WithFields(logrus.Fields{
		"session":  s.id,
		"lens":     state.Lens,
		"segments": len(s.segments),
	}).Info("録画中にカメラを切り替えました")
	return m.snapshot(s), nil
}

// Stop は録画を停止し、記録済みのセグメントを VIDEO_FINAL_<UNIXミリ秒>.mp4 に結合する
//
// 結合に失敗した場合はセグメントをそのまま残し、個別のファイルとして登録する。
func (m *DefaultManager) Stop(ctx context.Context, id string) (outcome Outcome, err error) {
	m.mu.Lock()
	s, err := m.recording(id)
	if err != nil {
		m.mu.Unlock()
		return Outcome{}, err
	}
	if s.current != "" {
		m.finalize(s, nil)
	}
	m.controller.SetRecording(false)
	s.status = StatusStopping
	m.active = ""
	segments := append([]string(nil), s.segments...)
	elapsed := m.now().Sub(s.startedAt)
	m.mu.Unlock()

	ctx, span := m.tracer.Start(ctx, "recording.Stop", trace.WithAttributes(
		attribute.String("recording.session", id),
		attribute.Int("recording.segments", len(segments)),
	))
	defer span.End()

	outcome = Outcome{
		SessionID: id,
		Files:     []string{},
		Elapsed:   FormatElapsed(elapsed),
	}

	switch {
	case len(segments) == 0:
		outcome.Message = "No video recorded"
	default:
		output := m.gallery.NewFilePath(gallery.PrefixVideoFinal, "mp4")
		result, mergeErr := m.merger.Merge(ctx, output, segments...)
		if mergeErr == nil {
			outcome.Merged = true
			outcome.Output = output
			outcome.Result = result
			outcome.Files = []string{output}
			outcome.Message = mergedMessage(true, len(segments))
		} else {
			span.RecordError(mergeErr)
			span.SetStatus(codes.Error, mergeErr.Error())
			logrus.WithError(mergeErr).WithField("session", id).Warn("セグメントの結合に失敗しました。個別に保存します")

			for _, segment := range segments {
				if fileExists(segment) {
					outcome.Files = append(outcome.Files, segment)
				}
			}
			outcome.Error = mergeErr.Error()
			outcome.Message = mergedMessage(false, len(outcome.Files))
		}
		m.register(ctx, outcome.Files)
	}

	m.mu.Lock()
	s.status = StatusCompleted
	s.endedAt = m.now()
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"session": id,
		"merged":  outcome.Merged,
		"files":   len(outcome.Files),
		"elapsed": outcome.Elapsed,
	}).Info("録画を停止しました")
	return outcome, nil
}

// register は保存したファイルをメディアインデックスに登録する
// 登録の失敗は保存済みのファイルに影響しないためログのみ
func (m *DefaultManager) register(ctx context.Context, files []string) {
	if m.indexer == nil {
		return
	}
	for _, file := range files {
		if _, err := m.indexer.Register(ctx, file, VideoMIME); err != nil {
			logrus.WithError(err).WithField("path", file).Warn("メディアの登録に失敗しました")
		}
	}
}

// recording は録画中のセッションを返す（ロック済み前提）
func (m *DefaultManager) recording(id string) (*session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if s.status != StatusRecording {
		return nil, fmt.Errorf("%w: %s", ErrSessionClosed, id)
	}
	return s, nil
}

// allocate は次のセグメントのパスを払い出す（ロック済み前提）
func (m *DefaultManager) allocate(s *session) {
	s.next++
	prefix := gallery.PrefixVideoSegment + "_" + strconv.Itoa(s.next)
	s.current = m.gallery.NewFilePath(prefix, "mp4")
}

// finalize は録画中のセグメントを確定する（ロック済み前提）
func (m *DefaultManager) finalize(s *session, recErr error) {
	segment := s.current
	s.current = ""

	switch {
	case recErr != nil:
		s.dropped++
		if err := os.Remove(segment); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logrus.WithError(err).WithField("segment", segment).Warn("破棄したセグメントの削除に失敗しました")
		}
		logrus.WithError(recErr).WithFields(logrus.Fields{
			"session": s.id,
			"segment": segment,
		}).Warn("録画エラーのためセグメントを破棄しました")
	case !fileExists(segment):
		s.dropped++
		logrus.WithFields(logrus.Fields{
			"session": s.id,
			"segment": segment,
		}).Warn("セグメントファイルがありません")
	default:
		s.segments = append(s.segments, segment)
		logrus.WithFields(logrus.Fields{
			"session": s.id,
			"segment": segment,
		}).Debug("セグメントを確定しました")
	}
}

// snapshot はセッションのコピーを返す（ロック済み前提）
func (m *DefaultManager) snapshot(s *session) Session {
	end := m.now()
	out := Session{
		ID:             s.id,
		Status:         s.status,
		Lens:           m.controller.Snapshot().Lens,
		StartedAt:      s.startedAt,
		CurrentSegment: s.current,
		Segments:       append([]string{}, s.segments...),
		Dropped:        s.dropped,
	}
	if !s.endedAt.IsZero() {
		endedAt := s.endedAt
		out.EndedAt = &endedAt
		end = endedAt
	}
	out.Elapsed = FormatElapsed(end.Sub(s.startedAt))
	return out
}

func newSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return SessionIDPrefix + strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	return SessionIDPrefix + id.String()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

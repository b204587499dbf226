package camera

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultController はControllerのデフォルト実装
type DefaultController struct {
	state State
	mu    sync.RWMutex
	now   func() time.Time
}

// NewDefaultController は新しいDefaultControllerを作成する
func NewDefaultController(settings Settings) *DefaultController {
	if settings.MinZoom <= 0 {
		settings.MinZoom = DefaultMinZoom
	}
	if settings.MaxZoom < settings.MinZoom {
		settings.MaxZoom = math.Max(DefaultMaxZoom, settings.MinZoom)
	}
	lens, err := ParseLens(string(settings.DefaultLens))
	if err != nil {
		lens = LensBack
	}

	c := &DefaultController{now: time.Now}
	c.state = State{
		Lens:     lens,
		Zoom:     settings.MinZoom,
		MinZoom:  settings.MinZoom,
		MaxZoom:  settings.MaxZoom,
		Rotation: Rotation0,
	}
	c.applyPolicy()
	return c
}

var _ Controller = (*DefaultController)(nil)

// Snapshot は現在の状態のコピーを返す
func (c *DefaultController) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// ToggleLens は背面・前面を切り替える
func (c *DefaultController) ToggleLens() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Lens == LensBack {
		c.setLens(LensFront)
	} else {
		c.setLens(LensBack)
	}
	return c.state
}

// SetLens はレンズを指定する
func (c *DefaultController) SetLens(lens Lens) (State, error) {
	if _, err := ParseLens(string(lens)); err != nil {
		return c.Snapshot(), fmt.Errorf("%w: %q", err, lens)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Lens != lens {
		c.setLens(lens)
	}
	return c.state, nil
}

// setLens はレンズを変更する（ロック済み前提）
func (c *DefaultController) setLens(lens Lens) {
	c.state.Lens = lens
	// レンズが変わるとズームは初期値に戻る
	c.state.Zoom = c.state.MinZoom
	c.applyPolicy()

	logrus.WithFields(logrus.Fields{
		"lens":  lens,
		"torch": c.state.Torch,
	}).Info("カメラを切り替えました")
}

// ToggleFlash はフラッシュの有効/無効を切り替える
// 前面カメラではフラッシュを使えない
func (c *DefaultController) ToggleFlash() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.FlashAvailable {
		return c.state, ErrFlashUnavailable
	}
	c.state.FlashEnabled = !c.state.FlashEnabled
	c.applyPolicy()
	return c.state, nil
}

// SetRecording は録画中かどうかを設定する
// フラッシュ有効時は録画中だけトーチを点灯する
func (c *DefaultController) SetRecording(recording bool) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.Recording = recording
	c.applyPolicy()
	return c.state
}

// TorchForCapture はフラッシュ有効時にトーチを点灯して capture を実行し、終わったら元に戻す
func (c *DefaultController) TorchForCapture(capture func() error) error {
	c.mu.Lock()
	useTorch := c.state.FlashEnabled && c.state.FlashAvailable
	if useTorch {
		c.state.Torch = true
		c.touch()
	}
	c.mu.Unlock()

	err := capture()

	if useTorch {
		c.mu.Lock()
		c.applyPolicy()
		c.mu.Unlock()
	}
	return err
}

// Scale はピンチ操作の倍率を現在のズームに掛けて範囲内に収める
func (c *DefaultController) Scale(factor float64) (State, error) {
	if factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return c.Snapshot(), fmt.Errorf("%w: %v", ErrInvalidZoom, factor)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.Zoom = clamp(c.state.Zoom*factor, c.state.MinZoom, c.state.MaxZoom)
	c.touch()
	return c.state, nil
}

// UpdateOrientation は端末の向きから画面の回転を更新する
// 向きが不明な場合は無視し、回転が変わった場合のみ true を返す
func (c *DefaultController) UpdateOrientation(degrees int) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if degrees == OrientationUnknown {
		return c.state, false
	}

	rotation := SurfaceRotation(degrees)
	if rotation == c.state.Rotation {
		return c.state, false
	}
	c.state.Rotation = rotation
	c.touch()
	return c.state, true
}

// applyPolicy はフラッシュとトーチの状態をレンズ・録画状態に合わせる（ロック済み前提）
func (c *DefaultController) applyPolicy() {
	c.state.FlashAvailable = c.state.Lens == LensBack
	c.state.Torch = c.state.FlashAvailable && c.state.FlashEnabled && c.state.Recording
	c.touch()
}

func (c *DefaultController) touch() {
	c.state.UpdatedAt = c.now()
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

package gallery

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultDir はメディアディレクトリの既定値
const DefaultDir = "data/DCIM/Camera app"

// ファイル名の接頭辞
const (
	PrefixPhoto        = "PHOTO"
	PrefixVideoSegment = "VIDEO_SEGMENT"
	PrefixVideoFinal   = "VIDEO_FINAL"
)

// ギャラリーのエラー
var (
	ErrNotFound    = errors.New("media file not found")
	ErrInvalidName = errors.New("invalid media file name")
)

// Kind はメディアの種別
type Kind string

const (
	KindPhoto Kind = "photo"
	KindVideo Kind = "video"
)

// mediaType は拡張子に対応する種別とMIMEタイプ
type mediaType struct {
	kind Kind
	mime string
}

// extensions は一覧に含める拡張子
var extensions = map[string]mediaType{
	".jpg":  {KindPhoto, "image/jpeg"},
	".jpeg": {KindPhoto, "image/jpeg"},
	".png":  {KindPhoto, "image/png"},
	".mp4":  {KindVideo, "video/mp4"},
}

// Item はメディアファイルの情報
type Item struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Kind     Kind      `json:"kind"`
	MIME     string    `json:"mime"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// Gallery はメディアディレクトリを管理する
type Gallery struct {
	dir string
	now func() time.Time

	mu         sync.Mutex
	lastMillis int64 // 最後に払い出したファイル名の時刻
}

// New は新しいGalleryを作成する
func New(dir string) *Gallery {
	if dir == "" {
		dir = DefaultDir
	}
	return &Gallery{
		dir: dir,
		now: time.Now,
	}
}

// Dir はメディアディレクトリのパスを返す
func (g *Gallery) Dir() string {
	return g.dir
}

// EnsureDir はメディアディレクトリを作成する
func (g *Gallery) EnsureDir() error {
	if err := os.MkdirAll(g.dir, 0755); err != nil {
		return fmt.Errorf("メディアディレクトリの作成に失敗: %w", err)
	}
	return nil
}

// List はメディアファイルを更新日時の新しい順に返す
// ディレクトリが無い場合は空の一覧を返す
func (g *Gallery) List() ([]Item, error) {
	entries, err := os.ReadDir(g.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Item{}, nil
		}
		return nil, fmt.Errorf("メディアディレクトリの読み込みに失敗: %w", err)
	}

	items := make([]Item, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if _, ok := lookup(entry.Name()); !ok {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// 一覧取得中に削除された場合
			logrus.WithError(err).WithField("name", entry.Name()).Debug("ファイル情報の取得に失敗")
			continue
		}
		items = append(items, g.item(info))
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Modified.Equal(items[j].Modified) {
			return items[i].Name > items[j].Name
		}
		return items[i].Modified.After(items[j].Modified)
	})

	return items, nil
}

// Get は指定した名前のメディアファイルを返す
func (g *Gallery) Get(name string) (Item, error) {
	path, err := g.Path(name)
	if err != nil {
		return Item{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Item{}, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return Item{}, err
	}
	if !info.Mode().IsRegular() {
		return Item{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return g.item(info), nil
}

// Delete は指定した名前のメディアファイルを削除する
func (g *Gallery) Delete(name string) error {
	item, err := g.Get(name)
	if err != nil {
		return err
	}
	if err := os.Remove(item.Path); err != nil {
		return fmt.Errorf("ファイルの削除に失敗: %w", err)
	}

	logrus.WithField("name", name).Info("メディアファイルを削除しました")
	return nil
}

// Path は名前を検証してディレクトリ内のパスを返す
func (g *Gallery) Path(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(g.dir, name), nil
}

// NewFilePath は <PREFIX>_<UNIXミリ秒>.<ext> 形式の新しいファイルパスを返す
// 同じミリ秒に払い出した場合や同名のファイルがある場合は時刻を進める
func (g *Gallery) NewFilePath(prefix, ext string) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ext = strings.TrimPrefix(ext, ".")
	millis := g.now().UnixMilli()
	if millis <= g.lastMillis {
		millis = g.lastMillis + 1
	}

	for {
		path := filepath.Join(g.dir, prefix+"_"+strconv.FormatInt(millis, 10)+"."+ext)
		if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
			g.lastMillis = millis
			return path
		}
		millis++
	}
}

// SavePhoto は写真を PHOTO_<UNIXミリ秒>.jpg として保存する
func (g *Gallery) SavePhoto(r io.Reader) (Item, error) {
	if err := g.EnsureDir(); err != nil {
		return Item{}, err
	}

	path := g.NewFilePath(PrefixPhoto, "jpg")
	tmp := path + ".part"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return Item{}, fmt.Errorf("写真ファイルの作成に失敗: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return Item{}, fmt.Errorf("写真の書き込みに失敗: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return Item{}, fmt.Errorf("写真の書き込みに失敗: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return Item{}, fmt.Errorf("写真の保存に失敗: %w", err)
	}

	logrus.WithField("path", path).Info("写真を保存しました")
	return g.Get(filepath.Base(path))
}

func (g *Gallery) item(info fs.FileInfo) Item {
	ext, _ := lookup(info.Name())
	return Item{
		Name:     info.Name(),
		Path:     filepath.Join(g.dir, info.Name()),
		Kind:     ext.kind,
		MIME:     ext.mime,
		Size:     info.Size(),
		Modified: info.ModTime(),
	}
}

// CountLabel はファイル数の表示文字列を返す
func CountLabel(n int) string {
	switch n {
	case 0:
		return "No files yet"
	case 1:
		return "1 file"
	default:
		return fmt.Sprintf("%d files", n)
	}
}

// KindOf はファイル名の拡張子からメディア種別を返す
func KindOf(name string) (Kind, bool) {
	ext, ok := lookup(name)
	return ext.kind, ok
}

// MIMEType はファイル名の拡張子からMIMEタイプを返す
func MIMEType(name string) string {
	if ext, ok := lookup(name); ok {
		return ext.mime
	}
	return "application/octet-stream"
}

// ValidateName はディレクトリ外を指すファイル名を拒否する
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`), strings.Contains(name, ".."):
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func lookup(name string) (mediaType, bool) {
	ext, ok := extensions[strings.ToLower(filepath.Ext(name))]
	return ext, ok
}

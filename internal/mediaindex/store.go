package mediaindex

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// ErrNotFound は登録されていないパスを指定した場合のエラー
var ErrNotFound = errors.New("media not registered")

// Entry はインデックスに登録されたメディア
type Entry struct {
	Path         string    `json:"path"`
	MIME         string    `json:"mime"`
	Size         int64     `json:"size"`
	ModifiedAt   time.Time `json:"modified_at"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Store はメディアインデックスをSQLiteに保存する
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open はSQLiteのインデックスを開き、テーブルを作成する
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("インデックスのパスが指定されていません")
	}
	cleanPath := filepath.Clean(path)
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("インデックスのディレクトリ作成に失敗: %w", err)
		}
	}

	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("インデックスのオープンに失敗: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("インデックスへの接続に失敗: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("テーブルの作成に失敗: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close はデータベースを閉じる
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Register はファイルを調べてインデックスに登録する
// 登録済みの場合はサイズ・更新日時・登録日時を更新する
func (s *Store) Register(ctx context.Context, path, mime string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return Entry{}, fmt.Errorf("パスの解決に失敗: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Entry{}, fmt.Errorf("ファイル情報の取得に失敗: %w", err)
	}
	if !info.Mode().IsRegular() {
		return Entry{}, fmt.Errorf("通常のファイルではありません: %s", abs)
	}

	entry := Entry{
		Path:         abs,
		MIME:         mime,
		Size:         info.Size(),
		ModifiedAt:   info.ModTime().UTC().Truncate(time.Millisecond),
		RegisteredAt: s.now().UTC().Truncate(time.Millisecond),
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO media (path, mime, size, modified_at, registered_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
		   mime = excluded.mime,
		   size = excluded.size,
		   modified_at = excluded.modified_at,
		   registered_at = excluded.registered_at`,
		entry.Path,
		entry.MIME,
		entry.Size,
		toMillis(entry.ModifiedAt),
		toMillis(entry.RegisteredAt),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("インデックスへの登録に失敗: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"path": entry.Path,
		"mime": entry.MIME,
		"size": entry.Size,
	}).Info("メディアをインデックスに登録しました")

	return entry, nil
}

// Get は登録済みのメディアを返す
func (s *Store) Get(ctx context.Context, path string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return Entry{}, fmt.Errorf("パスの解決に失敗: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT path, mime, size, modified_at, registered_at FROM media WHERE path = ?`,
		abs,
	)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, abs)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("インデックスの読み込みに失敗: %w", err)
	}
	return entry, nil
}

// List は登録済みのメディアを登録日時の新しい順に返す
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT path, mime, size, modified_at, registered_at FROM media
		 ORDER BY registered_at DESC, path ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("インデックスの読み込みに失敗: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("インデックスの読み込みに失敗: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("インデックスの読み込みに失敗: %w", err)
	}
	return entries, nil
}

// Remove は登録を削除する
func (s *Store) Remove(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("パスの解決に失敗: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM media WHERE path = ?`, abs)
	if err != nil {
		return fmt.Errorf("インデックスからの削除に失敗: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("インデックスからの削除に失敗: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, abs)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		entry        Entry
		modifiedAt   int64
		registeredAt int64
	)
	if err := row.Scan(&entry.Path, &entry.MIME, &entry.Size, &modifiedAt, &registeredAt); err != nil {
		return Entry{}, err
	}
	entry.ModifiedAt = fromMillis(modifiedAt)
	entry.RegisteredAt = fromMillis(registeredAt)
	return entry, nil
}

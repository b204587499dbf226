package merge

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
)

// move はファイルを移動する
// 別のファイルシステムへの移動はコピーしてから元を削除する
func move(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return err
	}

	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

// copyFile はファイルの内容をそのままコピーする
func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close()
	}()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := out.Close(); err == nil && closeErr != nil {
			err = closeErr
		}
		if err != nil {
			_ = os.Remove(dst) // 中途半端なコピーは残さない
		}
	}()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("コピーに失敗: %w", err)
	}
	return out.Sync()
}

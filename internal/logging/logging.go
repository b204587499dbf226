// Package logging はlogrusの出力形式とレベルを設定する
package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// 出力形式
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Setup は標準ロガーのレベルと出力形式を設定する
func Setup(level, format string, out io.Writer) error {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return fmt.Errorf("ログレベルの解析に失敗: %w", err)
	}

	formatter, err := NewFormatter(format)
	if err != nil {
		return err
	}

	logrus.SetLevel(lvl)
	logrus.SetFormatter(formatter)
	if out != nil {
		logrus.SetOutput(out)
	}
	return nil
}

// NewFormatter は出力形式に対応するFormatterを返す
func NewFormatter(format string) (logrus.Formatter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatText:
		return &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
		}, nil
	case FormatJSON:
		return &logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		}, nil
	default:
		return nil, fmt.Errorf("未対応のログ形式です: %s", format)
	}
}

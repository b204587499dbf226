package mp4

import "democamera/internal/media"

// Container はMP4ファイルの media.Container 実装
type Container struct{}

var _ media.Container = Container{}

// OpenDemuxer はファイルを開いてDemuxerを返す
func (Container) OpenDemuxer(path string) (media.Demuxer, error) {
	d, err := Open(path)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// CreateMuxer はファイルを作成してMuxerを返す
func (Container) CreateMuxer(path string) (media.Muxer, error) {
	m, err := Create(path)
	if err != nil {
		return nil, err
	}
	return m, nil
}

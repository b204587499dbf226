package mp4

import "time"

// DefaultTimescale はタイムスケール未指定のトラックに使う値（マイクロ秒）
const DefaultTimescale = 1_000_000

// toTicks は時間をタイムスケールのティックに変換する（四捨五入）
func toTicks(d time.Duration, timescale uint32) int64 {
	if d < 0 {
		return -toTicks(-d, timescale)
	}
	ts := int64(timescale)
	sec := int64(time.Second)
	q := int64(d) / sec
	r := int64(d) % sec
	return q*ts + (r*ts+sec/2)/sec
}

// fromTicks はティックを時間に変換する（四捨五入）
func fromTicks(ticks int64, timescale uint32) time.Duration {
	if ticks < 0 {
		return -fromTicks(-ticks, timescale)
	}
	ts := int64(timescale)
	sec := int64(time.Second)
	q := ticks / ts
	r := ticks % ts
	return time.Duration(q*sec + (r*sec+ts/2)/ts)
}

package store

import (
	"os"
	"time"
)

// fileTimes holds the timestamps used to date a payload without a sidecar.
// A zero birth time means the filesystem does not record one.
type fileTimes struct {
	birth time.Time
	mod   time.Time
}

func statTimes(path string) (fileTimes, error) {
	info, err := os.Stat(path)
	if err != nil {
		return fileTimes{}, err
	}
	return fileTimes{birth: birthTime(path, info), mod: info.ModTime()}, nil
}

//go:build darwin

package store

import (
	"os"
	"syscall"
	"time"
)

func birthTime(_ string, info os.FileInfo) time.Time {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return time.Time{}
	}
	return time.Unix(st.Birthtimespec.Unix())
}

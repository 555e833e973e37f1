//go:build !linux && !darwin

package store

import (
	"os"
	"time"
)

func birthTime(string, os.FileInfo) time.Time {
	return time.Time{}
}

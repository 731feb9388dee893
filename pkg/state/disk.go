package state

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// DiskStats reports available and total bytes on the filesystem holding path.
func DiskStats(path string) (available, total uint64, err error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return st.Bavail * uint64(st.Bsize), st.Blocks * uint64(st.Bsize), nil
}

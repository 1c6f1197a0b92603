//go:build linux || darwin

package action

import "golang.org/x/sys/unix"

// diskUsage reports total and available bytes for the filesystem holding path.
func diskUsage(path string) (total, free uint64, err error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0, err
	}
	return st.Blocks * uint64(st.Bsize), st.Bavail * uint64(st.Bsize), nil
}

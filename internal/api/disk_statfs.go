//go:build linux || darwin

package api

import "syscall"

func diskUsage(path string) DiskUsage {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return DiskUsage{}
	}
	bsize := uint64(st.Bsize)
	total := st.Blocks * bsize
	free := st.Bavail * bsize
	return DiskUsage{Total: total, Used: total - st.Bfree*bsize, Free: free}
}

package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// WatchWarning reports why file change notifications may not arrive for
// path, or "" when they should. Only Linux network and 9p mounts (WSL2
// Windows drives) are recognized.
func WatchWarning(path string) string {
	if runtime.GOOS != "linux" {
		return ""
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return ""
	}
	mounts, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return ""
	}
	return fsWarning(mountFSType(string(mounts), absPath))
}

// mountFSType returns the filesystem type of the longest mount point in
// mounts (the /proc/mounts format) that contains absPath.
func mountFSType(mounts, absPath string) string {
	var matched, fsType string
	for _, line := range strings.Split(mounts, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		mountPoint := fields[1]
		if !withinMount(absPath, mountPoint) || len(mountPoint) <= len(matched) {
			continue
		}
		matched, fsType = mountPoint, fields[2]
	}
	return fsType
}

func withinMount(path, mountPoint string) bool {
	if mountPoint == "/" || path == mountPoint {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(mountPoint, "/")+"/")
}

func fsWarning(fsType string) string {
	switch {
	case fsType == "9p":
		return "config is on a 9p mount (WSL2 Windows filesystem): live reload is unavailable, restart to apply changes"
	case fsType == "nfs" || fsType == "nfs4":
		return "config is on an NFS mount: live reload may be unreliable"
	case fsType == "cifs" || fsType == "smbfs" || fsType == "smb3":
		return "config is on a CIFS/SMB mount: live reload may be unreliable"
	case strings.HasPrefix(fsType, "fuse.sshfs"):
		return "config is on an SSHFS mount: live reload is unavailable, restart to apply changes"
	}
	return ""
}

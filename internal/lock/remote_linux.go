//go:build linux

package lock

import (
	"fmt"
	"syscall"
)

// statfsKinds maps f_type magic numbers from statfs(2) to remoteKinds names.
var statfsKinds = map[uint32]string{
	0x6969:     "nfs",
	0x517B:     "smbfs",
	0xFF534D42: "cifs",
	0xFE534D42: "smb2",
	0x5346414F: "afs",
	0x00C36400: "ceph",
	0x01021997: "9p",
}

func filesystemKind(dir string) (string, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(dir, &st); err != nil {
		return "", err
	}
	magic := uint32(st.Type)
	if kind, ok := statfsKinds[magic]; ok {
		return kind, nil
	}
	return fmt.Sprintf("fs-%#x", magic), nil
}

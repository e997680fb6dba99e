package utils

import (
	"os"

	"golang.org/x/sys/unix"
)

// IOCtl はデバイスファイルに対して整数引数のioctlを発行する
func IOCtl(file *os.File, cmd uintptr, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, file.Fd(), cmd, arg)
	if errno != 0 {
		return errno
	}
	return nil
}

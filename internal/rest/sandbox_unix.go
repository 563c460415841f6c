//go:build linux || darwin
// +build linux darwin

// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.



package rest

import (
	"fmt"
	"io"
	"syscall"
)

// Confines the server to the given filesystem root and user id. An empty chroot or a negative
// setuid leave the respective setting unchanged. File patterns in requests are relative to the new root
func MakeSandbox(chroot string, setuid int, logWriter io.Writer) error {
	if len(chroot)>0 {
		fmt.Fprintf(logWriter, "Changing filesystem root to %s...\n", chroot)
		if err:=syscall.Chroot(chroot); err!=nil { return fmt.Errorf("chroot(%s): %w", chroot, err) }
		if err:=syscall.Chdir("/");     err!=nil { return fmt.Errorf("chdir(/) after chroot: %w", err) }
	}
	if setuid>=0 {
		fmt.Fprintf(logWriter, "Setting user id from %d/%d to %d\n", syscall.Getuid(), syscall.Geteuid(), setuid)
		if err:=syscall.Setuid(setuid); err!=nil { return fmt.Errorf("setuid(%d): %w", setuid, err) }
	}
	return nil
}

//go:build linux

package agent

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Harden locks the running process down once the credential is in memory:
//
//   - PR_SET_DUMPABLE=0: no core dumps, no /proc/<pid>/mem access from
//     other uids
//   - PR_SET_NO_NEW_PRIVS: required for seccomp without CAP_SYS_ADMIN
//   - Seccomp BPF filter: blocks ptrace(2) and process_vm_readv(2) so the
//     credential cannot be read out of this process's memory.
//
// Fails closed: a hardening error should abort startup.
func Harden() error {
	if err := unix.Prctl(unix.PR_SET_DUMPABLE, 0, 0, 0, 0); err != nil {
		return fmt.Errorf("harden: PR_SET_DUMPABLE: %w", err)
	}
	if err := installSeccompFilter(); err != nil {
		return fmt.Errorf("harden: install seccomp filter: %w", err)
	}
	return nil
}

// installSeccompFilter installs a BPF filter that rejects ptrace(2) and
// process_vm_readv(2) with EPERM. All other syscalls are allowed.
func installSeccompFilter() error {
	const (
		seccompRetAllow = 0x7fff0000
		seccompRetErrno = 0x00050000 // SECCOMP_RET_ERRNO
	)

	sysNumPtrace := uint32(unix.SYS_PTRACE)
	sysNumProcessVmReadv := uint32(unix.SYS_PROCESS_VM_READV)

	filter := []unix.SockFilter{
		// Load syscall number (offset 0 in seccomp_data)
		{Code: unix.BPF_LD | unix.BPF_W | unix.BPF_ABS, K: 0},
		// if nr == ptrace → goto deny
		{Code: unix.BPF_JMP | unix.BPF_JEQ | unix.BPF_K, K: sysNumPtrace, Jt: 2},
		// if nr == process_vm_readv → goto deny
		{Code: unix.BPF_JMP | unix.BPF_JEQ | unix.BPF_K, K: sysNumProcessVmReadv, Jt: 1},
		// allow
		{Code: unix.BPF_RET | unix.BPF_K, K: seccompRetAllow},
		// deny: return EPERM (errno 1)
		{Code: unix.BPF_RET | unix.BPF_K, K: seccompRetErrno | 1},
	}

	prog := unix.SockFprog{
		Len:    uint16(len(filter)),
		Filter: &filter[0],
	}

	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("PR_SET_NO_NEW_PRIVS: %w", err)
	}

	_, _, errno := unix.RawSyscall(
		unix.SYS_SECCOMP,
		1, // SECCOMP_SET_MODE_FILTER
		0, // flags
		uintptr(unsafe.Pointer(&prog)),
	)
	if errno != 0 {
		return fmt.Errorf("SECCOMP_SET_MODE_FILTER: %v", errno)
	}

	return nil
}

package seccomp

import (
	"encoding/json"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

func baseSyscalls(b *ProfileBuilder) *ProfileBuilder {
	return b.
		AllowSyscalls(
			"read", "write", "readv", "writev", "pread64", "pwrite64",
			"open", "openat", "close", "lseek",
			"stat", "fstat", "lstat", "newfstatat",
			"access", "faccessat", "faccessat2",
			"dup", "dup2", "dup3",
			"fcntl",
			"poll", "ppoll", "select", "pselect6",
			"pipe", "pipe2",
			"readlink", "readlinkat",
			"getdents64",
		).
		AllowSyscalls(
			"brk", "mmap", "munmap", "mprotect", "mremap",
			"madvise",
		).
		AllowSyscalls(
			"execve", "execveat",
			"exit", "exit_group",
			"wait4", "waitid",
			"clone", "clone3",
			"vfork",
			"set_tid_address",
			"set_robust_list", "get_robust_list",
		).
		AllowSyscalls(
			"futex",
			"gettid",
			"tgkill",
			"rt_sigaction", "rt_sigprocmask", "rt_sigreturn",
			"sigaltstack",
		).
		AllowSyscalls(
			"clock_gettime", "clock_getres",
			"gettimeofday",
			"nanosleep", "clock_nanosleep",
		).
		AllowSyscalls(
			"getpid", "getppid",
			"getuid", "geteuid",
			"getgid", "getegid",
			"uname",
			"getcwd",
		).
		AllowSyscalls(
			"epoll_create1", "epoll_ctl", "epoll_wait", "epoll_pwait",
			"eventfd2",
		).
		AllowSyscalls(
			"getrandom",
			"arch_prctl",
			"prctl",
			"ioctl",
			"sysinfo",
			"getrlimit", "prlimit64",
			"umask",
			"chmod", "fchmod", "fchmodat",
			"chdir", "fchdir",
			"rename", "renameat", "renameat2",
			"unlink", "unlinkat",
			"mkdir", "mkdirat",
			"rmdir",
			"ftruncate",
			"fallocate",
			"fsync", "fdatasync",
			"flock",
			"statfs", "fstatfs",
			"statx",
			"memfd_create",
			"copy_file_range",
		)
}

func dangerousSyscalls(b *ProfileBuilder) *ProfileBuilder {
	return b.
		TrapSyscalls(
			"ptrace",
			"process_vm_readv", "process_vm_writev",
			"keyctl",
			"add_key", "request_key",
			"bpf",
			"perf_event_open",
			"userfaultfd",
			"kexec_load", "kexec_file_load",
			"finit_module", "init_module", "delete_module",
		).
		BlockSyscalls(
			"socket", "socketpair", "connect", "bind", "listen",
			"accept", "accept4",
			"mount", "umount2", "pivot_root",
			"reboot",
			"swapon", "swapoff",
			"sethostname", "setdomainname",
			"setns", "unshare",
			"acct",
			"settimeofday", "adjtimex", "clock_adjtime",
			"personality",
			"ioperm", "iopl",
		)
}

// Profile returns the deny-by-default seccomp profile used for every
// sandboxed execution: enough syscalls for the Python, Node, Go and shell
// runtimes, with network and introspection syscalls excluded.
func Profile() *specs.LinuxSeccomp {
	b := NewBuilder()
	b = baseSyscalls(b)
	b = dangerousSyscalls(b)
	return b.Build()
}

// dockerProfile is the subset of Docker's seccomp file format the daemon
// needs to enforce the same filter as the OCI profile.
type dockerProfile struct {
	DefaultAction string          `json:"defaultAction"`
	Architectures []string        `json:"architectures"`
	Syscalls      []dockerSyscall `json:"syscalls"`
}

type dockerSyscall struct {
	Names  []string `json:"names"`
	Action string   `json:"action"`
}

var dockerActions = map[specs.LinuxSeccompAction]string{
	specs.ActAllow: "SCMP_ACT_ALLOW",
	specs.ActErrno: "SCMP_ACT_ERRNO",
	specs.ActTrap:  "SCMP_ACT_TRAP",
	specs.ActKill:  "SCMP_ACT_KILL",
}

var dockerArchs = map[specs.Arch]string{
	specs.ArchX86_64:  "SCMP_ARCH_X86_64",
	specs.ArchAARCH64: "SCMP_ARCH_AARCH64",
}

// DockerProfileJSON renders Profile in the JSON format Docker's
// --security-opt seccomp= flag expects.
func DockerProfileJSON() ([]byte, error) {
	oci := Profile()

	dp := dockerProfile{
		DefaultAction: dockerActions[oci.DefaultAction],
	}
	for _, arch := range oci.Architectures {
		if name, ok := dockerArchs[arch]; ok {
			dp.Architectures = append(dp.Architectures, name)
		}
	}
	for _, sc := range oci.Syscalls {
		dp.Syscalls = append(dp.Syscalls, dockerSyscall{
			Names:  sc.Names,
			Action: dockerActions[sc.Action],
		})
	}

	return json.MarshalIndent(dp, "", "  ")
}

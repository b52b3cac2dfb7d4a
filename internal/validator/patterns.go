package validator

import "regexp"

// Rule is one forbidden-pattern check. Any match is a hard reject naming
// the category; the sandbox remains the real enforcement layer behind it.
type Rule struct {
	Name     string
	Category string
	Message  string
	Regex    *regexp.Regexp
}

func rule(name, category, message, pattern string) Rule {
	return Rule{
		Name:     name,
		Category: category,
		Message:  message,
		Regex:    regexp.MustCompile(pattern),
	}
}

// defaultRules returns the per-language forbidden-pattern tables.
// Pattern scanning cannot prove the absence of dangerous behavior; it is
// paired with sandbox resource ceilings as defense in depth.
func defaultRules() map[string][]Rule {
	return map[string][]Rule{
		"python": {
			rule("python_os_import", "process",
				"importing os/subprocess is not allowed",
				`(?m)^\s*(import\s+(os|subprocess|ctypes)\b|from\s+(os|subprocess|ctypes)\b)`),
			rule("python_dunder_import", "dynamic-eval",
				"__import__ is not allowed",
				`__import__\s*\(`),
			rule("python_eval", "dynamic-eval",
				"eval/exec/compile of dynamic code is not allowed",
				`\b(eval|exec|compile)\s*\(`),
			rule("python_open", "filesystem",
				"direct file access is not allowed",
				`\bopen\s*\(`),
			rule("python_socket", "network",
				"network access is not allowed",
				`(?m)^\s*(import\s+socket\b|from\s+socket\b)`),
			rule("python_shutil", "filesystem",
				"filesystem manipulation modules are not allowed",
				`(?m)^\s*(import\s+(shutil|pathlib|glob)\b|from\s+(shutil|pathlib|glob)\b)`),
		},
		"javascript": {
			rule("js_child_process", "process",
				"child_process is not allowed",
				`require\s*\(\s*['"]child_process['"]\s*\)|from\s+['"]child_process['"]`),
			rule("js_fs", "filesystem",
				"fs module is not allowed",
				`require\s*\(\s*['"](fs|fs/promises)['"]\s*\)|from\s+['"](fs|fs/promises)['"]`),
			rule("js_net", "network",
				"network modules are not allowed",
				`require\s*\(\s*['"](net|http|https|dgram|tls)['"]\s*\)|from\s+['"](net|http|https|dgram|tls)['"]`),
			rule("js_eval", "dynamic-eval",
				"eval and the Function constructor are not allowed",
				`\beval\s*\(|new\s+Function\s*\(`),
			rule("js_process", "process",
				"process control is not allowed",
				`\bprocess\s*\.\s*(exit|kill|binding|dlopen)\b`),
		},
		"go": {
			rule("go_os_exec", "process",
				"os/exec is not allowed",
				`"os/exec"`),
			rule("go_net", "network",
				"net imports are not allowed",
				`"net(/http|/url)?"`),
			rule("go_syscall", "system",
				"syscall and unsafe are not allowed",
				`"(syscall|unsafe)"|"golang\.org/x/sys`),
			rule("go_os_file", "filesystem",
				"direct file access is not allowed",
				`\bos\.(Open|Create|Remove|RemoveAll|WriteFile|ReadFile|OpenFile)\b`),
		},
		"bash": {
			rule("bash_destructive_rm", "filesystem",
				"recursive deletes are not allowed",
				`\brm\s+(-[a-zA-Z]*[rf][a-zA-Z]*\s+)+`),
			rule("bash_network_tools", "network",
				"network tools are not allowed",
				`\b(curl|wget|nc|ncat|ssh|scp|telnet)\b`),
			rule("bash_device_paths", "system",
				"device and proc paths are not allowed",
				`/dev/(tcp|udp|mem|kmem|sd[a-z])|/proc/sys`),
			rule("bash_fork_bomb", "process",
				"fork constructs are not allowed",
				`:\(\)\s*\{\s*:\|\s*:`),
			rule("bash_shell_escape", "dynamic-eval",
				"eval of dynamic strings is not allowed",
				`\beval\b`),
		},
	}
}

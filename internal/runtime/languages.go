package runtime

// PythonRuntime configures execution of Python code.
type PythonRuntime struct{}

func (p *PythonRuntime) Name() string { return "python" }

func (p *PythonRuntime) Image() string { return "docker.io/library/python:3.12-slim" }

func (p *PythonRuntime) Command(codePath string) []string {
	return []string{
		"python3", "-u", // Unbuffered output
		"-B", // Don't write .pyc files
		"-I", // Isolated mode: ignore PYTHON* env and user site dirs
		codePath,
	}
}

func (p *PythonRuntime) FileExtension() string { return ".py" }

// JavaScriptRuntime configures execution of JavaScript under Node.js.
type JavaScriptRuntime struct{}

func (j *JavaScriptRuntime) Name() string { return "javascript" }

func (j *JavaScriptRuntime) Image() string { return "docker.io/library/node:20-slim" }

func (j *JavaScriptRuntime) Command(codePath string) []string {
	return []string{
		"node",
		"--max-old-space-size=256",                // Limit V8 heap
		"--disallow-code-generation-from-strings", // Block eval()
		codePath,
	}
}

func (j *JavaScriptRuntime) FileExtension() string { return ".js" }

// GoRuntime configures execution of Go code.
type GoRuntime struct{}

func (g *GoRuntime) Name() string { return "go" }

func (g *GoRuntime) Image() string { return "docker.io/library/golang:1.24-alpine" }

func (g *GoRuntime) Command(codePath string) []string {
	// GOCACHE must live on the tmpfs scratch area; the rootfs is read-only.
	return []string{"env", "GOCACHE=/tmp/gocache", "GOFLAGS=-mod=mod", "go", "run", codePath}
}

func (g *GoRuntime) FileExtension() string { return ".go" }

// BashRuntime configures execution of shell scripts.
type BashRuntime struct{}

func (b *BashRuntime) Name() string { return "bash" }

func (b *BashRuntime) Image() string { return "docker.io/library/alpine:3.19" }

func (b *BashRuntime) Command(codePath string) []string {
	return []string{
		"/bin/sh",
		"-e", // Exit on error
		"-u", // Treat unset variables as error
		codePath,
	}
}

func (b *BashRuntime) FileExtension() string { return ".sh" }

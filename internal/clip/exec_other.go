//go:build !unix

package clip

import "os"

func terminate(p *os.Process) error { return p.Kill() }

package interp

// Output and input streams opened by redirections and getline are
// cached by name and closed on close(name) or at program exit.

import (
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/MetricsHub/jawk/lexer"
)

// outStream is a cached output destination: a file or the stdin of a
// piped command.
type outStream struct {
	writer *bufWriter
	closer io.Closer
	cmd    *exec.Cmd
}

// inStream is a cached input source for getline: a file or the
// stdout of a piped command, wrapped in a record partitioner.
type inStream struct {
	partition *partitioner
	closer    io.Closer
	cmd       *exec.Cmd
}

// bufWriter is a minimal buffered writer we can flush explicitly.
type bufWriter struct {
	w   io.Writer
	buf []byte
}

func newBufWriter(w io.Writer) *bufWriter {
	return &bufWriter{w: w, buf: make([]byte, 0, 4096)}
}

func (b *bufWriter) Write(data []byte) (int, error) {
	b.buf = append(b.buf, data...)
	if len(b.buf) >= 4096 {
		return len(data), b.Flush()
	}
	return len(data), nil
}

func (b *bufWriter) Flush() error {
	if len(b.buf) == 0 {
		return nil
	}
	_, err := b.w.Write(b.buf)
	b.buf = b.buf[:0]
	return err
}

// getOutputStream returns the (possibly cached) output writer for a
// print/printf redirection.
func (p *interp) getOutputStream(redirect lexer.Token, name string) (io.Writer, error) {
	if name == "-" && redirect == lexer.PIPE {
		return p.output, nil
	}
	if s, ok := p.outputStreams[name]; ok {
		return s.writer, nil
	}
	if _, ok := p.inputStreams[name]; ok {
		return nil, newError("can't write to reader stream %q", name)
	}

	switch redirect {
	case lexer.GREATER, lexer.APPEND:
		if name == "/dev/stdout" {
			return p.output, nil
		}
		if name == "/dev/stderr" {
			return p.errorOutput, nil
		}
		flags := os.O_CREATE | os.O_WRONLY
		if redirect == lexer.GREATER {
			flags |= os.O_TRUNC
		} else {
			flags |= os.O_APPEND
		}
		f, err := os.OpenFile(name, flags, 0644)
		if err != nil {
			return nil, newError("output redirection error: %s", err)
		}
		s := &outStream{writer: newBufWriter(f), closer: f}
		p.outputStreams[name] = s
		return s.writer, nil

	case lexer.PIPE:
		cmd := p.execShell(name)
		w, err := cmd.StdinPipe()
		if err != nil {
			return nil, newError("error connecting to stdin pipe: %v", err)
		}
		cmd.Stdout = p.output
		cmd.Stderr = p.errorOutput
		p.flushOutputAndError() // ensure output ordering
		err = cmd.Start()
		if err != nil {
			p.printErrorf("%s\n", err)
			return io.Discard, nil
		}
		s := &outStream{writer: newBufWriter(w), closer: w, cmd: cmd}
		p.outputStreams[name] = s
		return s.writer, nil

	default:
		return nil, newError("unexpected redirect type %s", redirect)
	}
}

// getInputStreamFile returns the (possibly cached) partitioner for
// getline <file.
func (p *interp) getInputStreamFile(name string) (*inStream, error) {
	if s, ok := p.inputStreams[name]; ok {
		return s, nil
	}
	if _, ok := p.outputStreams[name]; ok {
		return nil, newError("can't read from writer stream %q", name)
	}
	var r io.Reader
	var closer io.Closer
	if name == "-" || name == "/dev/stdin" {
		r = p.stdin
	} else {
		f, err := os.Open(name)
		if err != nil {
			return nil, err // *os.PathError, caller decides severity
		}
		r = f
		closer = f
	}
	pt, err := newPartitioner(r, p.recordSep, p.greedyRS, false)
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, err
	}
	s := &inStream{partition: pt, closer: closer}
	p.inputStreams[name] = s
	return s, nil
}

// getInputStreamPipe returns the (possibly cached) partitioner for
// cmd | getline.
func (p *interp) getInputStreamPipe(name string) (*inStream, error) {
	if s, ok := p.inputStreams[name]; ok {
		return s, nil
	}
	if _, ok := p.outputStreams[name]; ok {
		return nil, newError("can't read from writer stream %q", name)
	}
	cmd := p.execShell(name)
	r, err := cmd.StdoutPipe()
	if err != nil {
		return nil, newError("error connecting to stdout pipe: %v", err)
	}
	cmd.Stdin = p.stdin
	cmd.Stderr = p.errorOutput
	p.flushOutputAndError()
	err = cmd.Start()
	if err != nil {
		p.printErrorf("%s\n", err)
		cmd = nil
	}
	pt, perr := newPartitioner(r, p.recordSep, p.greedyRS, false)
	if perr != nil {
		return nil, perr
	}
	s := &inStream{partition: pt, closer: r, cmd: cmd}
	p.inputStreams[name] = s
	return s, nil
}

// readStreamRecord reads one record from a cached input stream,
// keeping its record separator in sync with RS.
func (p *interp) readStreamRecord(s *inStream) (float64, string, error) {
	err := s.partition.setRecordSeparator(p.recordSep)
	if err != nil {
		return -1, "", nil
	}
	record, err := s.partition.readRecord()
	if err == io.EOF {
		return 0, "", nil
	}
	if err != nil {
		return -1, "", nil
	}
	return 1, record, nil
}

// closeStream closes the named stream (the close() builtin),
// returning the value close should push: 0 on success, the command
// exit status for pipes, -1 if nothing was open under that name.
func (p *interp) closeStream(name string) float64 {
	if s, ok := p.inputStreams[name]; ok {
		delete(p.inputStreams, name)
		var firstErr error
		if s.closer != nil {
			firstErr = s.closer.Close()
		}
		if s.cmd != nil {
			code, err := waitExitCode(s.cmd)
			if err == nil {
				return float64(code)
			}
			return -1
		}
		if firstErr != nil {
			return -1
		}
		return 0
	}
	if s, ok := p.outputStreams[name]; ok {
		delete(p.outputStreams, name)
		flushErr := s.writer.Flush()
		closeErr := s.closer.Close()
		if s.cmd != nil {
			code, err := waitExitCode(s.cmd)
			if err == nil {
				return float64(code)
			}
			return -1
		}
		if flushErr != nil || closeErr != nil {
			return -1
		}
		return 0
	}
	return -1
}

// waitExitCode waits for a piped command and converts the result the
// way the AWK builtins expect: the exit status on normal exit,
// 256+signal on an unhandled signal.
func waitExitCode(cmd *exec.Cmd) (int, error) {
	err := cmd.Wait()
	if err == nil {
		return 0, nil
	}
	ee, ok := err.(*exec.ExitError)
	if !ok {
		return -1, err
	}
	status, ok := ee.ProcessState.Sys().(syscall.WaitStatus)
	if !ok {
		return -1, err
	}
	switch {
	case status.Signaled():
		return 256 + int(status.Signal()), nil
	case status.Exited():
		return status.ExitStatus(), nil
	default:
		return -1, err
	}
}

// flushAll flushes the main output and every cached output stream.
func (p *interp) flushAll() bool {
	ok := true
	if !p.flushWriter(p.output) {
		ok = false
	}
	for _, s := range p.outputStreams {
		if s.writer.Flush() != nil {
			ok = false
		}
	}
	return ok
}

// flushStream flushes a single named output stream.
func (p *interp) flushStream(name string) bool {
	if s, ok := p.outputStreams[name]; ok {
		return s.writer.Flush() == nil
	}
	return false
}

func (p *interp) flushWriter(w io.Writer) bool {
	switch f := w.(type) {
	case interface{ Flush() error }:
		return f.Flush() == nil
	default:
		return true
	}
}

func (p *interp) flushOutputAndError() {
	p.flushWriter(p.output)
	p.flushWriter(p.errorOutput)
}

// closeAll closes every open stream and waits for pending commands;
// the AVM must not return to the caller with I/O still in flight.
func (p *interp) closeAll() error {
	var firstErr error
	p.closeCurrentInput()
	for name := range p.inputStreams {
		s := p.inputStreams[name]
		if s.closer != nil {
			_ = s.closer.Close()
		}
		if s.cmd != nil {
			_ = s.cmd.Wait()
		}
		delete(p.inputStreams, name)
	}
	for name := range p.outputStreams {
		s := p.outputStreams[name]
		if err := s.writer.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
		_ = s.closer.Close()
		if s.cmd != nil {
			_ = s.cmd.Wait()
		}
		delete(p.outputStreams, name)
	}
	if !p.flushWriter(p.output) && firstErr == nil {
		firstErr = newError("error flushing output")
	}
	p.flushWriter(p.errorOutput)
	return firstErr
}

// printLine writes a line followed by ORS.
func (p *interp) printLine(w io.Writer, line string) error {
	err := writeOutput(w, line)
	if err != nil {
		return err
	}
	return writeOutput(w, p.outputRecordSep)
}

func writeOutput(w io.Writer, s string) error {
	_, err := io.WriteString(w, s)
	if err != nil {
		return newError("error writing output: %s", err)
	}
	return nil
}

// Package util contains helpers shared by the CLI commands.
package util

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/buger/goterm"
	log "github.com/sirupsen/logrus"

	"github.com/safiul0073/CodeLift/pkg/config"
	"github.com/safiul0073/CodeLift/pkg/errors"
)

// Mocked for unit testing.
var (
	exit             = os.Exit
	stderr io.Writer = os.Stderr
	Stdin  io.Reader = os.Stdin
)

// HandleFatalError prints the error and exits. Errors with a friendly
// message are printed as is, other errors are printed with their context.
func HandleFatalError(err error) {
	if msg, ok := errors.GetFriendlyMessage(err); ok {
		fmt.Fprintln(stderr, msg)
	} else {
		fmt.Fprintf(stderr, "%s %s\n", goterm.Color("Error:", goterm.RED), err)
	}
	log.WithError(err).Debug("Exiting with fatal error")
	exit(1)
}

// HandlePanic logs the stack trace of a panic before exiting.
func HandlePanic() {
	if r := recover(); r != nil {
		log.WithField("stack", string(debug.Stack())).
			Errorf("Unexpected panic: %v", r)
		exit(1)
	}
}

// PromptYesOrNo asks the user a yes or no question.
func PromptYesOrNo(prompt string) (bool, error) {
	reader := bufio.NewReader(Stdin)
	for {
		fmt.Printf("%s [y/n]: ", prompt)
		resp, err := reader.ReadString('\n')
		if err != nil && (err != io.EOF || resp == "") {
			return false, err
		}

		switch strings.ToLower(strings.TrimSpace(resp)) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
	}
}

// Success, Warning and Failure color a status line.
func Success(msg string) string { return goterm.Color(msg, goterm.GREEN) }
func Warning(msg string) string { return goterm.Color(msg, goterm.YELLOW) }
func Failure(msg string) string { return goterm.Color(msg, goterm.RED) }

// ClearProgress erases the progress line when passed to StopWithPrint.
const ClearProgress = "\r\033[K"

// ProgressPrinter prints a message followed by a growing line of dots until
// it's stopped.
type ProgressPrinter struct {
	out     io.Writer
	msg     string
	stop    chan struct{}
	stopped sync.WaitGroup
	once    sync.Once
}

// NewProgressPrinter creates a ProgressPrinter that writes to `out`.
func NewProgressPrinter(out io.Writer, msg string) *ProgressPrinter {
	pp := &ProgressPrinter{out: out, msg: msg, stop: make(chan struct{})}
	pp.stopped.Add(1)
	return pp
}

// Run prints until Stop is called. It's meant to be run in a goroutine.
func (pp *ProgressPrinter) Run() {
	defer pp.stopped.Done()

	fmt.Fprint(pp.out, pp.msg)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fmt.Fprint(pp.out, ".")
		case <-pp.stop:
			return
		}
	}
}

// Stop stops printing and ends the line.
func (pp *ProgressPrinter) Stop() {
	pp.StopWithPrint("\n")
}

// StopWithPrint stops printing, and then prints `msg`.
func (pp *ProgressPrinter) StopWithPrint(msg string) {
	pp.once.Do(func() {
		close(pp.stop)
		pp.stopped.Wait()
		fmt.Fprint(pp.out, msg)
	})
}

// ConfigPath is the path of the CodeLift config, as set by the `--config`
// flag.
var ConfigPath string

// ConfigFile returns the path of the config selected by the `--config` flag.
func ConfigFile() string {
	if ConfigPath == "" {
		return config.DefaultConfigPath
	}
	return ConfigPath
}

// ParseConfig parses the config selected by the `--config` flag.
func ParseConfig() (config.Config, error) {
	return config.Parse(ConfigFile())
}

// GuessOrigin returns the address this machine uses to reach the internet.
// It's reported to the release server when the user doesn't set one.
func GuessOrigin() string {
	// Dialing UDP doesn't send any packets, it just selects a route.
	conn, err := net.Dial("udp", "192.0.2.1:80")
	if err != nil {
		log.WithError(err).Debug("Failed to guess origin address")
		return ""
	}
	defer conn.Close()

	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return ""
}

// PrintChangeLog prints the notes of a release as a bulleted list.
func PrintChangeLog(out io.Writer, changeLog []string) {
	if len(changeLog) == 0 {
		return
	}

	fmt.Fprintln(out, "Release notes:")
	fmt.Fprintln(out)
	for _, entry := range changeLog {
		fmt.Fprintf(out, "\t* %s\n", entry)
	}
	fmt.Fprintln(out)
}

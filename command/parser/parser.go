/*
 * Command parser.
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package parser implements the interactive monitor's command language:
// a min-prefix-match dispatch table over a small set of verbs, reusing
// the original command parser's cmdLine tokenizer and matchCommand
// idiom. The device-attach grammar (attach/detach/set/unset/show with
// their device-option scanning) has no analogue here and is dropped;
// what's left addresses terminals, PIDs, and raw physical offsets
// instead of device numbers.
package parser

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode"

	"trikernel/internal/devices/terminal"
	"trikernel/internal/kernel"
	"trikernel/internal/paging"
	"trikernel/util/hex"
)

type cmd struct {
	name    string
	min     int
	process func(*cmdLine, *kernel.Kernel) (bool, error)
}

type cmdLine struct {
	line string
	pos  int
}

var cmdList = []cmd{
	{name: "boot", min: 2, process: bootCmd},
	{name: "switch", min: 2, process: switchCmd},
	{name: "key", min: 1, process: keyCmd},
	{name: "ps", min: 2, process: psCmd},
	{name: "ls", min: 2, process: lsCmd},
	{name: "halt", min: 2, process: haltCmd},
	{name: "examine", min: 2, process: examineCmd},
	{name: "quit", min: 1, process: quitCmd},
}

// ProcessCommand parses and runs one command line against k. The bool
// result is true when the monitor should exit.
func ProcessCommand(commandLine string, k *kernel.Kernel) (bool, error) {
	line := cmdLine{line: commandLine}
	name := line.getWord()

	match := matchList(name)
	if len(match) == 0 {
		return false, errors.New("command not found: " + name)
	}
	if len(match) > 1 {
		return false, errors.New("ambiguous command: " + name)
	}
	return match[0].process(&line, k)
}

// CompleteCmd is the liner completer callback: it offers matching verb
// names for whatever prefix has been typed so far.
func CompleteCmd(commandLine string) []string {
	line := cmdLine{line: commandLine}
	name := line.getWord()

	if !line.isEOL() && line.line[line.pos] == ' ' {
		return nil
	}

	matches := matchList(name)
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = m.name
	}
	return names
}

// matchCommand reports whether command is a prefix of match.name at
// least match.min characters long.
func matchCommand(match cmd, command string) bool {
	if len(command) < match.min || len(command) > len(match.name) {
		return false
	}
	for i := 0; i < len(command); i++ {
		if match.name[i] != command[i] {
			return false
		}
	}
	return true
}

func matchList(command string) []cmd {
	if command == "" {
		return nil
	}
	var match []cmd
	for _, m := range cmdList {
		if matchCommand(m, command) {
			match = append(match, m)
		}
	}
	return match
}

// skipSpace advances past whitespace.
func (line *cmdLine) skipSpace() {
	for line.pos < len(line.line) && unicode.IsSpace(rune(line.line[line.pos])) {
		line.pos++
	}
}

// isEOL reports end of line or the start of a comment.
func (line *cmdLine) isEOL() bool {
	if line.pos >= len(line.line) {
		return true
	}
	return line.line[line.pos] == '#'
}

func (line *cmdLine) getNext() byte {
	line.pos++
	if line.isEOL() {
		return 0
	}
	return line.line[line.pos]
}

// getWord scans one alphabetic token (a command verb).
func (line *cmdLine) getWord() string {
	line.skipSpace()
	if line.isEOL() {
		return ""
	}

	value := ""
	by := line.line[line.pos]
	for unicode.IsLetter(rune(by)) {
		value += string([]byte{by})
		by = line.getNext()
		if line.isEOL() || unicode.IsSpace(rune(by)) {
			break
		}
	}
	return value
}

// getToken scans one alphanumeric token (a decimal or hex argument).
func (line *cmdLine) getToken() string {
	line.skipSpace()
	if line.isEOL() {
		return ""
	}

	value := ""
	by := line.line[line.pos]
	for unicode.IsLetter(rune(by)) || unicode.IsDigit(rune(by)) {
		value += string([]byte{by})
		by = line.getNext()
		if line.isEOL() || unicode.IsSpace(rune(by)) {
			break
		}
	}
	return value
}

func (line *cmdLine) getInt() (int, error) {
	tok := line.getToken()
	if tok == "" {
		return 0, errors.New("expected a number")
	}
	n, err := strconv.ParseInt(tok, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", tok)
	}
	return int(n), nil
}

func (line *cmdLine) getHex32() (uint32, error) {
	tok := line.getToken()
	if tok == "" {
		return 0, errors.New("expected a hex value")
	}
	n, err := strconv.ParseUint(tok, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid hex value %q", tok)
	}
	return uint32(n), nil
}

func bootCmd(_ *cmdLine, k *kernel.Kernel) (bool, error) {
	slog.Info("command boot")
	k.Boot()
	return false, nil
}

func switchCmd(line *cmdLine, k *kernel.Kernel) (bool, error) {
	term, err := line.getInt()
	if err != nil {
		return false, err
	}
	if !k.Sched.Switch(term) {
		return false, fmt.Errorf("terminal %d has no live process", term)
	}
	return false, nil
}

func keyCmd(line *cmdLine, k *kernel.Kernel) (bool, error) {
	code, err := line.getHex32()
	if err != nil {
		return false, err
	}
	k.InjectKey(byte(code))
	return false, nil
}

func psCmd(_ *cmdLine, k *kernel.Kernel) (bool, error) {
	for term := 0; term < terminal.Count; term++ {
		fmt.Printf("terminal %d: %d live process(es)\n", term, k.Procs.LiveProcessCount(term))
	}
	return false, nil
}

func lsCmd(_ *cmdLine, k *kernel.Kernel) (bool, error) {
	for i := 0; ; i++ {
		dentry, err := k.FS.ReadDentryByIndex(i)
		if err != nil {
			break
		}
		fmt.Printf("%-32s inode %d\n", dentry.Name, dentry.Inode)
	}
	return false, nil
}

func haltCmd(line *cmdLine, k *kernel.Kernel) (bool, error) {
	term, err := line.getInt()
	if err != nil {
		return false, err
	}
	status, err := line.getInt()
	if err != nil {
		return false, err
	}
	pcb, ok := k.Procs.TopOfStack(term)
	if !ok {
		return false, fmt.Errorf("terminal %d has no live process", term)
	}
	k.Sys.Halt(pcb, int32(status))
	return false, nil
}

// examineCmd dumps 16 bytes of a process's image starting at offset,
// in the same space-separated hex-byte layout hex.FormatBytes produces.
func examineCmd(line *cmdLine, k *kernel.Kernel) (bool, error) {
	pid, err := line.getInt()
	if err != nil {
		return false, err
	}
	offset, err := line.getHex32()
	if err != nil {
		return false, err
	}
	buf := make([]byte, 16)
	addr := paging.UserImagePhys(pid) + offset
	if err := k.Phys.ReadPhys(addr, buf); err != nil {
		return false, err
	}

	var str strings.Builder
	hex.FormatBytes(&str, true, buf)
	fmt.Printf("%#x: %s\n", addr, str.String())
	return false, nil
}

func quitCmd(_ *cmdLine, _ *kernel.Kernel) (bool, error) {
	slog.Info("command quit")
	return true, nil
}

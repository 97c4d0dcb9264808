/*
 * Kernel monitor entry point.
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

package main

import (
	"log/slog"
	"os"

	getopt "github.com/pborman/getopt/v2"

	"trikernel/command/reader"
	"trikernel/config/bootconfig"
	"trikernel/internal/fs"
	"trikernel/internal/kernel"
	"trikernel/util/logger"
	"trikernel/util/trace"
)

func main() {
	optConfig := getopt.StringLong("config", 'c', "", "Boot configuration file")
	optImage := getopt.StringLong("image", 'i', "shell", "Host file loaded into the filesystem as the root shell image")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file")
	optDebug := getopt.StringLong("debug", 'd', "", "Comma separated trace subsystems: PIC,PAGING,IDT,SCHED,SYSCALL,TERM")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	var file *os.File
	if *optLogFile != "" {
		file, _ = os.Create(*optLogFile)
		trace.SetOutput(file)
	}
	debugOn := false
	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelInfo)
	slog.SetDefault(slog.New(logger.NewHandler(file, &slog.HandlerOptions{Level: programLevel}, &debugOn)))

	if *optDebug != "" {
		trace.SetMask(trace.Parse(*optDebug))
	}

	fsImage := *optImage
	if *optConfig != "" {
		bootconfig.Register("fsimage", func(v string) error { fsImage = v; return nil })
		if err := bootconfig.LoadFile(*optConfig); err != nil {
			slog.Error("loading boot configuration", "error", err)
			os.Exit(1)
		}
	}

	memfs := fs.NewMemFS()
	data, err := os.ReadFile(fsImage)
	if err != nil {
		slog.Warn("root shell image not found, monitor will have nothing to execute", "image", fsImage, "error", err)
	} else {
		memfs.AddFile("shell", data)
	}

	k := kernel.New(memfs)
	k.Boot()
	defer k.Stop()

	reader.ConsoleReader(k)
}

// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fuse

import (
	"flag"
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"

	"github.com/llfuse/fuse/fuseops"
	"github.com/llfuse/fuse/internal/fusekernel"
	"github.com/sirupsen/logrus"
)

var fEnableDebug = flag.Bool(
	"fuse.debug",
	false,
	"Write FUSE debugging messages to stderr.")

var gDebugLogger *logrus.Logger
var gDebugLoggerOnce sync.Once

func initDebugLogger() {
	if !*fEnableDebug {
		return
	}

	gDebugLogger = logrus.New()
	gDebugLogger.SetOutput(os.Stderr)
	gDebugLogger.SetLevel(logrus.DebugLevel)
	gDebugLogger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000000",
	})
}

// defaultDebugLogger returns the logger enabled by --fuse.debug, or nil if
// the flag is unset.
func defaultDebugLogger() logrus.FieldLogger {
	gDebugLoggerOnce.Do(initDebugLogger)
	if gDebugLogger == nil {
		return nil
	}

	return gDebugLogger
}

// opName returns a short name for the type of op, e.g. "LookUpInode".
func opName(op interface{}) string {
	switch o := op.(type) {
	case *unknownOp:
		return fusekernel.OpName(o.OpCode)

	case *initOp:
		return "Init"

	case *interruptOp:
		return "Interrupt"
	}

	t := reflect.TypeOf(op)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	return strings.TrimSuffix(t.Name(), "Op")
}

// describeRequest returns a one-line description of the op for the debug
// log, built from whichever of the well-known fields the op has.
func describeRequest(op interface{}) (s string) {
	v := reflect.ValueOf(op)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return opName(op)
	}
	v = v.Elem()

	var components []string
	addComponent := func(format string, v ...interface{}) {
		components = append(components, fmt.Sprintf(format, v...))
	}

	// Include an inode number, if available.
	if f := v.FieldByName("Inode"); f.IsValid() {
		addComponent("inode %v", f.Interface())
	}

	// Include a parent inode number, if available.
	if f := v.FieldByName("Parent"); f.IsValid() {
		addComponent("parent %v", f.Interface())
	}

	// Include a name, if available.
	if f := v.FieldByName("Name"); f.IsValid() {
		addComponent("name %q", f.Interface())
	}

	if f := v.FieldByName("Handle"); f.IsValid() && f.Kind() != reflect.Ptr {
		addComponent("handle %v", f.Interface())
	}

	if f := v.FieldByName("Offset"); f.IsValid() {
		addComponent("offset %v", f.Interface())
	}

	if f := v.FieldByName("Dst"); f.IsValid() {
		addComponent("%d bytes", f.Len())
	}

	if f := v.FieldByName("Data"); f.IsValid() {
		addComponent("%d bytes", f.Len())
	}

	// Special cases for ops whose interesting fields don't follow the pattern.
	switch o := op.(type) {
	case *fuseops.RenameOp:
		addComponent(
			"%v/%q -> %v/%q",
			o.OldParent,
			o.OldName,
			o.NewParent,
			o.NewName)

		if o.Flags != 0 {
			addComponent("flags %#x", uint32(o.Flags))
		}

	case *fuseops.ForgetInodeOp:
		addComponent("n %d", o.N)

	case *fuseops.BatchForgetOp:
		addComponent("%d entries", len(o.Entries))

	case *fuseops.InitOp:
		addComponent(
			"proto %d.%d capable %v",
			o.Conn.ProtoMajor(),
			o.Conn.ProtoMinor(),
			o.Conn.Capable())

	case *interruptOp:
		addComponent("fuseid 0x%08x", o.FuseID)
	}

	// Use just the name if there is no extra info.
	if len(components) == 0 {
		return opName(op)
	}

	// Otherwise, include the extra info.
	return fmt.Sprintf("%s (%s)", opName(op), strings.Join(components, ", "))
}

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

package fuseops_test

import (
	"os"
	"testing"
	"time"

	. "github.com/jacobsa/ogletest"
	"github.com/llfuse/fuse/fuseops"
	"golang.org/x/sys/unix"
)

func TestFuseops(t *testing.T) { RunTests(t) }

////////////////////////////////////////////////////////////////////////
// Conversions
////////////////////////////////////////////////////////////////////////

type ConvertTest struct {
}

func init() { RegisterTestSuite(&ConvertTest{}) }

func (t *ConvertTest) FileModeRoundTrips() {
	modes := []os.FileMode{
		0644,
		0755 | os.ModeDir,
		0777 | os.ModeSymlink,
		0600 | os.ModeNamedPipe,
		0600 | os.ModeSocket,
		0660 | os.ModeDevice,
		0660 | os.ModeDevice | os.ModeCharDevice,
		0755 | os.ModeSetuid | os.ModeSetgid | os.ModeSticky,
	}

	for _, m := range modes {
		ExpectEq(m, fuseops.ConvertFileMode(fuseops.ConvertGoMode(m)), "%v", m)
	}
}

func (t *ConvertTest) GoModeTypeBits() {
	ExpectEq(unix.S_IFREG|0444, fuseops.ConvertGoMode(0444))
	ExpectEq(unix.S_IFDIR|0755, fuseops.ConvertGoMode(os.ModeDir|0755))
	ExpectEq(unix.S_IFLNK|0777, fuseops.ConvertGoMode(os.ModeSymlink|0777))
}

func (t *ConvertTest) PermissionOnlyMode() {
	ExpectEq(os.FileMode(0640), fuseops.ConvertFileMode(0640))
}

func (t *ConvertTest) ExpirationInThePast() {
	now := time.Date(2015, 3, 1, 0, 0, 0, 0, time.UTC)

	secs, nsecs := fuseops.ConvertExpirationTime(now, now.Add(-time.Second))
	ExpectEq(0, secs)
	ExpectEq(0, nsecs)

	secs, nsecs = fuseops.ConvertExpirationTime(now, time.Time{})
	ExpectEq(0, secs)
	ExpectEq(0, nsecs)
}

func (t *ConvertTest) ExpirationInTheFuture() {
	now := time.Date(2015, 3, 1, 0, 0, 0, 0, time.UTC)

	secs, nsecs := fuseops.ConvertExpirationTime(
		now,
		now.Add(3*time.Second+17*time.Millisecond))

	ExpectEq(3, secs)
	ExpectEq(17000000, nsecs)
}

func (t *ConvertTest) TimeSplitsSecondsAndNanos() {
	secs, nsec := fuseops.ConvertTime(time.Unix(1234, 5678))
	ExpectEq(1234, secs)
	ExpectEq(5678, nsec)

	secs, nsec = fuseops.ConvertTime(time.Time{})
	ExpectEq(0, secs)
	ExpectEq(0, nsec)
}

func (t *ConvertTest) SetExpiration() {
	now := time.Date(2015, 3, 1, 0, 0, 0, 0, time.UTC)

	var e fuseops.ChildInodeEntry
	e.SetExpiration(now, time.Second, time.Minute)
	ExpectTrue(e.AttributesExpiration.Equal(now.Add(time.Second)))
	ExpectTrue(e.EntryExpiration.Equal(now.Add(time.Minute)))

	e.SetExpiration(now, 0, -1)
	ExpectTrue(e.AttributesExpiration.IsZero())
	ExpectTrue(e.EntryExpiration.IsZero())
}

////////////////////////////////////////////////////////////////////////
// ConnInfo
////////////////////////////////////////////////////////////////////////

type ConnInfoTest struct {
	conn *fuseops.ConnInfo
}

func init() { RegisterTestSuite(&ConnInfoTest{}) }

func (t *ConnInfoTest) SetUp(ti *TestInfo) {
	capable := fuseops.CapAsyncRead |
		fuseops.CapBigWrites |
		fuseops.CapReaddirplus |
		fuseops.CapParallelDirOps

	t.conn = fuseops.NewConnInfo(7, 31, capable, 128<<10, 0)
}

func (t *ConnInfoTest) ReadOnlyFields() {
	ExpectEq(7, t.conn.ProtoMajor())
	ExpectEq(31, t.conn.ProtoMinor())
	ExpectTrue(t.conn.Capable()&fuseops.CapReaddirplus != 0)
}

func (t *ConnInfoTest) DefaultWantIsMaskedByCapable() {
	ExpectEq(fuseops.CapAsyncRead|fuseops.CapBigWrites, t.conn.Want)
	ExpectEq(fuseops.DefaultMaxBackground, t.conn.MaxBackground)
	ExpectEq(fuseops.DefaultCongestionThreshold, t.conn.CongestionThreshold)
	ExpectEq(1, t.conn.TimeGran)
}

func (t *ConnInfoTest) UnsupportedWantBitsAreDroppedSilently() {
	t.conn.Want |= fuseops.CapWritebackCache | fuseops.CapReaddirplus

	changes := t.conn.Normalize()

	ExpectEq(0, len(changes))
	ExpectEq(0, t.conn.Want&fuseops.CapWritebackCache)
	ExpectNe(0, t.conn.Want&fuseops.CapReaddirplus)
}

func (t *ConnInfoTest) MaxReadIsFixedAtMount() {
	t.conn.MaxRead = 4096

	changes := t.conn.Normalize()

	AssertEq(1, len(changes))
	ExpectEq(0, t.conn.MaxRead)
}

func (t *ConnInfoTest) LimitsAreClamped() {
	t.conn.MaxReadahead = 1 << 30
	t.conn.MaxWrite = 1 << 30
	t.conn.MaxBackground = 4
	t.conn.CongestionThreshold = 100
	t.conn.TimeGran = 0

	changes := t.conn.Normalize()

	ExpectEq(4, len(changes))
	ExpectEq(128<<10, t.conn.MaxReadahead)
	ExpectEq(1<<20, t.conn.MaxWrite)
	ExpectEq(4, t.conn.CongestionThreshold)
	ExpectEq(1, t.conn.TimeGran)
}

func (t *ConnInfoTest) TinyMaxWriteIsRaised() {
	t.conn.MaxWrite = 1

	t.conn.Normalize()

	ExpectEq(4096, t.conn.MaxWrite)
}

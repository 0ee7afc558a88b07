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

import "testing"

func TestOptionsString(t *testing.T) {
	testCases := []struct {
		name     string
		cfg      MountConfig
		expected string
	}{
		{
			name:     "defaults",
			expected: "default_permissions,fsname=some_fuse_file_system",
		},
		{
			name: "everything",
			cfg: MountConfig{
				FSName:   "taco",
				Subtype:  "sample",
				ReadOnly: true,
				MaxRead:  4096,
				Options: map[string]string{
					"allow_other": "",
					"a,b":         "c",
				},
			},
			expected: `a\,b=c,allow_other,default_permissions,fsname=taco,max_read=4096,ro,subtype=sample`,
		},
		{
			name: "explicit options win",
			cfg: MountConfig{
				FSName:  "taco",
				Options: map[string]string{"fsname": "burrito"},
			},
			expected: "default_permissions,fsname=burrito",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cfg.toOptionsString(); got != tc.expected {
				t.Errorf("Got %q, expected %q", got, tc.expected)
			}
		})
	}
}

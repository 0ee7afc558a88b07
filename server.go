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

// Server knows how to serve ops read from a connection.
type Server interface {
	// Read and serve ops from the supplied connection until ReadOp returns an
	// error, io.EOF or otherwise. Do not return until all operations have been
	// responded to. Must not be called more than once.
	ServeOps(*Connection)
}

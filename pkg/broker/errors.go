// Copyright The Platformd Authors. All Rights Reserved.
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

package broker

import "fmt"

var (
	// ErrNoPolicy is the failure to open a session for a label no
	// policy rule covers.
	ErrNoPolicy = fmt.Errorf("broker: no policy for client")
	// ErrSessionExists is the failure to open a second session for a
	// label.
	ErrSessionExists = fmt.Errorf("broker: session already open")
	// ErrUnknownSession is the failure to address a label without an
	// open session.
	ErrUnknownSession = fmt.Errorf("broker: unknown session")
	// ErrInvalidConfig indicates a malformed configuration.
	ErrInvalidConfig = fmt.Errorf("broker: invalid configuration")
)

/*
 * Copyright (c) 2024, the amd-gres-builder authors.  All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package logger

import "k8s.io/klog/v2"

// Interface is the logging surface handed to library code, so that nothing
// below cmd/ depends on a process-wide logger.
type Interface interface {
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
}

type toKlog struct{}

// ToKlog allows the klog logger to be passed to functions where this is needed.
var ToKlog Interface = toKlog{}

func (toKlog) Infof(format string, args ...interface{}) {
	klog.Infof(format, args...)
}

func (toKlog) Warningf(format string, args ...interface{}) {
	klog.Warningf(format, args...)
}

// Discard drops all messages. Useful in tests.
var Discard Interface = discard{}

type discard struct{}

func (discard) Infof(string, ...interface{})    {}
func (discard) Warningf(string, ...interface{}) {}

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

package gres

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Outputer defines a mechanism to output a rendered gres.conf fragment.
type Outputer interface {
	Output([]byte) error
}

// ToFile returns an Outputer writing to the given path, or to stdout when
// the path is empty.
func ToFile(path string) Outputer {
	if path == "" {
		return &toWriter{os.Stdout}
	}

	o := toFile(path)
	return &o
}

// toFile writes to the specified file, atomically: the scheduler must
// never observe a half-written fragment.
type toFile string

func (path *toFile) Output(fragment []byte) error {
	dir := filepath.Dir(string(*path))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %v", err)
	}

	tmp, err := os.CreateTemp(dir, "gres.conf.")
	if err != nil {
		return fmt.Errorf("creating temporary output file: %v", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(fragment); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %v", tmp.Name(), err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), string(*path))
}

// toWriter writes to the specified writer.
type toWriter struct {
	io.Writer
}

func (w *toWriter) Output(fragment []byte) error {
	_, err := w.Write(fragment)
	return err
}

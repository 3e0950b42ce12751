/**
 * Licensed to the Apache Software Foundation (ASF) under one
 * or more contributor license agreements.  See the NOTICE file
 * distributed with this work for additional information
 * regarding copyright ownership.  The ASF licenses this file
 * to you under the Apache License, Version 2.0 (the
 * "License"); you may not use this file except in compliance
 * with the License.  You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

// Package cliconfig persists named connection profiles to a JSON file
// under the user's home directory, the way newtmgr's connection
// profile manager does for its own transports.
package cliconfig

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// cfgFilename is where profiles are persisted, relative to the user's
// home directory.
const cfgFilename = ".coapc.json"

// Profile is one named CoAP endpoint configuration.
type Profile struct {
	Name string `json:"name"`

	Endpoint  string `json:"endpoint"`
	PingEvery int    `json:"ping_every_seconds"`

	Security       string `json:"security,omitempty"` // "" or "psk"
	PSKIdentity    string `json:"psk_identity,omitempty"`
	PSKKey         string `json:"psk_key,omitempty"` // hex-encoded
	PSKCipherSuite string `json:"psk_cipher_suite,omitempty"`
}

// Manager holds every known profile in memory, synced to disk on every
// mutation.
type Manager struct {
	path     string
	profiles map[string]*Profile
}

func profileFilePath() (string, error) {
	dir, err := homedir.Dir()
	if err != nil {
		return "", errors.Wrap(err, "resolving home directory")
	}
	return filepath.Join(dir, cfgFilename), nil
}

// NewManager loads profiles from disk, if a profile file exists yet.
func NewManager() (*Manager, error) {
	path, err := profileFilePath()
	if err != nil {
		return nil, err
	}

	m := &Manager{path: path, profiles: map[string]*Profile{}}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) load() error {
	log.Debugf("cliconfig: reading connection profiles from %s", m.path)

	blob, err := ioutil.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "reading profile file %s", m.path)
	}

	var profiles []*Profile
	if err := json.Unmarshal(blob, &profiles); err != nil {
		return errors.Wrapf(err, "parsing profile file %s", m.path)
	}
	for _, p := range profiles {
		m.profiles[p.Name] = p
	}
	return nil
}

func (m *Manager) save() error {
	list := m.List()
	b, err := json.MarshalIndent(list, "", "    ")
	if err != nil {
		return errors.Wrap(err, "marshaling connection profiles")
	}
	if err := ioutil.WriteFile(m.path, b, 0644); err != nil {
		return errors.Wrapf(err, "writing profile file %s", m.path)
	}
	return nil
}

// List returns every profile, sorted by name.
func (m *Manager) List() []*Profile {
	out := make([]*Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns the named profile.
func (m *Manager) Get(name string) (*Profile, error) {
	p, ok := m.profiles[name]
	if !ok {
		return nil, errors.Errorf("connection profile %q doesn't exist", name)
	}
	return p, nil
}

// Save adds or overwrites a profile and persists the full set.
func (m *Manager) Save(p *Profile) error {
	m.profiles[p.Name] = p
	return m.save()
}

// Delete removes a profile and persists the change.
func (m *Manager) Delete(name string) error {
	if _, ok := m.profiles[name]; !ok {
		return errors.Errorf("connection profile %q doesn't exist", name)
	}
	delete(m.profiles, name)
	return m.save()
}

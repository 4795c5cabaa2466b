package main

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/srg/blesim/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// testProfile is a single simulated battery device used by command tests.
const testProfile = `id: "11111111-2222-3333-4444-555555555555"
name: Test-Sim
rssi: -50
services:
  - uuid: "180f"
    characteristics:
      - uuid: "2a19"
        properties: read,notify
        value: "64"
  - uuid: "180d"
    characteristics:
      - uuid: "2a37"
        properties: notify
        value: "0048"
`

const testDeviceKey = "11111111222233334444555555555555"

// CommandTestSuite runs cobra commands against a temporary profile file.
type CommandTestSuite struct {
	suite.Suite
	ProfilePath string
	Stderr      *bytes.Buffer
}

func (s *CommandTestSuite) SetupTest() {
	s.ProfilePath = s.WriteFile("device.yaml", testProfile)
	s.Stderr = new(bytes.Buffer)
}

// WriteFile writes content to a file in a per-test temporary directory and returns its path.
func (s *CommandTestSuite) WriteFile(name, content string) string {
	path := filepath.Join(s.T().TempDir(), name)
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o600))
	return path
}

// ExecuteCommand runs a fresh command tree with args and returns what it wrote to stdout.
// Logs and stderr output are collected in s.Stderr.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	return s.execute(newRootCmd(), args...)
}

func (s *CommandTestSuite) execute(cmd *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(s.Stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func (s *CommandTestSuite) Text() *testutils.TextAsserter {
	return testutils.NewTextAsserter(s.T())
}

func (s *CommandTestSuite) JSON() *testutils.JSONAsserter {
	return testutils.NewJSONAsserter(s.T())
}

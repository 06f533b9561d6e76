//go:build mage

// Copyright 2025-2026
// SPDX-License-Identifier: Apache-2.0
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

package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binaryName  = "wpapi"
	packageName = "."
	modulePath  = "github.com/wallet-pulse/wp-api"
)

var ldflags = "-X " + modulePath + "/common.commitHash=$COMMIT_HASH -X " + modulePath + "/common.buildDate=$BUILD_DATE"

// allow the go executable to be overridden, e.g. GOEXE=go1.18 mage build
var goexe = "go"

func init() {
	if exe := os.Getenv("GOEXE"); exe != "" {
		goexe = exe
	}
}

var Default = Build

// Build compiles the wpapi binary with the commit hash and build date
// stamped in
func Build() error {
	fmt.Println("Building...")
	args := []string{"build", "-o", binaryName, "-ldflags", ldflags, "-tags", buildTags(), "-v"}
	args = append(args, buildFlags()...)
	args = append(args, packageName)
	return sh.RunWith(flagEnv(), goexe, args...)
}

// Install builds wpapi and places it on the go bin path
func Install() error {
	args := []string{"install", "-ldflags", ldflags, "-tags", buildTags()}
	args = append(args, buildFlags()...)
	args = append(args, packageName)
	return sh.RunWith(flagEnv(), goexe, args...)
}

// Clean removes build and coverage artifacts
func Clean() {
	fmt.Println("Cleaning...")
	os.RemoveAll(binaryName)
	os.RemoveAll("coverage.out")
}

// Check is the full gate: formatting, vet, lint, then tests under the race
// detector. Tests run last so a style failure fails fast.
func Check() {
	mg.Deps(Fmt, Vet, Lint)
	mg.Deps(TestRace)
}

// Test runs the suite
func Test() error {
	fmt.Println("Go Test")
	args := []string{"test", "-tags", buildTags()}
	args = append(args, buildFlags()...)
	args = append(args, "./...")
	return sh.RunWith(nil, goexe, args...)
}

// TestRace runs the suite with the race detector
func TestRace() error {
	fmt.Println("Go Test Race")
	args := []string{"test", "-race", "-tags", buildTags()}
	args = append(args, buildFlags()...)
	args = append(args, "./...")
	return sh.RunWith(nil, goexe, args...)
}

// Fmt fails when any source file is not gofmt'ed. gofmt exits zero either
// way so the target inspects the file list it prints instead.
func Fmt() error {
	fmt.Println("Go Format")

	dirs, err := packageDirs()
	if err != nil {
		return err
	}

	out, err := sh.Output("gofmt", append([]string{"-l"}, dirs...)...)
	if err != nil {
		return err
	}
	if out != "" {
		fmt.Println("The following files are not gofmt'ed:")
		fmt.Println(out)
		return errors.New("improperly formatted go files")
	}
	return nil
}

// Vet runs go vet over every package
func Vet() error {
	fmt.Println("Go Vet")

	if err := sh.Run(goexe, "vet", "-tags", buildTags(), "./..."); err != nil {
		return fmt.Errorf("error running go vet: %v", err)
	}
	return nil
}

// Lint runs golangci-lint; install it separately with
// go install github.com/golangci/golangci-lint/cmd/golangci-lint@latest
func Lint() error {
	fmt.Println("Go Lint")
	return sh.RunV("golangci-lint", "run", "--build-tags", buildTags())
}

// Cover writes a combined coverage profile and opens the HTML report
func Cover() error {
	fmt.Println("Go Test Cover")

	args := []string{"test", "-coverprofile=coverage.out", "-covermode=count", "-tags", buildTags(), "./..."}
	if err := sh.RunWith(nil, goexe, args...); err != nil {
		return err
	}
	return sh.Run(goexe, "tool", "cover", "-html=coverage.out")
}

// Helpers

func buildFlags() []string {
	if runtime.GOOS == "windows" {
		return []string{"-buildmode", "exe"}
	}
	return nil
}

func buildTags() string {
	return "jwx_goccy"
}

func flagEnv() map[string]string {
	hash, _ := sh.Output("git", "rev-parse", "--short", "HEAD")
	return map[string]string{
		"COMMIT_HASH": hash,
		"BUILD_DATE":  time.Now().Format("2006-01-02T15:04:05Z0700"),
	}
}

func packageDirs() ([]string, error) {
	out, err := sh.Output(goexe, "list", "-f", "{{.Dir}}", "./...")
	if err != nil {
		return nil, err
	}
	return strings.Split(strings.TrimSpace(out), "\n"), nil
}

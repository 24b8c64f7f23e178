//go:build mage
// +build mage

package main

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/magefile/mage/mg" // mg contains helpful utility functions, like Deps
	"github.com/magefile/mage/sh"
)

//
// START helpers tightly coupled to this project
//

func version() (string, error) {
	b, err := os.ReadFile("version.txt")
	if err != nil {
		return "", err
	}

	v, _, _ := strings.Cut(string(b), "\n")
	return strings.TrimSpace(v), nil
}

func commitSha(dir string) (string, error) {
	args := []string{"log", "-n", "1", "--pretty=format:%H"}
	if dir != "" && dir != "." {
		args = append([]string{"-C", dir}, args...)
	}

	return sh.Output("git", args...)
}

func fileObjExists(s string) bool {
	_, err := os.Stat(s)
	if err != nil {
		if os.IsNotExist(err) {
			return false
		}
		panic(err)
	}

	return true
}

func dirExists(s string) bool {
	inf, err := os.Stat(s)
	if err != nil {
		if os.IsNotExist(err) {
			return false
		}
		panic(err)
	}

	return inf.IsDir()
}

// fileSig returns a content hash of fname, or "" when it does not exist.
func fileSig(fname string) (string, error) {
	if !fileObjExists(fname) {
		return "", nil
	}

	f, err := os.Open(fname)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(h.Sum(nil)), nil
}

func moduleFileSigs() ([2]string, error) {
	var result [2]string

	for i, fname := range []string{"go.mod", "go.sum"} {
		s, err := fileSig(fname)
		if err != nil {
			return result, err
		}

		result[i] = s
	}

	return result, nil
}

// validateModuleFiles fails in CI when resolving dependencies changed go.mod
// or go.sum, and only warns elsewhere.
func validateModuleFiles(pre, post [2]string) error {
	var errResp error

	for i, fname := range []string{"go.mod", "go.sum"} {
		if pre[i] == "" {
			errResp = errors.Join(errResp, fmt.Errorf("%s file did not exist before build or still does not exist", fname))
		} else if pre[i] != post[i] {
			errResp = errors.Join(errResp, fmt.Errorf("%s file changed when resolving dependencies; you should run 'go mod vendor' and 'go mod tidy'", fname))
		}
	}

	if errResp == nil {
		return nil
	}

	if ok, err := strconv.ParseBool(os.Getenv("CI")); err != nil || !ok {
		fmt.Println("WARNING: " + errResp.Error())
		return nil
	}

	return errResp
}

//
// END helpers tightly coupled to this project
//

//
// START TARGETS
//

func Build() error {
	mg.Deps(InstallDeps)

	fmt.Println("Building...")
	if err := os.MkdirAll("build/bin", 0o755); err != nil {
		return err
	}

	sha, err := commitSha("")
	if err != nil {
		return err
	}

	v, err := version()
	if err != nil {
		return err
	}

	env := map[string]string{
		"CGO_CFLAGS":  "-O3",
		"CGO_ENABLED": "1",
	}

	if err := sh.RunWithV(env,
		"go", "build", "-o", "build/bin", "-tags", "netgo",
		"-ldflags", "-extldflags=-static -X main.GitSHA="+sha+" -X main.Version="+v,
		"./cmd/...",
	); err != nil {
		return err
	}

	fmt.Println("Done Building")
	return nil
}

// with CGO deps, there is no "clean" way to install and manage them
// ref: https://github.com/golang/go/issues/26366
const JpcopeOpusVersion = "17c317f9c9e9545df42c4ffc0bb9252ee6261868"

func InstallDeps() error {
	fmt.Println("Installing Deps...")

	// establish a baseline for files that should remain unchanged through dependency install process
	pre, err := moduleFileSigs()
	if err != nil {
		return err
	}

	if err := sh.RunV("go", "mod", "vendor"); err != nil {
		return err
	}

	const vendored = "vendor/github.com/josephcopenhaver/gopus"
	const ext = "vendor-ext/github.com/josephcopenhaver/gopus"

	if !dirExists(vendored + "/opus-1.1.2") {
		extSha := ""
		if dirExists(ext + "/.git") {
			if extSha, err = commitSha(ext); err != nil {
				return err
			}
		}

		if extSha != JpcopeOpusVersion {
			if err := os.RemoveAll(ext); err != nil {
				return err
			}

			// install git repo using a specific commit only
			if err := sh.RunV("bash", "-c", "set -euxo pipefail && mkdir -p "+ext+" && cd "+ext+" && git init && git remote add origin https://github.com/josephcopenhaver/gopus.git && git fetch origin "+JpcopeOpusVersion+" && git reset --hard FETCH_HEAD"); err != nil {
				return err
			}
		}

		fmt.Println("rsync'ing " + ext)

		if err := sh.RunV("rsync", "-a", "--delete", "--exclude", ".git", ext+"/", vendored+"/"); err != nil {
			return err
		}
	}

	post, err := moduleFileSigs()
	if err != nil {
		return err
	}

	if err := validateModuleFiles(pre, post); err != nil {
		return err
	}

	fmt.Println("Done Installing Deps")
	return nil
}

func Test() error {
	mg.Deps(InstallDeps)

	return sh.RunV("go", "test", "-race", "./...")
}

func Clean() error {
	fmt.Println("Cleaning...")

	for _, dir := range []string{"build", "vendor"} {
		if err := os.RemoveAll(dir); err != nil {
			return err
		}
	}

	fmt.Println("Done Cleaning")
	return nil
}

//
// END TARGETS
//

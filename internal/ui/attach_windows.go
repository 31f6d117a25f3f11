//go:build windows

package ui

import (
	"errors"
	"io"

	"github.com/asheshgoplani/worktree-deck/internal/session"
)

type attachCmd struct{}

func newAttachCmd(*session.Manager, string) *attachCmd { return &attachCmd{} }

func (a *attachCmd) Run() error          { return errors.New("attach is not supported on windows") }
func (a *attachCmd) SetStdin(io.Reader)  {}
func (a *attachCmd) SetStdout(io.Writer) {}
func (a *attachCmd) SetStderr(io.Writer) {}

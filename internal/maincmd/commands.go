package maincmd

import (
	"context"
	"fmt"

	"github.com/mna/mainer"

	"github.com/jfd16/mariana-go/abc/compiler"
	"github.com/jfd16/mariana-go/abc/il"
	"github.com/jfd16/mariana-go/abc/registry"
)

func (c *Cmd) Decode(ctx context.Context, stdio mainer.Stdio, args []string) error {
	for _, path := range args {
		mc, err := load(path)
		if err != nil {
			return printError(stdio, err)
		}
		if err := mc.Decode(); err != nil {
			return printError(stdio, err)
		}
		fmt.Fprint(stdio.Stdout, mc.FormatInstructions())
	}
	return nil
}

func (c *Cmd) Cfg(ctx context.Context, stdio mainer.Stdio, args []string) error {
	for _, path := range args {
		mc, err := load(path)
		if err != nil {
			return printError(stdio, err)
		}
		if err := runTo(mc, 3); err != nil {
			return printError(stdio, err)
		}
		fmt.Fprint(stdio.Stdout, mc.FormatCFG())
	}
	return nil
}

func (c *Cmd) Compile(ctx context.Context, stdio mainer.Stdio, args []string) error {
	for _, path := range args {
		mc, err := load(path)
		if err != nil {
			return printError(stdio, err)
		}
		var rec il.Recorder
		if err := mc.Run(ctx, &rec); err != nil {
			return printError(stdio, err)
		}
		fmt.Fprint(stdio.Stdout, rec.String())
	}
	return nil
}

func load(path string) (*compiler.MethodCompilation, error) {
	pool, method, err := LoadMethod(path)
	if err != nil {
		return nil, err
	}
	return compiler.New(pool, method, registry.NewWorld()), nil
}

// runTo runs the pass sequence up to the given stage: 1 decode, 2 flow,
// 3 dominators.
func runTo(mc *compiler.MethodCompilation, stage int) error {
	if err := mc.Decode(); err != nil {
		return err
	}
	if stage < 2 {
		return nil
	}
	if err := mc.BuildFlow(); err != nil {
		return err
	}
	if stage < 3 {
		return nil
	}
	return mc.BuildDominators()
}

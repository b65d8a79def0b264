package main

import (
	"fmt"
	"strings"
	"time"

	"taskweave"
)

// The demo pipeline: Release depends on Test and Package, both of which
// depend on Compile, which depends on FetchSources. Deploy is a section
// choosing its implementation from the "env" argument.

type FetchSources struct {
	taskweave.Base
	Files []string `export:"files"`
}

func (f *FetchSources) Run(tc *taskweave.Context) error {
	f.Files = []string{"main.go", "engine.go", "pool.go"}
	return nil
}

func (f *FetchSources) Clean(tc *taskweave.Context) error {
	f.Files = nil
	return nil
}

type Compile struct {
	taskweave.Base
	Artifact string `export:"artifact"`
}

func (c *Compile) Run(tc *taskweave.Context) error {
	files, err := taskweave.Need[[]string](tc, &FetchSources{}, "files")
	if err != nil {
		return err
	}
	return tc.Group("compiling", func() error {
		time.Sleep(10 * time.Millisecond)
		c.Artifact = fmt.Sprintf("app [%d files]", len(files))
		return nil
	})
}

type Test struct {
	taskweave.Base
	Passed int `export:"passed"`
}

func (t *Test) Run(tc *taskweave.Context) error {
	if _, err := taskweave.Need[string](tc, &Compile{}, "artifact"); err != nil {
		return err
	}
	t.Passed = 42
	return nil
}

type Package struct {
	taskweave.Base
	Archive string `export:"archive"`
}

func (p *Package) Run(tc *taskweave.Context) error {
	artifact, err := taskweave.Need[string](tc, &Compile{}, "artifact")
	if err != nil {
		return err
	}
	p.Archive = strings.Fields(artifact)[0] + ".tar.gz"
	return nil
}

// Deploy picks its implementation from the "env" argument.
type Deploy struct {
	taskweave.SectionBase
}

func (d *Deploy) Impl(args taskweave.Args) taskweave.Task {
	if args.String("env", "dev") == "prod" {
		return &DeployProd{}
	}
	return &DeployStaging{}
}

type DeployStaging struct {
	taskweave.Base
	URL string `export:"url"`
}

func (d *DeployStaging) Run(tc *taskweave.Context) error {
	d.URL = "https://staging.example.com"
	return nil
}

type DeployProd struct {
	taskweave.Base
	URL string `export:"url"`
}

func (d *DeployProd) Run(tc *taskweave.Context) error {
	d.URL = "https://example.com"
	return nil
}

type Release struct {
	taskweave.Base
	Summary string `export:"summary"`
}

func (r *Release) Run(tc *taskweave.Context) error {
	passed, err := taskweave.Need[int](tc, &Test{}, "passed")
	if err != nil {
		return err
	}
	archive, err := taskweave.Need[string](tc, &Package{}, "archive")
	if err != nil {
		return err
	}
	url, err := taskweave.Need[string](tc, &Deploy{}, "url")
	if err != nil {
		return err
	}
	r.Summary = fmt.Sprintf("%s (%d tests passed) -> %s", archive, passed, url)
	return nil
}

func init() {
	taskweave.Register(&FetchSources{})
	taskweave.Register(&Compile{})
	taskweave.Register(&Test{})
	taskweave.Register(&Package{})
	taskweave.Register(&Deploy{})
	taskweave.Register(&DeployStaging{})
	taskweave.Register(&DeployProd{})
	taskweave.Register(&Release{})
}

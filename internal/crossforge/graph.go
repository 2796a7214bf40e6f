package crossforge

import (
	"fmt"
	"path/filepath"

	"crossforge/internal/pipeline"
)

// Step is a pipeline step over the build configuration.
type Step = pipeline.Step[*Config]

// Repo describes an upstream repository to check out.
type Repo struct {
	Name     string
	URL      string
	Revision Revision
}

// Item is one artifact-producing unit of the build.
type Item interface {
	Name() string
	SourceDir(cfg *Config) string
	Steps() []Step
}

// RepoBacked items build from a checked-out repository. Their configure step
// resets the repository and applies its patch first.
type RepoBacked interface {
	Repo() Repo
}

// ArchSpecific items are cross-compiled for one Android arch.
type ArchSpecific interface {
	Arch() Arch
}

// Patched items name the patch file applied before configure.
type Patched interface {
	PatchName() string
}

// DependencyProvider contributes configuration entries to a downstream
// configure command.
type DependencyProvider interface {
	ConfigEntries(depName string, cfg *Config) []string
}

// Dependency binds a provider to the name the dependent expects.
type Dependency struct {
	Name     string
	Provider DependencyProvider
}

// NinjaBuildable items are configured with CMake and built with Ninja.
type NinjaBuildable interface {
	Item
	Targets() []string
	CacheEntries(cfg *Config) []string
	Dependencies() []Dependency
}

// repoSource supplies Repo, SourceDir and PatchName to items built from a
// repository checkout.
type repoSource struct {
	repo   Repo
	subdir string
	revs   RevisionTable
}

func (s repoSource) Repo() Repo { return s.repo }

func (s repoSource) checkoutObject() (string, error) { return s.revs.Resolve(s.repo) }

func (s repoSource) PatchName() string { return s.repo.Name }

func (s repoSource) SourceDir(cfg *Config) string {
	return filepath.Join(cfg.RepoDir(s.repo.Name), s.subdir)
}

// forArch supplies Arch to per-arch items.
type forArch struct {
	arch Arch
}

func (a forArch) Arch() Arch { return a.arch }

// buildModules is the default provider: <Dep>_DIR pointing at the item's
// exported CMake modules.
type buildModules struct {
	item string
}

func (b buildModules) ConfigEntries(depName string, cfg *Config) []string {
	return []string{fmt.Sprintf("%s_DIR=%s", depName, filepath.Join(cfg.BuildDir(b.item), "cmake", "modules"))}
}

// Graph is the explicit build graph: repositories in checkout order and items
// in build order.
type Graph struct {
	Repos     []Repo
	Items     []Item
	Revisions RevisionTable
}

// Validate checks that names are unique and every repo-backed item refers to
// a repository the graph checks out.
func (g *Graph) Validate() error {
	repos := make(map[string]bool, len(g.Repos))
	for _, r := range g.Repos {
		if repos[r.Name] {
			return fmt.Errorf("duplicate repository %q", r.Name)
		}
		repos[r.Name] = true
	}
	items := make(map[string]bool, len(g.Items))
	for _, it := range g.Items {
		if items[it.Name()] {
			return fmt.Errorf("duplicate build item %q", it.Name())
		}
		items[it.Name()] = true
		if rb, ok := it.(RepoBacked); ok && !repos[rb.Repo().Name] {
			return fmt.Errorf("item %q builds from %q which is not checked out", it.Name(), rb.Repo().Name)
		}
	}
	return g.Revisions.Check(g.Repos)
}

// Steps flattens the graph into the pipeline: checkout, every item's steps,
// toolchain assembly and packaging, and publishing when configured.
func (g *Graph) Steps(cfg *Config) []Step {
	steps := []Step{NewCheckoutStep(g.Repos, g.Revisions)}
	for _, it := range g.Items {
		steps = append(steps, it.Steps()...)
	}
	steps = append(steps, NewCreateToolchainStep(g.Items, g.Repos), NewPackageStep())
	if cfg.Publish.Enabled() {
		steps = append(steps, NewPublishStep())
	}
	return steps
}

// Package coherency computes the dependency version updates required to
// apply the assets of a build to a target branch.
//
// The computation has two layers. Non-coherency updates are direct version
// bumps for dependencies whose candidate version differs from the version
// recorded in the target branch dependency graph. Coherency updates are
// transitive bumps that keep the graph internally consistent: after applying
// the direct bumps, all dependencies originating from the same source
// repository must resolve to a single version.
package coherency

import (
	"fmt"
	"sort"
)

// Policy selects how strictly transitive conflicts are treated.
type Policy string

const (
	// PolicyStrict reports unresolvable transitive requirements as
	// coherency errors. The direct updates are still produced.
	PolicyStrict Policy = "strict"
	// PolicyLegacy only computes direct updates.
	PolicyLegacy Policy = "legacy"
)

// Asset is a named, versioned artifact produced by a build.
// Names are unique within one build.
type Asset struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Dependency is one entry of a target branch dependency graph.
type Dependency struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	RepositoryURL string `json:"repositoryUrl"`
	Commit        string `json:"commit"`
	Pinned        bool   `json:"pinned,omitempty"`
}

// Graph is the dependency graph of a target branch, read from its
// dependency manifest.
type Graph struct {
	Dependencies []*Dependency `json:"dependencies"`
}

// Dependency returns the entry with the given name or nil.
func (g *Graph) Dependency(name string) *Dependency {
	for _, dep := range g.Dependencies {
		if dep.Name == name {
			return dep
		}
	}

	return nil
}

// AssetUpdate describes one version bump that must be applied to the target
// branch.
type AssetUpdate struct {
	Name        string
	FromVersion string
	ToVersion   string
	FromCommit  string
	ToCommit    string
}

// ErrorDetails describes one transitive requirement that could not be
// resolved under the strict policy.
type ErrorDetails struct {
	Error              string
	PotentialSolutions []string
}

// Result is the outcome of a Compute run.
type Result struct {
	Updates []*AssetUpdate
	// Successful is false when one or more coherency errors were found.
	// Updates are produced regardless.
	Successful bool
	Errors     []*ErrorDetails
}

// Compute returns the updates required to bring graph in line with the
// assets of a build originating from sourceRepo at sourceCommit.
// It never modifies its inputs.
func Compute(assets []*Asset, sourceRepo, sourceCommit string, graph *Graph, policy Policy) *Result {
	result := Result{Successful: true}

	byName := make(map[string]*Asset, len(assets))
	for _, asset := range assets {
		byName[asset.Name] = asset
	}

	// direct bumps for graph entries the build produced a new version for
	for _, dep := range graph.Dependencies {
		asset, exist := byName[dep.Name]
		if !exist {
			continue
		}

		if dep.Pinned || asset.Version == dep.Version {
			continue
		}

		result.Updates = append(result.Updates, &AssetUpdate{
			Name:        dep.Name,
			FromVersion: dep.Version,
			ToVersion:   asset.Version,
			FromCommit:  dep.Commit,
			ToCommit:    sourceCommit,
		})
	}

	if policy == PolicyLegacy || len(result.Updates) == 0 {
		sortUpdates(result.Updates)
		return &result
	}

	resolved := resolvedVersions(graph, result.Updates, sourceRepo, sourceCommit)

	// transitive bumps: all dependencies from one source repository must
	// end up at that repository's resolved version
	for _, dep := range graph.Dependencies {
		if dep.RepositoryURL == "" || dep.Pinned {
			continue
		}

		want, exist := resolved[dep.RepositoryURL]
		if !exist {
			continue
		}

		if dep.Version == want.version || updatesContain(result.Updates, dep.Name) {
			continue
		}

		if _, produced := byName[dep.Name]; !produced && dep.RepositoryURL == sourceRepo {
			result.Successful = false
			result.Errors = append(result.Errors, &ErrorDetails{
				Error: fmt.Sprintf(
					"dependency %q from %s must be updated to version %s for coherency, but the build did not produce an asset with that name",
					dep.Name, dep.RepositoryURL, want.version,
				),
				PotentialSolutions: []string{
					fmt.Sprintf("remove the dependency on %q or pin it", dep.Name),
					fmt.Sprintf("ensure builds of %s publish an asset named %q", dep.RepositoryURL, dep.Name),
				},
			})

			continue
		}

		result.Updates = append(result.Updates, &AssetUpdate{
			Name:        dep.Name,
			FromVersion: dep.Version,
			ToVersion:   want.version,
			FromCommit:  dep.Commit,
			ToCommit:    want.commit,
		})
	}

	sortUpdates(result.Updates)

	return &result
}

type resolvedVersion struct {
	version string
	commit  string
}

// resolvedVersions returns the single version per source repository that the
// graph resolves to after applying updates.
func resolvedVersions(graph *Graph, updates []*AssetUpdate, sourceRepo, sourceCommit string) map[string]resolvedVersion {
	result := map[string]resolvedVersion{}

	for _, update := range updates {
		dep := graph.Dependency(update.Name)
		if dep == nil || dep.RepositoryURL == "" {
			continue
		}

		result[dep.RepositoryURL] = resolvedVersion{
			version: update.ToVersion,
			commit:  update.ToCommit,
		}
	}

	return result
}

func updatesContain(updates []*AssetUpdate, name string) bool {
	for _, update := range updates {
		if update.Name == name {
			return true
		}
	}

	return false
}

func sortUpdates(updates []*AssetUpdate) {
	sort.Slice(updates, func(i, j int) bool {
		return updates[i].Name < updates[j].Name
	})
}

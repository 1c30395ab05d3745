package git

// Dependency manifest ingestion. Manifests at the repository root become
// requirement artifacts listing declared dependencies, so questions about
// what a project depends on retrieve grounded context.

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"golang.org/x/mod/modfile"

	"github.com/qacompanion/qac/artifact"
	"github.com/qacompanion/qac/errors"
	"github.com/qacompanion/qac/ingest"
	"github.com/qacompanion/qac/logger"
	"github.com/qacompanion/qac/sym"
)

// manifestParsers maps manifest file names to their parsers, in detection
// order.
var manifestParsers = []struct {
	name  string
	parse func(path string) (*artifact.Draft, error)
}{
	{"go.mod", goModDraft},
	{"Cargo.toml", cargoDraft},
	{"pyproject.toml", pyprojectDraft},
	{"package.json", packageJSONDraft},
	{"requirements.txt", requirementsDraft},
}

// DetectManifests returns the dependency manifests present at root.
func DetectManifests(root string) []string {
	var found []string
	for _, m := range manifestParsers {
		if _, err := os.Stat(filepath.Join(root, m.name)); err == nil {
			found = append(found, m.name)
		}
	}
	return found
}

// ingestManifests stores one requirement artifact per manifest at the
// repository root. Parse failures are recorded on the run, not fatal.
func (ing *Ingester) ingestManifests(root string, opts Options, run *ingest.Run, result *Result) {
	for _, m := range manifestParsers {
		path := filepath.Join(root, m.name)
		if _, err := os.Stat(path); err != nil {
			continue
		}

		draft, err := m.parse(path)
		if err != nil {
			run.Failed++
			ing.emitter.EmitError("manifests", err)
			logger.Warnw(sym.IX+" Failed to parse manifest",
				"manifest", m.name,
				"error", err,
			)
			continue
		}
		draft.Repo = opts.Repo

		_, unchanged, chunks, err := ingest.SaveDraft(ing.artifacts, ing.splitter, draft)
		if err != nil {
			run.Failed++
			ing.emitter.EmitError("manifests", err)
			continue
		}
		if unchanged {
			run.Unchanged++
			continue
		}
		run.Processed++
		run.Chunks += chunks
		result.Manifests++
	}
}

// goModDraft parses go.mod into a requirement artifact.
func goModDraft(path string) (*artifact.Draft, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read go.mod")
	}
	f, err := modfile.Parse("go.mod", data, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse go.mod")
	}

	module := ""
	if f.Module != nil {
		module = f.Module.Mod.Path
	}

	var b strings.Builder
	if module != "" {
		b.WriteString("module " + module + "\n")
	}
	if f.Go != nil {
		b.WriteString("go " + f.Go.Version + "\n")
	}
	b.WriteString("\n")

	direct := 0
	for _, r := range f.Require {
		b.WriteString(r.Mod.Path + " " + r.Mod.Version)
		if r.Indirect {
			b.WriteString(" (indirect)")
		} else {
			direct++
		}
		b.WriteString("\n")
	}

	return &artifact.Draft{
		Kind:     artifact.KindRequirement,
		SourceID: "go.mod",
		Title:    manifestTitle("go.mod", module),
		Content:  strings.TrimSpace(b.String()),
		Metadata: map[string]interface{}{
			"path":         "go.mod",
			"format":       "gomod",
			"module":       module,
			"dependencies": len(f.Require),
			"direct":       direct,
		},
	}, nil
}

// cargoManifest is the subset of Cargo.toml the ingester reads.
type cargoManifest struct {
	Package struct {
		Name    string `toml:"name"`
		Version string `toml:"version"`
	} `toml:"package"`
	Dependencies    map[string]interface{} `toml:"dependencies"`
	DevDependencies map[string]interface{} `toml:"dev-dependencies"`
}

// cargoDraft parses Cargo.toml into a requirement artifact.
func cargoDraft(path string) (*artifact.Draft, error) {
	var cargo cargoManifest
	if _, err := toml.DecodeFile(path, &cargo); err != nil {
		return nil, errors.Wrap(err, "failed to parse Cargo.toml")
	}

	var b strings.Builder
	if cargo.Package.Name != "" {
		b.WriteString("package " + cargo.Package.Name)
		if cargo.Package.Version != "" {
			b.WriteString(" " + cargo.Package.Version)
		}
		b.WriteString("\n\n")
	}
	for _, dep := range sortedKeys(cargo.Dependencies) {
		b.WriteString(dep + " " + tomlDepVersion(cargo.Dependencies[dep]) + "\n")
	}
	for _, dep := range sortedKeys(cargo.DevDependencies) {
		b.WriteString(dep + " " + tomlDepVersion(cargo.DevDependencies[dep]) + " (dev)\n")
	}

	return &artifact.Draft{
		Kind:     artifact.KindRequirement,
		SourceID: "Cargo.toml",
		Title:    manifestTitle("Cargo.toml", cargo.Package.Name),
		Content:  strings.TrimSpace(b.String()),
		Metadata: map[string]interface{}{
			"path":         "Cargo.toml",
			"format":       "cargo",
			"package":      cargo.Package.Name,
			"dependencies": len(cargo.Dependencies) + len(cargo.DevDependencies),
		},
	}, nil
}

// pyprojectManifest reads both PEP 621 and Poetry dependency declarations.
type pyprojectManifest struct {
	Project struct {
		Name         string   `toml:"name"`
		Version      string   `toml:"version"`
		Dependencies []string `toml:"dependencies"`
	} `toml:"project"`
	Tool struct {
		Poetry struct {
			Name         string                 `toml:"name"`
			Version      string                 `toml:"version"`
			Dependencies map[string]interface{} `toml:"dependencies"`
		} `toml:"poetry"`
	} `toml:"tool"`
}

// pyprojectDraft parses pyproject.toml into a requirement artifact.
func pyprojectDraft(path string) (*artifact.Draft, error) {
	var py pyprojectManifest
	if _, err := toml.DecodeFile(path, &py); err != nil {
		return nil, errors.Wrap(err, "failed to parse pyproject.toml")
	}

	name := py.Project.Name
	if name == "" {
		name = py.Tool.Poetry.Name
	}

	var b strings.Builder
	if name != "" {
		b.WriteString("package " + name + "\n\n")
	}

	count := 0
	for _, dep := range py.Project.Dependencies {
		depName, version := splitPythonDep(dep)
		b.WriteString(depName + " " + version + "\n")
		count++
	}
	for _, dep := range sortedKeys(py.Tool.Poetry.Dependencies) {
		if dep == "python" {
			continue
		}
		b.WriteString(dep + " " + tomlDepVersion(py.Tool.Poetry.Dependencies[dep]) + "\n")
		count++
	}

	return &artifact.Draft{
		Kind:     artifact.KindRequirement,
		SourceID: "pyproject.toml",
		Title:    manifestTitle("pyproject.toml", name),
		Content:  strings.TrimSpace(b.String()),
		Metadata: map[string]interface{}{
			"path":         "pyproject.toml",
			"format":       "pyproject",
			"package":      name,
			"dependencies": count,
		},
	}, nil
}

// packageManifest is the subset of package.json the ingester reads.
type packageManifest struct {
	Name            string            `json:"name"`
	Version         string            `json:"version"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

// packageJSONDraft parses package.json into a requirement artifact.
func packageJSONDraft(path string) (*artifact.Draft, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read package.json")
	}
	var pkg packageManifest
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, errors.Wrap(err, "failed to parse package.json")
	}

	var b strings.Builder
	if pkg.Name != "" {
		b.WriteString("package " + pkg.Name)
		if pkg.Version != "" {
			b.WriteString(" " + pkg.Version)
		}
		b.WriteString("\n\n")
	}
	for _, dep := range sortedKeys(pkg.Dependencies) {
		b.WriteString(dep + " " + pkg.Dependencies[dep] + "\n")
	}
	for _, dep := range sortedKeys(pkg.DevDependencies) {
		b.WriteString(dep + " " + pkg.DevDependencies[dep] + " (dev)\n")
	}

	return &artifact.Draft{
		Kind:     artifact.KindRequirement,
		SourceID: "package.json",
		Title:    manifestTitle("package.json", pkg.Name),
		Content:  strings.TrimSpace(b.String()),
		Metadata: map[string]interface{}{
			"path":         "package.json",
			"format":       "npm",
			"package":      pkg.Name,
			"dependencies": len(pkg.Dependencies) + len(pkg.DevDependencies),
		},
	}, nil
}

// requirementsDraft parses requirements.txt into a requirement artifact.
func requirementsDraft(path string) (*artifact.Draft, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read requirements.txt")
	}
	defer file.Close()

	var b strings.Builder
	count := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		name, version := splitPythonDep(line)
		if name == "" {
			continue
		}
		b.WriteString(name + " " + version + "\n")
		count++
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to scan requirements.txt")
	}

	return &artifact.Draft{
		Kind:     artifact.KindRequirement,
		SourceID: "requirements.txt",
		Title:    "requirements.txt",
		Content:  strings.TrimSpace(b.String()),
		Metadata: map[string]interface{}{
			"path":         "requirements.txt",
			"format":       "requirements",
			"dependencies": count,
		},
	}, nil
}

// manifestTitle names the artifact after the manifest and its package.
func manifestTitle(file, name string) string {
	if name == "" {
		return file
	}
	return file + ": " + name
}

// splitPythonDep splits "requests>=2.28.0" into name and version specifier.
func splitPythonDep(dep string) (string, string) {
	for _, spec := range []string{"==", ">=", "<=", "~=", "!=", "<", ">"} {
		if idx := strings.Index(dep, spec); idx != -1 {
			return strings.TrimSpace(dep[:idx]), strings.TrimSpace(dep[idx:])
		}
	}
	// Extras like "package[extra]" pin no version.
	if idx := strings.Index(dep, "["); idx != -1 {
		return strings.TrimSpace(dep[:idx]), "*"
	}
	return strings.TrimSpace(dep), "*"
}

// tomlDepVersion extracts a version from a TOML dependency value, which is
// either a bare string or a table with version/git/path keys.
func tomlDepVersion(val interface{}) string {
	switch v := val.(type) {
	case string:
		return v
	case map[string]interface{}:
		if ver, ok := v["version"].(string); ok {
			return ver
		}
		if git, ok := v["git"].(string); ok {
			return "git:" + git
		}
		if p, ok := v["path"].(string); ok {
			return "path:" + p
		}
	}
	return "*"
}

// sortedKeys keeps rendered manifest content stable, so re-ingesting an
// unchanged manifest hashes to the same artifact.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

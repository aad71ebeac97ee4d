// Package snapshot persists plan graphs to a plan directory.
//
// Layout:
//
//	<planDir>/nodes/<Type>/<id>.json   one node per file
//	<planDir>/edges.ndjson             one edge per line
//	<planDir>/manifest.json            counts and plan version
//
// Node ids appear in filenames; ids that are too long or carry
// path-hostile characters get a sanitized name with a short md5 suffix so
// distinct ids never collide.
package snapshot

import (
	"bufio"
	"crypto/md5" // #nosec G501 - filename dedup only, not security
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/trellisplan/trellis/internal/graph"
	"github.com/trellisplan/trellis/internal/types"
)

const (
	nodesDirName     = "nodes"
	edgesFileName    = "edges.ndjson"
	manifestFileName = "manifest.json"

	// maxFileStem bounds the filename stem before the .json extension.
	maxFileStem = 100
)

// Save writes the snapshot to planDir. The nodes tree is rebuilt into a
// temp directory and swapped in so retired-then-deleted files never
// linger; edges and manifest are written with temp-file-then-rename.
func Save(planDir string, snap *graph.Snapshot) error {
	if err := os.MkdirAll(planDir, 0750); err != nil {
		return fmt.Errorf("creating plan dir: %w", err)
	}

	if err := saveNodes(planDir, snap); err != nil {
		return err
	}
	if err := saveEdges(planDir, snap); err != nil {
		return err
	}
	return saveManifest(planDir, snap)
}

// Flush is Save wrapped in exponential backoff, for callers racing
// editors, sync clients, or antivirus scanners over the plan directory.
func Flush(planDir string, snap *graph.Snapshot) error {
	// BackOff implementations are stateful; always build a fresh one.
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second
	return backoff.Retry(func() error {
		return Save(planDir, snap)
	}, bo)
}

// Load reads a plan directory back into a store. A missing nodes tree
// yields an empty store with the manifest's plan version; a missing
// manifest defaults the version label.
func Load(planDir string, opts ...graph.Option) (*graph.Store, error) {
	var planVersion string
	if m, err := readManifest(planDir); err == nil {
		planVersion = m.PlanVersion
	}

	nodes, err := loadNodes(planDir)
	if err != nil {
		return nil, err
	}
	edges, err := loadEdges(planDir)
	if err != nil {
		return nil, err
	}

	return graph.Restore(planVersion, nodes, edges, opts...), nil
}

func saveNodes(planDir string, snap *graph.Snapshot) error {
	tmp, err := os.MkdirTemp(planDir, nodesDirName+".tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp nodes dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	for _, n := range snap.Nodes(types.NodeFilter{}) {
		dir := filepath.Join(tmp, string(n.Type))
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("creating type dir: %w", err)
		}
		data, err := json.MarshalIndent(n, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling node %s: %w", n.ID, err)
		}
		path := filepath.Join(dir, FileName(n.ID))
		if err := os.WriteFile(path, data, 0600); err != nil {
			return fmt.Errorf("writing node %s: %w", n.ID, err)
		}
	}

	final := filepath.Join(planDir, nodesDirName)
	if err := os.RemoveAll(final); err != nil {
		return fmt.Errorf("clearing nodes dir: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("swapping nodes dir: %w", err)
	}
	return nil
}

func saveEdges(planDir string, snap *graph.Snapshot) error {
	var b strings.Builder
	for _, e := range snap.Edges() {
		line, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshaling edge %s: %w", e.Key(), err)
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	return writeFileAtomic(filepath.Join(planDir, edgesFileName), []byte(b.String()))
}

func saveManifest(planDir string, snap *graph.Snapshot) error {
	m := snap.Manifest()
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	return writeFileAtomic(filepath.Join(planDir, manifestFileName), data)
}

func loadNodes(planDir string) ([]*types.Node, error) {
	root := filepath.Join(planDir, nodesDirName)
	var nodes []*types.Node
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		data, err := os.ReadFile(path) // #nosec G304 - path from WalkDir under planDir
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		var n types.Node
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
		nodes = append(nodes, &n)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

func loadEdges(planDir string) ([]types.Edge, error) {
	f, err := os.Open(filepath.Join(planDir, edgesFileName)) // #nosec G304 - path under planDir
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening edges file: %w", err)
	}
	defer f.Close()

	var edges []types.Edge
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e types.Edge
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("parsing edge line %q: %w", line, err)
		}
		edges = append(edges, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning edges file: %w", err)
	}
	return edges, nil
}

func readManifest(planDir string) (*types.Manifest, error) {
	data, err := os.ReadFile(filepath.Join(planDir, manifestFileName)) // #nosec G304
	if err != nil {
		return nil, err
	}
	var m types.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return &m, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()       // may already be closed before rename
		_ = os.Remove(tmpPath) // may already be renamed away
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", base, err)
	}
	// Close before rename (required on Windows; double-close is harmless).
	_ = tmp.Close()

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replacing %s: %w", base, err)
	}
	return os.Chmod(path, 0600)
}

// FileName maps a node id to its on-disk filename. Path separators and
// other hostile characters become dashes; stems past maxFileStem get
// truncated with an md5 suffix so long ids stay unique.
func FileName(id string) string {
	stem := sanitize(id)
	if len(stem) > maxFileStem || stem != id {
		sum := md5.Sum([]byte(id)) // #nosec G401 - filename dedup only
		suffix := hex.EncodeToString(sum[:])[:8]
		if len(stem) > maxFileStem-9 {
			stem = stem[:maxFileStem-9]
		}
		stem = stem + "-" + suffix
	}
	return stem + ".json"
}

func sanitize(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		// ':' is excluded: node ids all carry a type prefix and colons
		// are not portable filenames on Windows.
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}

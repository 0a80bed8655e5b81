package groups

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bobmcallan/runforge/internal/atomicfile"
)

// groupFileName is the group document's file name under each group's directory.
const groupFileName = "group.json"

// PauseRegistry reads and writes the paused flag colocated inside each
// group's own group.json — there is no separate pause file, per spec.
type PauseRegistry struct {
	groupsDir string
}

// NewPauseRegistry returns a registry rooted at <workspace>/.runforge/groups/.
func NewPauseRegistry(workspace string) *PauseRegistry {
	return &PauseRegistry{groupsDir: filepath.Join(workspace, ".runforge", "groups")}
}

func (r *PauseRegistry) groupPath(groupID string) string {
	return filepath.Join(r.groupsDir, groupID, groupFileName)
}

// IsPaused reports whether groupID is currently paused. A missing group
// directory is treated as not-paused, never an error.
func (r *PauseRegistry) IsPaused(groupID string) bool {
	g, err := atomicfile.ReadJSON[Group](r.groupPath(groupID))
	if err != nil {
		return false
	}
	return g.Paused
}

// SetPaused sets groupID's paused flag.
func (r *PauseRegistry) SetPaused(groupID string, paused bool) error {
	path := r.groupPath(groupID)
	g, err := atomicfile.ReadJSON[Group](path)
	if err != nil {
		return fmt.Errorf("reading group %s: %w", groupID, err)
	}
	if g.GroupID == "" {
		return fmt.Errorf("group %s not found", groupID)
	}
	g.Paused = paused
	if err := atomicfile.WriteJSON(path, &g); err != nil {
		return fmt.Errorf("writing group %s: %w", groupID, err)
	}
	return nil
}

// PausedSet scans the groups directory and returns the set of paused group ids.
func (r *PauseRegistry) PausedSet() (map[string]bool, error) {
	entries, err := os.ReadDir(r.groupsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]bool{}, nil
		}
		return nil, fmt.Errorf("listing groups directory: %w", err)
	}

	paused := map[string]bool{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		g, err := atomicfile.ReadJSON[Group](r.groupPath(e.Name()))
		if err != nil || g.GroupID == "" {
			continue
		}
		if g.Paused {
			paused[g.GroupID] = true
		}
	}
	return paused, nil
}
